package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-pkl-api/internal/repository"
)

func TestExpectedCoordinator(t *testing.T) {
	t1, t2 := "t1", "t2"
	counts := []repository.TeacherPlacementCount{{TeacherID: "t2", Count: 3}, {TeacherID: "t1", Count: 1}}

	assert.Nil(t, expectedCoordinator(&t1, nil), "companies without active placements have no coordinator")

	got := expectedCoordinator(&t1, counts)
	require.NotNil(t, got)
	assert.Equal(t, "t1", *got, "a pointer still in use is kept")

	got = expectedCoordinator(nil, counts)
	require.NotNil(t, got)
	assert.Equal(t, t2, *got)

	stale := "t9"
	got = expectedCoordinator(&stale, counts)
	require.NotNil(t, got)
	assert.Equal(t, "t2", *got)
}

func TestDriftString(t *testing.T) {
	t1 := "t1"
	line := drift{CompanyID: "c1", Pointer: &t1}.String()
	assert.Contains(t, line, "pointer=t1")
	assert.Contains(t, line, "placements=-")
}
