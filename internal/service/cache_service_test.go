package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type cachedPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestCacheServiceLookupAndStore(t *testing.T) {
	repo := newMemCacheRepo()
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, 0, zap.NewNop(), true)
	ctx := context.Background()

	var miss cachedPayload
	assert.False(t, svc.Lookup(ctx, "k", &miss))

	svc.Store(ctx, "k", cachedPayload{Name: "c1", Count: 3}, time.Minute)
	var hit cachedPayload
	require.True(t, svc.Lookup(ctx, "k", &hit))
	assert.Equal(t, cachedPayload{Name: "c1", Count: 3}, hit)

	require.NoError(t, svc.Invalidate(ctx, "k*"))
	var gone cachedPayload
	assert.False(t, svc.Lookup(ctx, "k", &gone))
}

func TestCacheServiceDisabledNeverHits(t *testing.T) {
	svc := NewCacheService(nil, nil, time.Minute, nil, true)
	assert.False(t, svc.Enabled())

	ctx := context.Background()
	svc.Store(ctx, "k", cachedPayload{Name: "x"}, 0)
	var dest cachedPayload
	assert.False(t, svc.Lookup(ctx, "k", &dest))
	assert.NoError(t, svc.Invalidate(ctx, "*"))

	off := NewCacheService(newMemCacheRepo(), nil, time.Minute, zap.NewNop(), false)
	off.Store(ctx, "k", cachedPayload{Name: "x"}, 0)
	assert.False(t, off.Lookup(ctx, "k", &dest))
}

type failingCacheRepo struct{}

func (failingCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	return errors.New("connection refused")
}

func (failingCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return errors.New("connection refused")
}

func (failingCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	return errors.New("connection refused")
}

func TestCacheServiceToleratesRedisFailures(t *testing.T) {
	svc := NewCacheService(failingCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	ctx := context.Background()
	var dest cachedPayload
	assert.False(t, svc.Lookup(ctx, "k", &dest))
	svc.Store(ctx, "k", cachedPayload{Name: "x"}, 0)
	assert.Error(t, svc.Invalidate(ctx, "k*"))
}
