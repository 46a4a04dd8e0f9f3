package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
)

func activePlacement(f *fixture, id, studentID, companyID, teacherID string) {
	f.db.state.internships[id] = models.Internship{
		ID:        id,
		StudentID: studentID,
		CompanyID: companyID,
		TeacherID: strptr(teacherID),
		Status:    models.InternshipStatusActive,
		StartDate: placementStart,
		Version:   1,
	}
}

func findingsOf(findings models.RuleFindings, rule models.RuleType) models.RuleFindings {
	var out models.RuleFindings
	for _, f := range findings {
		if f.Type == rule {
			out = append(out, f)
		}
	}
	return out
}

func TestAssignmentRulesCoordinatorConsistency(t *testing.T) {
	ctx := context.Background()

	t.Run("no placements and no teacher", func(t *testing.T) {
		f := newFixture(t)
		findings, err := f.rules.Evaluate(ctx, RuleInput{StudentID: "s1", CompanyID: "c2"})
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, models.SeverityInfo, findings[0].Severity)
	})

	t.Run("matching coordinator", func(t *testing.T) {
		f := newFixture(t)
		activePlacement(f, "p1", "s2", "c1", "t1")
		findings, err := f.rules.Evaluate(ctx, RuleInput{StudentID: "s1", CompanyID: "c1", TeacherID: strptr("t1")})
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("different coordinator warns with suggestion", func(t *testing.T) {
		f := newFixture(t)
		activePlacement(f, "p1", "s2", "c1", "t1")
		findings, err := f.rules.Evaluate(ctx, RuleInput{StudentID: "s1", CompanyID: "c1", TeacherID: strptr("t2")})
		require.NoError(t, err)
		coordinator := findingsOf(findings, models.RuleCoordinatorConsistency)
		require.Len(t, coordinator, 1)
		assert.Equal(t, models.SeverityWarning, coordinator[0].Severity)
		assert.Equal(t, "t1", *coordinator[0].ExistingTeacherID)
		require.NotNil(t, coordinator[0].SuggestedAction)
		assert.Contains(t, *coordinator[0].SuggestedAction, "t1")
	})

	t.Run("missing teacher warns", func(t *testing.T) {
		f := newFixture(t)
		activePlacement(f, "p1", "s2", "c1", "t1")
		findings, err := f.rules.Evaluate(ctx, RuleInput{StudentID: "s1", CompanyID: "c1"})
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, models.SeverityWarning, findings[0].Severity)
	})

	t.Run("company pointer wins over majority", func(t *testing.T) {
		f := newFixture(t)
		activePlacement(f, "p1", "s2", "c1", "t1")
		activePlacement(f, "p2", "s3", "c1", "t2")
		activePlacement(f, "p3", "s4", "c1", "t2")
		c := f.db.state.companies["c1"]
		c.TeacherID = strptr("t1")
		f.db.state.companies["c1"] = c

		findings, err := f.rules.Evaluate(ctx, RuleInput{StudentID: "s1", CompanyID: "c1", TeacherID: strptr("t2")})
		require.NoError(t, err)
		warnings := findings.BySeverity(models.SeverityWarning)
		require.Len(t, warnings, 1)
		assert.Equal(t, "t1", *warnings[0].ExistingTeacherID)
		assert.Len(t, findings.BySeverity(models.SeverityInfo), 1, "split coordination is reported")
	})

	t.Run("own placement is excluded", func(t *testing.T) {
		f := newFixture(t)
		activePlacement(f, "p1", "s1", "c1", "t1")
		findings, err := f.rules.Evaluate(ctx, RuleInput{StudentID: "s1", CompanyID: "c1", TeacherID: strptr("t2"), ExcludeInternshipID: "p1"})
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestAssignmentRulesFieldMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("mismatch warns", func(t *testing.T) {
		f := newFixture(t)
		findings, err := f.rules.Evaluate(ctx, RuleInput{StudentID: "s3", CompanyID: "c2", TeacherID: strptr("t1")})
		require.NoError(t, err)
		match := findingsOf(findings, models.RuleFieldMatch)
		require.Len(t, match, 1)
		assert.Equal(t, models.SeverityWarning, match[0].Severity)
	})

	t.Run("strict mode blocks", func(t *testing.T) {
		f := newFixture(t, func(o *fixtureOptions) { o.strict = true })
		findings, err := f.rules.Evaluate(ctx, RuleInput{StudentID: "s3", CompanyID: "c2", TeacherID: strptr("t1")})
		require.NoError(t, err)
		assert.True(t, findings.HasErrors())
	})

	t.Run("unknown area is informational", func(t *testing.T) {
		f := newFixture(t)
		findings, err := f.rules.Evaluate(ctx, RuleInput{StudentID: "s1", CompanyID: "c2", TeacherID: strptr("t4")})
		require.NoError(t, err)
		match := findingsOf(findings, models.RuleFieldMatch)
		require.Len(t, match, 1)
		assert.Equal(t, models.SeverityInfo, match[0].Severity)
	})

	t.Run("case and spacing are ignored", func(t *testing.T) {
		f := newFixture(t)
		s := f.db.state.students["s1"]
		s.SubjectArea = strptr("  tkj ")
		f.db.state.students["s1"] = s
		findings, err := f.rules.Evaluate(ctx, RuleInput{StudentID: "s1", CompanyID: "c2", TeacherID: strptr("t1")})
		require.NoError(t, err)
		assert.Empty(t, findingsOf(findings, models.RuleFieldMatch))
	})
}

func TestAssignmentRulesMissingEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, in := range []RuleInput{
		{StudentID: "ghost", CompanyID: "c1"},
		{StudentID: "s1", CompanyID: "ghost"},
		{StudentID: "s1", CompanyID: "c1", TeacherID: strptr("ghost")},
	} {
		_, err := f.rules.Evaluate(ctx, in)
		assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	}
}

func TestAssignmentRulesRecordFindingMetrics(t *testing.T) {
	f := newFixture(t)
	metrics := NewMetricsService()
	engine := NewAssignmentRuleEngine(memStudents{f.db}, memTeachers{f.db}, memCompanies{f.db}, memInternships{f.db}, false, metrics, zap.NewNop())

	_, err := engine.Evaluate(context.Background(), RuleInput{StudentID: "s3", CompanyID: "c2", TeacherID: strptr("t1")})
	require.NoError(t, err)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, family := range families {
		if family.GetName() == "assignment_rule_findings_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGateFindings(t *testing.T) {
	warning := models.RuleFindings{{Type: models.RuleFieldMatch, Severity: models.SeverityWarning}}
	blocking := models.RuleFindings{{Type: models.RuleFieldMatch, Severity: models.SeverityError}}
	info := models.RuleFindings{{Type: models.RuleCoordinatorConsistency, Severity: models.SeverityInfo}}

	assert.NoError(t, gateFindings(nil, false))
	assert.NoError(t, gateFindings(info, false))
	assert.True(t, errors.Is(gateFindings(warning, false), appErrors.ErrConfirmationRequired))
	assert.NoError(t, gateFindings(warning, true))
	assert.True(t, errors.Is(gateFindings(blocking, true), appErrors.ErrRuleViolation))
}
