package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-pkl-api/internal/dto"
	"github.com/noah-isme/sma-pkl-api/internal/models"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
)

var placementStart = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

var admin = &models.Actor{ID: "admin-1", Name: "Admin", Role: models.RoleAdmin}

func createPlacement(t *testing.T, f *fixture, studentID, companyID string, teacherID *string, confirm bool) *models.Internship {
	t.Helper()
	result, err := f.internships.Create(context.Background(), dto.CreateInternshipRequest{
		StudentID:       studentID,
		CompanyID:       companyID,
		TeacherID:       teacherID,
		StartDate:       placementStart,
		ConfirmWarnings: confirm,
	}, admin)
	require.NoError(t, err)
	require.NotNil(t, result.History)
	return result.Internship
}

func companyCoordinator(f *fixture, companyID string) *string {
	return f.db.state.companies[companyID].TeacherID
}

func TestInternshipCreateOpensPlacementAndPointers(t *testing.T) {
	f := newFixture(t)
	result, err := f.internships.Create(context.Background(), dto.CreateInternshipRequest{
		StudentID: "s1",
		CompanyID: "c1",
		TeacherID: strptr("t1"),
		StartDate: placementStart,
	}, admin)
	require.NoError(t, err)

	internship := result.Internship
	assert.Equal(t, models.InternshipStatusActive, internship.Status)
	assert.Equal(t, "y2024", internship.EducationYearID, "defaults to the active year")
	assert.Equal(t, 1, internship.Version)

	require.NotNil(t, result.History)
	assert.Equal(t, models.HistoryActionCreated, result.History.Action)
	assert.Nil(t, result.History.PreviousData)
	assert.Equal(t, "admin-1", result.History.PerformedBy)
	require.NotNil(t, result.History.NewData.TeacherID)
	assert.Equal(t, "t1", *result.History.NewData.TeacherID)

	student := f.db.state.students["s1"]
	assert.Equal(t, "t1", *student.TeacherID)
	assert.Equal(t, "c1", *student.CompanyID)
	assert.Equal(t, "t1", *companyCoordinator(f, "c1"))

	history, err := f.fields.History(context.Background(), models.EntityCompany, "c1", models.FieldTeacherID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].PreviousValue)
	assert.Equal(t, "admin-1", history[0].ChangedBy)
}

func TestInternshipCreateValidation(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		req  dto.CreateInternshipRequest
		want *appErrors.Error
	}{
		{"missing student", dto.CreateInternshipRequest{CompanyID: "c1", StartDate: placementStart}, appErrors.ErrValidation},
		{"unknown student", dto.CreateInternshipRequest{StudentID: "nope", CompanyID: "c1", StartDate: placementStart}, appErrors.ErrNotFound},
		{"inactive student", dto.CreateInternshipRequest{StudentID: "s4", CompanyID: "c1", StartDate: placementStart}, appErrors.ErrValidation},
		{"inactive company", dto.CreateInternshipRequest{StudentID: "s1", CompanyID: "c3", StartDate: placementStart}, appErrors.ErrValidation},
		{"unknown year", dto.CreateInternshipRequest{StudentID: "s1", CompanyID: "c1", StartDate: placementStart, EducationYearID: strptr("y1999")}, appErrors.ErrValidation},
		{"unknown teacher", dto.CreateInternshipRequest{StudentID: "s1", CompanyID: "c1", StartDate: placementStart, TeacherID: strptr("t9")}, appErrors.ErrNotFound},
		{"end before start", dto.CreateInternshipRequest{StudentID: "s1", CompanyID: "c1", StartDate: placementStart, EndDate: timeptr(placementStart.AddDate(0, 0, -1))}, appErrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.internships.Create(ctx, tc.req, admin)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Empty(t, f.db.state.internships)
		})
	}
}

func TestInternshipCreateRejectsSecondActivePlacement(t *testing.T) {
	f := newFixture(t)
	createPlacement(t, f, "s1", "c1", strptr("t1"), false)

	_, err := f.internships.Create(context.Background(), dto.CreateInternshipRequest{StudentID: "s1", CompanyID: "c2", TeacherID: strptr("t1"), StartDate: placementStart}, admin)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	assert.Len(t, f.db.state.internships, 1)
}

func TestInternshipCreateRequiresConfirmationForCoordinatorMismatch(t *testing.T) {
	f := newFixture(t)
	createPlacement(t, f, "s1", "c1", strptr("t1"), false)

	req := dto.CreateInternshipRequest{StudentID: "s2", CompanyID: "c1", TeacherID: strptr("t2"), StartDate: placementStart}
	_, err := f.internships.Create(context.Background(), req, admin)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConfirmationRequired))

	appErr := appErrors.FromError(err)
	findings, ok := appErr.Details.(models.RuleFindings)
	require.True(t, ok)
	warnings := findings.BySeverity(models.SeverityWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, models.RuleCoordinatorConsistency, warnings[0].Type)
	assert.Equal(t, "t1", *warnings[0].ExistingTeacherID)
	assert.Len(t, f.db.state.internships, 1, "nothing is written before confirmation")

	req.ConfirmWarnings = true
	result, err := f.internships.Create(context.Background(), req, admin)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Findings)
	assert.Equal(t, "t1", *companyCoordinator(f, "c1"), "the existing coordinator stays")
}

func TestInternshipCreateStrictFieldMatchBlocks(t *testing.T) {
	f := newFixture(t, func(o *fixtureOptions) { o.strict = true })
	_, err := f.internships.Create(context.Background(), dto.CreateInternshipRequest{
		StudentID:       "s3",
		CompanyID:       "c2",
		TeacherID:       strptr("t1"),
		StartDate:       placementStart,
		ConfirmWarnings: true,
	}, admin)
	assert.True(t, errors.Is(err, appErrors.ErrRuleViolation))
	assert.Empty(t, f.db.state.internships)
}

func TestInternshipTeacherChangeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)

	changed, err := f.internships.ChangeTeacher(ctx, p.ID, dto.ChangeTeacherRequest{TeacherID: "t2", Reason: strptr("rotation")}, admin)
	require.NoError(t, err)
	require.NotNil(t, changed.History)
	assert.Equal(t, models.HistoryActionTeacherChanged, changed.History.Action)
	require.NotNil(t, changed.History.PreviousData)
	assert.Equal(t, "t1", *changed.History.PreviousData.TeacherID)
	assert.Equal(t, "t2", *changed.History.NewData.TeacherID)
	assert.Nil(t, changed.History.NewData.CompanyID, "only the teacher field is recorded")
	assert.Equal(t, "t2", *companyCoordinator(f, "c1"))
	assert.Equal(t, "t2", *f.db.state.students["s1"].TeacherID)

	_, err = f.internships.Terminate(ctx, p.ID, dto.TerminateInternshipRequest{Reason: "moved school"}, admin)
	require.NoError(t, err)

	records, err := f.audit.ReadForStudent(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, models.HistoryActionCreated, records[0].Action)
	assert.Equal(t, models.HistoryActionTeacherChanged, records[1].Action)
	assert.Equal(t, models.HistoryActionTerminated, records[2].Action)
	assert.Equal(t, "moved school", *records[2].Reason)

	coordinator, err := f.fields.History(ctx, models.EntityCompany, "c1", models.FieldTeacherID, 0)
	require.NoError(t, err)
	require.Len(t, coordinator, 3)
	assert.Nil(t, coordinator[0].NewValue, "coordinator cleared when the last placement ends")
	assert.True(t, coordinator[0].IsOpen())
	assert.Equal(t, "t2", *coordinator[1].NewValue)
	assert.False(t, coordinator[1].IsOpen(), "t2 holds a closed interval")

	student := f.db.state.students["s1"]
	assert.Nil(t, student.TeacherID)
	assert.Nil(t, student.CompanyID)
	assert.Nil(t, companyCoordinator(f, "c1"))
}

func TestInternshipAssignsFirstTeacher(t *testing.T) {
	f := newFixture(t)
	p := createPlacement(t, f, "s1", "c2", nil, false)
	assert.Nil(t, companyCoordinator(f, "c2"))

	result, err := f.internships.ChangeTeacher(context.Background(), p.ID, dto.ChangeTeacherRequest{TeacherID: "t1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryActionAssigned, result.History.Action)
	assert.Equal(t, testSystemActorID, result.History.PerformedBy)
	assert.Equal(t, "t1", *companyCoordinator(f, "c2"))

	again, err := f.internships.ChangeTeacher(context.Background(), p.ID, dto.ChangeTeacherRequest{TeacherID: "t1"}, nil)
	require.NoError(t, err)
	assert.Nil(t, again.History, "same teacher is a no-op")
	assert.Len(t, f.db.state.history, 2)
}

func TestInternshipCoordinatorKeptWhileOtherPlacementsRemain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := createPlacement(t, f, "s1", "c1", strptr("t1"), false)
	second := createPlacement(t, f, "s2", "c1", strptr("t1"), false)

	_, err := f.internships.Terminate(ctx, first.ID, dto.TerminateInternshipRequest{Reason: "health"}, admin)
	require.NoError(t, err)
	assert.Equal(t, "t1", *companyCoordinator(f, "c1"))

	_, err = f.internships.Complete(ctx, second.ID, dto.CompleteInternshipRequest{}, admin)
	require.NoError(t, err)
	assert.Nil(t, companyCoordinator(f, "c1"))
}

func TestInternshipTeacherChangeKeepsSharedCoordinator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := createPlacement(t, f, "s1", "c1", strptr("t1"), false)
	createPlacement(t, f, "s2", "c1", strptr("t1"), false)

	_, err := f.internships.ChangeTeacher(ctx, first.ID, dto.ChangeTeacherRequest{TeacherID: "t2"}, admin)
	require.True(t, errors.Is(err, appErrors.ErrConfirmationRequired))

	_, err = f.internships.ChangeTeacher(ctx, first.ID, dto.ChangeTeacherRequest{TeacherID: "t2", ConfirmWarnings: true}, admin)
	require.NoError(t, err)
	assert.Equal(t, "t1", *companyCoordinator(f, "c1"), "t1 still coordinates s2")
}

func TestInternshipChangeCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)

	result, err := f.internships.ChangeCompany(ctx, p.ID, dto.ChangeCompanyRequest{CompanyID: "c2"}, admin)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryActionCompanyChanged, result.History.Action)
	assert.Equal(t, "c1", *result.History.PreviousData.CompanyID)
	assert.Equal(t, "c2", *result.History.NewData.CompanyID)

	assert.Nil(t, companyCoordinator(f, "c1"))
	assert.Equal(t, "t1", *companyCoordinator(f, "c2"))
	assert.Equal(t, "c2", *f.db.state.students["s1"].CompanyID)

	_, err = f.internships.ChangeCompany(ctx, p.ID, dto.ChangeCompanyRequest{CompanyID: "c2", TeacherID: strptr("t2")}, admin)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.internships.ChangeCompany(ctx, p.ID, dto.ChangeCompanyRequest{CompanyID: "c3"}, admin)
	assert.True(t, errors.Is(err, appErrors.ErrValidation), "inactive target")
}

func TestInternshipUpdateRecordsOnlyChangedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)

	end := placementStart.AddDate(0, 3, 0)
	result, err := f.internships.Update(ctx, p.ID, dto.UpdateInternshipRequest{EndDate: &end}, admin)
	require.NoError(t, err)
	require.NotNil(t, result.History)
	assert.Equal(t, models.HistoryActionUpdated, result.History.Action)
	assert.Equal(t, []models.SnapshotField{models.SnapEndDate}, result.History.NewData.Fields())

	noop, err := f.internships.Update(ctx, p.ID, dto.UpdateInternshipRequest{EndDate: &end}, admin)
	require.NoError(t, err)
	assert.Nil(t, noop.History)

	bad := placementStart.AddDate(0, 0, -1)
	_, err = f.internships.Update(ctx, p.ID, dto.UpdateInternshipRequest{EndDate: &bad}, admin)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestInternshipStateMachineGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("terminate twice", func(t *testing.T) {
		f := newFixture(t)
		p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)
		_, err := f.internships.Terminate(ctx, p.ID, dto.TerminateInternshipRequest{Reason: "first"}, admin)
		require.NoError(t, err)
		_, err = f.internships.Terminate(ctx, p.ID, dto.TerminateInternshipRequest{Reason: "second"}, admin)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
		assert.Len(t, f.db.state.history, 2)
	})

	t.Run("terminated placement rejects field changes", func(t *testing.T) {
		f := newFixture(t)
		p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)
		_, err := f.internships.Terminate(ctx, p.ID, dto.TerminateInternshipRequest{Reason: "left"}, admin)
		require.NoError(t, err)
		_, err = f.internships.ChangeTeacher(ctx, p.ID, dto.ChangeTeacherRequest{TeacherID: "t2"}, admin)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
		_, err = f.internships.Complete(ctx, p.ID, dto.CompleteInternshipRequest{}, admin)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	})

	t.Run("completed placement is immutable", func(t *testing.T) {
		f := newFixture(t)
		p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)
		done, err := f.internships.Complete(ctx, p.ID, dto.CompleteInternshipRequest{}, admin)
		require.NoError(t, err)
		assert.NotNil(t, done.Internship.EndDate)
		_, err = f.internships.Terminate(ctx, p.ID, dto.TerminateInternshipRequest{Reason: "late"}, admin)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
		_, err = f.internships.Update(ctx, p.ID, dto.UpdateInternshipRequest{StartDate: &placementStart}, admin)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
		_, err = f.internships.Reactivate(ctx, p.ID, dto.ReactivateInternshipRequest{Reason: "redo"}, admin)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	})

	t.Run("completed reactivation allowed by policy", func(t *testing.T) {
		f := newFixture(t, func(o *fixtureOptions) { o.allowReactivate = true })
		p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)
		_, err := f.internships.Complete(ctx, p.ID, dto.CompleteInternshipRequest{}, admin)
		require.NoError(t, err)
		result, err := f.internships.Reactivate(ctx, p.ID, dto.ReactivateInternshipRequest{Reason: "extension"}, admin)
		require.NoError(t, err)
		assert.Equal(t, models.InternshipStatusActive, result.Internship.Status)
	})

	t.Run("active placement cannot be reactivated", func(t *testing.T) {
		f := newFixture(t)
		p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)
		_, err := f.internships.Reactivate(ctx, p.ID, dto.ReactivateInternshipRequest{Reason: "noop"}, admin)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	})

	t.Run("unknown placement", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.internships.Terminate(ctx, "missing", dto.TerminateInternshipRequest{Reason: "x"}, admin)
		assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	})
}

func TestInternshipReactivateRestoresPointers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)
	_, err := f.internships.Terminate(ctx, p.ID, dto.TerminateInternshipRequest{Reason: "illness", DocumentID: strptr("doc-7")}, admin)
	require.NoError(t, err)
	assert.Equal(t, "doc-7", *f.db.state.internships[p.ID].TerminationDocumentID)

	result, err := f.internships.Reactivate(ctx, p.ID, dto.ReactivateInternshipRequest{Reason: "recovered"}, admin)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryActionReactivated, result.History.Action)
	assert.Equal(t, models.InternshipStatusActive, result.Internship.Status)
	assert.Nil(t, result.Internship.TerminationDate)
	assert.Contains(t, result.History.NewData.Cleared, models.SnapTerminationReason)

	assert.Equal(t, "t1", *f.db.state.students["s1"].TeacherID)
	assert.Equal(t, "c1", *f.db.state.students["s1"].CompanyID)
	assert.Equal(t, "t1", *companyCoordinator(f, "c1"))
}

func TestInternshipTransitionRollsBackWhenAuditFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)
	fieldsBefore := len(f.db.state.fields[models.EntityCompany])

	f.db.faults.appendErr = errors.New("disk full")
	_, err := f.internships.Terminate(ctx, p.ID, dto.TerminateInternshipRequest{Reason: "x"}, admin)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))

	stored := f.db.state.internships[p.ID]
	assert.Equal(t, models.InternshipStatusActive, stored.Status)
	assert.Equal(t, 1, stored.Version)
	assert.Len(t, f.db.state.history, 1)
	assert.Len(t, f.db.state.fields[models.EntityCompany], fieldsBefore)
	assert.Equal(t, "t1", *companyCoordinator(f, "c1"))
}

func TestInternshipTransitionRetriesConflicts(t *testing.T) {
	f := newFixture(t, func(o *fixtureOptions) { o.retries = 2 })
	ctx := context.Background()
	p := createPlacement(t, f, "s1", "c1", strptr("t1"), false)

	f.tx.calls = 0
	f.db.faults.closeConflicts = 1
	result, err := f.internships.ChangeTeacher(ctx, p.ID, dto.ChangeTeacherRequest{TeacherID: "t2"}, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, f.tx.calls)
	assert.Equal(t, 2, result.Internship.Version)

	changes := 0
	for _, h := range f.db.state.history {
		if h.Action == models.HistoryActionTeacherChanged {
			changes++
		}
	}
	assert.Equal(t, 1, changes, "the aborted attempt leaves no record")

	f.db.faults.closeConflicts = 10
	_, err = f.internships.Terminate(ctx, p.ID, dto.TerminateInternshipRequest{Reason: "x"}, admin)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	assert.Equal(t, models.InternshipStatusActive, f.db.state.internships[p.ID].Status)
}

func TestInternshipEvaluateDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	createPlacement(t, f, "s1", "c1", strptr("t1"), false)
	historyBefore := len(f.db.state.history)

	resp, err := f.internships.Evaluate(context.Background(), dto.EvaluateAssignmentRequest{StudentID: "s2", CompanyID: "c1", TeacherID: strptr("t3")})
	require.NoError(t, err)
	assert.False(t, resp.Blocked)
	assert.True(t, resp.RequiresConfirmation)
	assert.Len(t, f.db.state.history, historyBefore)
}

func TestInternshipListForStudent(t *testing.T) {
	f := newFixture(t)
	createPlacement(t, f, "s1", "c1", strptr("t1"), false)

	list, err := f.internships.ListForStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	empty, err := f.internships.ListForStudent(context.Background(), "s2")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = f.internships.ListForStudent(context.Background(), "ghost")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
