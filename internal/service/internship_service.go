package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-pkl-api/internal/dto"
	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/internal/repository"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
)

type internshipStore interface {
	FindByID(ctx context.Context, id string) (*models.Internship, error)
	LockByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Internship, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Internship, error)
	Create(ctx context.Context, q sqlx.ExtContext, internship *models.Internship) error
	Update(ctx context.Context, q sqlx.ExtContext, internship *models.Internship) error
	HasActiveForStudent(ctx context.Context, q sqlx.ExtContext, studentID, excludeID string) (bool, error)
	CountActiveByCompany(ctx context.Context, q sqlx.ExtContext, companyID string) (int, error)
	ActiveTeachersByCompany(ctx context.Context, q sqlx.ExtContext, companyID, excludeID string) ([]repository.TeacherPlacementCount, error)
}

type companyLocker interface {
	FindByID(ctx context.Context, id string) (*models.Company, error)
	LockByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Company, error)
}

type educationYearReader interface {
	FindByID(ctx context.Context, id string) (*models.EducationYear, error)
	FindActive(ctx context.Context) (*models.EducationYear, error)
}

type ruleEvaluator interface {
	Evaluate(ctx context.Context, in RuleInput) (models.RuleFindings, error)
}

type auditAppender interface {
	AppendTx(ctx context.Context, q sqlx.ExtContext, entry AuditEntry) (*models.InternshipHistoryRecord, error)
	Read(ctx context.Context, internshipID string, limit int) ([]models.InternshipHistoryRecord, error)
}

type fieldRecorder interface {
	RecordChangeTx(ctx context.Context, q sqlx.ExtContext, change dto.FieldChange, actor models.Actor) (*dto.FieldChangeResult, error)
}

// InternshipConfig holds lifecycle policy knobs.
type InternshipConfig struct {
	SystemActor                models.Actor
	ConflictRetries            int
	AllowCompletedReactivation bool
}

// InternshipDeps groups the collaborators of the lifecycle manager.
type InternshipDeps struct {
	Tx          Transactor
	Internships internshipStore
	Students    studentReader
	Companies   companyLocker
	Years       educationYearReader
	Rules       ruleEvaluator
	Audit       auditAppender
	Fields      fieldRecorder
}

// InternshipService is the lifecycle manager of placements. Every transition updates the row,
// appends one history record and applies pointer cascades in a single transaction.
type InternshipService struct {
	deps      InternshipDeps
	config    InternshipConfig
	validator *validator.Validate
	metrics   *MetricsService
	cache     studentCacheInvalidator
	logger    *zap.Logger
	now       func() time.Time
}

// InternshipOption configures optional collaborators.
type InternshipOption func(*InternshipService)

// WithInternshipMetrics attaches Prometheus instrumentation.
func WithInternshipMetrics(metrics *MetricsService) InternshipOption {
	return func(s *InternshipService) {
		s.metrics = metrics
	}
}

// WithInternshipCache invalidates cached student timelines after commits.
func WithInternshipCache(cache studentCacheInvalidator) InternshipOption {
	return func(s *InternshipService) {
		s.cache = cache
	}
}

// WithInternshipClock overrides the time source.
func WithInternshipClock(now func() time.Time) InternshipOption {
	return func(s *InternshipService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInternshipService constructs the lifecycle manager.
func NewInternshipService(deps InternshipDeps, validate *validator.Validate, logger *zap.Logger, config InternshipConfig, opts ...InternshipOption) *InternshipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &InternshipService{
		deps:      deps,
		config:    config,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Get returns a placement by ID.
func (s *InternshipService) Get(ctx context.Context, id string) (*models.Internship, error) {
	internship, err := s.deps.Internships.FindByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "internship not found")
	}
	return internship, nil
}

// ListForStudent returns every placement of the student, newest first.
func (s *InternshipService) ListForStudent(ctx context.Context, studentID string) ([]models.Internship, error) {
	if _, err := s.deps.Students.FindByID(ctx, studentID); err != nil {
		return nil, translateStoreError(err, "student not found")
	}
	internships, err := s.deps.Internships.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, translateStoreError(err, "")
	}
	if internships == nil {
		internships = []models.Internship{}
	}
	return internships, nil
}

// History returns the placement's audit records, newest first.
func (s *InternshipService) History(ctx context.Context, id string, limit int) ([]models.InternshipHistoryRecord, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.deps.Audit.Read(ctx, id, limit)
}

// Evaluate runs the assignment rules for a prospective triple without writing anything.
func (s *InternshipService) Evaluate(ctx context.Context, req dto.EvaluateAssignmentRequest) (*dto.EvaluateAssignmentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}
	in := RuleInput{StudentID: req.StudentID, CompanyID: req.CompanyID, TeacherID: trimmed(req.TeacherID)}
	if req.InternshipID != nil {
		in.ExcludeInternshipID = *req.InternshipID
	}
	findings, err := s.deps.Rules.Evaluate(ctx, in)
	if err != nil {
		return nil, err
	}
	return &dto.EvaluateAssignmentResponse{
		Findings:             findings,
		Blocked:              findings.HasErrors(),
		RequiresConfirmation: findings.HasWarnings(),
	}, nil
}

// Create opens a placement (∅ → ACTIVE).
func (s *InternshipService) Create(ctx context.Context, req dto.CreateInternshipRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid internship payload")
	}
	start := req.StartDate.UTC()
	end := utcPtr(req.EndDate)
	if end != nil && end.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must not precede start date")
	}
	teacherID := trimmed(req.TeacherID)
	year, err := s.resolveYear(ctx, req.EducationYearID)
	if err != nil {
		return nil, err
	}
	student, err := s.deps.Students.FindByID(ctx, req.StudentID)
	if err != nil {
		return nil, translateStoreError(err, "student not found")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is inactive")
	}
	company, err := s.deps.Companies.FindByID(ctx, req.CompanyID)
	if err != nil {
		return nil, translateStoreError(err, "company not found")
	}
	if !company.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "company is inactive")
	}

	findings, err := s.deps.Rules.Evaluate(ctx, RuleInput{StudentID: student.ID, CompanyID: company.ID, TeacherID: teacherID})
	if err != nil {
		return nil, err
	}
	if err := gateFindings(findings, req.ConfirmWarnings); err != nil {
		return nil, err
	}

	by := resolveActor(actor, s.config.SystemActor)
	return s.execute(ctx, "create", func(q sqlx.ExtContext) (*dto.TransitionResult, error) {
		host, err := s.deps.Companies.LockByID(ctx, q, company.ID)
		if err != nil {
			return nil, translateStoreError(err, "company not found")
		}
		busy, err := s.deps.Internships.HasActiveForStudent(ctx, q, student.ID, "")
		if err != nil {
			return nil, translateStoreError(err, "")
		}
		if busy {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "student already has an active internship")
		}

		at := s.now()
		internship := &models.Internship{
			StudentID:       student.ID,
			CompanyID:       host.ID,
			TeacherID:       teacherID,
			EducationYearID: year.ID,
			StartDate:       start,
			EndDate:         end,
			Status:          models.InternshipStatusActive,
			CreatedAt:       at,
		}
		if err := s.deps.Internships.Create(ctx, q, internship); err != nil {
			return nil, translateStoreError(err, "")
		}
		record, err := s.deps.Audit.AppendTx(ctx, q, AuditEntry{
			InternshipID: internship.ID,
			Action:       models.HistoryActionCreated,
			Next:         models.FullSnapshot(*internship),
			Actor:        by,
			At:           at,
			Notes:        req.Notes,
		})
		if err != nil {
			return nil, err
		}
		if err := s.pointStudent(ctx, q, student.ID, teacherID, &host.ID, by, at); err != nil {
			return nil, err
		}
		if err := s.adoptCoordinator(ctx, q, host, nil, teacherID, internship.ID, by, at); err != nil {
			return nil, err
		}
		return &dto.TransitionResult{Internship: internship, History: record, Findings: findings}, nil
	})
}

// ChangeTeacher assigns or replaces the coordinating teacher of an ACTIVE placement.
func (s *InternshipService) ChangeTeacher(ctx context.Context, id string, req dto.ChangeTeacherRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher change payload")
	}
	teacherID := strings.TrimSpace(req.TeacherID)
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardMutable(current); err != nil {
		return nil, err
	}
	if current.TeacherID != nil && *current.TeacherID == teacherID {
		return &dto.TransitionResult{Internship: current}, nil
	}

	findings, err := s.deps.Rules.Evaluate(ctx, RuleInput{StudentID: current.StudentID, CompanyID: current.CompanyID, TeacherID: &teacherID, ExcludeInternshipID: current.ID})
	if err != nil {
		return nil, err
	}
	if err := gateFindings(findings, req.ConfirmWarnings); err != nil {
		return nil, err
	}

	by := resolveActor(actor, s.config.SystemActor)
	return s.execute(ctx, "change_teacher", func(q sqlx.ExtContext) (*dto.TransitionResult, error) {
		internship, err := s.lock(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if err := guardMutable(internship); err != nil {
			return nil, err
		}
		if internship.TeacherID != nil && *internship.TeacherID == teacherID {
			return &dto.TransitionResult{Internship: internship}, nil
		}
		company, err := s.deps.Companies.LockByID(ctx, q, internship.CompanyID)
		if err != nil {
			return nil, translateStoreError(err, "company not found")
		}

		at := s.now()
		before := internship.Clone()
		action := models.HistoryActionTeacherChanged
		if before.TeacherID == nil {
			action = models.HistoryActionAssigned
		}
		internship.TeacherID = &teacherID
		record, err := s.commit(ctx, q, before, internship, action, by, at, req.Reason, req.Notes)
		if err != nil {
			return nil, err
		}
		if err := s.setPointer(ctx, q, models.EntityStudent, internship.StudentID, &teacherID, by, at, models.FieldTeacherID); err != nil {
			return nil, err
		}
		if err := s.adoptCoordinator(ctx, q, company, before.TeacherID, &teacherID, internship.ID, by, at); err != nil {
			return nil, err
		}
		return &dto.TransitionResult{Internship: internship, History: record, Findings: findings}, nil
	})
}

// ChangeCompany moves an ACTIVE placement to another host company.
func (s *InternshipService) ChangeCompany(ctx context.Context, id string, req dto.ChangeCompanyRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid company change payload")
	}
	companyID := strings.TrimSpace(req.CompanyID)
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardMutable(current); err != nil {
		return nil, err
	}
	teacherID := current.TeacherID
	if t := trimmed(req.TeacherID); t != nil {
		teacherID = t
	}
	if current.CompanyID == companyID {
		if models.SameValue(current.TeacherID, teacherID) {
			return &dto.TransitionResult{Internship: current}, nil
		}
		return nil, appErrors.Clone(appErrors.ErrValidation, "company unchanged; change the teacher instead")
	}
	target, err := s.deps.Companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, translateStoreError(err, "company not found")
	}
	if !target.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "company is inactive")
	}

	findings, err := s.deps.Rules.Evaluate(ctx, RuleInput{StudentID: current.StudentID, CompanyID: companyID, TeacherID: teacherID, ExcludeInternshipID: current.ID})
	if err != nil {
		return nil, err
	}
	if err := gateFindings(findings, req.ConfirmWarnings); err != nil {
		return nil, err
	}

	by := resolveActor(actor, s.config.SystemActor)
	return s.execute(ctx, "change_company", func(q sqlx.ExtContext) (*dto.TransitionResult, error) {
		internship, err := s.lock(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if err := guardMutable(internship); err != nil {
			return nil, err
		}
		if internship.CompanyID == companyID {
			return &dto.TransitionResult{Internship: internship}, nil
		}
		locked, err := s.lockCompanies(ctx, q, internship.CompanyID, companyID)
		if err != nil {
			return nil, err
		}
		oldCompany, newCompany := locked[internship.CompanyID], locked[companyID]

		at := s.now()
		before := internship.Clone()
		internship.CompanyID = companyID
		internship.TeacherID = cloneStr(teacherID)
		record, err := s.commit(ctx, q, before, internship, models.HistoryActionCompanyChanged, by, at, req.Reason, req.Notes)
		if err != nil {
			return nil, err
		}
		if err := s.releaseCoordinator(ctx, q, oldCompany, by, at); err != nil {
			return nil, err
		}
		if err := s.adoptCoordinator(ctx, q, newCompany, nil, teacherID, internship.ID, by, at); err != nil {
			return nil, err
		}
		if err := s.pointStudent(ctx, q, internship.StudentID, teacherID, &companyID, by, at); err != nil {
			return nil, err
		}
		return &dto.TransitionResult{Internship: internship, History: record, Findings: findings}, nil
	})
}

// Update corrects the schedule or education year of an ACTIVE placement.
func (s *InternshipService) Update(ctx context.Context, id string, req dto.UpdateInternshipRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid internship update payload")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := guardMutable(current); err != nil {
		return nil, err
	}
	if req.EducationYearID != nil {
		if _, err := s.resolveYear(ctx, req.EducationYearID); err != nil {
			return nil, err
		}
	}

	by := resolveActor(actor, s.config.SystemActor)
	return s.execute(ctx, "update", func(q sqlx.ExtContext) (*dto.TransitionResult, error) {
		internship, err := s.lock(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if err := guardMutable(internship); err != nil {
			return nil, err
		}
		before := internship.Clone()
		if req.StartDate != nil {
			internship.StartDate = req.StartDate.UTC()
		}
		if req.EndDate != nil {
			internship.EndDate = utcPtr(req.EndDate)
		}
		if req.EducationYearID != nil {
			internship.EducationYearID = strings.TrimSpace(*req.EducationYearID)
		}
		if internship.EndDate != nil && internship.EndDate.Before(internship.StartDate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "end date must not precede start date")
		}
		if len(models.DiffInternship(before, *internship, models.HistoryActionUpdated).Changed) == 0 {
			return &dto.TransitionResult{Internship: internship}, nil
		}
		record, err := s.commit(ctx, q, before, internship, models.HistoryActionUpdated, by, s.now(), req.Reason, req.Notes)
		if err != nil {
			return nil, err
		}
		return &dto.TransitionResult{Internship: internship, History: record}, nil
	})
}

// Terminate ends an ACTIVE placement early (ACTIVE → TERMINATED).
func (s *InternshipService) Terminate(ctx context.Context, id string, req dto.TerminateInternshipRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid termination payload")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	by := resolveActor(actor, s.config.SystemActor)
	return s.execute(ctx, "terminate", func(q sqlx.ExtContext) (*dto.TransitionResult, error) {
		internship, err := s.lock(ctx, q, id)
		if err != nil {
			return nil, err
		}
		switch internship.Status {
		case models.InternshipStatusTerminated:
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "internship is already terminated")
		case models.InternshipStatusCompleted:
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "completed placements are immutable")
		}
		at := s.now()
		date := at
		if req.Date != nil {
			date = req.Date.UTC()
		}
		if date.Before(internship.StartDate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "termination date must not precede start date")
		}
		company, err := s.deps.Companies.LockByID(ctx, q, internship.CompanyID)
		if err != nil {
			return nil, translateStoreError(err, "company not found")
		}

		before := internship.Clone()
		internship.Status = models.InternshipStatusTerminated
		internship.TerminationDate = &date
		internship.TerminationReason = &reason
		internship.TerminatedBy = &by.ID
		internship.TerminationNotes = req.Notes
		internship.TerminationDocumentID = trimmed(req.DocumentID)
		record, err := s.commit(ctx, q, before, internship, models.HistoryActionTerminated, by, at, &reason, req.Notes)
		if err != nil {
			return nil, err
		}
		if err := s.endPlacementCascade(ctx, q, company, internship.StudentID, by, at); err != nil {
			return nil, err
		}
		return &dto.TransitionResult{Internship: internship, History: record}, nil
	})
}

// Complete closes an ACTIVE placement that ran its course (ACTIVE → COMPLETED).
func (s *InternshipService) Complete(ctx context.Context, id string, req dto.CompleteInternshipRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid completion payload")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	by := resolveActor(actor, s.config.SystemActor)
	return s.execute(ctx, "complete", func(q sqlx.ExtContext) (*dto.TransitionResult, error) {
		internship, err := s.lock(ctx, q, id)
		if err != nil {
			return nil, err
		}
		switch internship.Status {
		case models.InternshipStatusCompleted:
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "completed placements are immutable")
		case models.InternshipStatusTerminated:
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "terminated placements cannot be completed")
		}
		at := s.now()
		before := internship.Clone()
		switch {
		case req.EndDate != nil:
			internship.EndDate = utcPtr(req.EndDate)
		case internship.EndDate == nil:
			end := at
			internship.EndDate = &end
		}
		if internship.EndDate.Before(internship.StartDate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "end date must not precede start date")
		}
		company, err := s.deps.Companies.LockByID(ctx, q, internship.CompanyID)
		if err != nil {
			return nil, translateStoreError(err, "company not found")
		}
		internship.Status = models.InternshipStatusCompleted
		record, err := s.commit(ctx, q, before, internship, models.HistoryActionCompleted, by, at, nil, req.Notes)
		if err != nil {
			return nil, err
		}
		if err := s.endPlacementCascade(ctx, q, company, internship.StudentID, by, at); err != nil {
			return nil, err
		}
		return &dto.TransitionResult{Internship: internship, History: record}, nil
	})
}

// Reactivate reopens a TERMINATED placement. COMPLETED placements may only be reopened when
// policy allows it.
func (s *InternshipService) Reactivate(ctx context.Context, id string, req dto.ReactivateInternshipRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reactivation payload")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guardReactivation(current); err != nil {
		return nil, err
	}
	findings, err := s.deps.Rules.Evaluate(ctx, RuleInput{StudentID: current.StudentID, CompanyID: current.CompanyID, TeacherID: current.TeacherID, ExcludeInternshipID: current.ID})
	if err != nil {
		return nil, err
	}
	if err := gateFindings(findings, req.ConfirmWarnings); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(req.Reason)
	by := resolveActor(actor, s.config.SystemActor)
	return s.execute(ctx, "reactivate", func(q sqlx.ExtContext) (*dto.TransitionResult, error) {
		internship, err := s.lock(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if err := s.guardReactivation(internship); err != nil {
			return nil, err
		}
		company, err := s.deps.Companies.LockByID(ctx, q, internship.CompanyID)
		if err != nil {
			return nil, translateStoreError(err, "company not found")
		}
		busy, err := s.deps.Internships.HasActiveForStudent(ctx, q, internship.StudentID, internship.ID)
		if err != nil {
			return nil, translateStoreError(err, "")
		}
		if busy {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "student already has another active internship")
		}

		at := s.now()
		before := internship.Clone()
		internship.Status = models.InternshipStatusActive
		internship.TerminationDate = nil
		internship.TerminationReason = nil
		internship.TerminatedBy = nil
		internship.TerminationNotes = nil
		internship.TerminationDocumentID = nil
		record, err := s.commit(ctx, q, before, internship, models.HistoryActionReactivated, by, at, &reason, req.Notes)
		if err != nil {
			return nil, err
		}
		if err := s.pointStudent(ctx, q, internship.StudentID, internship.TeacherID, &internship.CompanyID, by, at); err != nil {
			return nil, err
		}
		if err := s.adoptCoordinator(ctx, q, company, nil, internship.TeacherID, internship.ID, by, at); err != nil {
			return nil, err
		}
		return &dto.TransitionResult{Internship: internship, History: record, Findings: findings}, nil
	})
}

func (s *InternshipService) guardReactivation(internship *models.Internship) error {
	switch internship.Status {
	case models.InternshipStatusActive:
		return appErrors.Clone(appErrors.ErrInvalidState, "internship is already active")
	case models.InternshipStatusCompleted:
		if !s.config.AllowCompletedReactivation {
			return appErrors.Clone(appErrors.ErrInvalidState, "reactivating a completed placement requires policy approval")
		}
	}
	return nil
}

// guardMutable rejects field changes on placements that are no longer ACTIVE.
func guardMutable(internship *models.Internship) error {
	switch internship.Status {
	case models.InternshipStatusActive:
		return nil
	case models.InternshipStatusCompleted:
		return appErrors.Clone(appErrors.ErrInvalidState, "completed placements are immutable")
	default:
		return appErrors.Clone(appErrors.ErrInvalidState, "internship is terminated; reactivate it first")
	}
}

func (s *InternshipService) execute(ctx context.Context, op string, fn func(q sqlx.ExtContext) (*dto.TransitionResult, error)) (*dto.TransitionResult, error) {
	var result *dto.TransitionResult
	err := withConflictRetry(ctx, s.config.ConflictRetries, "internships", s.logger, s.metrics, func() error {
		return s.deps.Tx.WithinTx(ctx, func(q sqlx.ExtContext) error {
			var err error
			result, err = fn(q)
			return err
		})
	})
	if err != nil {
		s.logger.Debug("internship transition rejected", zap.String("operation", op), zap.Error(err))
		return nil, err
	}
	if result.History == nil {
		return result, nil
	}
	if s.metrics != nil {
		s.metrics.RecordTransition(result.History.Action)
	}
	if s.cache != nil {
		s.cache.InvalidateStudent(ctx, result.Internship.StudentID)
	}
	s.logger.Info("internship transition committed",
		zap.String("operation", op),
		zap.String("internship_id", result.Internship.ID),
		zap.String("action", string(result.History.Action)),
		zap.String("performed_by", result.History.PerformedBy),
	)
	return result, nil
}

func (s *InternshipService) lock(ctx context.Context, q sqlx.ExtContext, id string) (*models.Internship, error) {
	internship, err := s.deps.Internships.LockByID(ctx, q, id)
	if err != nil {
		return nil, translateStoreError(err, "internship not found")
	}
	return internship, nil
}

// lockCompanies takes row locks in ID order so concurrent moves between two companies cannot deadlock.
func (s *InternshipService) lockCompanies(ctx context.Context, q sqlx.ExtContext, ids ...string) (map[string]*models.Company, error) {
	ordered := append([]string(nil), ids...)
	sort.Strings(ordered)
	locked := make(map[string]*models.Company, len(ordered))
	for _, id := range ordered {
		if _, ok := locked[id]; ok {
			continue
		}
		company, err := s.deps.Companies.LockByID(ctx, q, id)
		if err != nil {
			return nil, translateStoreError(err, "company not found")
		}
		locked[id] = company
	}
	return locked, nil
}

// commit writes the row and its single history record.
func (s *InternshipService) commit(ctx context.Context, q sqlx.ExtContext, before models.Internship, after *models.Internship, action models.HistoryAction, by models.Actor, at time.Time, reason, notes *string) (*models.InternshipHistoryRecord, error) {
	after.UpdatedAt = at
	if err := s.deps.Internships.Update(ctx, q, after); err != nil {
		return nil, translateStoreError(err, "internship not found")
	}
	diff := models.DiffInternship(before, *after, action)
	previous := diff.Before
	return s.deps.Audit.AppendTx(ctx, q, AuditEntry{
		InternshipID: after.ID,
		Action:       action,
		Previous:     &previous,
		Next:         diff.After,
		Actor:        by,
		At:           at,
		Reason:       reason,
		Notes:        notes,
	})
}

func (s *InternshipService) setPointer(ctx context.Context, q sqlx.ExtContext, et models.EntityType, entityID string, value *string, by models.Actor, at time.Time, field string) error {
	_, err := s.deps.Fields.RecordChangeTx(ctx, q, dto.FieldChange{
		EntityType: et,
		EntityID:   entityID,
		FieldName:  field,
		NewValue:   value,
		At:         at,
	}, by)
	return err
}

func (s *InternshipService) pointStudent(ctx context.Context, q sqlx.ExtContext, studentID string, teacherID, companyID *string, by models.Actor, at time.Time) error {
	if err := s.setPointer(ctx, q, models.EntityStudent, studentID, teacherID, by, at, models.FieldTeacherID); err != nil {
		return err
	}
	return s.setPointer(ctx, q, models.EntityStudent, studentID, companyID, by, at, models.FieldCompanyID)
}

// adoptCoordinator points the company at next when it has no coordinator, or when its
// coordinator was previous and no other ACTIVE placement there is still coordinated by previous.
func (s *InternshipService) adoptCoordinator(ctx context.Context, q sqlx.ExtContext, company *models.Company, previous, next *string, internshipID string, by models.Actor, at time.Time) error {
	if next == nil {
		return nil
	}
	switch {
	case company.TeacherID == nil:
	case previous != nil && *company.TeacherID == *previous && *previous != *next:
		counts, err := s.deps.Internships.ActiveTeachersByCompany(ctx, q, company.ID, internshipID)
		if err != nil {
			return translateStoreError(err, "")
		}
		for _, c := range counts {
			if c.TeacherID == *previous {
				return nil
			}
		}
	default:
		return nil
	}
	if err := s.setPointer(ctx, q, models.EntityCompany, company.ID, next, by, at, models.FieldTeacherID); err != nil {
		return err
	}
	company.TeacherID = cloneStr(next)
	return nil
}

// releaseCoordinator clears the company's coordinator once it has no ACTIVE placement left.
func (s *InternshipService) releaseCoordinator(ctx context.Context, q sqlx.ExtContext, company *models.Company, by models.Actor, at time.Time) error {
	remaining, err := s.deps.Internships.CountActiveByCompany(ctx, q, company.ID)
	if err != nil {
		return translateStoreError(err, "")
	}
	if remaining > 0 {
		return nil
	}
	if err := s.setPointer(ctx, q, models.EntityCompany, company.ID, nil, by, at, models.FieldTeacherID); err != nil {
		return err
	}
	company.TeacherID = nil
	return nil
}

func (s *InternshipService) endPlacementCascade(ctx context.Context, q sqlx.ExtContext, company *models.Company, studentID string, by models.Actor, at time.Time) error {
	if err := s.releaseCoordinator(ctx, q, company, by, at); err != nil {
		return err
	}
	return s.pointStudent(ctx, q, studentID, nil, nil, by, at)
}

func (s *InternshipService) resolveYear(ctx context.Context, id *string) (*models.EducationYear, error) {
	if yearID := trimmed(id); yearID != nil {
		year, err := s.deps.Years.FindByID(ctx, *yearID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "education year does not exist")
			}
			return nil, translateStoreError(err, "")
		}
		return year, nil
	}
	year, err := s.deps.Years.FindActive(ctx)
	if err != nil {
		return nil, translateStoreError(err, "")
	}
	if year == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no education year is currently active")
	}
	return year, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	return models.StringPtr(*value)
}

func cloneStr(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := value.UTC()
	return &v
}
