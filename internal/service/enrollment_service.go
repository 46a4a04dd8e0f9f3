package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-pkl-api/internal/dto"
	"github.com/noah-isme/sma-pkl-api/internal/models"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
)

type enrollmentStore interface {
	FindActive(ctx context.Context, q sqlx.ExtContext, studentID string) (*models.Enrollment, error)
	FindByStudentAndYear(ctx context.Context, q sqlx.ExtContext, studentID, yearID string) (*models.Enrollment, error)
	FindCurrent(ctx context.Context, q sqlx.ExtContext, studentID string) (*models.Enrollment, error)
	Create(ctx context.Context, q sqlx.ExtContext, enrollment *models.Enrollment) error
	Transition(ctx context.Context, q sqlx.ExtContext, id string, expected, next models.EnrollmentStatus, closedAt *time.Time) error
	AsOf(ctx context.Context, studentID string, at time.Time) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
}

// EnrollmentConfig tunes the enrollment tracker.
type EnrollmentConfig struct {
	SystemActor     models.Actor
	ConflictRetries int
}

// EnrollmentService tracks a student's class and grade per education year. Promotion supersedes
// the ACTIVE row instead of editing it.
type EnrollmentService struct {
	tx          Transactor
	enrollments enrollmentStore
	students    studentReader
	years       educationYearReader
	fields      fieldRecorder
	validator   *validator.Validate
	metrics     *MetricsService
	cache       studentCacheInvalidator
	logger      *zap.Logger
	config      EnrollmentConfig
	now         func() time.Time
}

// EnrollmentOption configures optional collaborators.
type EnrollmentOption func(*EnrollmentService)

// WithEnrollmentMetrics attaches Prometheus instrumentation.
func WithEnrollmentMetrics(metrics *MetricsService) EnrollmentOption {
	return func(s *EnrollmentService) {
		s.metrics = metrics
	}
}

// WithEnrollmentCache invalidates cached student timelines after promotions.
func WithEnrollmentCache(cache studentCacheInvalidator) EnrollmentOption {
	return func(s *EnrollmentService) {
		s.cache = cache
	}
}

// WithEnrollmentClock overrides the time source.
func WithEnrollmentClock(now func() time.Time) EnrollmentOption {
	return func(s *EnrollmentService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(tx Transactor, enrollments enrollmentStore, students studentReader, years educationYearReader, fields fieldRecorder, validate *validator.Validate, logger *zap.Logger, config EnrollmentConfig, opts ...EnrollmentOption) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &EnrollmentService{
		tx:          tx,
		enrollments: enrollments,
		students:    students,
		years:       years,
		fields:      fields,
		validator:   validate,
		logger:      logger,
		config:      config,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Promote closes the student's ACTIVE enrollment and opens a new one in the active education year.
// Promoting into a placement the student already holds is a no-op.
func (s *EnrollmentService) Promote(ctx context.Context, studentID string, req dto.PromoteStudentRequest, actor *models.Actor) (*dto.PromotionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid promotion payload")
	}
	className := strings.TrimSpace(req.ClassName)
	yearID := strings.TrimSpace(req.EducationYearID)
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		return nil, translateStoreError(err, "student not found")
	}
	year, err := s.years.FindByID(ctx, yearID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "education year does not exist")
		}
		return nil, translateStoreError(err, "")
	}
	if !year.IsActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "students may only be promoted into the currently active education year")
	}
	at := s.now()
	if req.PromotedAt != nil {
		if req.PromotedAt.After(at) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "promotedAt must not be in the future")
		}
		at = req.PromotedAt.UTC()
	}
	by := resolveActor(actor, s.config.SystemActor)

	var result *dto.PromotionResult
	err = withConflictRetry(ctx, s.config.ConflictRetries, "enrollments", s.logger, s.metrics, func() error {
		return s.tx.WithinTx(ctx, func(q sqlx.ExtContext) error {
			active, err := s.enrollments.FindActive(ctx, q, studentID)
			if err != nil {
				return translateStoreError(err, "")
			}
			if active == nil {
				current, err := s.enrollments.FindCurrent(ctx, q, studentID)
				if err != nil {
					return translateStoreError(err, "")
				}
				if current != nil && current.Status == models.EnrollmentStatusSuspended {
					return appErrors.Clone(appErrors.ErrInvalidState, "suspended enrollments must be reinstated before promotion")
				}
			}
			if active != nil && active.EducationYearID == year.ID {
				if active.SamePlacement(className, req.Grade, req.GradeType) {
					result = &dto.PromotionResult{Enrollment: active}
					return nil
				}
				return appErrors.Clone(appErrors.ErrInvalidState, "student already has an active enrollment for this education year")
			}
			existing, err := s.enrollments.FindByStudentAndYear(ctx, q, studentID, year.ID)
			if err != nil {
				return translateStoreError(err, "")
			}
			if existing != nil {
				return appErrors.Clone(appErrors.ErrInvalidState, "student already has an enrollment for this education year")
			}
			if active != nil {
				if !at.After(active.EnrollmentDate) {
					return appErrors.Clone(appErrors.ErrValidation, "promotion must happen after the current enrollment began")
				}
				if err := s.enrollments.Transition(ctx, q, active.ID, models.EnrollmentStatusActive, models.EnrollmentStatusPromoted, &at); err != nil {
					return translateStoreError(err, "")
				}
				closed := at
				active.Status = models.EnrollmentStatusPromoted
				active.PromotionDate = &closed
			}
			next := &models.Enrollment{
				StudentID:       studentID,
				EducationYearID: year.ID,
				ClassID:         trimmed(req.ClassID),
				ClassName:       className,
				Grade:           req.Grade,
				GradeType:       req.GradeType,
				Status:          models.EnrollmentStatusActive,
				EnrollmentDate:  at,
			}
			if err := s.enrollments.Create(ctx, q, next); err != nil {
				return translateStoreError(err, "")
			}
			grade := strconv.Itoa(req.Grade)
			changes := []struct {
				field string
				value *string
			}{{models.FieldClassName, &className}, {models.FieldGrade, &grade}}
			for _, c := range changes {
				if _, err := s.fields.RecordChangeTx(ctx, q, dto.FieldChange{
					EntityType: models.EntityStudent,
					EntityID:   studentID,
					FieldName:  c.field,
					NewValue:   c.value,
					At:         at,
				}, by); err != nil {
					return err
				}
			}
			result = &dto.PromotionResult{Enrollment: next, Previous: active, Changed: true}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Changed {
		if s.cache != nil {
			s.cache.InvalidateStudent(ctx, studentID)
		}
		s.logger.Info("student promoted",
			zap.String("student_id", studentID),
			zap.String("education_year_id", year.ID),
			zap.String("class_name", className),
			zap.Int("grade", req.Grade),
			zap.String("performed_by", by.ID),
		)
	}
	return result, nil
}

// ChangeStatus moves the student's current enrollment to a terminal status or into/out of suspension.
func (s *EnrollmentService) ChangeStatus(ctx context.Context, studentID string, req dto.ChangeEnrollmentStatusRequest, actor *models.Actor) (*dto.PromotionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment status payload")
	}
	at := s.now()
	if req.ChangedAt != nil {
		if req.ChangedAt.After(at) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "changedAt must not be in the future")
		}
		at = req.ChangedAt.UTC()
	}
	by := resolveActor(actor, s.config.SystemActor)

	var result *dto.PromotionResult
	err := withConflictRetry(ctx, s.config.ConflictRetries, "enrollments", s.logger, s.metrics, func() error {
		return s.tx.WithinTx(ctx, func(q sqlx.ExtContext) error {
			current, err := s.enrollments.FindCurrent(ctx, q, studentID)
			if err != nil {
				return translateStoreError(err, "")
			}
			if current == nil {
				return appErrors.Clone(appErrors.ErrNotFound, "student has no current enrollment")
			}
			if current.Status == req.Status {
				result = &dto.PromotionResult{Enrollment: current}
				return nil
			}
			if req.Status == models.EnrollmentStatusActive && current.Status != models.EnrollmentStatusSuspended {
				return appErrors.Clone(appErrors.ErrInvalidState, "only suspended enrollments can be reinstated")
			}
			var closedAt *time.Time
			if req.Status.Closes() {
				if at.Before(current.EnrollmentDate) {
					return appErrors.Clone(appErrors.ErrValidation, "status change predates the enrollment")
				}
				closedAt = &at
			}
			if err := s.enrollments.Transition(ctx, q, current.ID, current.Status, req.Status, closedAt); err != nil {
				return translateStoreError(err, "")
			}
			previous := *current
			current.Status = req.Status
			current.PromotionDate = closedAt
			result = &dto.PromotionResult{Enrollment: current, Previous: &previous, Changed: true}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Changed {
		if s.cache != nil {
			s.cache.InvalidateStudent(ctx, studentID)
		}
		s.logger.Info("enrollment status changed",
			zap.String("student_id", studentID),
			zap.String("status", string(req.Status)),
			zap.String("performed_by", by.ID),
		)
	}
	return result, nil
}

// AsOf returns the enrollment valid at the instant, or nil.
func (s *EnrollmentService) AsOf(ctx context.Context, studentID string, at time.Time) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.AsOf(ctx, studentID, at.UTC())
	if err != nil {
		return nil, translateStoreError(err, "")
	}
	return enrollment, nil
}

// ListByStudent returns the student's enrollments oldest first.
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		return nil, translateStoreError(err, "student not found")
	}
	enrollments, err := s.enrollments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, translateStoreError(err, "")
	}
	if enrollments == nil {
		enrollments = []models.Enrollment{}
	}
	return enrollments, nil
}
