package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/pkg/database"
)

const enrollmentColumns = `id, student_id, education_year_id, class_id, class_name, grade, grade_type, status, enrollment_date, promotion_date, created_at`

// EnrollmentRepository handles persistence of student × education-year enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) findOne(ctx context.Context, q sqlx.ExtContext, where string, args ...interface{}) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE %s", enrollmentColumns, where)
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, q, &enrollment, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// FindActive returns the student's ACTIVE enrollment or nil.
func (r *EnrollmentRepository) FindActive(ctx context.Context, q sqlx.ExtContext, studentID string) (*models.Enrollment, error) {
	return r.findOne(ctx, q, "student_id = $1 AND status = $2", studentID, models.EnrollmentStatusActive)
}

// FindByStudentAndYear returns the enrollment for the (student, year) pair or nil.
func (r *EnrollmentRepository) FindByStudentAndYear(ctx context.Context, q sqlx.ExtContext, studentID, yearID string) (*models.Enrollment, error) {
	return r.findOne(ctx, q, "student_id = $1 AND education_year_id = $2", studentID, yearID)
}

// FindCurrent returns the latest enrollment that has not been closed, whatever its status.
func (r *EnrollmentRepository) FindCurrent(ctx context.Context, q sqlx.ExtContext, studentID string) (*models.Enrollment, error) {
	return r.findOne(ctx, q, "student_id = $1 AND promotion_date IS NULL ORDER BY enrollment_date DESC LIMIT 1", studentID)
}

// Create inserts a new enrollment. The single-active and per-year unique indexes surface as ErrStaleWrite.
func (r *EnrollmentRepository) Create(ctx context.Context, q sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	query := fmt.Sprintf(`INSERT INTO enrollments (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, enrollmentColumns)
	if _, err := q.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.StudentID,
		enrollment.EducationYearID,
		enrollment.ClassID,
		enrollment.ClassName,
		enrollment.Grade,
		enrollment.GradeType,
		enrollment.Status,
		enrollment.EnrollmentDate,
		enrollment.PromotionDate,
		enrollment.CreatedAt,
	); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrStaleWrite
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Transition moves an enrollment from the expected status to next. closedAt is stored as
// promotion_date when non-nil. ErrStaleWrite is returned if the row was no longer in the expected status.
func (r *EnrollmentRepository) Transition(ctx context.Context, q sqlx.ExtContext, id string, expected, next models.EnrollmentStatus, closedAt *time.Time) error {
	const query = `UPDATE enrollments SET status = $1, promotion_date = $2 WHERE id = $3 AND status = $4 AND promotion_date IS NULL`
	result, err := q.ExecContext(ctx, query, next, closedAt, id, expected)
	if err != nil {
		return fmt.Errorf("transition enrollment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check enrollment transition rows: %w", err)
	}
	if rows != 1 {
		return ErrStaleWrite
	}
	return nil
}

// AsOf returns the enrollment valid at the instant, or nil.
func (r *EnrollmentRepository) AsOf(ctx context.Context, studentID string, at time.Time) (*models.Enrollment, error) {
	return r.findOne(ctx, r.db, "student_id = $1 AND enrollment_date <= $2 AND (promotion_date IS NULL OR promotion_date > $2) ORDER BY enrollment_date DESC LIMIT 1", studentID, at)
}

// ListByStudent returns the student's enrollments, oldest first.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE student_id = $1 ORDER BY enrollment_date ASC", enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}
