package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/pkg/database"
)

const internshipColumns = `id, student_id, company_id, teacher_id, education_year_id, start_date, end_date, status,
termination_date, termination_reason, terminated_by, termination_notes, termination_document_id, version, created_at, updated_at`

// TeacherPlacementCount is the number of active placements a teacher coordinates at one company.
type TeacherPlacementCount struct {
	TeacherID string `db:"teacher_id"`
	Count     int    `db:"placements"`
}

// InternshipRepository persists placements.
type InternshipRepository struct {
	db *sqlx.DB
}

// NewInternshipRepository constructs the repository.
func NewInternshipRepository(db *sqlx.DB) *InternshipRepository {
	return &InternshipRepository{db: db}
}

// FindByID returns a placement by identifier.
func (r *InternshipRepository) FindByID(ctx context.Context, id string) (*models.Internship, error) {
	query := fmt.Sprintf("SELECT %s FROM internships WHERE id = $1", internshipColumns)
	var internship models.Internship
	if err := r.db.GetContext(ctx, &internship, query, id); err != nil {
		return nil, err
	}
	return &internship, nil
}

// LockByID reads a placement inside a transaction with a row lock.
func (r *InternshipRepository) LockByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Internship, error) {
	query := fmt.Sprintf("SELECT %s FROM internships WHERE id = $1 FOR UPDATE", internshipColumns)
	var internship models.Internship
	if err := sqlx.GetContext(ctx, q, &internship, query, id); err != nil {
		return nil, err
	}
	return &internship, nil
}

// ListByStudent returns every placement of a student, newest first.
func (r *InternshipRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Internship, error) {
	query := fmt.Sprintf("SELECT %s FROM internships WHERE student_id = $1 ORDER BY start_date DESC, created_at DESC", internshipColumns)
	var internships []models.Internship
	if err := r.db.SelectContext(ctx, &internships, query, studentID); err != nil {
		return nil, fmt.Errorf("list student internships: %w", err)
	}
	return internships, nil
}

// Create inserts a placement with version 1.
func (r *InternshipRepository) Create(ctx context.Context, q sqlx.ExtContext, internship *models.Internship) error {
	if internship.ID == "" {
		internship.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if internship.CreatedAt.IsZero() {
		internship.CreatedAt = now
	}
	internship.UpdatedAt = internship.CreatedAt
	internship.Version = 1
	query := fmt.Sprintf(`INSERT INTO internships (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, internshipColumns)
	if _, err := q.ExecContext(ctx, query,
		internship.ID,
		internship.StudentID,
		internship.CompanyID,
		internship.TeacherID,
		internship.EducationYearID,
		internship.StartDate,
		internship.EndDate,
		internship.Status,
		internship.TerminationDate,
		internship.TerminationReason,
		internship.TerminatedBy,
		internship.TerminationNotes,
		internship.TerminationDocumentID,
		internship.Version,
		internship.CreatedAt,
		internship.UpdatedAt,
	); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrStaleWrite
		}
		return fmt.Errorf("create internship: %w", err)
	}
	return nil
}

// Update writes every mutable column guarded by the version that was read. On success the
// struct's version is advanced; ErrStaleWrite means another transaction updated the row first.
func (r *InternshipRepository) Update(ctx context.Context, q sqlx.ExtContext, internship *models.Internship) error {
	const query = `UPDATE internships SET
	company_id = $1, teacher_id = $2, education_year_id = $3, start_date = $4, end_date = $5, status = $6,
	termination_date = $7, termination_reason = $8, terminated_by = $9, termination_notes = $10,
	termination_document_id = $11, updated_at = $12, version = version + 1
WHERE id = $13 AND version = $14`
	result, err := q.ExecContext(ctx, query,
		internship.CompanyID,
		internship.TeacherID,
		internship.EducationYearID,
		internship.StartDate,
		internship.EndDate,
		internship.Status,
		internship.TerminationDate,
		internship.TerminationReason,
		internship.TerminatedBy,
		internship.TerminationNotes,
		internship.TerminationDocumentID,
		internship.UpdatedAt,
		internship.ID,
		internship.Version,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrStaleWrite
		}
		return fmt.Errorf("update internship: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check internship update rows: %w", err)
	}
	if rows != 1 {
		return ErrStaleWrite
	}
	internship.Version++
	return nil
}

// HasActiveForStudent reports whether the student already holds an ACTIVE placement other than excludeID.
func (r *InternshipRepository) HasActiveForStudent(ctx context.Context, q sqlx.ExtContext, studentID, excludeID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM internships WHERE student_id = $1 AND status = $2 AND id <> $3`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, studentID, models.InternshipStatusActive, excludeID); err != nil {
		return false, fmt.Errorf("check active student internship: %w", err)
	}
	return count > 0, nil
}

// CountActiveByCompany counts ACTIVE placements at a company.
func (r *InternshipRepository) CountActiveByCompany(ctx context.Context, q sqlx.ExtContext, companyID string) (int, error) {
	const query = `SELECT COUNT(*) FROM internships WHERE company_id = $1 AND status = $2`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, companyID, models.InternshipStatusActive); err != nil {
		return 0, fmt.Errorf("count active company internships: %w", err)
	}
	return count, nil
}

// ActiveTeachersByCompany groups the company's ACTIVE placements by coordinating teacher,
// most placements first. excludeID leaves one placement out of the count.
func (r *InternshipRepository) ActiveTeachersByCompany(ctx context.Context, q sqlx.ExtContext, companyID, excludeID string) ([]TeacherPlacementCount, error) {
	if q == nil {
		q = r.db
	}
	const query = `SELECT teacher_id, COUNT(*) AS placements FROM internships
WHERE company_id = $1 AND status = $2 AND teacher_id IS NOT NULL AND id <> $3
GROUP BY teacher_id ORDER BY placements DESC, teacher_id ASC`
	var counts []TeacherPlacementCount
	if err := sqlx.SelectContext(ctx, q, &counts, query, companyID, models.InternshipStatusActive, excludeID); err != nil {
		return nil, fmt.Errorf("group company coordinators: %w", err)
	}
	return counts, nil
}
