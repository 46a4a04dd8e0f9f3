package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-pkl-api/internal/models"
)

const studentColumns = `id, nis, full_name, phone, address, subject_area, class_name, grade, teacher_id, company_id, active, created_at, updated_at`

// StudentRepository reads student rows.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository creates a new repository instance.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID retrieves a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// LockByID reads the student inside a transaction, holding a row lock until commit.
func (r *StudentRepository) LockByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Student, error) {
	var student models.Student
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1 FOR UPDATE", studentColumns)
	if err := sqlx.GetContext(ctx, q, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}
