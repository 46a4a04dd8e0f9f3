package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-pkl-api/internal/models"
)

// EducationYearRepository reads academic years.
type EducationYearRepository struct {
	db *sqlx.DB
}

// NewEducationYearRepository constructs the repository.
func NewEducationYearRepository(db *sqlx.DB) *EducationYearRepository {
	return &EducationYearRepository{db: db}
}

// FindByID returns an education year by ID.
func (r *EducationYearRepository) FindByID(ctx context.Context, id string) (*models.EducationYear, error) {
	const query = `SELECT id, name, start_date, end_date, is_active, created_at FROM education_years WHERE id = $1`
	var year models.EducationYear
	if err := r.db.GetContext(ctx, &year, query, id); err != nil {
		return nil, err
	}
	return &year, nil
}

// FindActive returns the currently open education year or nil when none is open.
func (r *EducationYearRepository) FindActive(ctx context.Context) (*models.EducationYear, error) {
	const query = `SELECT id, name, start_date, end_date, is_active, created_at FROM education_years WHERE is_active = TRUE LIMIT 1`
	var year models.EducationYear
	if err := r.db.GetContext(ctx, &year, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active education year: %w", err)
	}
	return &year, nil
}
