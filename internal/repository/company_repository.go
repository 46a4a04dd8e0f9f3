package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-pkl-api/internal/models"
)

const companyColumns = `id, name, address, contact_name, contact_phone, subject_area, quota, teacher_id, active, created_at, updated_at`

// CompanyRepository reads host company rows.
type CompanyRepository struct {
	db *sqlx.DB
}

// NewCompanyRepository constructs the repository.
func NewCompanyRepository(db *sqlx.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// FindByID returns a company by ID.
func (r *CompanyRepository) FindByID(ctx context.Context, id string) (*models.Company, error) {
	var company models.Company
	query := fmt.Sprintf("SELECT %s FROM companies WHERE id = $1", companyColumns)
	if err := r.db.GetContext(ctx, &company, query, id); err != nil {
		return nil, err
	}
	return &company, nil
}

// LockByID reads the company inside a transaction and locks it, serialising coordinator cascades per company.
func (r *CompanyRepository) LockByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Company, error) {
	var company models.Company
	query := fmt.Sprintf("SELECT %s FROM companies WHERE id = $1 FOR UPDATE", companyColumns)
	if err := sqlx.GetContext(ctx, q, &company, query, id); err != nil {
		return nil, err
	}
	return &company, nil
}

// ListCoordinatorPointers returns id → materialized coordinator for every company.
func (r *CompanyRepository) ListCoordinatorPointers(ctx context.Context) (map[string]*string, error) {
	rows := []struct {
		ID        string  `db:"id"`
		TeacherID *string `db:"teacher_id"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, teacher_id FROM companies ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("list company coordinators: %w", err)
	}
	pointers := make(map[string]*string, len(rows))
	for _, row := range rows {
		pointers[row.ID] = row.TeacherID
	}
	return pointers, nil
}
