package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-pkl-api/internal/models"
)

const historySelect = `SELECT h.seq, h.id, h.internship_id, i.student_id, h.action, h.previous_data, h.new_data,
       h.performed_by, h.performed_at, h.reason, h.notes
FROM internship_history h
JOIN internships i ON i.id = h.internship_id`

// InternshipHistoryRepository is the append-only store of lifecycle records. It has no update or delete.
type InternshipHistoryRepository struct {
	db *sqlx.DB
}

// NewInternshipHistoryRepository constructs the repository.
func NewInternshipHistoryRepository(db *sqlx.DB) *InternshipHistoryRepository {
	return &InternshipHistoryRepository{db: db}
}

// Append inserts one record inside the caller's transaction.
func (r *InternshipHistoryRepository) Append(ctx context.Context, q sqlx.ExtContext, record *models.InternshipHistoryRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.PerformedAt.IsZero() {
		record.PerformedAt = time.Now().UTC()
	}
	const query = `INSERT INTO internship_history
	(id, internship_id, action, previous_data, new_data, performed_by, performed_at, reason, notes)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING seq`
	if err := sqlx.GetContext(ctx, q, &record.Seq, query,
		record.ID,
		record.InternshipID,
		record.Action,
		record.PreviousData,
		record.NewData,
		record.PerformedBy,
		record.PerformedAt,
		record.Reason,
		record.Notes,
	); err != nil {
		return fmt.Errorf("append internship history: %w", err)
	}
	return nil
}

// ListByInternship returns the placement's records, newest first.
func (r *InternshipHistoryRepository) ListByInternship(ctx context.Context, internshipID string, limit int) ([]models.InternshipHistoryRecord, error) {
	query := fmt.Sprintf("%s WHERE h.internship_id = $1 ORDER BY h.performed_at DESC, h.seq DESC LIMIT %d", historySelect, limit)
	var records []models.InternshipHistoryRecord
	if err := r.db.SelectContext(ctx, &records, query, internshipID); err != nil {
		return nil, fmt.Errorf("list internship history: %w", err)
	}
	return records, nil
}

// ListByStudent merges the records of all the student's placements in chronological order.
func (r *InternshipHistoryRepository) ListByStudent(ctx context.Context, studentID string) ([]models.InternshipHistoryRecord, error) {
	query := historySelect + " WHERE i.student_id = $1 ORDER BY h.performed_at ASC, h.seq ASC"
	var records []models.InternshipHistoryRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list student internship history: %w", err)
	}
	return records, nil
}
