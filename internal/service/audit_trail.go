package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
)

type internshipHistoryStore interface {
	Append(ctx context.Context, q sqlx.ExtContext, record *models.InternshipHistoryRecord) error
	ListByInternship(ctx context.Context, internshipID string, limit int) ([]models.InternshipHistoryRecord, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.InternshipHistoryRecord, error)
}

// AuditEntry describes one lifecycle transition to be appended.
type AuditEntry struct {
	InternshipID string
	Action       models.HistoryAction
	Previous     *models.InternshipSnapshot
	Next         models.InternshipSnapshot
	Actor        models.Actor
	At           time.Time
	Reason       *string
	Notes        *string
}

// AuditTrail is the append-only recorder of internship lifecycle transitions.
type AuditTrail struct {
	store       internshipHistoryStore
	systemActor models.Actor
	pageLimit   int
	logger      *zap.Logger
}

// NewAuditTrail constructs the recorder.
func NewAuditTrail(store internshipHistoryStore, systemActor models.Actor, pageLimit int, logger *zap.Logger) *AuditTrail {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageLimit <= 0 {
		pageLimit = 50
	}
	return &AuditTrail{store: store, systemActor: systemActor, pageLimit: pageLimit, logger: logger}
}

// AppendTx records a transition inside the caller's transaction. The snapshots must only carry
// fields the action may record.
func (a *AuditTrail) AppendTx(ctx context.Context, q sqlx.ExtContext, entry AuditEntry) (*models.InternshipHistoryRecord, error) {
	if !entry.Action.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown history action "+string(entry.Action))
	}
	if entry.InternshipID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "internship id is required")
	}
	if err := entry.Next.ValidateFor(entry.Action); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid new snapshot")
	}
	if entry.Previous != nil {
		if err := entry.Previous.ValidateFor(entry.Action); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid previous snapshot")
		}
	}
	actor := entry.Actor
	if actor.ID == "" {
		actor = a.systemActor
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	record := &models.InternshipHistoryRecord{
		InternshipID: entry.InternshipID,
		Action:       entry.Action,
		PreviousData: entry.Previous,
		NewData:      entry.Next,
		PerformedBy:  actor.ID,
		PerformedAt:  at,
		Reason:       entry.Reason,
		Notes:        entry.Notes,
	}
	if err := a.store.Append(ctx, q, record); err != nil {
		return nil, translateStoreError(err, "")
	}
	return record, nil
}

// Read returns a placement's records, newest first.
func (a *AuditTrail) Read(ctx context.Context, internshipID string, limit int) ([]models.InternshipHistoryRecord, error) {
	if limit <= 0 || limit > a.pageLimit {
		limit = a.pageLimit
	}
	records, err := a.store.ListByInternship(ctx, internshipID, limit)
	if err != nil {
		return nil, translateStoreError(err, "")
	}
	if records == nil {
		records = []models.InternshipHistoryRecord{}
	}
	return records, nil
}

// ReadForStudent merges the records of all the student's placements chronologically.
func (a *AuditTrail) ReadForStudent(ctx context.Context, studentID string) ([]models.InternshipHistoryRecord, error) {
	records, err := a.store.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, translateStoreError(err, "")
	}
	if records == nil {
		records = []models.InternshipHistoryRecord{}
	}
	return records, nil
}
