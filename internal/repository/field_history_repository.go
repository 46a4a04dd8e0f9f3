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

const fieldHistoryColumns = `id, entity_id, field_name, previous_value, new_value, valid_from, valid_to, changed_by, reason, notes`

// FieldHistoryRepository persists per-entity-type field validity intervals.
type FieldHistoryRepository struct {
	db *sqlx.DB
}

// NewFieldHistoryRepository constructs the repository.
func NewFieldHistoryRepository(db *sqlx.DB) *FieldHistoryRepository {
	return &FieldHistoryRepository{db: db}
}

func historyTable(et models.EntityType) (string, error) {
	if !et.Valid() {
		return "", fmt.Errorf("unknown entity type %q", et)
	}
	return et.HistoryTable(), nil
}

// FindOpen returns the current record for the field, or nil when the field has never been recorded.
func (r *FieldHistoryRepository) FindOpen(ctx context.Context, q sqlx.ExtContext, et models.EntityType, entityID, field string) (*models.TemporalFieldRecord, error) {
	table, err := historyTable(et)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE entity_id = $1 AND field_name = $2 AND valid_to IS NULL`, fieldHistoryColumns, table)
	var record models.TemporalFieldRecord
	if err := sqlx.GetContext(ctx, q, &record, query, entityID, field); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open %s.%s: %w", table, field, err)
	}
	return &record, nil
}

// Close ends the open record identified by recordID. It fails with ErrStaleWrite when the
// record was already closed by someone else.
func (r *FieldHistoryRepository) Close(ctx context.Context, q sqlx.ExtContext, et models.EntityType, recordID string, at time.Time) error {
	table, err := historyTable(et)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET valid_to = $1 WHERE id = $2 AND valid_to IS NULL`, table)
	result, err := q.ExecContext(ctx, query, at, recordID)
	if err != nil {
		return fmt.Errorf("close %s record: %w", table, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s close rows: %w", table, err)
	}
	if rows != 1 {
		return ErrStaleWrite
	}
	return nil
}

// Insert appends a new open record. A concurrent open record for the same field surfaces as ErrStaleWrite.
func (r *FieldHistoryRepository) Insert(ctx context.Context, q sqlx.ExtContext, et models.EntityType, record *models.TemporalFieldRecord) error {
	table, err := historyTable(et)
	if err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, table, fieldHistoryColumns)
	if _, err := q.ExecContext(ctx, query,
		record.ID,
		record.EntityID,
		record.FieldName,
		record.PreviousValue,
		record.NewValue,
		record.ValidFrom,
		record.ValidTo,
		record.ChangedBy,
		record.Reason,
		record.Notes,
	); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrStaleWrite
		}
		return fmt.Errorf("insert %s record: %w", table, err)
	}
	return nil
}

// AsOf returns the record whose [valid_from, valid_to) interval contains at.
func (r *FieldHistoryRepository) AsOf(ctx context.Context, et models.EntityType, entityID, field string, at time.Time) (*models.TemporalFieldRecord, error) {
	table, err := historyTable(et)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE entity_id = $1 AND field_name = $2 AND valid_from <= $3 AND (valid_to IS NULL OR valid_to > $3)
ORDER BY valid_from DESC LIMIT 1`, fieldHistoryColumns, table)
	var record models.TemporalFieldRecord
	if err := r.db.GetContext(ctx, &record, query, entityID, field, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("value as of %s.%s: %w", table, field, err)
	}
	return &record, nil
}

// History lists the intervals of a field, most recent first.
func (r *FieldHistoryRepository) History(ctx context.Context, et models.EntityType, entityID, field string, limit int) ([]models.TemporalFieldRecord, error) {
	table, err := historyTable(et)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE entity_id = $1 AND field_name = $2 ORDER BY valid_from DESC, valid_to DESC NULLS FIRST LIMIT %d`,
		fieldHistoryColumns, table, limit)
	var records []models.TemporalFieldRecord
	if err := r.db.SelectContext(ctx, &records, query, entityID, field); err != nil {
		return nil, fmt.Errorf("list %s history: %w", table, err)
	}
	return records, nil
}

// SnapshotAsOf returns, for every tracked field of the entity, the record valid at the instant.
func (r *FieldHistoryRepository) SnapshotAsOf(ctx context.Context, et models.EntityType, entityID string, at time.Time) ([]models.TemporalFieldRecord, error) {
	table, err := historyTable(et)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE entity_id = $1 AND valid_from <= $2 AND (valid_to IS NULL OR valid_to > $2)
ORDER BY field_name ASC`, fieldHistoryColumns, table)
	var records []models.TemporalFieldRecord
	if err := r.db.SelectContext(ctx, &records, query, entityID, at); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", table, err)
	}
	return records, nil
}

// ListForEntity returns every recorded change of the entity in chronological order.
func (r *FieldHistoryRepository) ListForEntity(ctx context.Context, et models.EntityType, entityID string) ([]models.TemporalFieldRecord, error) {
	table, err := historyTable(et)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE entity_id = $1 ORDER BY valid_from ASC, field_name ASC`, fieldHistoryColumns, table)
	var records []models.TemporalFieldRecord
	if err := r.db.SelectContext(ctx, &records, query, entityID); err != nil {
		return nil, fmt.Errorf("list %s changes: %w", table, err)
	}
	return records, nil
}

// ListOpenByField returns the open record of a field for every entity that has one.
func (r *FieldHistoryRepository) ListOpenByField(ctx context.Context, et models.EntityType, field string) ([]models.TemporalFieldRecord, error) {
	table, err := historyTable(et)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE field_name = $1 AND valid_to IS NULL ORDER BY entity_id ASC`, fieldHistoryColumns, table)
	var records []models.TemporalFieldRecord
	if err := r.db.SelectContext(ctx, &records, query, field); err != nil {
		return nil, fmt.Errorf("list open %s.%s: %w", table, field, err)
	}
	return records, nil
}
