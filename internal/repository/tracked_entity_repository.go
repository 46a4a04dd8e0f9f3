package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/pkg/database"
)

// TrackedEntityRepository writes the materialized current value of tracked fields onto entity rows.
type TrackedEntityRepository struct {
	db *sqlx.DB
}

// NewTrackedEntityRepository constructs the repository.
func NewTrackedEntityRepository(db *sqlx.DB) *TrackedEntityRepository {
	return &TrackedEntityRepository{db: db}
}

// SetColumn stores value into the entity column backing field; ErrEntityMissing when no row matched.
// Constraint failures surface as ErrReferenceMissing or ErrValueRequired.
func (r *TrackedEntityRepository) SetColumn(ctx context.Context, q sqlx.ExtContext, et models.EntityType, entityID, field string, value *string, at time.Time) error {
	kind, ok := et.FieldKind(field)
	if !ok {
		return fmt.Errorf("field %s is not tracked for %s", field, et)
	}
	cast := ""
	switch kind {
	case models.ColumnInt:
		cast = "::integer"
	case models.ColumnBool:
		cast = "::boolean"
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = $1%s, updated_at = $2 WHERE id = $3`, et.EntityTable(), field, cast)
	result, err := q.ExecContext(ctx, query, value, at, entityID)
	switch {
	case database.IsForeignKeyViolation(err):
		return fmt.Errorf("%s: %w", field, ErrReferenceMissing)
	case database.IsNotNullViolation(err):
		return fmt.Errorf("%s: %w", field, ErrValueRequired)
	case err != nil:
		return fmt.Errorf("update %s.%s: %w", et.EntityTable(), field, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s update rows: %w", et.EntityTable(), err)
	}
	if rows == 0 {
		return ErrEntityMissing
	}
	return nil
}

// CurrentValue reads the materialized column as text. sql.ErrNoRows means the entity does not exist.
func (r *TrackedEntityRepository) CurrentValue(ctx context.Context, q sqlx.ExtContext, et models.EntityType, entityID, field string) (*string, error) {
	if _, ok := et.FieldKind(field); !ok {
		return nil, fmt.Errorf("field %s is not tracked for %s", field, et)
	}
	query := fmt.Sprintf(`SELECT %s::text FROM %s WHERE id = $1`, field, et.EntityTable())
	if q == nil {
		q = r.db
	}
	var value *string
	if err := sqlx.GetContext(ctx, q, &value, query, entityID); err != nil {
		return nil, err
	}
	return value, nil
}
