package dto

import (
	"time"

	"github.com/noah-isme/sma-pkl-api/internal/models"
)

// RecordFieldChangeRequest changes one tracked field of an entity. A nil value clears the field.
type RecordFieldChangeRequest struct {
	FieldName string     `json:"fieldName" validate:"required"`
	NewValue  *string    `json:"newValue"`
	ChangedAt *time.Time `json:"changedAt"`
	Reason    *string    `json:"reason" validate:"omitempty,max=500"`
	Notes     *string    `json:"notes" validate:"omitempty,max=2000"`
}

// FieldChange is the service-level form of a field change.
type FieldChange struct {
	EntityType models.EntityType
	EntityID   string
	FieldName  string
	NewValue   *string
	At         time.Time
	Reason     *string
	Notes      *string
}

// FieldChangeResult reports the record written, or the unchanged open record for a no-op.
type FieldChangeResult struct {
	Record  *models.TemporalFieldRecord `json:"record,omitempty"`
	Changed bool                        `json:"changed"`
}
