package models

import (
	"sort"
	"time"
)

// EntityType names an entity whose fields are versioned in a field history log.
type EntityType string

const (
	EntityStudent EntityType = "STUDENT"
	EntityTeacher EntityType = "TEACHER"
	EntityCompany EntityType = "COMPANY"
)

// Tracked field names shared across entity types.
const (
	FieldTeacherID   = "teacher_id"
	FieldCompanyID   = "company_id"
	FieldClassName   = "class_name"
	FieldGrade       = "grade"
	FieldSubjectArea = "subject_area"
	FieldPhone       = "phone"
	FieldAddress     = "address"
	FieldEmail       = "email"
	FieldName        = "name"
	FieldFullName    = "full_name"
	FieldActive      = "active"
	FieldContactName = "contact_name"
	FieldQuota       = "quota"
)

// ColumnKind describes how a stored text value maps onto the entity column.
type ColumnKind string

const (
	ColumnText ColumnKind = "text"
	ColumnInt  ColumnKind = "int"
	ColumnBool ColumnKind = "bool"
)

type entityMeta struct {
	entityTable  string
	historyTable string
	fields       map[string]ColumnKind
	required     []string
}

var entityCatalogue = map[EntityType]entityMeta{
	EntityStudent: {
		entityTable:  "students",
		historyTable: "student_field_history",
		fields: map[string]ColumnKind{
			FieldFullName:    ColumnText,
			FieldPhone:       ColumnText,
			FieldAddress:     ColumnText,
			FieldSubjectArea: ColumnText,
			FieldClassName:   ColumnText,
			FieldGrade:       ColumnInt,
			FieldTeacherID:   ColumnText,
			FieldCompanyID:   ColumnText,
			FieldActive:      ColumnBool,
		},
		required: []string{FieldFullName, FieldActive},
	},
	EntityTeacher: {
		entityTable:  "teachers",
		historyTable: "teacher_field_history",
		fields: map[string]ColumnKind{
			FieldFullName:    ColumnText,
			FieldEmail:       ColumnText,
			FieldPhone:       ColumnText,
			FieldSubjectArea: ColumnText,
			FieldActive:      ColumnBool,
		},
		required: []string{FieldFullName, FieldActive},
	},
	EntityCompany: {
		entityTable:  "companies",
		historyTable: "company_field_history",
		fields: map[string]ColumnKind{
			FieldName:        ColumnText,
			FieldAddress:     ColumnText,
			FieldContactName: ColumnText,
			FieldSubjectArea: ColumnText,
			FieldQuota:       ColumnInt,
			FieldTeacherID:   ColumnText,
			FieldActive:      ColumnBool,
		},
		required: []string{FieldName, FieldActive},
	},
}

// ParseEntityType normalises user input such as "company" into an EntityType.
func ParseEntityType(raw string) (EntityType, bool) {
	et := EntityType(upper(raw))
	_, ok := entityCatalogue[et]
	return et, ok
}

// Valid reports whether the entity type has a field history log.
func (e EntityType) Valid() bool {
	_, ok := entityCatalogue[e]
	return ok
}

// EntityTable returns the table holding the materialized current values.
func (e EntityType) EntityTable() string {
	return entityCatalogue[e].entityTable
}

// HistoryTable returns the append-only log table for the entity type.
func (e EntityType) HistoryTable() string {
	return entityCatalogue[e].historyTable
}

// FieldKind returns the column kind for a tracked field.
func (e EntityType) FieldKind(field string) (ColumnKind, bool) {
	meta, ok := entityCatalogue[e]
	if !ok {
		return "", false
	}
	kind, ok := meta.fields[field]
	return kind, ok
}

// FieldRequired reports whether the backing column is NOT NULL.
func (e EntityType) FieldRequired(field string) bool {
	for _, name := range entityCatalogue[e].required {
		if name == field {
			return true
		}
	}
	return false
}

// TrackedFields lists the tracked field names in stable order.
func (e EntityType) TrackedFields() []string {
	meta := entityCatalogue[e]
	fields := make([]string, 0, len(meta.fields))
	for name := range meta.fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// TemporalFieldRecord is one validity interval of a single field value.
// ValidTo == nil marks the current record.
type TemporalFieldRecord struct {
	ID            string     `db:"id" json:"id"`
	EntityID      string     `db:"entity_id" json:"entity_id"`
	FieldName     string     `db:"field_name" json:"field_name"`
	PreviousValue *string    `db:"previous_value" json:"previous_value"`
	NewValue      *string    `db:"new_value" json:"new_value"`
	ValidFrom     time.Time  `db:"valid_from" json:"valid_from"`
	ValidTo       *time.Time `db:"valid_to" json:"valid_to"`
	ChangedBy     string     `db:"changed_by" json:"changed_by"`
	Reason        *string    `db:"reason" json:"reason,omitempty"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
}

// IsOpen reports whether the record is the current one.
func (r TemporalFieldRecord) IsOpen() bool {
	return r.ValidTo == nil
}

// Contains reports whether at falls inside [ValidFrom, ValidTo).
func (r TemporalFieldRecord) Contains(at time.Time) bool {
	if at.Before(r.ValidFrom) {
		return false
	}
	return r.ValidTo == nil || at.Before(*r.ValidTo)
}

// SameValue compares two nullable field values.
func SameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// FieldSnapshot maps tracked fields to their value at a point in time.
type FieldSnapshot struct {
	EntityType EntityType         `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	AsOf       time.Time          `json:"as_of"`
	Values     map[string]*string `json:"values"`
}
