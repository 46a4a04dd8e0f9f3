package models

import "time"

// Company is a host organisation. TeacherID is the materialized coordinator pointer;
// company_field_history is the source of truth for it.
type Company struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Address      *string   `db:"address" json:"address,omitempty"`
	ContactName  *string   `db:"contact_name" json:"contact_name,omitempty"`
	ContactPhone *string   `db:"contact_phone" json:"contact_phone,omitempty"`
	SubjectArea  *string   `db:"subject_area" json:"subject_area,omitempty"`
	Quota        *int      `db:"quota" json:"quota,omitempty"`
	TeacherID    *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
