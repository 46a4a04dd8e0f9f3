package models

import "time"

// Student represents a learner who can be placed at a host company.
// TeacherID and CompanyID are materialized pointers to the current placement.
type Student struct {
	ID          string    `db:"id" json:"id"`
	NIS         string    `db:"nis" json:"nis"`
	FullName    string    `db:"full_name" json:"full_name"`
	Phone       *string   `db:"phone" json:"phone,omitempty"`
	Address     *string   `db:"address" json:"address,omitempty"`
	SubjectArea *string   `db:"subject_area" json:"subject_area,omitempty"`
	ClassName   *string   `db:"class_name" json:"class_name,omitempty"`
	Grade       *int      `db:"grade" json:"grade,omitempty"`
	TeacherID   *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	CompanyID   *string   `db:"company_id" json:"company_id,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
