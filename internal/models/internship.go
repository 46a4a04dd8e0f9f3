package models

import "time"

// InternshipStatus is the persisted state of a placement.
type InternshipStatus string

const (
	InternshipStatusActive     InternshipStatus = "ACTIVE"
	InternshipStatusTerminated InternshipStatus = "TERMINATED"
	InternshipStatusCompleted  InternshipStatus = "COMPLETED"
)

// Internship is a student placement at a host company coordinated by a teacher.
type Internship struct {
	ID                    string           `db:"id" json:"id"`
	StudentID             string           `db:"student_id" json:"student_id"`
	CompanyID             string           `db:"company_id" json:"company_id"`
	TeacherID             *string          `db:"teacher_id" json:"teacher_id,omitempty"`
	EducationYearID       string           `db:"education_year_id" json:"education_year_id"`
	StartDate             time.Time        `db:"start_date" json:"start_date"`
	EndDate               *time.Time       `db:"end_date" json:"end_date,omitempty"`
	Status                InternshipStatus `db:"status" json:"status"`
	TerminationDate       *time.Time       `db:"termination_date" json:"termination_date,omitempty"`
	TerminationReason     *string          `db:"termination_reason" json:"termination_reason,omitempty"`
	TerminatedBy          *string          `db:"terminated_by" json:"terminated_by,omitempty"`
	TerminationNotes      *string          `db:"termination_notes" json:"termination_notes,omitempty"`
	TerminationDocumentID *string          `db:"termination_document_id" json:"termination_document_id,omitempty"`
	Version               int              `db:"version" json:"version"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so transitions can diff before/after states.
func (i Internship) Clone() Internship {
	c := i
	c.TeacherID = cloneString(i.TeacherID)
	c.EndDate = cloneTime(i.EndDate)
	c.TerminationDate = cloneTime(i.TerminationDate)
	c.TerminationReason = cloneString(i.TerminationReason)
	c.TerminatedBy = cloneString(i.TerminatedBy)
	c.TerminationNotes = cloneString(i.TerminationNotes)
	c.TerminationDocumentID = cloneString(i.TerminationDocumentID)
	return c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
