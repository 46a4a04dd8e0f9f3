package models

import "time"

// GradeType distinguishes the regular track from the MESEM apprenticeship track.
type GradeType string

const (
	GradeTypeNormal GradeType = "NORMAL"
	GradeTypeMesem  GradeType = "MESEM"
)

// EnrollmentStatus represents the lifecycle of a student × education-year row.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive      EnrollmentStatus = "ACTIVE"
	EnrollmentStatusPromoted    EnrollmentStatus = "PROMOTED"
	EnrollmentStatusGraduated   EnrollmentStatus = "GRADUATED"
	EnrollmentStatusTransferred EnrollmentStatus = "TRANSFERRED"
	EnrollmentStatusDroppedOut  EnrollmentStatus = "DROPPED_OUT"
	EnrollmentStatusSuspended   EnrollmentStatus = "SUSPENDED"
)

// Closes reports whether moving into the status ends the enrollment's validity.
func (s EnrollmentStatus) Closes() bool {
	switch s {
	case EnrollmentStatusPromoted, EnrollmentStatusGraduated, EnrollmentStatusTransferred, EnrollmentStatusDroppedOut:
		return true
	}
	return false
}

// Enrollment captures a student's class and grade within one education year.
// Rows are superseded on promotion, never edited in place.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	EducationYearID string           `db:"education_year_id" json:"education_year_id"`
	ClassID         *string          `db:"class_id" json:"class_id,omitempty"`
	ClassName       string           `db:"class_name" json:"class_name"`
	Grade           int              `db:"grade" json:"grade"`
	GradeType       GradeType        `db:"grade_type" json:"grade_type"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	EnrollmentDate  time.Time        `db:"enrollment_date" json:"enrollment_date"`
	PromotionDate   *time.Time       `db:"promotion_date" json:"promotion_date,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
}

// SamePlacement reports whether the enrollment already holds the given class/grade/type.
func (e Enrollment) SamePlacement(className string, grade int, gradeType GradeType) bool {
	return e.ClassName == className && e.Grade == grade && e.GradeType == gradeType
}
