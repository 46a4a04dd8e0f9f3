package dto

import (
	"time"

	"github.com/noah-isme/sma-pkl-api/internal/models"
)

// PromoteStudentRequest moves a student into a class for the active education year.
type PromoteStudentRequest struct {
	EducationYearID string           `json:"educationYearId" validate:"required"`
	ClassID         *string          `json:"classId"`
	ClassName       string           `json:"className" validate:"required,max=50"`
	Grade           int              `json:"grade" validate:"required,min=1,max=13"`
	GradeType       models.GradeType `json:"gradeType" validate:"required,oneof=NORMAL MESEM"`
	PromotedAt      *time.Time       `json:"promotedAt"`
}

// ChangeEnrollmentStatusRequest records graduation, transfer, dropout or suspension.
type ChangeEnrollmentStatusRequest struct {
	Status    models.EnrollmentStatus `json:"status" validate:"required,oneof=ACTIVE GRADUATED TRANSFERRED DROPPED_OUT SUSPENDED"`
	ChangedAt *time.Time              `json:"changedAt"`
}

// PromotionResult reports the enrollment in force after the call and whether anything changed.
type PromotionResult struct {
	Enrollment *models.Enrollment `json:"enrollment"`
	Previous   *models.Enrollment `json:"previous,omitempty"`
	Changed    bool               `json:"changed"`
}
