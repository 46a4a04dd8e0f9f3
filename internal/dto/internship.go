package dto

import (
	"time"

	"github.com/noah-isme/sma-pkl-api/internal/models"
)

// CreateInternshipRequest opens a new placement. EducationYearID defaults to the active year.
type CreateInternshipRequest struct {
	StudentID       string     `json:"studentId" validate:"required"`
	CompanyID       string     `json:"companyId" validate:"required"`
	TeacherID       *string    `json:"teacherId"`
	EducationYearID *string    `json:"educationYearId"`
	StartDate       time.Time  `json:"startDate" validate:"required"`
	EndDate         *time.Time `json:"endDate"`
	ConfirmWarnings bool       `json:"confirmWarnings"`
	Notes           *string    `json:"notes" validate:"omitempty,max=2000"`
}

// ChangeTeacherRequest reassigns the coordinating teacher.
type ChangeTeacherRequest struct {
	TeacherID       string  `json:"teacherId" validate:"required"`
	ConfirmWarnings bool    `json:"confirmWarnings"`
	Reason          *string `json:"reason" validate:"omitempty,max=500"`
	Notes           *string `json:"notes" validate:"omitempty,max=2000"`
}

// ChangeCompanyRequest moves the placement to another host company, optionally with a new teacher.
type ChangeCompanyRequest struct {
	CompanyID       string  `json:"companyId" validate:"required"`
	TeacherID       *string `json:"teacherId"`
	ConfirmWarnings bool    `json:"confirmWarnings"`
	Reason          *string `json:"reason" validate:"omitempty,max=500"`
	Notes           *string `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateInternshipRequest corrects scheduling data. Omitted fields are left untouched.
type UpdateInternshipRequest struct {
	StartDate       *time.Time `json:"startDate"`
	EndDate         *time.Time `json:"endDate"`
	EducationYearID *string    `json:"educationYearId"`
	Reason          *string    `json:"reason" validate:"omitempty,max=500"`
	Notes           *string    `json:"notes" validate:"omitempty,max=2000"`
}

// TerminateInternshipRequest ends a placement early.
type TerminateInternshipRequest struct {
	Reason     string     `json:"reason" validate:"required,max=500"`
	Date       *time.Time `json:"terminationDate"`
	Notes      *string    `json:"notes" validate:"omitempty,max=2000"`
	DocumentID *string    `json:"documentId"`
}

// CompleteInternshipRequest closes a placement that ran its course.
type CompleteInternshipRequest struct {
	EndDate *time.Time `json:"endDate"`
	Notes   *string    `json:"notes" validate:"omitempty,max=2000"`
}

// ReactivateInternshipRequest reopens a terminated placement.
type ReactivateInternshipRequest struct {
	Reason          string  `json:"reason" validate:"required,max=500"`
	ConfirmWarnings bool    `json:"confirmWarnings"`
	Notes           *string `json:"notes" validate:"omitempty,max=2000"`
}

// EvaluateAssignmentRequest asks the rule engine about a prospective triple without mutating anything.
type EvaluateAssignmentRequest struct {
	StudentID    string  `json:"studentId" validate:"required"`
	CompanyID    string  `json:"companyId" validate:"required"`
	TeacherID    *string `json:"teacherId"`
	InternshipID *string `json:"internshipId"`
}

// EvaluateAssignmentResponse wraps findings with summary flags.
type EvaluateAssignmentResponse struct {
	Findings             models.RuleFindings `json:"findings"`
	Blocked              bool                `json:"blocked"`
	RequiresConfirmation bool                `json:"requiresConfirmation"`
}

// TransitionResult is returned by every lifecycle operation. History is nil for no-op requests.
type TransitionResult struct {
	Internship *models.Internship              `json:"internship"`
	History    *models.InternshipHistoryRecord `json:"history,omitempty"`
	Findings   models.RuleFindings             `json:"findings,omitempty"`
}
