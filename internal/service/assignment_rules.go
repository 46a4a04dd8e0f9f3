package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/internal/repository"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
)

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type teacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type companyReader interface {
	FindByID(ctx context.Context, id string) (*models.Company, error)
}

type placementCounter interface {
	ActiveTeachersByCompany(ctx context.Context, q sqlx.ExtContext, companyID, excludeID string) ([]repository.TeacherPlacementCount, error)
}

// RuleInput is the student/company/teacher triple under evaluation. ExcludeInternshipID leaves
// the placement being changed out of the company's coordinator count.
type RuleInput struct {
	StudentID           string
	CompanyID           string
	TeacherID           *string
	ExcludeInternshipID string
}

// AssignmentRuleEngine grades a prospective placement assignment. It never writes.
type AssignmentRuleEngine struct {
	students   studentReader
	teachers   teacherReader
	companies  companyReader
	placements placementCounter
	strict     bool
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewAssignmentRuleEngine constructs the engine. strictFieldMatch escalates subject-area
// mismatches from WARNING to ERROR.
func NewAssignmentRuleEngine(students studentReader, teachers teacherReader, companies companyReader, placements placementCounter, strictFieldMatch bool, metrics *MetricsService, logger *zap.Logger) *AssignmentRuleEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentRuleEngine{
		students:   students,
		teachers:   teachers,
		companies:  companies,
		placements: placements,
		strict:     strictFieldMatch,
		metrics:    metrics,
		logger:     logger,
	}
}

// Evaluate returns the findings for the triple. A missing student, company or teacher is a NotFound error.
func (e *AssignmentRuleEngine) Evaluate(ctx context.Context, in RuleInput) (models.RuleFindings, error) {
	student, err := e.students.FindByID(ctx, in.StudentID)
	if err != nil {
		return nil, translateStoreError(err, "student not found")
	}
	company, err := e.companies.FindByID(ctx, in.CompanyID)
	if err != nil {
		return nil, translateStoreError(err, "company not found")
	}
	var teacher *models.Teacher
	if in.TeacherID != nil && *in.TeacherID != "" {
		teacher, err = e.teachers.FindByID(ctx, *in.TeacherID)
		if err != nil {
			return nil, translateStoreError(err, "teacher not found")
		}
	}

	findings := models.RuleFindings{}
	coordinator, err := e.coordinatorConsistency(ctx, company, teacher, in.ExcludeInternshipID)
	if err != nil {
		return nil, err
	}
	findings = append(findings, coordinator...)
	findings = append(findings, e.fieldMatch(student, teacher)...)

	if e.metrics != nil {
		e.metrics.RecordRuleFindings(findings)
	}
	e.logger.Debug("assignment evaluated",
		zap.String("student_id", in.StudentID),
		zap.String("company_id", in.CompanyID),
		zap.Int("findings", len(findings)),
	)
	return findings, nil
}

func (e *AssignmentRuleEngine) coordinatorConsistency(ctx context.Context, company *models.Company, teacher *models.Teacher, excludeID string) (models.RuleFindings, error) {
	counts, err := e.placements.ActiveTeachersByCompany(ctx, nil, company.ID, excludeID)
	if err != nil {
		return nil, translateStoreError(err, "")
	}

	var findings models.RuleFindings
	if len(counts) == 0 {
		if teacher == nil {
			findings = append(findings, models.RuleFinding{
				Type:     models.RuleCoordinatorConsistency,
				Severity: models.SeverityInfo,
				Message:  fmt.Sprintf("%s has no coordinating teacher yet and none was proposed", company.Name),
			})
		}
		return findings, nil
	}

	existing := dominantCoordinator(company, counts)
	if teacher == nil || teacher.ID != existing {
		suggestion := "assign teacher " + existing + " to keep a single coordinator at " + company.Name
		id := existing
		message := fmt.Sprintf("%s already has active placements coordinated by teacher %s", company.Name, existing)
		if teacher != nil {
			message = fmt.Sprintf("%s differs from the coordinator (%s) of the company's active placements", teacher.FullName, existing)
		}
		findings = append(findings, models.RuleFinding{
			Type:              models.RuleCoordinatorConsistency,
			Severity:          models.SeverityWarning,
			Message:           message,
			SuggestedAction:   &suggestion,
			ExistingTeacherID: &id,
		})
	}
	if len(counts) > 1 {
		findings = append(findings, models.RuleFinding{
			Type:     models.RuleCoordinatorConsistency,
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("%s already has %d different coordinating teachers", company.Name, len(counts)),
		})
	}
	return findings, nil
}

// dominantCoordinator prefers the company's recorded coordinator when it still coordinates an
// active placement, otherwise the teacher with the most active placements.
func dominantCoordinator(company *models.Company, counts []repository.TeacherPlacementCount) string {
	if company.TeacherID != nil {
		for _, c := range counts {
			if c.TeacherID == *company.TeacherID {
				return c.TeacherID
			}
		}
	}
	return counts[0].TeacherID
}

func (e *AssignmentRuleEngine) fieldMatch(student *models.Student, teacher *models.Teacher) models.RuleFindings {
	if teacher == nil {
		return nil
	}
	studentArea := normaliseArea(student.SubjectArea)
	teacherArea := normaliseArea(teacher.SubjectArea)
	if studentArea == "" || teacherArea == "" {
		return models.RuleFindings{{
			Type:     models.RuleFieldMatch,
			Severity: models.SeverityInfo,
			Message:  "subject area unknown for student or teacher; field match not checked",
		}}
	}
	if studentArea == teacherArea {
		return nil
	}
	severity := models.SeverityWarning
	if e.strict {
		severity = models.SeverityError
	}
	return models.RuleFindings{{
		Type:     models.RuleFieldMatch,
		Severity: severity,
		Message:  fmt.Sprintf("teacher subject area %q differs from student subject area %q", *teacher.SubjectArea, *student.SubjectArea),
	}}
}

func normaliseArea(area *string) string {
	if area == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*area))
}

// gateFindings applies the severity policy: ERROR blocks, WARNING needs confirmation.
func gateFindings(findings models.RuleFindings, confirmed bool) error {
	if findings.HasErrors() {
		return appErrors.WithDetails(appErrors.ErrRuleViolation, "", findings)
	}
	if findings.HasWarnings() && !confirmed {
		return appErrors.WithDetails(appErrors.ErrConfirmationRequired, "", findings)
	}
	return nil
}
