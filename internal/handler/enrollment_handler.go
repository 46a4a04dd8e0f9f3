package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-pkl-api/internal/dto"
	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/pkg/response"
)

type enrollmentService interface {
	Promote(ctx context.Context, studentID string, req dto.PromoteStudentRequest, actor *models.Actor) (*dto.PromotionResult, error)
	ChangeStatus(ctx context.Context, studentID string, req dto.ChangeEnrollmentStatusRequest, actor *models.Actor) (*dto.PromotionResult, error)
	AsOf(ctx context.Context, studentID string, at time.Time) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
}

// EnrollmentHandler exposes the per-year enrollment history of a student.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List a student's enrollments
// @Tags Enrollments
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	enrollments, err := h.enrollments.ListByStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// AsOf godoc
// @Summary Enrollment in force at an instant
// @Tags Enrollments
// @Produce json
// @Param id path string true "Student ID"
// @Param at query string false "RFC3339 instant, defaults to now"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollments/as-of [get]
func (h *EnrollmentHandler) AsOf(c *gin.Context) {
	at, err := instantQuery(c, "at")
	if err != nil {
		response.Error(c, err)
		return
	}
	enrollment, err := h.enrollments.AsOf(c.Request.Context(), c.Param("id"), at)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Promote godoc
// @Summary Promote a student into a class for an education year
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.PromoteStudentRequest true "Promotion payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/promote [post]
func (h *EnrollmentHandler) Promote(c *gin.Context) {
	var req dto.PromoteStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.enrollments.Promote(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if result.Changed {
		status = http.StatusCreated
	}
	response.JSON(c, status, result, nil)
}

// ChangeStatus godoc
// @Summary Graduate, transfer, suspend or reinstate a student
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.ChangeEnrollmentStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollment-status [post]
func (h *EnrollmentHandler) ChangeStatus(c *gin.Context) {
	var req dto.ChangeEnrollmentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.enrollments.ChangeStatus(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
