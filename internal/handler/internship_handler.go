package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-pkl-api/internal/dto"
	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/pkg/response"
)

type internshipService interface {
	Get(ctx context.Context, id string) (*models.Internship, error)
	ListForStudent(ctx context.Context, studentID string) ([]models.Internship, error)
	History(ctx context.Context, id string, limit int) ([]models.InternshipHistoryRecord, error)
	Evaluate(ctx context.Context, req dto.EvaluateAssignmentRequest) (*dto.EvaluateAssignmentResponse, error)
	Create(ctx context.Context, req dto.CreateInternshipRequest, actor *models.Actor) (*dto.TransitionResult, error)
	ChangeTeacher(ctx context.Context, id string, req dto.ChangeTeacherRequest, actor *models.Actor) (*dto.TransitionResult, error)
	ChangeCompany(ctx context.Context, id string, req dto.ChangeCompanyRequest, actor *models.Actor) (*dto.TransitionResult, error)
	Update(ctx context.Context, id string, req dto.UpdateInternshipRequest, actor *models.Actor) (*dto.TransitionResult, error)
	Terminate(ctx context.Context, id string, req dto.TerminateInternshipRequest, actor *models.Actor) (*dto.TransitionResult, error)
	Complete(ctx context.Context, id string, req dto.CompleteInternshipRequest, actor *models.Actor) (*dto.TransitionResult, error)
	Reactivate(ctx context.Context, id string, req dto.ReactivateInternshipRequest, actor *models.Actor) (*dto.TransitionResult, error)
}

// InternshipHandler exposes the placement lifecycle.
type InternshipHandler struct {
	internships internshipService
}

// NewInternshipHandler constructs InternshipHandler.
func NewInternshipHandler(internships internshipService) *InternshipHandler {
	return &InternshipHandler{internships: internships}
}

// Create godoc
// @Summary Open an internship placement
// @Tags Internships
// @Accept json
// @Produce json
// @Param payload body dto.CreateInternshipRequest true "Placement payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /internships [post]
func (h *InternshipHandler) Create(c *gin.Context) {
	var req dto.CreateInternshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.internships.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Get godoc
// @Summary Get an internship placement
// @Tags Internships
// @Produce json
// @Param id path string true "Internship ID"
// @Success 200 {object} response.Envelope
// @Router /internships/{id} [get]
func (h *InternshipHandler) Get(c *gin.Context) {
	internship, err := h.internships.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, internship, nil)
}

// Evaluate godoc
// @Summary Evaluate assignment rules without writing
// @Tags Internships
// @Accept json
// @Produce json
// @Param payload body dto.EvaluateAssignmentRequest true "Prospective assignment"
// @Success 200 {object} response.Envelope
// @Router /internships/evaluate [post]
func (h *InternshipHandler) Evaluate(c *gin.Context) {
	var req dto.EvaluateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.internships.Evaluate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ChangeTeacher godoc
// @Summary Assign or replace the coordinating teacher
// @Tags Internships
// @Accept json
// @Produce json
// @Param id path string true "Internship ID"
// @Param payload body dto.ChangeTeacherRequest true "Teacher change"
// @Success 200 {object} response.Envelope
// @Router /internships/{id}/teacher [post]
func (h *InternshipHandler) ChangeTeacher(c *gin.Context) {
	var req dto.ChangeTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.internships.ChangeTeacher(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ChangeCompany godoc
// @Summary Move the placement to another company
// @Tags Internships
// @Accept json
// @Produce json
// @Param id path string true "Internship ID"
// @Param payload body dto.ChangeCompanyRequest true "Company change"
// @Success 200 {object} response.Envelope
// @Router /internships/{id}/company [post]
func (h *InternshipHandler) ChangeCompany(c *gin.Context) {
	var req dto.ChangeCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.internships.ChangeCompany(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Update godoc
// @Summary Correct placement dates or education year
// @Tags Internships
// @Accept json
// @Produce json
// @Param id path string true "Internship ID"
// @Param payload body dto.UpdateInternshipRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Router /internships/{id} [patch]
func (h *InternshipHandler) Update(c *gin.Context) {
	var req dto.UpdateInternshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.internships.Update(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Terminate godoc
// @Summary Terminate an active placement
// @Tags Internships
// @Accept json
// @Produce json
// @Param id path string true "Internship ID"
// @Param payload body dto.TerminateInternshipRequest true "Termination payload"
// @Success 200 {object} response.Envelope
// @Router /internships/{id}/terminate [post]
func (h *InternshipHandler) Terminate(c *gin.Context) {
	var req dto.TerminateInternshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.internships.Terminate(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Complete godoc
// @Summary Complete an active placement
// @Tags Internships
// @Accept json
// @Produce json
// @Param id path string true "Internship ID"
// @Param payload body dto.CompleteInternshipRequest false "Completion payload"
// @Success 200 {object} response.Envelope
// @Router /internships/{id}/complete [post]
func (h *InternshipHandler) Complete(c *gin.Context) {
	var req dto.CompleteInternshipRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err))
			return
		}
	}
	result, err := h.internships.Complete(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Reactivate godoc
// @Summary Reactivate a terminated placement
// @Tags Internships
// @Accept json
// @Produce json
// @Param id path string true "Internship ID"
// @Param payload body dto.ReactivateInternshipRequest true "Reactivation payload"
// @Success 200 {object} response.Envelope
// @Router /internships/{id}/reactivate [post]
func (h *InternshipHandler) Reactivate(c *gin.Context) {
	var req dto.ReactivateInternshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.internships.Reactivate(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// History godoc
// @Summary List the audit records of a placement
// @Tags Internships
// @Produce json
// @Param id path string true "Internship ID"
// @Param limit query int false "Maximum records"
// @Success 200 {object} response.Envelope
// @Router /internships/{id}/history [get]
func (h *InternshipHandler) History(c *gin.Context) {
	records, err := h.internships.History(c.Request.Context(), c.Param("id"), limitQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// ListForStudent godoc
// @Summary List a student's placements
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/internships [get]
func (h *InternshipHandler) ListForStudent(c *gin.Context) {
	internships, err := h.internships.ListForStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, internships, nil)
}
