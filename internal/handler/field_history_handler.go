package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-pkl-api/internal/dto"
	"github.com/noah-isme/sma-pkl-api/internal/models"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
	"github.com/noah-isme/sma-pkl-api/pkg/response"
)

type fieldHistoryService interface {
	RecordChange(ctx context.Context, et models.EntityType, entityID string, req dto.RecordFieldChangeRequest, actor *models.Actor) (*dto.FieldChangeResult, error)
	ValueAsOf(ctx context.Context, et models.EntityType, entityID, field string, at time.Time) (*models.TemporalFieldRecord, error)
	History(ctx context.Context, et models.EntityType, entityID, field string, limit int) ([]models.TemporalFieldRecord, error)
	SnapshotAsOf(ctx context.Context, et models.EntityType, entityID string, at time.Time) (*models.FieldSnapshot, error)
}

// FieldHistoryHandler exposes the temporal field logs of students, teachers and companies.
type FieldHistoryHandler struct {
	fields fieldHistoryService
}

// NewFieldHistoryHandler constructs FieldHistoryHandler.
func NewFieldHistoryHandler(fields fieldHistoryService) *FieldHistoryHandler {
	return &FieldHistoryHandler{fields: fields}
}

func entityTypeParam(c *gin.Context) (models.EntityType, error) {
	et, ok := models.ParseEntityType(c.Param("entityType"))
	if !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown entity type")
	}
	return et, nil
}

// RecordChange godoc
// @Summary Record a change to a tracked field
// @Tags FieldHistory
// @Accept json
// @Produce json
// @Param entityType path string true "STUDENT, TEACHER or COMPANY"
// @Param entityId path string true "Entity ID"
// @Param payload body dto.RecordFieldChangeRequest true "Field change"
// @Success 200 {object} response.Envelope
// @Router /history/{entityType}/{entityId} [post]
func (h *FieldHistoryHandler) RecordChange(c *gin.Context) {
	et, err := entityTypeParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.RecordFieldChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.fields.RecordChange(c.Request.Context(), et, c.Param("entityId"), req, actorFromContext(c))
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

// History godoc
// @Summary List the intervals of one field, newest first
// @Tags FieldHistory
// @Produce json
// @Param entityType path string true "STUDENT, TEACHER or COMPANY"
// @Param entityId path string true "Entity ID"
// @Param field path string true "Field name"
// @Param limit query int false "Maximum records"
// @Success 200 {object} response.Envelope
// @Router /history/{entityType}/{entityId}/{field} [get]
func (h *FieldHistoryHandler) History(c *gin.Context) {
	et, err := entityTypeParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	records, err := h.fields.History(c.Request.Context(), et, c.Param("entityId"), c.Param("field"), limitQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// ValueAsOf godoc
// @Summary Field value in force at an instant
// @Tags FieldHistory
// @Produce json
// @Param entityType path string true "STUDENT, TEACHER or COMPANY"
// @Param entityId path string true "Entity ID"
// @Param field path string true "Field name"
// @Param at query string false "RFC3339 instant, defaults to now"
// @Success 200 {object} response.Envelope
// @Router /history/{entityType}/{entityId}/{field}/as-of [get]
func (h *FieldHistoryHandler) ValueAsOf(c *gin.Context) {
	et, err := entityTypeParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	at, err := instantQuery(c, "at")
	if err != nil {
		response.Error(c, err)
		return
	}
	record, err := h.fields.ValueAsOf(c.Request.Context(), et, c.Param("entityId"), c.Param("field"), at)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Snapshot godoc
// @Summary All tracked fields of an entity at an instant
// @Tags FieldHistory
// @Produce json
// @Param entityType path string true "STUDENT, TEACHER or COMPANY"
// @Param entityId path string true "Entity ID"
// @Param at query string false "RFC3339 instant, defaults to now"
// @Success 200 {object} response.Envelope
// @Router /history/{entityType}/{entityId}/snapshot [get]
func (h *FieldHistoryHandler) Snapshot(c *gin.Context) {
	et, err := entityTypeParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	at, err := instantQuery(c, "at")
	if err != nil {
		response.Error(c, err)
		return
	}
	snapshot, err := h.fields.SnapshotAsOf(c.Request.Context(), et, c.Param("entityId"), at)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}
