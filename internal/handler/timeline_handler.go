package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
	"github.com/noah-isme/sma-pkl-api/pkg/export"
	"github.com/noah-isme/sma-pkl-api/pkg/response"
)

type timelineService interface {
	StudentTimeline(ctx context.Context, studentID string, includeFields bool) ([]models.TimelineEntry, error)
	Export(ctx context.Context, studentID string, format export.Format) ([]byte, error)
}

// TimelineHandler serves the merged placement and field-change history of a student.
type TimelineHandler struct {
	timeline timelineService
}

// NewTimelineHandler constructs TimelineHandler.
func NewTimelineHandler(timeline timelineService) *TimelineHandler {
	return &TimelineHandler{timeline: timeline}
}

// Timeline godoc
// @Summary Chronological student timeline
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param includeFields query bool false "Merge field history entries"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/timeline [get]
func (h *TimelineHandler) Timeline(c *gin.Context) {
	includeFields, _ := strconv.ParseBool(c.DefaultQuery("includeFields", "true"))
	entries, err := h.timeline.StudentTimeline(c.Request.Context(), c.Param("id"), includeFields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Export godoc
// @Summary Download the student timeline
// @Tags Students
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /students/{id}/timeline/export [get]
func (h *TimelineHandler) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error()))
		return
	}
	studentID := c.Param("id")
	body, err := h.timeline.Export(c.Request.Context(), studentID, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, format.Filename("timeline-"+studentID), format.ContentType(), body)
}
