package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-pkl-api/internal/middleware"
	"github.com/noah-isme/sma-pkl-api/internal/models"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext returns the authenticated caller, or nil so services fall back to the system actor.
func actorFromContext(c *gin.Context) *models.Actor {
	actor, ok := models.ActorFromClaims(claimsFromContext(c))
	if !ok {
		return nil
	}
	return &actor
}

// instantQuery parses an RFC3339 (or YYYY-MM-DD) query parameter. Missing values default to now.
func instantQuery(c *gin.Context, key string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Now().UTC(), nil
	}
	if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return at.UTC(), nil
	}
	if at, err := time.Parse("2006-01-02", raw); err == nil {
		return at.UTC(), nil
	}
	return time.Time{}, appErrors.Clone(appErrors.ErrValidation, key+" must be an RFC3339 timestamp or a date")
}

func limitQuery(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func invalidPayload(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}
