package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "sma-pkl"})
	token, err := svc.IssueToken("admin-1", "Admin", models.RoleAdmin, time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestTokenServiceRejectsForeignTokens(t *testing.T) {
	issuer := NewTokenService(TokenConfig{Secret: "other", Issuer: "sma-pkl"})
	token, err := issuer.IssueToken("admin-1", "Admin", models.RoleAdmin, time.Minute)
	require.NoError(t, err)

	_, err = NewTokenService(TokenConfig{Secret: "secret", Issuer: "sma-pkl"}).ValidateToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	wrongIssuer := NewTokenService(TokenConfig{Secret: "secret", Issuer: "elsewhere"})
	token, err = wrongIssuer.IssueToken("admin-1", "Admin", models.RoleAdmin, time.Minute)
	require.NoError(t, err)
	_, err = NewTokenService(TokenConfig{Secret: "secret", Issuer: "sma-pkl"}).ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenServiceRejectsExpired(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret"})
	token, err := svc.IssueToken("admin-1", "Admin", models.RoleAdmin, -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}
