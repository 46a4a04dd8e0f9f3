package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-pkl-api/internal/models"
	"github.com/noah-isme/sma-pkl-api/internal/repository"
	"github.com/noah-isme/sma-pkl-api/pkg/database"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
)

// Transactor runs a unit of work atomically.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(q sqlx.ExtContext) error) error
}

type conflictRecorder interface {
	RecordConflict(store string)
}

// translateStoreError maps persistence sentinels onto the domain taxonomy.
func translateStoreError(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrStaleWrite), database.IsTransient(err):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, appErrors.ErrConflict.Message)
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, repository.ErrEntityMissing):
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	case errors.Is(err, repository.ErrReferenceMissing):
		return appErrors.Clone(appErrors.ErrNotFound, err.Error())
	case errors.Is(err, repository.ErrValueRequired):
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
}

// withConflictRetry reruns fn while it fails with a conflict, up to retries extra attempts.
// fn must re-read state on every attempt.
func withConflictRetry(ctx context.Context, retries int, store string, logger *zap.Logger, metrics conflictRecorder, fn func() error) error {
	if retries < 0 {
		retries = 0
	}
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = fn()
		if err == nil || !appErrors.IsConflict(err) {
			return err
		}
		if metrics != nil {
			metrics.RecordConflict(store)
		}
		logger.Warn("concurrent write detected", zap.String("store", store), zap.Int("attempt", attempt+1), zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
	}
	return err
}

// resolveActor falls back to the reserved system identity when no caller is known.
func resolveActor(actor *models.Actor, system models.Actor) models.Actor {
	if actor == nil || actor.ID == "" {
		return system
	}
	return *actor
}
