package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-pkl-api/internal/dto"
	"github.com/noah-isme/sma-pkl-api/internal/models"
	appErrors "github.com/noah-isme/sma-pkl-api/pkg/errors"
)

type fieldHistoryStore interface {
	FindOpen(ctx context.Context, q sqlx.ExtContext, et models.EntityType, entityID, field string) (*models.TemporalFieldRecord, error)
	Close(ctx context.Context, q sqlx.ExtContext, et models.EntityType, recordID string, at time.Time) error
	Insert(ctx context.Context, q sqlx.ExtContext, et models.EntityType, record *models.TemporalFieldRecord) error
	AsOf(ctx context.Context, et models.EntityType, entityID, field string, at time.Time) (*models.TemporalFieldRecord, error)
	History(ctx context.Context, et models.EntityType, entityID, field string, limit int) ([]models.TemporalFieldRecord, error)
	SnapshotAsOf(ctx context.Context, et models.EntityType, entityID string, at time.Time) ([]models.TemporalFieldRecord, error)
}

type trackedEntityStore interface {
	SetColumn(ctx context.Context, q sqlx.ExtContext, et models.EntityType, entityID, field string, value *string, at time.Time) error
	CurrentValue(ctx context.Context, q sqlx.ExtContext, et models.EntityType, entityID, field string) (*string, error)
}

type studentCacheInvalidator interface {
	InvalidateStudent(ctx context.Context, studentID string)
}

// FieldHistoryConfig tunes the field history service.
type FieldHistoryConfig struct {
	SystemActor     models.Actor
	ConflictRetries int
	PageLimit       int
}

// FieldHistoryService maintains the validity-interval log of tracked entity fields and keeps
// the materialized column on the entity row in step with the open record.
type FieldHistoryService struct {
	tx        Transactor
	store     fieldHistoryStore
	entities  trackedEntityStore
	validator *validator.Validate
	metrics   *MetricsService
	cache     studentCacheInvalidator
	logger    *zap.Logger
	config    FieldHistoryConfig
	now       func() time.Time
}

// FieldHistoryOption configures optional collaborators.
type FieldHistoryOption func(*FieldHistoryService)

// WithFieldHistoryMetrics attaches Prometheus instrumentation.
func WithFieldHistoryMetrics(metrics *MetricsService) FieldHistoryOption {
	return func(s *FieldHistoryService) {
		s.metrics = metrics
	}
}

// WithFieldHistoryCache invalidates cached student timelines after student changes.
func WithFieldHistoryCache(cache studentCacheInvalidator) FieldHistoryOption {
	return func(s *FieldHistoryService) {
		s.cache = cache
	}
}

// WithFieldHistoryClock overrides the time source.
func WithFieldHistoryClock(now func() time.Time) FieldHistoryOption {
	return func(s *FieldHistoryService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFieldHistoryService constructs the service.
func NewFieldHistoryService(tx Transactor, store fieldHistoryStore, entities trackedEntityStore, validate *validator.Validate, logger *zap.Logger, config FieldHistoryConfig, opts ...FieldHistoryOption) *FieldHistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.PageLimit <= 0 {
		config.PageLimit = 50
	}
	svc := &FieldHistoryService{
		tx:        tx,
		store:     store,
		entities:  entities,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// RecordChange closes the open record of the field and opens a new one, atomically with the
// materialized column update. Setting the value it already holds is a no-op.
func (s *FieldHistoryService) RecordChange(ctx context.Context, et models.EntityType, entityID string, req dto.RecordFieldChangeRequest, actor *models.Actor) (*dto.FieldChangeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid field change payload")
	}
	change := dto.FieldChange{
		EntityType: et,
		EntityID:   strings.TrimSpace(entityID),
		FieldName:  strings.TrimSpace(req.FieldName),
		NewValue:   req.NewValue,
		Reason:     req.Reason,
		Notes:      req.Notes,
	}
	if req.ChangedAt != nil {
		change.At = req.ChangedAt.UTC()
		if change.At.After(s.now()) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "changedAt must not be in the future")
		}
	}
	by := resolveActor(actor, s.config.SystemActor)

	var result *dto.FieldChangeResult
	err := withConflictRetry(ctx, s.config.ConflictRetries, "field_history", s.logger, s.metrics, func() error {
		return s.tx.WithinTx(ctx, func(q sqlx.ExtContext) error {
			var err error
			result, err = s.RecordChangeTx(ctx, q, change, by)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Changed {
		s.afterCommit(ctx, change.EntityType, change.EntityID)
		s.logger.Info("field change recorded",
			zap.String("entity_type", string(et)),
			zap.String("entity_id", change.EntityID),
			zap.String("field", change.FieldName),
			zap.String("changed_by", by.ID),
		)
	}
	return result, nil
}

// RecordChangeTx performs a field change inside the caller's transaction. Lifecycle cascades
// use it so pointer updates commit or roll back with the transition that caused them.
func (s *FieldHistoryService) RecordChangeTx(ctx context.Context, q sqlx.ExtContext, change dto.FieldChange, actor models.Actor) (*dto.FieldChangeResult, error) {
	kind, err := s.checkField(change.EntityType, change.FieldName)
	if err != nil {
		return nil, err
	}
	if change.EntityID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "entity id is required")
	}
	value, err := normaliseValue(kind, change.NewValue)
	if err != nil {
		return nil, err
	}
	if change.EntityType.FieldRequired(change.FieldName) && (value == nil || *value == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, change.FieldName+" must not be empty")
	}
	at := change.At
	if at.IsZero() {
		at = s.now()
	}
	if actor.ID == "" {
		actor = s.config.SystemActor
	}

	current, err := s.entities.CurrentValue(ctx, q, change.EntityType, change.EntityID, change.FieldName)
	if err != nil {
		return nil, translateStoreError(err, strings.ToLower(string(change.EntityType))+" not found")
	}
	open, err := s.store.FindOpen(ctx, q, change.EntityType, change.EntityID, change.FieldName)
	if err != nil {
		return nil, translateStoreError(err, "")
	}

	previous := current
	if open != nil {
		previous = open.NewValue
	}
	if models.SameValue(previous, value) {
		return &dto.FieldChangeResult{Record: open, Changed: false}, nil
	}

	if open != nil {
		if at.Before(open.ValidFrom) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "change predates the current value of "+change.FieldName)
		}
		if err := s.store.Close(ctx, q, change.EntityType, open.ID, at); err != nil {
			return nil, translateStoreError(err, "")
		}
	}

	record := &models.TemporalFieldRecord{
		EntityID:      change.EntityID,
		FieldName:     change.FieldName,
		PreviousValue: previous,
		NewValue:      value,
		ValidFrom:     at,
		ChangedBy:     actor.ID,
		Reason:        change.Reason,
		Notes:         change.Notes,
	}
	if err := s.store.Insert(ctx, q, change.EntityType, record); err != nil {
		return nil, translateStoreError(err, "")
	}
	if err := s.entities.SetColumn(ctx, q, change.EntityType, change.EntityID, change.FieldName, value, at); err != nil {
		return nil, translateStoreError(err, strings.ToLower(string(change.EntityType))+" not found")
	}
	if s.metrics != nil {
		s.metrics.RecordFieldChange(change.EntityType)
	}
	return &dto.FieldChangeResult{Record: record, Changed: true}, nil
}

// ValueAsOf returns the record valid at the instant, or nil when the field had no recorded value then.
func (s *FieldHistoryService) ValueAsOf(ctx context.Context, et models.EntityType, entityID, field string, at time.Time) (*models.TemporalFieldRecord, error) {
	if _, err := s.checkField(et, field); err != nil {
		return nil, err
	}
	record, err := s.store.AsOf(ctx, et, entityID, field, at.UTC())
	if err != nil {
		return nil, translateStoreError(err, "")
	}
	return record, nil
}

// History lists the validity intervals of a field, newest first, bounded by limit.
func (s *FieldHistoryService) History(ctx context.Context, et models.EntityType, entityID, field string, limit int) ([]models.TemporalFieldRecord, error) {
	if _, err := s.checkField(et, field); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.config.PageLimit {
		limit = s.config.PageLimit
	}
	records, err := s.store.History(ctx, et, entityID, field, limit)
	if err != nil {
		return nil, translateStoreError(err, "")
	}
	if records == nil {
		records = []models.TemporalFieldRecord{}
	}
	return records, nil
}

// SnapshotAsOf reconstructs every tracked field of the entity at the instant. Fields without
// a recorded value at that time map to nil.
func (s *FieldHistoryService) SnapshotAsOf(ctx context.Context, et models.EntityType, entityID string, at time.Time) (*models.FieldSnapshot, error) {
	if !et.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown entity type")
	}
	at = at.UTC()
	records, err := s.store.SnapshotAsOf(ctx, et, entityID, at)
	if err != nil {
		return nil, translateStoreError(err, "")
	}
	snapshot := &models.FieldSnapshot{EntityType: et, EntityID: entityID, AsOf: at, Values: make(map[string]*string)}
	for _, field := range et.TrackedFields() {
		snapshot.Values[field] = nil
	}
	for _, record := range records {
		snapshot.Values[record.FieldName] = record.NewValue
	}
	return snapshot, nil
}

func (s *FieldHistoryService) afterCommit(ctx context.Context, et models.EntityType, entityID string) {
	if s.cache != nil && et == models.EntityStudent {
		s.cache.InvalidateStudent(ctx, entityID)
	}
}

func (s *FieldHistoryService) checkField(et models.EntityType, field string) (models.ColumnKind, error) {
	if !et.Valid() {
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown entity type")
	}
	kind, ok := et.FieldKind(field)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, "field "+field+" is not tracked for "+strings.ToLower(string(et)))
	}
	return kind, nil
}

// normaliseValue canonicalises the textual form so equal values compare equal.
func normaliseValue(kind models.ColumnKind, value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	raw := strings.TrimSpace(*value)
	switch kind {
	case models.ColumnInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "value must be an integer")
		}
		raw = strconv.Itoa(n)
	case models.ColumnBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "value must be a boolean")
		}
		raw = strconv.FormatBool(b)
	}
	return &raw, nil
}
