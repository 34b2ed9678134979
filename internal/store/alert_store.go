package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/models"
	apperrors "github.com/beaconhq/beacon/pkg/errors"
	"github.com/beaconhq/beacon/pkg/geo"
)

const (
	defaultWriteAttempts = 3
	defaultWriteBackoff  = 50 * time.Millisecond
)

// AlertStore is the durable keyed store for Alert records. Every mutation is
// a conditional write against the version the caller read; a missed condition
// surfaces as ErrVersionConflict so callers can reload and retry.
type AlertStore struct {
	db            *gorm.DB
	writeAttempts int
	writeBackoff  time.Duration
}

// Option customises store behaviour.
type Option func(*AlertStore)

// WithWriteRetry adjusts the bounded retry budget for transient storage errors.
func WithWriteRetry(attempts int, backoff time.Duration) Option {
	return func(s *AlertStore) {
		if attempts > 0 {
			s.writeAttempts = attempts
		}
		if backoff > 0 {
			s.writeBackoff = backoff
		}
	}
}

// NewAlertStore constructs an AlertStore using the provided database handle.
func NewAlertStore(db *gorm.DB, opts ...Option) (*AlertStore, error) {
	if db == nil {
		return nil, errors.New("alert store: db is required")
	}

	s := &AlertStore{
		db:            db,
		writeAttempts: defaultWriteAttempts,
		writeBackoff:  defaultWriteBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create persists a new alert at version 1.
func (s *AlertStore) Create(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return errors.New("alert store: alert is required")
	}
	if alert.Version == 0 {
		alert.Version = 1
	}

	return s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Create(alert).Error
	})
}

// Get loads a single alert by id.
func (s *AlertStore) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	var alert models.Alert
	if err := s.db.WithContext(ctx).First(&alert, "id = ?", alertID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrAlertNotFound
		}
		return nil, err
	}
	return &alert, nil
}

// CommitTransition writes the mutated alert conditioned on expectedVersion.
// The alert's Version must already be expectedVersion+1. A zero-row update
// against an existing alert means a concurrent writer won the race.
func (s *AlertStore) CommitTransition(ctx context.Context, alert *models.Alert, expectedVersion int64) error {
	if alert == nil {
		return errors.New("alert store: alert is required")
	}
	if alert.Version != expectedVersion+1 {
		return errors.New("alert store: version must be bumped by exactly one")
	}

	updates := map[string]any{
		"status":            alert.Status,
		"claimed_by":        alert.ClaimedBy,
		"claimed_at":        alert.ClaimedAt,
		"status_changed_at": alert.StatusChangedAt,
		"escalated_at":      alert.EscalatedAt,
		"resolved_at":       alert.ResolvedAt,
		"version":           alert.Version,
	}

	return s.withRetry(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&models.Alert{}).
			Where("id = ? AND version = ?", alert.ID, expectedVersion).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := s.db.WithContext(ctx).
				Model(&models.Alert{}).
				Where("id = ?", alert.ID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return apperrors.ErrAlertNotFound
			}
			return apperrors.ErrVersionConflict
		}
		return nil
	})
}

// ListFilters narrows alert listing queries.
type ListFilters struct {
	Statuses   []models.AlertStatus
	Categories []models.AlertCategory
	Urgency    models.AlertUrgency
	Visibility string
}

// ListInBox returns alerts inside the bounding box matching the filters.
// Exact radius filtering happens in the geo layer.
func (s *AlertStore) ListInBox(ctx context.Context, box geo.BoundingBox, filters ListFilters) ([]models.Alert, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("lat BETWEEN ? AND ?", box.MinLat, box.MaxLat).
		Where("lng BETWEEN ? AND ?", box.MinLng, box.MaxLng)
	query = applyListFilters(query, filters)

	var alerts []models.Alert
	if err := query.Order("created_at DESC").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// ListNonTerminal returns alerts still in flight, oldest state change first.
// The escalation sweep iterates this set.
func (s *AlertStore) ListNonTerminal(ctx context.Context) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []models.AlertStatus{
			models.StatusResolved, models.StatusCancelled, models.StatusRejected,
		}).
		Order("status_changed_at ASC").
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// CountNonTerminal reports the number of open alerts, feeding the gauge metric.
func (s *AlertStore) CountNonTerminal(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("status NOT IN ?", []models.AlertStatus{
			models.StatusResolved, models.StatusCancelled, models.StatusRejected,
		}).
		Count(&count).Error
	return count, err
}

func applyListFilters(query *gorm.DB, filters ListFilters) *gorm.DB {
	if len(filters.Statuses) > 0 {
		query = query.Where("status IN ?", filters.Statuses)
	}
	if len(filters.Categories) > 0 {
		query = query.Where("category IN ?", filters.Categories)
	}
	if filters.Urgency != "" {
		query = query.Where("urgency = ?", filters.Urgency)
	}
	if filters.Visibility != "" {
		query = query.Where("visibility = ?", filters.Visibility)
	}
	return query
}

// withRetry retries transient storage failures with a bounded backoff before
// surfacing them. Typed domain errors pass through untouched.
func (s *AlertStore) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.writeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.writeBackoff * time.Duration(attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err
	}
	return apperrors.ErrTransientStorage.WithInternal(lastErr)
}
