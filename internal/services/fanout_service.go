package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/pkg/logger"
	"github.com/beaconhq/beacon/pkg/metrics"
)

const (
	defaultFanoutAttempts = 3
	defaultFanoutBackoff  = 250 * time.Millisecond
)

// Broadcaster delivers a persisted lifecycle event to live subscribers.
// Targets are the principals that must receive the event on their personal
// streams in addition to the alert, region and admin topics. Implementations
// are expected to be cheap; the fan-out worker retries transient failures
// with a bounded backoff.
type Broadcaster interface {
	Publish(event *models.NotificationEvent, regionTag string, targets []string) error
}

// CandidateSource resolves the responders eligible to act on an alert.
// The fan-out worker targets them when a new alert is announced.
type CandidateSource interface {
	CandidateResponders(ctx context.Context, alert *models.Alert) ([]models.Responder, error)
}

// FanoutService persists lifecycle events and pushes them to subscribers
// asynchronously. Persisting happens on the caller's goroutine so the event
// row always exists once a transition commits; delivery never blocks the
// commit path. Semantics are at-least-once: receivers dedupe on event ID.
type FanoutService struct {
	db          *gorm.DB
	broadcaster Broadcaster
	candidates  CandidateSource
	maxAttempts int
	backoff     time.Duration

	wg sync.WaitGroup
}

// FanoutOption customises fan-out behaviour.
type FanoutOption func(*FanoutService)

// WithCandidateSource makes the fan-out target eligible responders on
// alert announcements, alongside the event's own target principal.
func WithCandidateSource(source CandidateSource) FanoutOption {
	return func(s *FanoutService) {
		s.candidates = source
	}
}

// WithRetryPolicy bounds delivery retries per event.
func WithRetryPolicy(attempts int, backoff time.Duration) FanoutOption {
	return func(s *FanoutService) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// NewFanoutService constructs a FanoutService. The broadcaster may be nil,
// in which case events are persisted but not pushed.
func NewFanoutService(db *gorm.DB, broadcaster Broadcaster, opts ...FanoutOption) (*FanoutService, error) {
	if db == nil {
		return nil, errors.New("fanout service: db is required")
	}

	s := &FanoutService{
		db:          db,
		broadcaster: broadcaster,
		maxAttempts: defaultFanoutAttempts,
		backoff:     defaultFanoutBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EmitInput describes one lifecycle event to record and deliver.
type EmitInput struct {
	Alert    *models.Alert
	Kind     models.EventKind
	TargetID string
	Payload  map[string]any
}

// Emit persists the event and schedules delivery to subscribers.
func (s *FanoutService) Emit(ctx context.Context, in EmitInput) (*models.NotificationEvent, error) {
	ctx = ensureContext(ctx)

	if in.Alert == nil {
		return nil, errors.New("fanout service: alert is required")
	}
	if in.Kind == "" {
		return nil, errors.New("fanout service: event kind is required")
	}

	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = in.Alert.Status
	payload["region_tag"] = in.Alert.RegionTag
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("fanout service: marshal payload: %w", err)
	}

	event := &models.NotificationEvent{
		AlertID:                in.Alert.ID,
		TargetID:               strings.TrimSpace(in.TargetID),
		Kind:                   in.Kind,
		Payload:                datatypes.JSON(encoded),
		AlertVersionAtEmission: in.Alert.Version,
	}

	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, fmt.Errorf("fanout service: persist event: %w", err)
	}

	if s.broadcaster != nil {
		// Snapshot the alert: the caller may keep mutating it while the
		// delivery goroutine resolves candidates.
		snapshot := *in.Alert
		s.wg.Add(1)
		go s.deliver(event, snapshot)
	}
	return event, nil
}

// ListSince returns events for an alert with a version strictly greater than
// afterVersion, oldest first. Reconnecting subscribers replay from here.
func (s *FanoutService) ListSince(ctx context.Context, alertID string, afterVersion int64) ([]models.NotificationEvent, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(alertID) == "" {
		return nil, errors.New("fanout service: alert id is required")
	}

	var events []models.NotificationEvent
	err := s.db.WithContext(ctx).
		Where("alert_id = ? AND alert_version_at_emission > ?", alertID, afterVersion).
		Order("alert_version_at_emission ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("fanout service: list events: %w", err)
	}
	return events, nil
}

// Flush blocks until all scheduled deliveries have finished.
func (s *FanoutService) Flush() {
	s.wg.Wait()
}

func (s *FanoutService) deliver(event *models.NotificationEvent, alert models.Alert) {
	defer s.wg.Done()

	targets := s.targetsFor(event, &alert)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.broadcaster.Publish(event, alert.RegionTag, targets); err == nil {
			metrics.FanoutEvents.WithLabelValues("delivered").Inc()
			return
		} else if attempt < s.maxAttempts {
			metrics.FanoutEvents.WithLabelValues("retried").Inc()
			time.Sleep(s.backoff * time.Duration(attempt))
		} else {
			metrics.FanoutEvents.WithLabelValues("dropped").Inc()
			logger.WithModule("fanout").Warn("event delivery dropped",
				zap.String("event_id", event.ID),
				zap.String("alert_id", event.AlertID),
				zap.Error(err))
		}
	}
}

// targetsFor collects the principals to notify directly: the event's own
// target, plus every eligible responder when the event announces a new alert.
// A candidate lookup failure degrades to stream-only delivery.
func (s *FanoutService) targetsFor(event *models.NotificationEvent, alert *models.Alert) []string {
	var targets []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}

	add(event.TargetID)

	if s.candidates != nil && event.Kind == models.EventCreated {
		responders, err := s.candidates.CandidateResponders(context.Background(), alert)
		if err != nil {
			logger.WithModule("fanout").Warn("candidate lookup failed",
				zap.String("alert_id", alert.ID), zap.Error(err))
		} else {
			for _, responder := range responders {
				add(responder.ID)
			}
		}
	}
	return targets
}
