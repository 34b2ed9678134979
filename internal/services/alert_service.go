package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/store"
	apperrors "github.com/beaconhq/beacon/pkg/errors"
	"github.com/beaconhq/beacon/pkg/geo"
	"github.com/beaconhq/beacon/pkg/logger"
	"github.com/beaconhq/beacon/pkg/metrics"
)

const defaultCancelWindow = 15 * time.Second

// lifecycleEdges enumerates the legal status transitions. Anything absent is
// rejected before a write is attempted.
var lifecycleEdges = map[models.AlertStatus][]models.AlertStatus{
	models.StatusCreated:    {models.StatusDispatched, models.StatusCancelled},
	models.StatusDispatched: {models.StatusClaimed, models.StatusCancelled, models.StatusEscalated, models.StatusRejected},
	models.StatusClaimed:    {models.StatusEnRoute, models.StatusResolved, models.StatusEscalated},
	models.StatusEnRoute:    {models.StatusArrived, models.StatusResolved, models.StatusEscalated},
	models.StatusArrived:    {models.StatusResolved, models.StatusEscalated},
	models.StatusEscalated:  {models.StatusResolved},
}

// CanTransition reports whether the edge from one status to another is legal.
func CanTransition(from, to models.AlertStatus) bool {
	for _, candidate := range lifecycleEdges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AlertService owns the alert lifecycle: creation, requester cancellation and
// status advancement. Every mutation is an optimistic-concurrency write; a
// committed transition appends exactly one audit record (at the post-write
// version) and emits one notification event.
type AlertService struct {
	alerts *store.AlertStore
	audit  *AuditTrail
	fanout *FanoutService

	cancelWindow time.Duration
	timeNow      func() time.Time
}

// AlertOption customises alert service behaviour.
type AlertOption func(*AlertService)

// WithCancelWindow overrides the requester self-cancel window.
func WithCancelWindow(window time.Duration) AlertOption {
	return func(s *AlertService) {
		if window > 0 {
			s.cancelWindow = window
		}
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) AlertOption {
	return func(s *AlertService) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// NewAlertService constructs an AlertService.
func NewAlertService(alerts *store.AlertStore, audit *AuditTrail, fanout *FanoutService, opts ...AlertOption) (*AlertService, error) {
	if alerts == nil {
		return nil, errors.New("alert service: alert store is required")
	}
	if audit == nil {
		return nil, errors.New("alert service: audit trail is required")
	}

	s := &AlertService{
		alerts:       alerts,
		audit:        audit,
		fanout:       fanout,
		cancelWindow: defaultCancelWindow,
		timeNow:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateAlertInput describes a new emergency alert.
type CreateAlertInput struct {
	RequesterID string
	Category    models.AlertCategory
	Urgency     models.AlertUrgency
	Description string
	Lat         float64
	Lng         float64
	Visibility  string
	MediaRefs   []string
}

// Create persists a new alert at version 1 and emits the creation event.
// The alert starts in Created with an open self-cancel window.
func (s *AlertService) Create(ctx context.Context, in CreateAlertInput) (*models.Alert, error) {
	ctx = ensureContext(ctx)

	in.RequesterID = strings.TrimSpace(in.RequesterID)
	if in.RequesterID == "" {
		return nil, apperrors.NewBadRequest("Requester id is required")
	}
	if !in.Category.Valid() {
		return nil, apperrors.NewBadRequest("Unknown alert category")
	}
	if !in.Urgency.Valid() {
		return nil, apperrors.NewBadRequest("Unknown urgency tier")
	}

	point := geo.Point{Lat: in.Lat, Lng: in.Lng}
	if !point.Valid() {
		return nil, apperrors.NewBadRequest("Invalid coordinates")
	}

	visibility := strings.TrimSpace(in.Visibility)
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	if visibility != models.VisibilityPublic && visibility != models.VisibilityPrivate {
		return nil, apperrors.NewBadRequest("Unknown visibility")
	}

	now := s.timeNow().UTC()
	alert := &models.Alert{
		RequesterID:           in.RequesterID,
		Category:              in.Category,
		Urgency:               in.Urgency,
		Description:           strings.TrimSpace(in.Description),
		Lat:                   in.Lat,
		Lng:                   in.Lng,
		RegionTag:             RegionTag(in.Lat, in.Lng),
		Visibility:            visibility,
		Status:                models.StatusCreated,
		CancelWindowExpiresAt: now.Add(s.cancelWindow),
		StatusChangedAt:       now,
		Version:               1,
	}
	alert.CreatedAt = now

	if refs := normaliseRefs(in.MediaRefs); refs != nil {
		encoded, err := json.Marshal(refs)
		if err != nil {
			return nil, fmt.Errorf("alert service: marshal media refs: %w", err)
		}
		alert.MediaRefs = datatypes.JSON(encoded)
	}

	if err := s.alerts.Create(ctx, alert); err != nil {
		return nil, err
	}

	metrics.OpenAlerts.Inc()
	s.afterCommit(ctx, alert, "", in.RequesterID, nil)
	return alert, nil
}

// Get loads an alert by id.
func (s *AlertService) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	return s.alerts.Get(ensureContext(ctx), alertID)
}

// AdvanceInput describes a status advancement request.
type AdvanceInput struct {
	AlertID   string
	ActorID   string
	ActorRole models.ResponderRole
	Target    models.AlertStatus

	// ExpectedVersion guards against lost updates. Zero relaxes the check
	// and advances from whatever version is current; it is reserved for
	// internal callers, the HTTP surface always demands an explicit version.
	ExpectedVersion int64
}

// Advance moves an alert along its lifecycle. The write is conditioned on the
// version the caller read; a concurrent commit surfaces as ErrVersionConflict.
func (s *AlertService) Advance(ctx context.Context, in AdvanceInput) (*models.Alert, error) {
	ctx = ensureContext(ctx)

	if !in.Target.Valid() {
		return nil, apperrors.NewBadRequest("Unknown target status")
	}

	alert, err := s.alerts.Get(ctx, in.AlertID)
	if err != nil {
		return nil, err
	}
	if in.ExpectedVersion != 0 && alert.Version != in.ExpectedVersion {
		return nil, apperrors.ErrVersionConflict
	}
	if alert.Status.Terminal() || !CanTransition(alert.Status, in.Target) {
		return nil, apperrors.ErrInvalidTransition
	}
	if err := s.authorizeAdvance(alert, in); err != nil {
		return nil, err
	}

	now := s.timeNow().UTC()
	from := alert.Status
	expected := alert.Version

	alert.Status = in.Target
	alert.StatusChangedAt = now
	switch in.Target {
	case models.StatusEscalated:
		alert.EscalatedAt = &now
	case models.StatusResolved:
		alert.ResolvedAt = &now
	}
	alert.Version = expected + 1

	if err := s.alerts.CommitTransition(ctx, alert, expected); err != nil {
		return nil, err
	}

	s.afterCommit(ctx, alert, from, in.ActorID, nil)
	return alert, nil
}

// Cancel withdraws an alert at the requester's initiative. It succeeds only
// while the self-cancel window is open and nobody has claimed the alert; a
// lost race against a claim is reported as too late, not retried.
func (s *AlertService) Cancel(ctx context.Context, alertID, requesterID string) (*models.Alert, error) {
	ctx = ensureContext(ctx)

	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, apperrors.NewBadRequest("Requester id is required")
	}

	for attempt := 0; attempt < 2; attempt++ {
		alert, err := s.alerts.Get(ctx, alertID)
		if err != nil {
			return nil, err
		}
		if alert.RequesterID != requesterID {
			return nil, apperrors.ErrForbidden
		}
		if alert.Status != models.StatusCreated && alert.Status != models.StatusDispatched {
			return nil, apperrors.ErrTooLate
		}

		now := s.timeNow().UTC()
		if !now.Before(alert.CancelWindowExpiresAt) {
			return nil, apperrors.ErrTooLate
		}

		from := alert.Status
		expected := alert.Version
		alert.Status = models.StatusCancelled
		alert.StatusChangedAt = now
		alert.Version = expected + 1

		err = s.alerts.CommitTransition(ctx, alert, expected)
		if errors.Is(err, apperrors.ErrVersionConflict) {
			// Reload; if a claim landed first the next pass reports too late.
			continue
		}
		if err != nil {
			return nil, err
		}

		s.afterCommit(ctx, alert, from, requesterID, nil)
		return alert, nil
	}
	return nil, apperrors.ErrTooLate
}

func (s *AlertService) authorizeAdvance(alert *models.Alert, in AdvanceInput) error {
	isSystem := in.ActorID == SystemActorID
	isAdmin := in.ActorRole == models.RoleAdmin

	switch in.Target {
	case models.StatusDispatched, models.StatusRejected, models.StatusEscalated:
		if !isSystem && !isAdmin {
			return apperrors.ErrForbidden
		}
	case models.StatusEnRoute, models.StatusArrived:
		if alert.ClaimedBy == nil || *alert.ClaimedBy != in.ActorID {
			return apperrors.ErrForbidden
		}
	case models.StatusResolved:
		if isSystem || isAdmin {
			return nil
		}
		if alert.ClaimedBy == nil || *alert.ClaimedBy != in.ActorID {
			return apperrors.ErrForbidden
		}
	case models.StatusClaimed, models.StatusCancelled:
		// Claims go through the claim arbiter, cancellations through Cancel.
		return apperrors.ErrInvalidTransition
	}
	return nil
}

// afterCommit records metrics, appends the audit entry and emits the
// notification event for a committed transition. Failures here are logged,
// never surfaced: the transition itself is already durable.
func (s *AlertService) afterCommit(ctx context.Context, alert *models.Alert, from models.AlertStatus, actorID string, meta map[string]any) {
	metrics.Transitions.WithLabelValues(string(from), string(alert.Status)).Inc()
	if alert.Status.Terminal() {
		metrics.OpenAlerts.Dec()
	}
	if alert.Status == models.StatusEscalated {
		metrics.Escalations.WithLabelValues(string(alert.Urgency)).Inc()
	}

	if err := s.audit.Record(ctx, AuditEntry{
		AlertID:  alert.ID,
		Sequence: alert.Version,
		ActorID:  actorID,
		From:     from,
		To:       alert.Status,
		Metadata: meta,
	}); err != nil {
		logger.WithModule("alerts").Error("audit append failed",
			zap.String("alert_id", alert.ID),
			zap.Int64("sequence", alert.Version),
			zap.Error(err))
	}

	if s.fanout != nil {
		if _, err := s.fanout.Emit(ctx, EmitInput{
			Alert:    alert,
			Kind:     eventKindFor(alert.Status),
			TargetID: alert.RequesterID,
			Payload:  meta,
		}); err != nil {
			logger.WithModule("alerts").Error("event emit failed",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
		}
	}
}

func eventKindFor(status models.AlertStatus) models.EventKind {
	switch status {
	case models.StatusCreated:
		return models.EventCreated
	case models.StatusClaimed:
		return models.EventClaimed
	case models.StatusCancelled:
		return models.EventCancelled
	case models.StatusEscalated:
		return models.EventEscalated
	default:
		return models.EventStatusChanged
	}
}
