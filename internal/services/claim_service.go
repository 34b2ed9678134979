package services

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/store"
	apperrors "github.com/beaconhq/beacon/pkg/errors"
	"github.com/beaconhq/beacon/pkg/metrics"
)

const (
	claimStripes               = 64
	defaultClaimAttemptTimeout = 3 * time.Second
)

// ClaimService arbitrates exclusive claims on dispatched alerts. A striped
// per-alert mutex serialises local contenders; the version-conditioned write
// in the store settles races with remote ones. Exactly one claimant wins,
// every other attempt gets ErrAlreadyClaimed.
type ClaimService struct {
	alerts     *store.AlertStore
	lifecycle  *AlertService
	responders *ResponderService
	geo        *GeoService

	attemptTimeout time.Duration
	timeNow        func() time.Time
	locks          [claimStripes]sync.Mutex
}

// ClaimOption customises claim behaviour.
type ClaimOption func(*ClaimService)

// WithAttemptTimeout bounds a single claim call.
func WithAttemptTimeout(timeout time.Duration) ClaimOption {
	return func(s *ClaimService) {
		if timeout > 0 {
			s.attemptTimeout = timeout
		}
	}
}

// WithClaimClock overrides the time source, used in tests.
func WithClaimClock(now func() time.Time) ClaimOption {
	return func(s *ClaimService) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// NewClaimService constructs a ClaimService.
func NewClaimService(alerts *store.AlertStore, lifecycle *AlertService, responders *ResponderService, geoSvc *GeoService, opts ...ClaimOption) (*ClaimService, error) {
	if alerts == nil {
		return nil, errors.New("claim service: alert store is required")
	}
	if lifecycle == nil {
		return nil, errors.New("claim service: alert service is required")
	}
	if responders == nil {
		return nil, errors.New("claim service: responder service is required")
	}
	if geoSvc == nil {
		return nil, errors.New("claim service: geo service is required")
	}

	s := &ClaimService{
		alerts:         alerts,
		lifecycle:      lifecycle,
		responders:     responders,
		geo:            geoSvc,
		attemptTimeout: defaultClaimAttemptTimeout,
		timeNow:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Claim attempts to give the responder exclusive ownership of the alert.
func (s *ClaimService) Claim(ctx context.Context, alertID, responderID string) (*models.Alert, error) {
	ctx = ensureContext(ctx)

	alertID = strings.TrimSpace(alertID)
	responderID = strings.TrimSpace(responderID)
	if alertID == "" || responderID == "" {
		return nil, apperrors.NewBadRequest("Alert id and responder id are required")
	}

	if s.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.attemptTimeout)
		defer cancel()
	}

	responder, err := s.responders.Get(ctx, responderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			metrics.ClaimAttempts.WithLabelValues("not_eligible").Inc()
			return nil, apperrors.ErrNotEligible
		}
		metrics.ClaimAttempts.WithLabelValues("error").Inc()
		return nil, err
	}

	lock := s.lockFor(alertID)
	lock.Lock()
	defer lock.Unlock()

	// One reload after a version conflict: either the winner is now visible
	// or the alert changed shape entirely.
	for attempt := 0; attempt < 2; attempt++ {
		alert, err := s.alerts.Get(ctx, alertID)
		if err != nil {
			metrics.ClaimAttempts.WithLabelValues("error").Inc()
			return nil, err
		}

		if alert.ClaimedBy != nil || alert.Status == models.StatusClaimed {
			metrics.ClaimAttempts.WithLabelValues("lost").Inc()
			return nil, apperrors.ErrAlreadyClaimed
		}
		if alert.Status != models.StatusDispatched {
			metrics.ClaimAttempts.WithLabelValues("error").Inc()
			return nil, apperrors.ErrInvalidTransition
		}
		if !s.geo.Eligible(responder, alert) {
			metrics.ClaimAttempts.WithLabelValues("not_eligible").Inc()
			return nil, apperrors.ErrNotEligible
		}

		now := s.timeNow().UTC()
		from := alert.Status
		expected := alert.Version

		claimant := responder.ID
		alert.Status = models.StatusClaimed
		alert.ClaimedBy = &claimant
		alert.ClaimedAt = &now
		alert.StatusChangedAt = now
		alert.Version = expected + 1

		err = s.alerts.CommitTransition(ctx, alert, expected)
		if errors.Is(err, apperrors.ErrVersionConflict) {
			metrics.ClaimAttempts.WithLabelValues("conflict").Inc()
			continue
		}
		if err != nil {
			metrics.ClaimAttempts.WithLabelValues("error").Inc()
			return nil, err
		}

		metrics.ClaimAttempts.WithLabelValues("won").Inc()
		s.lifecycle.afterCommit(ctx, alert, from, responderID, map[string]any{
			"claimed_by": claimant,
		})
		return alert, nil
	}

	metrics.ClaimAttempts.WithLabelValues("lost").Inc()
	return nil, apperrors.ErrAlreadyClaimed
}

func (s *ClaimService) lockFor(alertID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(alertID))
	return &s.locks[h.Sum32()%claimStripes]
}
