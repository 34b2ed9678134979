package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/services"
	"github.com/beaconhq/beacon/internal/store"
	apperrors "github.com/beaconhq/beacon/pkg/errors"
	"github.com/beaconhq/beacon/pkg/logger"
	"github.com/beaconhq/beacon/pkg/metrics"
)

const defaultSweepSpec = "@every 30s"

// SLAThresholds are the per-urgency ages after which an unresolved alert is
// force-escalated.
type SLAThresholds struct {
	High   time.Duration
	Medium time.Duration
	Low    time.Duration
}

// DefaultSLA mirrors the configuration defaults.
var DefaultSLA = SLAThresholds{
	High:   5 * time.Minute,
	Medium: 15 * time.Minute,
	Low:    time.Hour,
}

// Monitor runs the periodic dispatch sweep: promoting alerts out of the
// cancellation window, rejecting alerts nobody claimed in time, and
// force-escalating alerts that breach their urgency SLA. Every transition
// goes through the lifecycle engine with the version the sweep read, so
// concurrent sweeps settle on exactly one winner per alert.
type Monitor struct {
	alerts    *store.AlertStore
	lifecycle *services.AlertService
	cron      *cron.Cron
	log       *zap.Logger

	spec         string
	claimTimeout time.Duration
	sla          SLAThresholds
	now          func() time.Time
}

// Option customises the Monitor.
type Option func(*Monitor)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(m *Monitor) {
		if c != nil {
			m.cron = c
		}
	}
}

// WithNow overrides the clock used for window and SLA comparisons.
func WithNow(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSweepSpec overrides the cron specification for the sweep.
func WithSweepSpec(spec string) Option {
	return func(m *Monitor) {
		if spec != "" {
			m.spec = spec
		}
	}
}

// WithClaimTimeout bounds how long an alert may sit dispatched before it is
// rejected for lack of responders. Zero disables rejection.
func WithClaimTimeout(timeout time.Duration) Option {
	return func(m *Monitor) {
		if timeout >= 0 {
			m.claimTimeout = timeout
		}
	}
}

// WithSLA overrides the per-urgency escalation thresholds.
func WithSLA(sla SLAThresholds) Option {
	return func(m *Monitor) {
		if sla.High > 0 {
			m.sla.High = sla.High
		}
		if sla.Medium > 0 {
			m.sla.Medium = sla.Medium
		}
		if sla.Low > 0 {
			m.sla.Low = sla.Low
		}
	}
}

// NewMonitor constructs a Monitor with sensible defaults.
func NewMonitor(alerts *store.AlertStore, lifecycle *services.AlertService, opts ...Option) (*Monitor, error) {
	if alerts == nil {
		return nil, errors.New("dispatch monitor: alert store is required")
	}
	if lifecycle == nil {
		return nil, errors.New("dispatch monitor: alert service is required")
	}

	m := &Monitor{
		alerts:    alerts,
		lifecycle: lifecycle,
		spec:      defaultSweepSpec,
		sla:       DefaultSLA,
		now:       time.Now,
		log:       logger.WithModule("dispatch"),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.cron == nil {
		m.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return m, nil
}

// Start registers the sweep with the cron scheduler and launches it.
func (m *Monitor) Start() error {
	if _, err := m.cron.AddFunc(m.spec, func() {
		if _, err := m.RunOnce(context.Background()); err != nil {
			m.log.Warn("dispatch sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	m.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running sweep to complete.
func (m *Monitor) Stop() context.Context {
	if m.cron == nil {
		return context.Background()
	}
	return m.cron.Stop()
}

// SweepStats reports what a single sweep did.
type SweepStats struct {
	Promoted  int
	Rejected  int
	Escalated int
}

// RunOnce executes a single sweep over all non-terminal alerts.
func (m *Monitor) RunOnce(ctx context.Context) (SweepStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	stats := SweepStats{}

	alerts, err := m.alerts.ListNonTerminal(ctx)
	if err != nil {
		return stats, err
	}

	now := m.now().UTC()
	var errs error

	for i := range alerts {
		alert := alerts[i]

		var target models.AlertStatus
		switch {
		case alert.Status == models.StatusCreated && !now.Before(alert.CancelWindowExpiresAt):
			target = models.StatusDispatched
		case alert.Status == models.StatusDispatched && m.claimTimeout > 0 &&
			now.Sub(alert.StatusChangedAt) >= m.claimTimeout:
			target = models.StatusRejected
		case m.slaBreached(&alert, now):
			target = models.StatusEscalated
		default:
			continue
		}

		_, err := m.lifecycle.Advance(ctx, services.AdvanceInput{
			AlertID:         alert.ID,
			ActorID:         services.SystemActorID,
			Target:          target,
			ExpectedVersion: alert.Version,
		})
		switch {
		case err == nil:
			switch target {
			case models.StatusDispatched:
				stats.Promoted++
			case models.StatusRejected:
				stats.Rejected++
			case models.StatusEscalated:
				stats.Escalated++
			}
		case errors.Is(err, apperrors.ErrVersionConflict),
			errors.Is(err, apperrors.ErrInvalidTransition):
			// A concurrent writer got there first; the next sweep re-evaluates.
		default:
			errs = multierr.Append(errs, err)
		}
	}

	if count, err := m.alerts.CountNonTerminal(ctx); err == nil {
		metrics.OpenAlerts.Set(float64(count))
	}

	return stats, errs
}

// slaBreached reports whether the alert has been unresolved longer than its
// urgency tier allows. Already-escalated alerts are left alone.
func (m *Monitor) slaBreached(alert *models.Alert, now time.Time) bool {
	switch alert.Status {
	case models.StatusDispatched, models.StatusClaimed, models.StatusEnRoute, models.StatusArrived:
	default:
		return false
	}

	var threshold time.Duration
	switch alert.Urgency {
	case models.UrgencyHigh:
		threshold = m.sla.High
	case models.UrgencyMedium:
		threshold = m.sla.Medium
	default:
		threshold = m.sla.Low
	}
	if threshold <= 0 {
		return false
	}
	return now.Sub(alert.CreatedAt) >= threshold
}
