package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClaimAttempts records claim attempts by outcome (won|lost|not_eligible|conflict|error).
	ClaimAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_claim_attempts_total",
			Help: "Total number of alert claim attempts",
		},
		[]string{"outcome"},
	)

	// Transitions counts committed lifecycle transitions by target status.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_alert_transitions_total",
			Help: "Total number of committed alert status transitions",
		},
		[]string{"from", "to"},
	)

	// Escalations counts SLA-driven force escalations by urgency tier.
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_escalations_total",
			Help: "Total number of SLA-breach escalations",
		},
		[]string{"urgency"},
	)

	// FanoutEvents counts notification fan-out deliveries by result (delivered|retried|dropped).
	FanoutEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_fanout_events_total",
			Help: "Total number of notification fan-out delivery attempts",
		},
		[]string{"result"},
	)

	// ActiveSubscriptions tracks live realtime stream subscriptions.
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_active_subscriptions",
			Help: "Number of active realtime stream subscriptions",
		},
	)

	// OpenAlerts tracks alerts in a non-terminal status.
	OpenAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_open_alerts",
			Help: "Number of alerts in a non-terminal status",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
