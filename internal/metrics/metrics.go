// Package metrics exposes Prometheus metrics for the campaign engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine
type Metrics struct {
	// Campaign lifecycle
	CampaignsActive          prometheus.Gauge
	CampaignTransitionsTotal *prometheus.CounterVec

	// Execution loop
	LeadsProcessedTotal *prometheus.CounterVec
	SendDelaySeconds    prometheus.Histogram

	// Verification
	VerificationsTotal *prometheus.CounterVec
	BreakerState       prometheus.Gauge

	// Reputation
	FeedbackEventsTotal    *prometheus.CounterVec
	ReputationPausesTotal  prometheus.Counter
	ReputationBounceRate   prometheus.Gauge
	ReputationComplaintRate prometheus.Gauge

	// Locks
	LockConflictsTotal   prometheus.Counter
	StaleLocksClearedTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drip_campaigns_active",
				Help: "Number of campaigns with a running execution loop",
			},
		),
		CampaignTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_campaign_transitions_total",
				Help: "Total campaign status transitions",
			},
			[]string{"to"},
		),
		LeadsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_leads_processed_total",
				Help: "Total leads handled by execution loops",
			},
			[]string{"outcome"},
		),
		SendDelaySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "drip_send_delay_seconds",
				Help:    "Pacing delays slept between sends",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_verifications_total",
				Help: "Total verification results by status",
			},
			[]string{"status"},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drip_verifier_breaker_state",
				Help: "Verification circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
		),
		FeedbackEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drip_feedback_events_total",
				Help: "Total delivery-feedback events processed",
			},
			[]string{"type"},
		),
		ReputationPausesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "drip_reputation_pauses_total",
				Help: "Total automatic pauses triggered by reputation thresholds",
			},
		),
		ReputationBounceRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drip_reputation_bounce_rate",
				Help: "Bounce rate of the current global window",
			},
		),
		ReputationComplaintRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drip_reputation_complaint_rate",
				Help: "Complaint rate of the current global window",
			},
		),
		LockConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "drip_lock_conflicts_total",
				Help: "Total start/resume attempts rejected because the campaign was locked",
			},
		),
		StaleLocksClearedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "drip_stale_locks_cleared_total",
				Help: "Total stale locks removed by recovery passes",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.CampaignsActive,
		m.CampaignTransitionsTotal,
		m.LeadsProcessedTotal,
		m.SendDelaySeconds,
		m.VerificationsTotal,
		m.BreakerState,
		m.FeedbackEventsTotal,
		m.ReputationPausesTotal,
		m.ReputationBounceRate,
		m.ReputationComplaintRate,
		m.LockConflictsTotal,
		m.StaleLocksClearedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
