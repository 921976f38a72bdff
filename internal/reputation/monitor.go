// Package reputation consumes delivery-feedback events and protects sender
// standing: when bounce or complaint rates cross their thresholds it pauses
// every running campaign.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tealmail/drip/internal/email"
	"github.com/tealmail/drip/internal/metrics"
	"github.com/tealmail/drip/internal/models"
	"github.com/tealmail/drip/internal/repository"
)

// Config holds the protective thresholds
type Config struct {
	MaxBounceRate    float64 `yaml:"max_bounce_rate"`
	MaxComplaintRate float64 `yaml:"max_complaint_rate"`
	QueueSize        int     `yaml:"queue_size"`
}

// DefaultConfig returns the standard 5% bounce / 0.1% complaint limits
func DefaultConfig() Config {
	return Config{
		MaxBounceRate:    0.05,
		MaxComplaintRate: 0.001,
		QueueSize:        1024,
	}
}

// Monitor consumes feedback events asynchronously from the orchestrator
type Monitor struct {
	cfg       Config
	campaigns *repository.CampaignRepository
	leads     *repository.LeadRepository
	windows   *repository.ReputationRepository
	audit     *repository.AuditRepository
	metrics   *metrics.Metrics
	logger    *slog.Logger

	events chan models.FeedbackEvent
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMonitor creates a reputation monitor
func NewMonitor(
	cfg Config,
	campaigns *repository.CampaignRepository,
	leads *repository.LeadRepository,
	windows *repository.ReputationRepository,
	audit *repository.AuditRepository,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Monitor {
	if cfg.MaxBounceRate <= 0 {
		cfg.MaxBounceRate = 0.05
	}
	if cfg.MaxComplaintRate <= 0 {
		cfg.MaxComplaintRate = 0.001
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		cfg:       cfg,
		campaigns: campaigns,
		leads:     leads,
		windows:   windows,
		audit:     audit,
		metrics:   m,
		logger:    logger.With("component", "reputation"),
		events:    make(chan models.FeedbackEvent, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the consumer goroutine
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ctx.Done():
				return
			case ev := <-m.events:
				if err := m.Process(ev); err != nil {
					// A poison event must not block the feed
					m.logger.Error("failed to process feedback event",
						"type", ev.Type,
						"correlation_id", ev.CorrelationID,
						"error", err,
					)
				}
			}
		}
	}()
	m.logger.Info("reputation monitor started",
		"max_bounce_rate", m.cfg.MaxBounceRate,
		"max_complaint_rate", m.cfg.MaxComplaintRate,
	)
}

// Stop shuts the consumer down
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Submit queues a batch of events for processing. Called by the webhook
// handler; blocks briefly if the queue is full rather than dropping events.
// Once the monitor is stopped nobody drains the queue, so the remainder
// of the batch is dropped instead of blocking the caller forever.
func (m *Monitor) Submit(events []models.FeedbackEvent) {
	for _, ev := range events {
		select {
		case m.events <- ev:
		case <-m.ctx.Done():
			return
		}
	}
}

// Process applies a single feedback event. Unknown or unmatched events
// return an error for the caller to log; they never abort a batch.
func (m *Monitor) Process(ev models.FeedbackEvent) error {
	if ev.CorrelationID == "" {
		return fmt.Errorf("event has no correlation id")
	}

	lead, err := m.leads.GetByCorrelationID(ev.CorrelationID)
	if err != nil {
		return fmt.Errorf("failed to look up lead: %w", err)
	}
	if lead == nil {
		return fmt.Errorf("no lead for correlation id %s", ev.CorrelationID)
	}

	m.metrics.FeedbackEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	bucket := repository.Bucket(eventTime(ev))

	switch ev.Type {
	case models.FeedbackBounce:
		detail := ev.BounceType
		if ev.BounceSubType != "" {
			detail += "/" + ev.BounceSubType
		}
		changed, err := m.leads.MarkBounced(lead.ID, detail)
		if err != nil {
			return fmt.Errorf("failed to mark lead bounced: %w", err)
		}
		if !changed {
			return nil // duplicate event
		}
		if err := m.increment(lead.CampaignID, lead.Email, bucket, "bounces"); err != nil {
			return err
		}
		return m.checkThresholds(bucket)

	case models.FeedbackComplaint:
		changed, err := m.leads.MarkComplained(lead.ID, ev.Detail)
		if err != nil {
			return fmt.Errorf("failed to mark lead complained: %w", err)
		}
		if !changed {
			return nil
		}
		if err := m.increment(lead.CampaignID, lead.Email, bucket, "complaints"); err != nil {
			return err
		}
		return m.checkThresholds(bucket)

	case models.FeedbackDelivery:
		changed, err := m.leads.MarkDelivered(lead.ID)
		if err != nil {
			return fmt.Errorf("failed to mark lead delivered: %w", err)
		}
		if !changed {
			return nil
		}
		return m.increment(lead.CampaignID, lead.Email, bucket, "delivered")

	default:
		return fmt.Errorf("unknown feedback type %q", ev.Type)
	}
}

func eventTime(ev models.FeedbackEvent) time.Time {
	if ev.Timestamp.IsZero() {
		return time.Now()
	}
	return ev.Timestamp
}

// increment bumps the global window, the campaign's own window and the
// recipient domain's window
func (m *Monitor) increment(campaignID, recipient, bucket, counter string) error {
	if err := m.windows.Increment(models.ScopeGlobal, bucket, counter); err != nil {
		return err
	}
	if err := m.windows.Increment("campaign:"+campaignID, bucket, counter); err != nil {
		return err
	}
	domain := email.ExtractDomainOrDefault(recipient, "unknown")
	return m.windows.Increment("domain:"+domain, bucket, counter)
}

// checkThresholds recomputes the global window rates and, on a breach,
// pauses every running campaign. This is a hard stop: the conditional
// status update wins against any in-flight loop deciding to continue,
// because the loop re-reads its status before each lead.
func (m *Monitor) checkThresholds(bucket string) error {
	w, err := m.windows.Get(models.ScopeGlobal, bucket)
	if err != nil {
		return fmt.Errorf("failed to read reputation window: %w", err)
	}

	bounceRate := w.BounceRate()
	complaintRate := w.ComplaintRate()
	m.metrics.ReputationBounceRate.Set(bounceRate)
	m.metrics.ReputationComplaintRate.Set(complaintRate)

	var reason string
	switch {
	case bounceRate > m.cfg.MaxBounceRate:
		reason = fmt.Sprintf("bounce rate %.2f%% exceeds threshold %.2f%%",
			bounceRate*100, m.cfg.MaxBounceRate*100)
	case complaintRate > m.cfg.MaxComplaintRate:
		reason = fmt.Sprintf("complaint rate %.3f%% exceeds threshold %.3f%%",
			complaintRate*100, m.cfg.MaxComplaintRate*100)
	default:
		return nil
	}

	paused, err := m.campaigns.PauseAllRunning(reason)
	if err != nil {
		return fmt.Errorf("failed to pause campaigns: %w", err)
	}

	m.logger.Warn("reputation risk detected, campaigns paused",
		"reason", reason,
		"bounce_rate", bounceRate,
		"complaint_rate", complaintRate,
		"sent", w.Sent,
		"paused", paused,
	)
	m.metrics.ReputationPausesTotal.Inc()

	if err := m.audit.Append("reputation_pause", reason, map[string]any{
		"bucket":         bucket,
		"bounce_rate":    bounceRate,
		"complaint_rate": complaintRate,
		"sent":           w.Sent,
		"campaigns":      paused,
	}); err != nil {
		m.logger.Error("failed to write audit event", "error", err)
	}
	return nil
}

// RecordSent counts a successful send into the reputation windows. Called by
// the orchestrator right after a send is accepted.
func (m *Monitor) RecordSent(campaignID, recipient string) {
	bucket := repository.Bucket(time.Now())
	if err := m.increment(campaignID, recipient, bucket, "sent"); err != nil {
		m.logger.Error("failed to record sent", "campaign_id", campaignID, "error", err)
	}
}
