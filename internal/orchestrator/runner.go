package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tealmail/drip/internal/errs"
	"github.com/tealmail/drip/internal/lock"
	"github.com/tealmail/drip/internal/models"
	"github.com/tealmail/drip/internal/pacing"
	"github.com/tealmail/drip/internal/sender"
	"github.com/tealmail/drip/internal/template"
)

// quotaPollInterval bounds how long the loop sleeps while waiting for
// working hours or slot allowance, so pause and abort stay responsive.
const quotaPollInterval = 30 * time.Second

// run is the detached execution loop for one campaign. It owns the lease
// for its lifetime and releases it on every exit path. ctx is the
// per-runner context: Pause and Abort cancel it to cut sleeps short.
func (o *Orchestrator) run(ctx context.Context, id, token string) {
	defer o.wg.Done()

	logger := o.logger.With("campaign_id", id)
	o.metrics.CampaignsActive.Inc()
	defer o.metrics.CampaignsActive.Dec()

	defer func() {
		if err := o.locks.Release(id, token); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			logger.Error("failed to release campaign lock", "error", err)
		}
	}()

	// lost is closed by the refresh loop when the lease is reclaimed;
	// sending without a lease would break mutual exclusion.
	lost := make(chan struct{})
	refreshDone := make(chan struct{})
	defer close(refreshDone)
	go o.refreshLoop(id, token, refreshDone, lost, logger)

	defer o.clearInterrupt(id)

	c, err := o.campaigns.GetByID(id)
	if err != nil {
		o.fail(id, "failed to load campaign: "+err.Error(), logger)
		return
	}
	if c == nil {
		logger.Error("campaign disappeared before loop start")
		return
	}

	pace := c.Pacing
	if pace.MaxDelayMs <= 0 {
		pace.MinDelayMs = o.cfg.MinDelayMs
		pace.MaxDelayMs = o.cfg.MaxDelayMs
	}

	logger.Info("campaign loop started",
		"resume_position", c.ResumePosition,
		"total_leads", c.TotalLeads,
	)

	quota := newQuotaTracker(o.cfg)
	pos := c.ResumePosition

	for {
		select {
		case <-lost:
			o.fail(id, "campaign lock lost", logger)
			return
		default:
		}
		if o.ctx.Err() != nil {
			o.park(id, "shutdown", logger)
			return
		}

		// The status row is the control channel: pause, abort and the
		// reputation monitor all signal the loop through it.
		status, err := o.campaigns.Status(id)
		if err != nil {
			o.fail(id, "failed to read campaign status: "+err.Error(), logger)
			return
		}
		switch status {
		case models.CampaignRunning:
		case models.CampaignPaused:
			logger.Info("campaign paused, loop exiting", "position", pos)
			return
		case models.CampaignAborting:
			o.finishAbort(id, logger)
			return
		default:
			logger.Warn("campaign left running state externally, loop exiting",
				"status", status)
			return
		}

		if wait := quota.wait(time.Now()); wait > 0 {
			select {
			case <-ctx.Done():
			case <-lost:
			case <-time.After(wait):
			}
			continue
		}

		lead, err := o.leads.GetByPosition(id, pos)
		if err != nil {
			o.fail(id, "failed to load lead: "+err.Error(), logger)
			return
		}
		if lead == nil {
			o.complete(id, logger)
			return
		}

		delta, sent, err := o.processLead(c, lead, logger)
		if err != nil {
			o.fail(id, "failed to record lead outcome: "+err.Error(), logger)
			return
		}

		// Checkpoint before any sleep: a crash from here on resumes at
		// the next lead and never re-sends this one.
		if err := o.campaigns.Checkpoint(id, pos+1, delta); err != nil {
			o.fail(id, "failed to checkpoint: "+err.Error(), logger)
			return
		}
		pos++

		if sent {
			quota.recordSend()
			d := pacing.Delay(o.rng, pace.MinDelayMs, pace.MaxDelayMs,
				pace.GaussianMean, pace.GaussianStdDev)
			o.metrics.SendDelaySeconds.Observe(d.Seconds())
			select {
			case <-ctx.Done():
			case <-lost:
			case <-time.After(d):
			}
		}
	}
}

// processLead verifies and sends one lead. Per-lead failures are recorded
// and returned as counter deltas; only persistence failures come back as
// errors and fail the campaign.
func (o *Orchestrator) processLead(c *models.Campaign, lead *models.Lead, logger *slog.Logger) (models.CampaignCounters, bool, error) {
	var delta models.CampaignCounters

	// Already terminal from a previous run, advance past it
	if lead.Status != models.LeadQueued {
		return delta, false, nil
	}

	// The in-flight lead always finishes on the process context: pause and
	// abort take effect between leads, never by degrading a verify or
	// cutting a send mid-flight.
	res := o.verifier.Verify(o.ctx, lead.Email)
	o.metrics.VerificationsTotal.WithLabelValues(string(res.Status)).Inc()
	o.metrics.BreakerState.Set(float64(o.verifier.BreakerState()))

	if !res.Valid || res.Risky {
		if err := o.leads.UpdateStatus(lead.ID, models.LeadSkipped, string(res.Status)); err != nil {
			return delta, false, err
		}
		o.metrics.LeadsProcessedTotal.WithLabelValues("skipped").Inc()
		delta.Skipped = 1
		return delta, false, nil
	}

	subject, body, err := o.templates.Render(c.Subject, c.Body, template.Data{
		Name:     lead.Name,
		Email:    lead.Email,
		Campaign: c.Name,
	})
	if err != nil {
		logger.Warn("template render failed", "lead_id", lead.ID, "error", err)
		if uerr := o.leads.UpdateStatus(lead.ID, models.LeadError, err.Error()); uerr != nil {
			return delta, false, uerr
		}
		o.metrics.LeadsProcessedTotal.WithLabelValues("error").Inc()
		delta.Errored = 1
		return delta, false, nil
	}

	correlationID := uuid.New().String()
	msg := &sender.Message{
		From:          c.FromEmail,
		FromName:      c.FromName,
		To:            lead.Email,
		ToName:        lead.Name,
		Subject:       subject,
		Body:          body,
		CorrelationID: correlationID,
	}

	sendCtx, cancel := context.WithTimeout(o.ctx, o.cfg.SendTimeout)
	err = o.sender.Send(sendCtx, msg)
	cancel()
	if err != nil {
		logger.Warn("send failed", "lead_id", lead.ID, "email", lead.Email, "error", err)
		if uerr := o.leads.UpdateStatus(lead.ID, models.LeadError, err.Error()); uerr != nil {
			return delta, false, uerr
		}
		o.metrics.LeadsProcessedTotal.WithLabelValues("error").Inc()
		delta.Errored = 1
		return delta, false, nil
	}

	if err := o.leads.MarkSent(lead.ID, correlationID); err != nil {
		return delta, true, err
	}
	if o.monitor != nil {
		o.monitor.RecordSent(c.ID, lead.Email)
	}
	o.metrics.LeadsProcessedTotal.WithLabelValues("sent").Inc()
	delta.Processed = 1
	return delta, true, nil
}

// refreshLoop keeps the lease alive while the runner works. Losing the
// lease closes lost, which aborts the execution loop: another holder may
// already own the campaign.
func (o *Orchestrator) refreshLoop(id, token string, done <-chan struct{}, lost chan<- struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(o.cfg.LockTTL / 4)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := o.locks.Refresh(id, token, o.cfg.LockTTL); err != nil {
				logger.Error("failed to refresh campaign lock", "error", err)
				if errors.Is(err, lock.ErrNotHeld) {
					close(lost)
					return
				}
			}
		}
	}
}

func (o *Orchestrator) complete(id string, logger *slog.Logger) {
	err := o.campaigns.Transition(id,
		[]models.CampaignStatus{models.CampaignRunning},
		models.CampaignCompleted, "")
	if err != nil {
		logger.Error("failed to mark campaign completed", "error", err)
		return
	}
	o.metrics.CampaignTransitionsTotal.WithLabelValues(string(models.CampaignCompleted)).Inc()
	o.auditTransition(id, models.CampaignCompleted, "")
	logger.Info("campaign completed")
}

func (o *Orchestrator) finishAbort(id string, logger *slog.Logger) {
	err := o.campaigns.Transition(id,
		[]models.CampaignStatus{models.CampaignAborting},
		models.CampaignAborted, "operator abort")
	if err != nil {
		logger.Error("failed to mark campaign aborted", "error", err)
		return
	}
	o.metrics.CampaignTransitionsTotal.WithLabelValues(string(models.CampaignAborted)).Inc()
	o.auditTransition(id, models.CampaignAborted, "operator abort")
	logger.Info("campaign aborted")
}

// fail marks the campaign FAILED after an unrecoverable loop error
func (o *Orchestrator) fail(id, reason string, logger *slog.Logger) {
	logger.Error("campaign loop failed", "reason", reason)
	err := o.campaigns.Transition(id,
		[]models.CampaignStatus{models.CampaignRunning, models.CampaignAborting, models.CampaignPaused},
		models.CampaignFailed, reason)
	if err != nil {
		logger.Error("failed to mark campaign failed", "error", err)
		return
	}
	o.metrics.CampaignTransitionsTotal.WithLabelValues(string(models.CampaignFailed)).Inc()
	o.auditTransition(id, models.CampaignFailed, reason)
}

// park moves a running campaign to paused when the process is shutting
// down, so a later resume picks up from the checkpoint.
func (o *Orchestrator) park(id, reason string, logger *slog.Logger) {
	err := o.campaigns.Transition(id,
		[]models.CampaignStatus{models.CampaignRunning},
		models.CampaignPaused, reason)
	if err != nil {
		if !errs.IsConflict(err) {
			logger.Error("failed to park campaign", "error", err)
		}
		return
	}
	o.metrics.CampaignTransitionsTotal.WithLabelValues(string(models.CampaignPaused)).Inc()
	o.auditTransition(id, models.CampaignPaused, reason)
	logger.Info("campaign parked for shutdown")
}

// quotaTracker enforces the working-hours volume curve when a daily quota
// is configured. Disabled (always zero wait) when the quota is zero.
type quotaTracker struct {
	enabled   bool
	hours     pacing.Hours
	slot      time.Duration
	quota     int
	day       string
	sentToday int
	slotStart time.Time
	slotSent  int
}

func newQuotaTracker(cfg Config) *quotaTracker {
	return &quotaTracker{
		enabled: cfg.DailyQuota > 0,
		hours:   cfg.Hours,
		slot:    cfg.SlotDuration,
		quota:   cfg.DailyQuota,
	}
}

// wait returns how long to sleep before the next send is allowed, or zero
// when a send may proceed now.
func (q *quotaTracker) wait(now time.Time) time.Duration {
	if !q.enabled {
		return 0
	}

	day := now.UTC().Format("2006-01-02")
	if day != q.day {
		q.day = day
		q.sentToday = 0
	}
	slotStart := now.Truncate(q.slot)
	if !slotStart.Equal(q.slotStart) {
		q.slotStart = slotStart
		q.slotSent = 0
	}

	remaining := q.quota - q.sentToday
	allowed := pacing.SlotVolume(q.hours, now, q.slot, remaining)
	if q.slotSent < allowed {
		return 0
	}

	untilNextSlot := slotStart.Add(q.slot).Sub(now)
	if untilNextSlot > quotaPollInterval {
		return quotaPollInterval
	}
	if untilNextSlot < time.Second {
		return time.Second
	}
	return untilNextSlot
}

func (q *quotaTracker) recordSend() {
	if !q.enabled {
		return
	}
	q.sentToday++
	q.slotSent++
}
