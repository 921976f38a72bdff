// Package orchestrator drives campaign execution: the state machine, the
// detached runner goroutine per running campaign, and crash recovery.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tealmail/drip/internal/errs"
	"github.com/tealmail/drip/internal/lock"
	"github.com/tealmail/drip/internal/metrics"
	"github.com/tealmail/drip/internal/models"
	"github.com/tealmail/drip/internal/pacing"
	"github.com/tealmail/drip/internal/reputation"
	"github.com/tealmail/drip/internal/repository"
	"github.com/tealmail/drip/internal/sender"
	"github.com/tealmail/drip/internal/template"
	"github.com/tealmail/drip/internal/verify"
)

// Verifier validates one recipient address. Degraded results are still
// results, never errors.
type Verifier interface {
	Verify(ctx context.Context, email string) verify.Result
	BreakerState() verify.BreakerState
}

// Config tunes campaign execution
type Config struct {
	// LockTTL is the lease duration; the runner refreshes at LockTTL/4
	LockTTL time.Duration `yaml:"lock_ttl"`
	// StaleThreshold is how far past expiry a lock must be before Recover
	// reclaims it
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	// SendTimeout bounds a single relay delivery
	SendTimeout time.Duration `yaml:"send_timeout"`

	// Pacing defaults applied when a campaign carries none of its own
	MinDelayMs int `yaml:"min_delay_ms"`
	MaxDelayMs int `yaml:"max_delay_ms"`

	// DailyQuota enables working-hours volume shaping when positive
	DailyQuota   int           `yaml:"daily_quota"`
	SlotDuration time.Duration `yaml:"slot_duration"`
	Hours        pacing.Hours  `yaml:"hours"`

	// MaxDeferred caps how far ahead Plan may defer a send before it
	// splits the remainder into a later batch
	MaxDeferred time.Duration `yaml:"max_deferred"`
}

// DefaultConfig returns conservative execution defaults
func DefaultConfig() Config {
	return Config{
		LockTTL:        2 * time.Minute,
		StaleThreshold: 10 * time.Minute,
		SendTimeout:    30 * time.Second,
		MinDelayMs:     2000,
		MaxDelayMs:     30000,
		SlotDuration:   time.Hour,
		Hours:          pacing.DefaultHours,
		MaxDeferred:    time.Hour,
	}
}

// Orchestrator owns campaign lifecycle transitions and running loops
type Orchestrator struct {
	cfg       Config
	campaigns *repository.CampaignRepository
	leads     *repository.LeadRepository
	audit     *repository.AuditRepository
	locks     *lock.Manager
	verifier  Verifier
	sender    sender.Sender
	monitor   *reputation.Monitor
	templates *template.Engine
	rng       pacing.Rand
	metrics   *metrics.Metrics
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// interrupts holds one cancel func per live runner so Pause and Abort
	// can cut a pending pacing sleep short instead of waiting it out
	mu         sync.Mutex
	interrupts map[string]context.CancelFunc
}

// New creates an orchestrator. The monitor may be nil when reputation
// tracking is disabled.
func New(
	cfg Config,
	campaigns *repository.CampaignRepository,
	leads *repository.LeadRepository,
	audit *repository.AuditRepository,
	locks *lock.Manager,
	verifier Verifier,
	snd sender.Sender,
	monitor *reputation.Monitor,
	rng pacing.Rand,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.MaxDeferred <= 0 {
		cfg.MaxDeferred = time.Hour
	}
	if rng == nil {
		rng = pacing.CryptoSource{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		campaigns:  campaigns,
		leads:      leads,
		audit:      audit,
		locks:      locks,
		verifier:   verifier,
		sender:     snd,
		monitor:    monitor,
		templates:  template.NewEngine(),
		rng:        rng,
		metrics:    m,
		logger:     logger.With("component", "orchestrator"),
		ctx:        ctx,
		cancel:     cancel,
		interrupts: make(map[string]context.CancelFunc),
	}
}

// Start begins execution of a draft or queued campaign. It returns as soon
// as the runner goroutine is launched; progress is reported by the status
// endpoint, not by this call.
func (o *Orchestrator) Start(id string) error {
	c, err := o.campaigns.GetByID(id)
	if err != nil {
		return err
	}
	if c == nil {
		return errs.Newf(errs.KindValidation, "campaign %s not found", id)
	}
	if c.Status == models.CampaignRunning {
		return errs.New(errs.KindConflict, "campaign is already running")
	}
	if c.Status.Terminal() {
		return errs.Newf(errs.KindConflict, "campaign is %s and cannot be started", c.Status)
	}
	if c.Status == models.CampaignPaused {
		return errs.New(errs.KindConflict, "campaign is paused, use resume")
	}

	total, err := o.leads.Count(id)
	if err != nil {
		return err
	}
	if total == 0 {
		return errs.New(errs.KindValidation, "campaign has no leads")
	}
	if err := o.campaigns.SetTotalLeads(id, total); err != nil {
		return err
	}

	return o.launch(id, []models.CampaignStatus{models.CampaignDraft, models.CampaignQueued})
}

// Resume continues a paused campaign from its checkpoint
func (o *Orchestrator) Resume(id string) error {
	c, err := o.campaigns.GetByID(id)
	if err != nil {
		return err
	}
	if c == nil {
		return errs.Newf(errs.KindValidation, "campaign %s not found", id)
	}
	if c.Status != models.CampaignPaused {
		return errs.Newf(errs.KindConflict, "campaign is %s, only paused campaigns resume", c.Status)
	}
	return o.launch(id, []models.CampaignStatus{models.CampaignPaused})
}

// launch acquires the campaign lease, flips the status to running and
// detaches the runner. The lease is released on every runner exit path.
func (o *Orchestrator) launch(id string, from []models.CampaignStatus) error {
	token, err := o.locks.Acquire(id, o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			o.metrics.LockConflictsTotal.Inc()
			return errs.New(errs.KindConflict, "campaign is already running")
		}
		return fmt.Errorf("failed to acquire campaign lock: %w", err)
	}

	if err := o.campaigns.Transition(id, from, models.CampaignRunning, ""); err != nil {
		if relErr := o.locks.Release(id, token); relErr != nil {
			o.logger.Error("failed to release lock after transition failure",
				"campaign_id", id, "error", relErr)
		}
		return err
	}
	o.metrics.CampaignTransitionsTotal.WithLabelValues(string(models.CampaignRunning)).Inc()
	o.auditTransition(id, models.CampaignRunning, "")

	runCtx, cancel := context.WithCancel(o.ctx)
	o.mu.Lock()
	o.interrupts[id] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(runCtx, id, token)
	return nil
}

// interrupt wakes a runner out of any pacing or quota sleep. The runner
// then re-reads the status row and acts on what it finds there.
func (o *Orchestrator) interrupt(id string) {
	o.mu.Lock()
	cancel := o.interrupts[id]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// clearInterrupt runs on every runner exit path, before the lease is
// released, so a relaunched runner never has its entry removed.
func (o *Orchestrator) clearInterrupt(id string) {
	o.mu.Lock()
	cancel := o.interrupts[id]
	delete(o.interrupts, id)
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause asks a running campaign's loop to stop after the current lead.
// The conditional update is the signal; the loop observes it on its next
// status re-read.
func (o *Orchestrator) Pause(id string) error {
	err := o.campaigns.Transition(id,
		[]models.CampaignStatus{models.CampaignRunning},
		models.CampaignPaused, "operator pause")
	if err != nil {
		return err
	}
	o.metrics.CampaignTransitionsTotal.WithLabelValues(string(models.CampaignPaused)).Inc()
	o.auditTransition(id, models.CampaignPaused, "operator pause")
	o.interrupt(id)
	return nil
}

// Abort stops a campaign permanently. A running campaign passes through
// ABORTING until its loop acknowledges; a paused or queued one aborts
// immediately.
func (o *Orchestrator) Abort(id string) error {
	err := o.campaigns.Transition(id,
		[]models.CampaignStatus{models.CampaignRunning},
		models.CampaignAborting, "operator abort")
	if err == nil {
		o.metrics.CampaignTransitionsTotal.WithLabelValues(string(models.CampaignAborting)).Inc()
		o.auditTransition(id, models.CampaignAborting, "operator abort")
		o.interrupt(id)
		return nil
	}
	if !errs.IsConflict(err) {
		return err
	}

	err = o.campaigns.Transition(id,
		[]models.CampaignStatus{models.CampaignPaused, models.CampaignQueued},
		models.CampaignAborted, "operator abort")
	if err != nil {
		return err
	}
	o.metrics.CampaignTransitionsTotal.WithLabelValues(string(models.CampaignAborted)).Inc()
	o.auditTransition(id, models.CampaignAborted, "operator abort")
	return nil
}

// PlanReport previews how a campaign's remaining sends spread over time
type PlanReport struct {
	Remaining        int     `json:"remaining"`
	Batches          int     `json:"batches"`
	BatchSizes       []int   `json:"batch_sizes,omitempty"`
	EstimatedSeconds float64 `json:"estimated_seconds"`
}

// Plan draws a send schedule for the campaign's remaining leads: gaussian
// delays accumulated into offsets, split into batches at the deferral
// horizon. The draw is an estimate; the live loop draws its own delays.
func (o *Orchestrator) Plan(id string) (*PlanReport, error) {
	c, err := o.campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errs.Newf(errs.KindValidation, "campaign %s not found", id)
	}
	total, err := o.leads.Count(id)
	if err != nil {
		return nil, err
	}

	remaining := total - c.ResumePosition
	if remaining < 0 {
		remaining = 0
	}
	report := &PlanReport{Remaining: remaining}
	if remaining == 0 {
		return report, nil
	}

	pace := c.Pacing
	if pace.MaxDelayMs <= 0 {
		pace.MinDelayMs = o.cfg.MinDelayMs
		pace.MaxDelayMs = o.cfg.MaxDelayMs
	}
	batches := pacing.Schedule(o.rng, remaining, pace.MinDelayMs, pace.MaxDelayMs,
		pace.GaussianMean, pace.GaussianStdDev, o.cfg.MaxDeferred)

	var totalSpan time.Duration
	for _, b := range batches {
		report.BatchSizes = append(report.BatchSizes, len(b))
		totalSpan += b[len(b)-1]
	}
	report.Batches = len(batches)
	report.EstimatedSeconds = totalSpan.Seconds()
	return report, nil
}

// RecoverReport summarizes a recovery pass
type RecoverReport struct {
	StaleLocksCleared int      `json:"stale_locks_cleared"`
	CampaignsPaused   []string `json:"campaigns_paused"`
}

// Recover clears stale leases and parks campaigns stranded RUNNING by a
// crash. Parked campaigns stay paused until an operator resumes them;
// nothing restarts automatically.
func (o *Orchestrator) Recover() (*RecoverReport, error) {
	cleared, err := o.locks.CleanupStale(o.cfg.StaleThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to clear stale locks: %w", err)
	}
	o.metrics.StaleLocksClearedTotal.Add(float64(cleared))

	report := &RecoverReport{StaleLocksCleared: cleared}

	running, err := o.campaigns.ListByStatus(models.CampaignRunning)
	if err != nil {
		return nil, err
	}
	for _, c := range running {
		l, err := o.locks.Get(c.ID)
		if err != nil {
			return nil, err
		}
		if l != nil && time.Now().Before(l.ExpiresAt) {
			// live runner, leave it alone
			continue
		}
		err = o.campaigns.Transition(c.ID,
			[]models.CampaignStatus{models.CampaignRunning},
			models.CampaignPaused, "interrupted by restart")
		if err != nil {
			if errs.IsConflict(err) {
				continue
			}
			return nil, err
		}
		o.metrics.CampaignTransitionsTotal.WithLabelValues(string(models.CampaignPaused)).Inc()
		o.auditTransition(c.ID, models.CampaignPaused, "interrupted by restart")
		report.CampaignsPaused = append(report.CampaignsPaused, c.ID)
	}

	o.logger.Info("recovery pass complete",
		"stale_locks_cleared", cleared,
		"campaigns_paused", len(report.CampaignsPaused),
	)
	return report, nil
}

// Shutdown stops all running loops and waits for them to park their
// campaigns. Bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) auditTransition(id string, to models.CampaignStatus, reason string) {
	if o.audit == nil {
		return
	}
	meta := map[string]any{"campaign_id": id, "status": string(to)}
	if reason != "" {
		meta["reason"] = reason
	}
	if err := o.audit.Append("campaign_transition", fmt.Sprintf("campaign %s -> %s", id, to), meta); err != nil {
		o.logger.Error("failed to write audit event", "campaign_id", id, "error", err)
	}
}
