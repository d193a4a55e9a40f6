package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/pkg/logger"
	"github.com/sendquill/sendquill/internal/service/campaign"
	"github.com/sendquill/sendquill/internal/service/sending"
)

// =============================================================================
// CAMPAIGN SCHEDULER WORKER
// =============================================================================
// On every cron tick the scheduler lists SCHEDULED campaigns whose
// scheduled_at has passed, moves each into SENDING and runs the sender with
// the owner's token. Start is a compare-and-set, so when several workers race
// on the same campaign only one of them sends it.

const (
	// DefaultSpec is how often to check for due campaigns.
	DefaultSpec = "@every 1m"

	// DefaultBatchSize caps how many due campaigns one tick picks up.
	DefaultBatchSize = 50

	// tickTimeout bounds a single pass including the sends it triggers.
	tickTimeout = 30 * time.Minute
)

// Campaigns is the campaign lifecycle surface the scheduler needs.
type Campaigns interface {
	DueScheduled(ctx context.Context, limit int) ([]domain.Campaign, error)
	Start(ctx context.Context, userID, id string) (int, error)
}

// Runner delivers a campaign that is in SENDING.
type Runner interface {
	Process(ctx context.Context, userID, campaignID, accessToken string) (*sending.Result, error)
}

// TokenSource yields a campaign owner's access token.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// Config tunes the scheduler. Zero values use the defaults.
type Config struct {
	Spec      string
	BatchSize int
}

// Stats are cumulative counters since the scheduler was created.
type Stats struct {
	Started int64 `json:"started"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped"`
}

// Scheduler promotes due SCHEDULED campaigns and sends them.
type Scheduler struct {
	campaigns Campaigns
	sender    Runner
	tokens    TokenSource
	spec      string
	batchSize int
	cron      *cron.Cron

	started int64
	failed  int64
	skipped int64
}

// NewScheduler creates a scheduler. tokens may be nil when the transport does
// not use per-user credentials.
func NewScheduler(campaigns Campaigns, sender Runner, tokens TokenSource, cfg Config) *Scheduler {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	cl := cronLogger{}
	return &Scheduler{
		campaigns: campaigns,
		sender:    sender,
		tokens:    tokens,
		spec:      cfg.Spec,
		batchSize: cfg.BatchSize,
		cron:      cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
}

// Start registers the tick and starts the cron runner in the background.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
		defer cancel()
		s.Tick(ctx)
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	logger.Info("campaign scheduler started", "spec", s.spec, "batch_size", s.batchSize)
	return nil
}

// Stop halts the cron runner and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	st := s.Stats()
	logger.Info("campaign scheduler stopped", "started", st.Started, "failed", st.Failed, "skipped", st.Skipped)
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Started: atomic.LoadInt64(&s.started),
		Failed:  atomic.LoadInt64(&s.failed),
		Skipped: atomic.LoadInt64(&s.skipped),
	}
}

// Tick runs one pass and returns how many campaigns it started. One
// campaign's failure never stops the others.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.campaigns.DueScheduled(ctx, s.batchSize)
	if err != nil {
		logger.Error("list due campaigns failed", "error", err)
		return 0
	}
	if len(due) == 0 {
		return 0
	}
	logger.Info("due campaigns found", "count", len(due))

	started := 0
	for i := range due {
		if s.runOne(ctx, &due[i]) {
			started++
		}
	}
	return started
}

func (s *Scheduler) runOne(ctx context.Context, c *domain.Campaign) bool {
	log := logger.Default().With("campaign_id", c.ID, "user_id", c.UserID)

	token := ""
	if s.tokens != nil {
		t, err := s.tokens.AccessToken(ctx, c.UserID)
		if err != nil {
			// Left SCHEDULED so the next tick retries once the owner reconnects.
			atomic.AddInt64(&s.skipped, 1)
			log.Warn("scheduled campaign waiting for credentials", "error", err)
			return false
		}
		token = t
	}

	n, err := s.campaigns.Start(ctx, c.UserID, c.ID)
	if errors.Is(err, campaign.ErrInvalidTransition) {
		atomic.AddInt64(&s.skipped, 1)
		log.Debug("campaign already started elsewhere")
		return false
	}
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		log.Error("start scheduled campaign failed", "error", err)
		return false
	}
	atomic.AddInt64(&s.started, 1)
	log.Info("scheduled campaign started", "recipients", n)

	res, err := s.sender.Process(ctx, c.UserID, c.ID, token)
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		log.Error("scheduled send failed", "error", err)
		return true
	}
	log.Info("scheduled send finished", "status", res.Status, "sent", res.Sent, "failed", res.Failed)
	return true
}

// cronLogger routes robfig/cron output through the structured logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
