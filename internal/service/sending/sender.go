package sending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/metrics"
	"github.com/sendquill/sendquill/internal/personalize"
	"github.com/sendquill/sendquill/internal/pkg/distlock"
	"github.com/sendquill/sendquill/internal/pkg/logger"
	"github.com/sendquill/sendquill/internal/tracking"
)

// DefaultSendTimeout bounds a single transport call.
const DefaultSendTimeout = 30 * time.Second

// Result summarizes one sender run. Sent and Failed count only the
// recipients attempted in this run. Status is derived from every recipient
// of the campaign once all outcomes are stored; an incomplete run reports
// the status the campaign kept.
type Result struct {
	CampaignID string                `json:"campaign_id"`
	Status     domain.CampaignStatus `json:"status"`
	Attempted  int                   `json:"attempted"`
	Sent       int                   `json:"sent"`
	Failed     int                   `json:"failed"`
	Skipped    int                   `json:"skipped"`
}

// Config tunes a Sender. Zero values fall back to defaults.
type Config struct {
	SendTimeout time.Duration
	// Locks, when set, serializes runs per campaign across processes.
	Locks distlock.Factory
}

// Sender orchestrates campaign delivery.
type Sender struct {
	store        Store
	transport    Transport
	personalizer *personalize.Personalizer
	injector     *tracking.Injector
	locks        distlock.Factory
	sendTimeout  time.Duration
	now          func() time.Time
}

// NewSender wires a Sender from explicit dependencies.
func NewSender(store Store, transport Transport, injector *tracking.Injector, cfg Config) *Sender {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Sender{
		store:        store,
		transport:    transport,
		personalizer: personalize.New(),
		injector:     injector,
		locks:        cfg.Locks,
		sendTimeout:  timeout,
		now:          time.Now,
	}
}

// Process delivers every recipient of a SENDING campaign that is not yet
// SENT, then derives and stores the aggregate status. Re-invoking it after
// a crash only retries what was not delivered.
//
// The run is detached from ctx cancellation: once started it processes the
// whole list even if the caller goes away.
func (s *Sender) Process(ctx context.Context, userID, campaignID, accessToken string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	var res *Result
	err := s.withLock(ctx, campaignID, func(lock distlock.DistLock) error {
		c, err := s.authorize(ctx, userID, campaignID)
		if err != nil {
			return err
		}
		if c.Status != domain.CampaignSending {
			return fmt.Errorf("campaign %s is %s: %w", campaignID, c.Status, ErrNotSending)
		}

		var todo []int
		skipped := 0
		for i, r := range c.Recipients {
			if r.Status == domain.RecipientSent {
				skipped++
				continue
			}
			todo = append(todo, i)
		}
		res, err = s.run(ctx, lock, "process", c, todo, accessToken)
		if res != nil {
			res.Skipped = skipped
		}
		return err
	})
	return res, err
}

// Resend re-attempts a single FAILED recipient of a finished campaign.
// A recipient in any other state is rejected and nothing is changed.
func (s *Sender) Resend(ctx context.Context, userID, campaignID, recipientID, accessToken string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	var res *Result
	err := s.withLock(ctx, campaignID, func(lock distlock.DistLock) error {
		c, err := s.authorizeFinished(ctx, userID, campaignID)
		if err != nil {
			return err
		}
		idx := -1
		for i, r := range c.Recipients {
			if r.ID == recipientID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("recipient %s: %w", recipientID, ErrNotFound)
		}
		if c.Recipients[idx].Status != domain.RecipientFailed {
			return fmt.Errorf("recipient %s is %s: %w", recipientID, c.Recipients[idx].Status, ErrNotResendable)
		}
		res, err = s.run(ctx, lock, "resend", c, []int{idx}, accessToken)
		return err
	})
	return res, err
}

// ResendFailed re-attempts every FAILED recipient of a finished campaign.
func (s *Sender) ResendFailed(ctx context.Context, userID, campaignID, accessToken string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	var res *Result
	err := s.withLock(ctx, campaignID, func(lock distlock.DistLock) error {
		c, err := s.authorizeFinished(ctx, userID, campaignID)
		if err != nil {
			return err
		}
		var todo []int
		for i, r := range c.Recipients {
			if r.Status == domain.RecipientFailed {
				todo = append(todo, i)
			}
		}
		if len(todo) == 0 {
			res = &Result{CampaignID: c.ID, Status: c.Status}
			return nil
		}
		res, err = s.run(ctx, lock, "resend", c, todo, accessToken)
		return err
	})
	return res, err
}

// ResolveBody picks the HTML every recipient starts from: the campaign's own
// content, else its template's, else a placeholder paragraph.
func ResolveBody(c *domain.Campaign) string {
	if strings.TrimSpace(c.Content) != "" {
		return c.Content
	}
	if c.Template != nil && strings.TrimSpace(c.Template.Content) != "" {
		return c.Template.Content
	}
	return personalize.NoContent
}

// run sends to the recipients at the given indexes of c.Recipients, updating
// them in place, then persists the status derived from all recipients.
// The run lock is refreshed before each recipient and the run stops if it
// was lost. The aggregate status is written only when every outcome of the
// run was stored.
func (s *Sender) run(ctx context.Context, lock distlock.DistLock, kind string, c *domain.Campaign, todo []int, accessToken string) (*Result, error) {
	log := logger.Default().With("campaign_id", c.ID, "run", kind)
	transport := string(s.transport.Kind())
	body := ResolveBody(c)
	res := &Result{CampaignID: c.ID, Status: c.Status}
	log.Info("send run started", "recipients", len(todo), "transport", transport)

	var authErr, haltErr error
	unrecorded := 0
	for _, i := range todo {
		r := &c.Recipients[i]
		if lock != nil {
			if err := lock.Refresh(ctx); err != nil {
				haltErr = fmt.Errorf("campaign %s stopped before recipient %s: %w: %v", c.ID, r.ID, ErrRunIncomplete, err)
				log.Error("send lock lost, stopping run", "recipient_id", r.ID, "error", err)
				break
			}
		}
		res.Attempted++

		if authErr != nil {
			// The token is known bad; don't hit the provider again.
			if err := s.fail(ctx, log, r, "not attempted: "+authErr.Error()); err != nil {
				unrecorded++
			}
			metrics.ObserveRecipient(transport, "skipped")
			res.Failed++
			continue
		}

		result, err := s.sendOne(ctx, c, body, r, accessToken)
		if err != nil {
			if errors.Is(err, ErrAuthExpired) {
				authErr = err
				log.Warn("authorization rejected, failing remaining recipients", "recipient_id", r.ID, "error", err)
			}
			if err := s.fail(ctx, log, r, err.Error()); err != nil {
				unrecorded++
			}
			metrics.ObserveRecipient(transport, "failed")
			res.Failed++
			continue
		}

		at := result.SentAt
		if at.IsZero() {
			at = s.now().UTC()
		}
		if err := s.store.MarkRecipientSent(ctx, r.ID, result.MessageID, at); err != nil {
			unrecorded++
			log.Error("mark recipient sent failed", "recipient_id", r.ID, "error", err)
		}
		r.Status = domain.RecipientSent
		r.SentAt = &at
		r.MessageID = result.MessageID
		metrics.ObserveRecipient(transport, "sent")
		res.Sent++
	}

	var runErr error
	switch {
	case haltErr != nil:
		runErr = haltErr
	case unrecorded > 0:
		runErr = fmt.Errorf("campaign %s: %d recipient outcomes not stored: %w", c.ID, unrecorded, ErrRunIncomplete)
		log.Error("leaving campaign status unchanged", "status", c.Status, "unrecorded", unrecorded)
	default:
		derived := deriveStatus(c.Recipients)
		if derived != c.Status || domain.CanTransition(c.Status, derived) {
			if err := s.store.SetCampaignStatus(ctx, c.ID, derived); err != nil {
				runErr = fmt.Errorf("persist campaign status %s: %w: %v", derived, ErrRunIncomplete, err)
				log.Error("persist campaign status failed", "status", derived, "error", err)
				break
			}
		}
		res.Status = derived
	}
	metrics.ObserveRun(kind, string(res.Status))
	log.Info("send run finished",
		"status", res.Status, "attempted", res.Attempted, "sent", res.Sent, "failed", res.Failed)

	if authErr != nil {
		authErr = fmt.Errorf("campaign %s: %w", c.ID, authErr)
		if runErr != nil {
			return res, errors.Join(authErr, runErr)
		}
		return res, authErr
	}
	return res, runErr
}

func (s *Sender) sendOne(ctx context.Context, c *domain.Campaign, body string, r *domain.Recipient, accessToken string) (*domain.SendResult, error) {
	if r.Contact == nil {
		return nil, errors.New("recipient has no contact")
	}

	fields, err := personalize.ParseFields(r.Contact.Fields)
	if err != nil {
		logger.Warn("unreadable contact fields, personalizing without them",
			"recipient_id", r.ID, "contact_id", r.ContactID, "error", err)
		fields = nil
	}

	html := s.personalizer.Personalize(body, r.Contact.Email, fields)
	html = s.injector.Inject(html, r.ID)

	msg := &domain.EmailMessage{
		CampaignID:  c.ID,
		RecipientID: r.ID,
		To:          r.Contact.Email,
		Subject:     c.Subject,
		HTMLBody:    html,
	}

	sctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.transport.Send(sctx, msg, accessToken)
	metrics.ObserveTransport(string(s.transport.Kind()), time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("send timed out after %s: %w", s.sendTimeout, err)
		}
		return nil, err
	}
	if result == nil {
		return nil, errors.New("transport returned no result")
	}
	return result, nil
}

// fail marks r FAILED in memory and in the store. The store error, if any,
// is returned after logging.
func (s *Sender) fail(ctx context.Context, log *logger.Logger, r *domain.Recipient, reason string) error {
	err := s.store.MarkRecipientFailed(ctx, r.ID, reason)
	if err != nil {
		log.Error("mark recipient failed failed", "recipient_id", r.ID, "error", err)
	}
	r.Status = domain.RecipientFailed
	r.LastError = reason
	log.Warn("recipient failed", "recipient_id", r.ID, "email", r.Email(), "reason", reason)
	return err
}

func deriveStatus(recipients []domain.Recipient) domain.CampaignStatus {
	sent, failed := 0, 0
	for _, r := range recipients {
		switch r.Status {
		case domain.RecipientSent:
			sent++
		case domain.RecipientFailed:
			failed++
		}
	}
	return domain.DeriveCampaignStatus(sent, failed)
}

// authorize loads the campaign and checks that userID owns it.
func (s *Sender) authorize(ctx context.Context, userID, campaignID string) (*domain.Campaign, error) {
	c, err := s.store.LoadCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	return c, nil
}

func (s *Sender) authorizeFinished(ctx context.Context, userID, campaignID string) (*domain.Campaign, error) {
	c, err := s.authorize(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.IsTerminal() {
		return nil, fmt.Errorf("campaign %s is %s: %w", campaignID, c.Status, ErrCampaignBusy)
	}
	return c, nil
}

// withLock runs fn under the campaign's run lock. fn receives the held lock,
// or nil when no lock factory is configured.
func (s *Sender) withLock(ctx context.Context, campaignID string, fn func(lock distlock.DistLock) error) error {
	if s.locks == nil {
		return fn(nil)
	}
	lock := s.locks("campaign-send:" + campaignID)
	err := distlock.Run(ctx, lock, func() error { return fn(lock) })
	if errors.Is(err, distlock.ErrNotAcquired) {
		return fmt.Errorf("campaign %s: %w", campaignID, ErrAlreadyRunning)
	}
	return err
}
