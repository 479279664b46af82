// Package pipeline drives the scheduled mailbox polls that feed the
// postmaster.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/connector"
)

const (
	defaultSchedule        = "0 * * * * *" // every minute, at second 0
	defaultTimeout         = 5 * time.Minute
	defaultMaxAuthFailures = 5
)

// PollTask polls every configured mailbox once per scheduled run. Accounts
// that fail authentication repeatedly are halted permanently until restart
// so a revoked credential does not hammer the mail server forever.
type PollTask struct {
	accounts []connector.Account
	factory  connector.Factory
	handler  connector.Handler
	marks    MarkStore

	schedule        string
	timeout         time.Duration
	maxAuthFailures int
	cutoff          time.Time
	logger          *log.Logger
	metrics         *pollMetrics

	mu           sync.Mutex
	authFailures map[int64]int
	halted       map[int64]bool
}

// PollTaskOption customizes the task.
type PollTaskOption func(*PollTask)

// NewPollTask builds the mailbox polling task.
func NewPollTask(accounts []connector.Account, factory connector.Factory, handler connector.Handler, marks MarkStore, opts ...PollTaskOption) *PollTask {
	t := &PollTask{
		accounts:        accounts,
		factory:         factory,
		handler:         handler,
		marks:           marks,
		schedule:        defaultSchedule,
		timeout:         defaultTimeout,
		maxAuthFailures: defaultMaxAuthFailures,
		logger:          log.Default(),
		metrics:         globalPollMetrics(),
		authFailures:    make(map[int64]int),
		halted:          make(map[int64]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// WithPollSchedule overrides the cron expression.
func WithPollSchedule(schedule string) PollTaskOption {
	return func(t *PollTask) {
		if schedule != "" {
			t.schedule = schedule
		}
	}
}

// WithPollTimeout overrides the per-run timeout.
func WithPollTimeout(timeout time.Duration) PollTaskOption {
	return func(t *PollTask) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

// WithPollMaxAuthFailures overrides the consecutive-failure ceiling.
func WithPollMaxAuthFailures(n int) PollTaskOption {
	return func(t *PollTask) {
		if n > 0 {
			t.maxAuthFailures = n
		}
	}
}

// WithPollCutoff sets the timestamp before which mail is never fetched. It
// floors the high-water mark, so the first poll of a pre-existing mailbox
// does not ingest its entire history.
func WithPollCutoff(cutoff time.Time) PollTaskOption {
	return func(t *PollTask) {
		t.cutoff = cutoff
	}
}

// WithPollLogger overrides the logger.
func WithPollLogger(logger *log.Logger) PollTaskOption {
	return func(t *PollTask) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func withPollMetrics(m *pollMetrics) PollTaskOption {
	return func(t *PollTask) {
		t.metrics = m
	}
}

// Name implements runner.Task.
func (t *PollTask) Name() string { return "mailbox_poll" }

// Schedule implements runner.Task.
func (t *PollTask) Schedule() string { return t.schedule }

// Timeout implements runner.Task.
func (t *PollTask) Timeout() time.Duration { return t.timeout }

// Run polls each active mailbox once.
func (t *PollTask) Run(ctx context.Context) error {
	done := t.metrics.recordRun(len(t.accounts))
	defer done()

	var firstErr error
	for _, account := range t.accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.isHalted(account.ID) {
			continue
		}
		if err := t.pollAccount(ctx, account); err != nil {
			t.logger.Printf("pipeline: poll %s failed: %v", account.Name, err)
			t.metrics.recordAccount(account, false)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		t.metrics.recordAccount(account, true)
	}
	t.metrics.setHalted(t.haltedCount())
	return firstErr
}

// Halted reports whether the mailbox was taken out of rotation.
func (t *PollTask) Halted(accountID int64) bool {
	return t.isHalted(accountID)
}

func (t *PollTask) pollAccount(ctx context.Context, account connector.Account) error {
	fetcher, err := t.factory.FetcherFor(account)
	if err != nil {
		return err
	}
	since, err := t.marks.Get(ctx, account.ID)
	if err != nil {
		return err
	}
	if since.Before(t.cutoff) {
		since = t.cutoff
	}

	batch := &batchHandler{
		inner:   t.handler,
		logger:  t.logger,
		metrics: t.metrics,
	}
	if err := fetcher.Fetch(ctx, account, since, batch); err != nil {
		if errors.Is(err, connector.ErrAuthFailed) {
			t.recordAuthFailure(account)
		}
		// The mark stays put on a fetch error so the next run retries the
		// same window.
		return err
	}
	t.resetAuthFailures(account.ID)

	if !batch.maxReceived.IsZero() {
		if err := t.marks.Set(ctx, account.ID, batch.maxReceived); err != nil {
			return err
		}
	}
	return nil
}

func (t *PollTask) recordAuthFailure(account connector.Account) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.authFailures[account.ID]++
	if t.authFailures[account.ID] >= t.maxAuthFailures {
		t.halted[account.ID] = true
		t.logger.Printf("pipeline: halting mailbox %s after %d consecutive auth failures", account.Name, t.authFailures[account.ID])
	}
}

func (t *PollTask) resetAuthFailures(accountID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.authFailures, accountID)
}

func (t *PollTask) isHalted(accountID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.halted[accountID]
}

func (t *PollTask) haltedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.halted)
}

// batchHandler isolates per-message failures: one malformed message is
// logged and skipped instead of aborting the whole batch, and the high-water
// mark still only advances past messages the postmaster accepted.
type batchHandler struct {
	inner       connector.Handler
	logger      *log.Logger
	metrics     *pollMetrics
	maxReceived time.Time
}

func (b *batchHandler) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	if err := b.inner.Handle(ctx, msg); err != nil {
		b.metrics.recordMessage(false)
		if b.logger != nil {
			b.logger.Printf("pipeline: message %s failed: %v", msg.UID, err)
		}
		return nil
	}
	b.metrics.recordMessage(true)
	if msg.ReceivedAt.After(b.maxReceived) {
		b.maxReceived = msg.ReceivedAt
	}
	return nil
}
