// Package displayid owns the mapping between a ticket's opaque storage
// identifier and its human-facing sequential display number.
package displayid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/opendesk-io/opendesk-ce/internal/database"
)

var (
	// ErrNotFound means no ticket carries the requested display number, or
	// the ticket has no display mapping.
	ErrNotFound = errors.New("display number not found")
	// ErrAllocationFailed means the counter write could not be committed
	// within the retry budget.
	ErrAllocationFailed = errors.New("display number allocation failed")
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 50 * time.Millisecond
)

// Allocator issues display numbers and resolves them in both directions.
type Allocator struct {
	store       CounterStore
	db          *database.DB
	maxAttempts int
	backoffBase time.Duration
	logger      *log.Logger
}

// AllocatorOption customizes an Allocator.
type AllocatorOption func(*Allocator)

// NewAllocator wires a store-backed allocator with bounded retry.
func NewAllocator(db *database.DB, store CounterStore, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		store:       store,
		db:          db,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// WithMaxAttempts overrides the allocation retry ceiling.
func WithMaxAttempts(n int) AllocatorOption {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithBackoffBase overrides the first retry delay.
func WithBackoffBase(d time.Duration) AllocatorOption {
	return func(a *Allocator) {
		if d > 0 {
			a.backoffBase = d
		}
	}
}

// WithAllocatorLogger overrides the logger used for retry diagnostics.
func WithAllocatorLogger(logger *log.Logger) AllocatorOption {
	return func(a *Allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Allocate returns a unique, strictly increasing display number for the
// tenant. Counter write conflicts are retried with exponential backoff; when
// the budget is exhausted the error wraps ErrAllocationFailed.
func (a *Allocator) Allocate(ctx context.Context, tenantID int64) (int64, error) {
	var lastErr error
	delay := a.backoffBase
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		n, err := a.store.Next(ctx, tenantID)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < a.maxAttempts {
			a.logger.Printf("displayid: allocation attempt %d for tenant %d failed: %v", attempt, tenantID, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, fmt.Errorf("%w: %v", ErrAllocationFailed, ctx.Err())
			}
			delay *= 2
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrAllocationFailed, lastErr)
}

// Resolve maps a display number to the owning ticket's storage identifier.
func (a *Allocator) Resolve(ctx context.Context, tenantID, displayID int64) (string, error) {
	var id string
	q := a.db.Rebind(`SELECT id FROM tickets WHERE account_id = $1 AND display_id = $2`)
	err := a.db.QueryRowContext(ctx, q, tenantID, displayID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// DisplayIDFor maps a storage identifier back to its display number. A ticket
// without a mapping is a data-integrity fault and reported as ErrNotFound.
func (a *Allocator) DisplayIDFor(ctx context.Context, storageID string) (int64, error) {
	var n int64
	q := a.db.Rebind(`SELECT display_id FROM tickets WHERE id = $1`)
	err := a.db.QueryRowContext(ctx, q, storageID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
