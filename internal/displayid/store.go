package displayid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opendesk-io/opendesk-ce/internal/database"
)

// CounterStore hands out the next display number for a tenant. Implementations
// must be atomic with respect to concurrent callers and concurrent processes.
type CounterStore interface {
	Next(ctx context.Context, tenantID int64) (int64, error)
}

// DBStore keeps one row per tenant in display_counters and increments it with
// a dialect-specific atomic upsert:
//
//	postgres/sqlite: INSERT ... ON CONFLICT(counter_uid) DO UPDATE SET
//	                 counter = display_counters.counter + 1 RETURNING counter
//	mysql:           INSERT ... ON DUPLICATE KEY UPDATE
//	                 counter = LAST_INSERT_ID(counter + 1)
//
// The row is seeded at the tenant floor, so the first allocation returns the
// floor itself and later ones count up from there.
type DBStore struct {
	db    *database.DB
	floor int64
	clock func() time.Time
}

// NewDBStore builds a counter store with the given tenant floor.
func NewDBStore(db *database.DB, floor int64) *DBStore {
	if floor < 0 {
		floor = 0
	}
	return &DBStore{db: db, floor: floor, clock: time.Now}
}

func counterUID(tenantID int64) string {
	return fmt.Sprintf("account_%d", tenantID)
}

// Next implements CounterStore.
func (s *DBStore) Next(ctx context.Context, tenantID int64) (int64, error) {
	uid := counterUID(tenantID)
	now := s.clock().UTC()

	switch s.db.Dialect {
	case database.DialectPostgres, database.DialectSQLite:
		q := s.db.Rebind(`INSERT INTO display_counters (counter_uid, counter, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (counter_uid) DO UPDATE SET counter = display_counters.counter + 1
			RETURNING counter`)
		var c int64
		if err := s.db.QueryRowContext(ctx, q, uid, s.floor, now).Scan(&c); err != nil {
			return 0, err
		}
		return c, nil
	case database.DialectMySQL:
		// LAST_INSERT_ID is read from the Exec result so it stays on the same
		// pooled connection.
		q := `INSERT INTO display_counters (counter_uid, counter, created_at)
			VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE counter = LAST_INSERT_ID(counter + 1)`
		res, err := s.db.ExecContext(ctx, q, uid, s.floor, now)
		if err != nil {
			return 0, err
		}
		c, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		if c == 0 {
			// Fresh insert path: the row was just seeded at the floor.
			return s.floor, nil
		}
		return c, nil
	default:
		return s.nextTx(ctx, uid, now)
	}
}

// nextTx is the generic fallback: transaction with a locking read.
func (s *DBStore) nextTx(ctx context.Context, uid string, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var current int64
	row := tx.QueryRowContext(ctx, s.db.Rebind(`SELECT counter FROM display_counters WHERE counter_uid = $1 FOR UPDATE`), uid)
	scanErr := row.Scan(&current)
	switch {
	case scanErr == nil:
		next := current + 1
		if _, err = tx.ExecContext(ctx, s.db.Rebind(`UPDATE display_counters SET counter = $1 WHERE counter_uid = $2`), next, uid); err != nil {
			return 0, err
		}
		if err = tx.Commit(); err != nil {
			return 0, err
		}
		return next, nil
	case errors.Is(scanErr, sql.ErrNoRows):
		if _, err = tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO display_counters (counter_uid, counter, created_at) VALUES ($1, $2, $3)`), uid, s.floor, now); err != nil {
			return 0, err
		}
		if err = tx.Commit(); err != nil {
			return 0, err
		}
		return s.floor, nil
	default:
		err = scanErr
		return 0, scanErr
	}
}
