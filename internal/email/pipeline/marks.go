package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opendesk-io/opendesk-ce/internal/database"
)

// MarkStore persists the per-mailbox high-water mark: the receive timestamp
// of the newest message already folded in. Polls only consider mail after the
// mark, so a poll that reruns after a crash skips everything it already
// processed.
type MarkStore interface {
	Get(ctx context.Context, accountID int64) (time.Time, error)
	Set(ctx context.Context, accountID int64, mark time.Time) error
}

// DBMarkStore keeps marks in the mail_marks table.
type DBMarkStore struct {
	db    *database.DB
	clock func() time.Time
}

// NewDBMarkStore builds a database-backed mark store.
func NewDBMarkStore(db *database.DB) *DBMarkStore {
	return &DBMarkStore{db: db, clock: time.Now}
}

func markUID(accountID int64) string {
	return fmt.Sprintf("mailbox_%d", accountID)
}

// Get returns the stored mark, or the zero time when the mailbox has never
// been polled.
func (s *DBMarkStore) Get(ctx context.Context, accountID int64) (time.Time, error) {
	var mark time.Time
	q := s.db.Rebind(`SELECT last_fetch FROM mail_marks WHERE mark_uid = $1`)
	err := s.db.QueryRowContext(ctx, q, markUID(accountID)).Scan(&mark)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return mark.UTC(), nil
}

// Set advances the mark. Marks only move forward; a stale write is dropped.
func (s *DBMarkStore) Set(ctx context.Context, accountID int64, mark time.Time) error {
	current, err := s.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if !mark.After(current) {
		return nil
	}
	now := s.clock().UTC()
	uid := markUID(accountID)

	switch s.db.Dialect {
	case database.DialectPostgres, database.DialectSQLite:
		q := s.db.Rebind(`INSERT INTO mail_marks (mark_uid, last_fetch, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (mark_uid) DO UPDATE SET last_fetch = excluded.last_fetch, updated_at = excluded.updated_at`)
		_, err = s.db.ExecContext(ctx, q, uid, mark.UTC(), now)
		return err
	case database.DialectMySQL:
		q := `INSERT INTO mail_marks (mark_uid, last_fetch, updated_at)
			VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE last_fetch = VALUES(last_fetch), updated_at = VALUES(updated_at)`
		_, err = s.db.ExecContext(ctx, q, uid, mark.UTC(), now)
		return err
	default:
		res, execErr := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE mail_marks SET last_fetch = $1, updated_at = $2 WHERE mark_uid = $3`), mark.UTC(), now, uid)
		if execErr != nil {
			return execErr
		}
		affected, execErr := res.RowsAffected()
		if execErr != nil {
			return execErr
		}
		if affected == 0 {
			_, execErr = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO mail_marks (mark_uid, last_fetch, updated_at) VALUES ($1, $2, $3)`), uid, mark.UTC(), now)
			return execErr
		}
		return nil
	}
}
