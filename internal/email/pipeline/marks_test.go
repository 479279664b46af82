package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opendesk-io/opendesk-ce/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	pool, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	pool.SetMaxOpenConns(1)
	db := &database.DB{DB: pool, Dialect: database.DialectSQLite}
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMarkStoreRoundTrip(t *testing.T) {
	store := NewDBMarkStore(openTestDB(t))
	ctx := context.Background()

	mark, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if !mark.IsZero() {
		t.Fatalf("fresh mailbox should have zero mark, got %v", mark)
	}

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := store.Set(ctx, 1, t1); err != nil {
		t.Fatalf("set: %v", err)
	}
	mark, err = store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !mark.Equal(t1) {
		t.Fatalf("mark = %v, want %v", mark, t1)
	}
}

func TestMarkStoreOnlyMovesForward(t *testing.T) {
	store := NewDBMarkStore(openTestDB(t))
	ctx := context.Background()

	t2 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := t2.Add(-time.Hour)
	if err := store.Set(ctx, 1, t2); err != nil {
		t.Fatalf("set forward: %v", err)
	}
	if err := store.Set(ctx, 1, t1); err != nil {
		t.Fatalf("stale set should be a no-op, got %v", err)
	}
	mark, _ := store.Get(ctx, 1)
	if !mark.Equal(t2) {
		t.Fatalf("mark regressed to %v", mark)
	}
}

func TestMarkStoreScopedPerMailbox(t *testing.T) {
	store := NewDBMarkStore(openTestDB(t))
	ctx := context.Background()

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := store.Set(ctx, 1, t1); err != nil {
		t.Fatalf("set: %v", err)
	}
	mark, _ := store.Get(ctx, 2)
	if !mark.IsZero() {
		t.Fatalf("mailbox 2 inherited mailbox 1's mark: %v", mark)
	}
}
