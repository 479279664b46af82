package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opendesk-io/opendesk-ce/internal/database"
	"github.com/opendesk-io/opendesk-ce/internal/displayid"
	"github.com/opendesk-io/opendesk-ce/internal/models"
)

const testAccountID = 1

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

func newTestRepo(t *testing.T) (*TicketRepository, *UserRepository) {
	t.Helper()
	db := openTestDB(t)
	alloc := displayid.NewAllocator(db, displayid.NewDBStore(db, 7000))
	tickets := NewTicketRepository(db, alloc, testAccountID, Defaults{})
	users := NewUserRepository(db, testAccountID)
	return tickets, users
}

func seedRequester(t *testing.T, users *UserRepository) *models.User {
	t.Helper()
	u, err := users.Create(context.Background(), &models.User{
		Name:  "Dana Wong",
		Email: "dana@example.com",
	})
	if err != nil {
		t.Fatalf("seed requester: %v", err)
	}
	return u
}

func TestCreateAssignsDisplayNumberAndDefaults(t *testing.T) {
	tickets, users := newTestRepo(t)
	requester := seedRequester(t, users)
	ctx := context.Background()

	ticket, err := tickets.Create(ctx, models.TicketCreateRequest{
		Subject:     "Printer on fire",
		Description: "Smoke is coming out of the tray.",
		RequesterID: requester.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.DisplayID != 7000 {
		t.Fatalf("display id = %d, want 7000", ticket.DisplayID)
	}
	if ticket.Status != models.StatusOpen {
		t.Fatalf("status = %d, want default open", ticket.Status)
	}
	if ticket.Priority != models.PriorityMedium {
		t.Fatalf("priority = %d, want default medium", ticket.Priority)
	}

	second, err := tickets.Create(ctx, models.TicketCreateRequest{
		Subject:     "Second issue",
		Description: "Another one.",
		RequesterID: requester.ID,
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.DisplayID != 7001 {
		t.Fatalf("second display id = %d, want 7001", second.DisplayID)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	tickets, _ := newTestRepo(t)
	ctx := context.Background()

	cases := []models.TicketCreateRequest{
		{Description: "no subject", RequesterID: "u1"},
		{Subject: "no description", RequesterID: "u1"},
		{Subject: "no requester", Description: "body"},
		{Subject: "bad status", Description: "body", RequesterID: "u1", Status: 99},
		{Subject: "bad priority", Description: "body", RequesterID: "u1", Priority: 9},
	}
	for i, req := range cases {
		if _, err := tickets.Create(ctx, req); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestGetByDisplayID(t *testing.T) {
	tickets, users := newTestRepo(t)
	requester := seedRequester(t, users)
	ctx := context.Background()

	created, err := tickets.Create(ctx, models.TicketCreateRequest{
		Subject:     "Lookup me",
		Description: "by number",
		RequesterID: requester.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := tickets.GetByDisplayID(ctx, created.DisplayID)
	if err != nil {
		t.Fatalf("get by display id: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("got ticket %s, want %s", got.ID, created.ID)
	}
	if _, err := tickets.GetByDisplayID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPatchAppliesOnlyProvidedFields(t *testing.T) {
	tickets, users := newTestRepo(t)
	requester := seedRequester(t, users)
	ctx := context.Background()

	created, err := tickets.Create(ctx, models.TicketCreateRequest{
		Subject:     "Original subject",
		Description: "Original body",
		RequesterID: requester.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	status := models.StatusResolved
	patched, err := tickets.Patch(ctx, created.ID, models.TicketPatchRequest{Status: &status})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if patched.Status != models.StatusResolved {
		t.Fatalf("status = %d, want resolved", patched.Status)
	}
	if patched.Subject != "Original subject" {
		t.Fatalf("subject changed unexpectedly to %q", patched.Subject)
	}
	if !patched.UpdatedAt.After(created.UpdatedAt) && !patched.UpdatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("updated_at went backwards: %v < %v", patched.UpdatedAt, created.UpdatedAt)
	}

	bad := 42
	if _, err := tickets.Patch(ctx, created.ID, models.TicketPatchRequest{Status: &bad}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad status, got %v", err)
	}
	if _, err := tickets.Patch(ctx, uuid.NewString(), models.TicketPatchRequest{Status: &status}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing ticket, got %v", err)
	}
}

func TestDeleteRemovesTicketAndConversations(t *testing.T) {
	tickets, users := newTestRepo(t)
	requester := seedRequester(t, users)
	ctx := context.Background()

	created, err := tickets.Create(ctx, models.TicketCreateRequest{
		Subject:     "To be deleted",
		Description: "body",
		RequesterID: requester.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := tickets.AppendConversation(ctx, created.ID, models.Conversation{
		BodyText: "a note",
		Author:   models.UserActor(requester),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tickets.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := tickets.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ticket should be gone, got %v", err)
	}
	if err := tickets.Delete(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestDisplayNumberNotReissuedAfterDelete(t *testing.T) {
	tickets, users := newTestRepo(t)
	requester := seedRequester(t, users)
	ctx := context.Background()

	first, err := tickets.Create(ctx, models.TicketCreateRequest{
		Subject:     "First",
		Description: "body",
		RequesterID: requester.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tickets.Delete(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	second, err := tickets.Create(ctx, models.TicketCreateRequest{
		Subject:     "Second",
		Description: "body",
		RequesterID: requester.ID,
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.DisplayID <= first.DisplayID {
		t.Fatalf("display number %d reused after delete of %d", second.DisplayID, first.DisplayID)
	}
}

func TestAppendConversationOrdersBySequence(t *testing.T) {
	tickets, users := newTestRepo(t)
	requester := seedRequester(t, users)
	ctx := context.Background()

	created, err := tickets.Create(ctx, models.TicketCreateRequest{
		Subject:     "Thread",
		Description: "opening",
		RequesterID: requester.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := tickets.AppendConversation(ctx, created.ID, models.Conversation{
			BodyText: fmt.Sprintf("reply %d", i),
			Author:   models.UserActor(requester),
			Incoming: true,
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	got, err := tickets.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Conversations) != 3 {
		t.Fatalf("conversations = %d, want 3", len(got.Conversations))
	}
	for i, conv := range got.Conversations {
		want := fmt.Sprintf("reply %d", i)
		if conv.BodyText != want {
			t.Fatalf("conversation %d = %q, want %q", i, conv.BodyText, want)
		}
	}

	if _, err := tickets.AppendConversation(ctx, uuid.NewString(), models.Conversation{
		BodyText: "orphan",
		Author:   models.UserActor(requester),
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append to missing ticket: got %v", err)
	}
	if _, err := tickets.AppendConversation(ctx, created.ID, models.Conversation{
		Author: models.UserActor(requester),
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty body: got %v", err)
	}
}

func TestAppendConversationToMissingTicketLeavesNoRow(t *testing.T) {
	tickets, users := newTestRepo(t)
	requester := seedRequester(t, users)
	ctx := context.Background()

	created, err := tickets.Create(ctx, models.TicketCreateRequest{
		Subject:     "Short lived",
		Description: "going away",
		RequesterID: requester.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tickets.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := tickets.AppendConversation(ctx, created.ID, models.Conversation{
		BodyText: "too late",
		Author:   models.UserActor(requester),
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append after delete: got %v", err)
	}

	// The insert rolls back with the failed bump, so nothing is orphaned.
	var count int
	q := tickets.db.Rebind(`SELECT COUNT(*) FROM conversations WHERE ticket_id = $1`)
	if err := tickets.db.QueryRowContext(ctx, q, created.ID).Scan(&count); err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	if count != 0 {
		t.Fatalf("orphaned conversation rows: %d", count)
	}
}

func TestSearchFiltersAndPagination(t *testing.T) {
	tickets, users := newTestRepo(t)
	requester := seedRequester(t, users)
	other, err := users.Create(context.Background(), &models.User{
		Name:  "Sam Li",
		Email: "sam@example.com",
	})
	if err != nil {
		t.Fatalf("seed other: %v", err)
	}
	ctx := context.Background()

	mk := func(subject, description, requesterID string, status int) *models.Ticket {
		tk, err := tickets.Create(ctx, models.TicketCreateRequest{
			Subject:     subject,
			Description: description,
			RequesterID: requesterID,
			Status:      status,
		})
		if err != nil {
			t.Fatalf("create %q: %v", subject, err)
		}
		return tk
	}
	mk("VPN broken", "cannot connect to the office network", requester.ID, models.StatusOpen)
	mk("Password reset", "locked out of the portal", requester.ID, models.StatusResolved)
	withConv := mk("Monitor flickers", "screen issue", other.ID, models.StatusOpen)
	if _, err := tickets.AppendConversation(ctx, withConv.ID, models.Conversation{
		BodyText: "it only flickers when the VPN client runs",
		Author:   models.UserActor(other),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	res, err := tickets.Search(ctx, models.TicketSearchRequest{Query: "VPN"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("free text total = %d, want 2 (subject match plus conversation match)", res.Total)
	}

	res, err = tickets.Search(ctx, models.TicketSearchRequest{Status: models.StatusResolved})
	if err != nil {
		t.Fatalf("status filter: %v", err)
	}
	if res.Total != 1 || res.Tickets[0].Subject != "Password reset" {
		t.Fatalf("status filter returned %d results", res.Total)
	}

	res, err = tickets.Search(ctx, models.TicketSearchRequest{RequesterID: requester.ID})
	if err != nil {
		t.Fatalf("requester filter: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("requester filter total = %d, want 2", res.Total)
	}

	res, err = tickets.Search(ctx, models.TicketSearchRequest{Limit: 2})
	if err != nil {
		t.Fatalf("paging: %v", err)
	}
	if len(res.Tickets) != 2 || res.Pages != 2 || res.Total != 3 {
		t.Fatalf("paging: got %d tickets, %d pages, %d total", len(res.Tickets), res.Pages, res.Total)
	}
}

func TestSearchDeterministicOrderOnEqualKeys(t *testing.T) {
	tickets, users := newTestRepo(t)
	requester := seedRequester(t, users)
	ctx := context.Background()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tickets.clock = func() time.Time { return fixed }

	var ids []string
	for i := 0; i < 4; i++ {
		tk, err := tickets.Create(ctx, models.TicketCreateRequest{
			Subject:     fmt.Sprintf("same instant %d", i),
			Description: "body",
			RequesterID: requester.ID,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, tk.ID)
	}

	first, err := tickets.Search(ctx, models.TicketSearchRequest{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	second, err := tickets.Search(ctx, models.TicketSearchRequest{})
	if err != nil {
		t.Fatalf("search again: %v", err)
	}
	if len(first.Tickets) != len(ids) {
		t.Fatalf("got %d tickets, want %d", len(first.Tickets), len(ids))
	}
	for i := range first.Tickets {
		if first.Tickets[i].ID != second.Tickets[i].ID {
			t.Fatalf("order not stable at position %d", i)
		}
		if i > 0 && first.Tickets[i].ID < first.Tickets[i-1].ID {
			t.Fatalf("equal-key tie break not id ascending at position %d", i)
		}
	}
}
