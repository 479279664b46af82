package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opendesk-io/opendesk-ce/internal/database"
	"github.com/opendesk-io/opendesk-ce/internal/displayid"
	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// Defaults are the tenant-configured fallbacks applied on create when the
// caller leaves a field unset.
type Defaults struct {
	Status   int
	Priority int
	Source   int
}

func (d Defaults) orBuiltin() Defaults {
	if d.Status == 0 {
		d.Status = models.StatusOpen
	}
	if d.Priority == 0 {
		d.Priority = models.PriorityMedium
	}
	if d.Source == 0 {
		d.Source = models.SourcePortal
	}
	return d
}

// TicketRepository persists tickets and their conversations, keeping the
// display-number mapping consistent through the allocator.
type TicketRepository struct {
	db        *database.DB
	allocator *displayid.Allocator
	accountID int64
	defaults  Defaults
	clock     func() time.Time
}

// NewTicketRepository wires a repository for one tenant.
func NewTicketRepository(db *database.DB, allocator *displayid.Allocator, accountID int64, defaults Defaults) *TicketRepository {
	return &TicketRepository{
		db:        db,
		allocator: allocator,
		accountID: accountID,
		defaults:  defaults.orBuiltin(),
		clock:     time.Now,
	}
}

const ticketColumns = `id, account_id, display_id, subject, description, status, priority, source, requester_id, responder_id, group_id, tags, created_at, updated_at`

// Create validates required fields, applies tenant defaults, allocates a
// display number, and persists the ticket. The display number is allocated
// before the insert: a crash in between skips a number, which is permitted,
// but a stored ticket always carries its mapping.
func (r *TicketRepository) Create(ctx context.Context, req models.TicketCreateRequest) (*models.Ticket, error) {
	if strings.TrimSpace(req.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if strings.TrimSpace(req.RequesterID) == "" {
		return nil, fmt.Errorf("%w: requester_id is required", ErrValidation)
	}
	if req.Status != 0 && !models.ValidStatus(req.Status) {
		return nil, fmt.Errorf("%w: unknown status %d", ErrValidation, req.Status)
	}
	if req.Priority != 0 && !models.ValidPriority(req.Priority) {
		return nil, fmt.Errorf("%w: unknown priority %d", ErrValidation, req.Priority)
	}

	ticket := &models.Ticket{
		ID:          uuid.NewString(),
		AccountID:   r.accountID,
		Subject:     strings.TrimSpace(req.Subject),
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Source:      req.Source,
		RequesterID: req.RequesterID,
		ResponderID: req.ResponderID,
		GroupID:     req.GroupID,
		Tags:        req.Tags,
	}
	if ticket.Status == 0 {
		ticket.Status = r.defaults.Status
	}
	if ticket.Priority == 0 {
		ticket.Priority = r.defaults.Priority
	}
	if ticket.Source == 0 {
		ticket.Source = r.defaults.Source
	}

	displayID, err := r.allocator.Allocate(ctx, r.accountID)
	if err != nil {
		return nil, err
	}
	ticket.DisplayID = displayID

	now := r.clock().UTC()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now

	q := r.db.Rebind(`INSERT INTO tickets (` + ticketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`)
	_, err = r.db.ExecContext(ctx, q,
		ticket.ID, ticket.AccountID, ticket.DisplayID, ticket.Subject, ticket.Description,
		ticket.Status, ticket.Priority, ticket.Source, ticket.RequesterID,
		ticket.ResponderID, ticket.GroupID, joinTags(ticket.Tags),
		ticket.CreatedAt, ticket.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}
	return ticket, nil
}

// Get loads a ticket with its conversations.
func (r *TicketRepository) Get(ctx context.Context, id string) (*models.Ticket, error) {
	q := r.db.Rebind(`SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1 AND account_id = $2`)
	ticket, err := r.scanTicket(r.db.QueryRowContext(ctx, q, id, r.accountID))
	if err != nil {
		return nil, err
	}
	conversations, err := r.conversationsFor(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	ticket.Conversations = conversations
	return ticket, nil
}

// GetByDisplayID resolves a display number through the allocator and loads
// the ticket.
func (r *TicketRepository) GetByDisplayID(ctx context.Context, displayID int64) (*models.Ticket, error) {
	id, err := r.allocator.Resolve(ctx, r.accountID, displayID)
	if errors.Is(err, displayid.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Patch applies only the provided fields and bumps the update timestamp.
func (r *TicketRepository) Patch(ctx context.Context, id string, req models.TicketPatchRequest) (*models.Ticket, error) {
	if req.Status != nil && !models.ValidStatus(*req.Status) {
		return nil, fmt.Errorf("%w: unknown status %d", ErrValidation, *req.Status)
	}
	if req.Priority != nil && !models.ValidPriority(*req.Priority) {
		return nil, fmt.Errorf("%w: unknown priority %d", ErrValidation, *req.Priority)
	}
	if req.Subject != nil && strings.TrimSpace(*req.Subject) == "" {
		return nil, fmt.Errorf("%w: subject cannot be empty", ErrValidation)
	}
	if req.Description != nil && strings.TrimSpace(*req.Description) == "" {
		return nil, fmt.Errorf("%w: description cannot be empty", ErrValidation)
	}

	var sets []string
	var args []any
	n := 0
	add := func(column string, value any) {
		n++
		sets = append(sets, fmt.Sprintf("%s = $%d", column, n))
		args = append(args, value)
	}
	if req.Subject != nil {
		add("subject", strings.TrimSpace(*req.Subject))
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.Status != nil {
		add("status", *req.Status)
	}
	if req.Priority != nil {
		add("priority", *req.Priority)
	}
	if req.ResponderID != nil {
		add("responder_id", *req.ResponderID)
	}
	if req.GroupID != nil {
		add("group_id", *req.GroupID)
	}
	if req.Tags != nil {
		add("tags", joinTags(*req.Tags))
	}
	add("updated_at", r.clock().UTC())

	args = append(args, id, r.accountID)
	q := r.db.Rebind(fmt.Sprintf(`UPDATE tickets SET %s WHERE id = $%d AND account_id = $%d`,
		strings.Join(sets, ", "), n+1, n+2))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("patch ticket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes the ticket together with its conversations. The display
// mapping lives on the ticket row, so it dies with the ticket and the number
// is never reissued because the counter only moves forward.
func (r *TicketRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM conversations WHERE ticket_id = $1`), id); err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	res, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM tickets WHERE id = $1 AND account_id = $2`), id, r.accountID)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// AppendConversation appends to the ticket's ordered conversation sequence
// and bumps the ticket's update timestamp. Notification dispatch is the
// caller's concern so the repository stays store-only.
func (r *TicketRepository) AppendConversation(ctx context.Context, ticketID string, conv models.Conversation) (*models.Conversation, error) {
	if strings.TrimSpace(conv.Body) == "" && strings.TrimSpace(conv.BodyText) == "" {
		return nil, fmt.Errorf("%w: conversation body is required", ErrValidation)
	}
	conv.ID = uuid.NewString()
	conv.TicketID = ticketID
	conv.CreatedAt = r.clock().UTC()
	if conv.Body == "" {
		conv.Body = conv.BodyText
	}
	if conv.BodyText == "" {
		conv.BodyText = conv.Body
	}

	// Insert and bump share a transaction keyed on the ticket row so a
	// concurrent delete cannot leave an orphaned conversation.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	q := r.db.Rebind(`INSERT INTO conversations (id, ticket_id, body, body_text, author_kind, author_id, author_name, author_email, private, incoming, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)
	if _, err := tx.ExecContext(ctx, q,
		conv.ID, conv.TicketID, conv.Body, conv.BodyText,
		string(conv.Author.Kind), conv.Author.ID, conv.Author.Name, conv.Author.Email,
		conv.Private, conv.Incoming, conv.CreatedAt, conv.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	bump := r.db.Rebind(`UPDATE tickets SET updated_at = $1 WHERE id = $2 AND account_id = $3`)
	res, err := tx.ExecContext(ctx, bump, conv.CreatedAt, ticketID, r.accountID)
	if err != nil {
		return nil, fmt.Errorf("bump ticket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Search runs free-text and field filters with deterministic ordering:
// equal sort keys fall back to storage identifier ascending.
func (r *TicketRepository) Search(ctx context.Context, req models.TicketSearchRequest) (*models.TicketSearchResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 25
	}
	if limit > 100 {
		limit = 100
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}

	var where []string
	var args []any
	n := 0
	arg := func(value any) string {
		n++
		args = append(args, value)
		return fmt.Sprintf("$%d", n)
	}

	where = append(where, fmt.Sprintf("t.account_id = %s", arg(r.accountID)))
	if q := strings.TrimSpace(req.Query); q != "" {
		pattern := "%" + q + "%"
		where = append(where, fmt.Sprintf(
			`(t.subject LIKE %s OR t.description LIKE %s OR EXISTS (
				SELECT 1 FROM conversations c WHERE c.ticket_id = t.id AND c.body_text LIKE %s))`,
			arg(pattern), arg(pattern), arg(pattern)))
	}
	if req.Status != 0 {
		where = append(where, fmt.Sprintf("t.status = %s", arg(req.Status)))
	}
	if req.Priority != 0 {
		where = append(where, fmt.Sprintf("t.priority = %s", arg(req.Priority)))
	}
	if req.RequesterID != "" {
		where = append(where, fmt.Sprintf("t.requester_id = %s", arg(req.RequesterID)))
	}
	if req.CompanyID != 0 {
		where = append(where, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM users u WHERE u.id = t.requester_id AND u.company_id = %s)`,
			arg(req.CompanyID)))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	countQ := r.db.Rebind(fmt.Sprintf(`SELECT COUNT(*) FROM tickets t WHERE %s`, whereClause))
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}

	sortColumn := "t.created_at"
	if req.Sort == "updated" {
		sortColumn = "t.updated_at"
	}
	direction := "DESC"
	if strings.EqualFold(req.Direction, "asc") {
		direction = "ASC"
	}

	listArgs := append(append([]any{}, args...), limit, (page-1)*limit)
	listQ := r.db.Rebind(fmt.Sprintf(
		`SELECT %s FROM tickets t WHERE %s ORDER BY %s %s, t.id ASC LIMIT $%d OFFSET $%d`,
		prefixedTicketColumns(), whereClause, sortColumn, direction, n+1, n+2))
	rows, err := r.db.QueryContext(ctx, listQ, listArgs...)
	if err != nil {
		return nil, fmt.Errorf("search tickets: %w", err)
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		ticket, err := r.scanTicketRow(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pages := total / limit
	if total%limit != 0 {
		pages++
	}
	return &models.TicketSearchResponse{Tickets: tickets, Total: total, Page: page, Pages: pages}, nil
}

func prefixedTicketColumns() string {
	cols := strings.Split(ticketColumns, ", ")
	for i, c := range cols {
		cols[i] = "t." + c
	}
	return strings.Join(cols, ", ")
}

func (r *TicketRepository) conversationsFor(ctx context.Context, ticketID string) ([]models.Conversation, error) {
	q := r.db.Rebind(`SELECT id, ticket_id, body, body_text, author_kind, author_id, author_name, author_email, private, incoming, created_at, updated_at
		FROM conversations WHERE ticket_id = $1 ORDER BY created_at ASC, id ASC`)
	rows, err := r.db.QueryContext(ctx, q, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var kind string
		if err := rows.Scan(&conv.ID, &conv.TicketID, &conv.Body, &conv.BodyText,
			&kind, &conv.Author.ID, &conv.Author.Name, &conv.Author.Email,
			&conv.Private, &conv.Incoming, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		conv.Author.Kind = models.ActorKind(kind)
		out = append(out, conv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *TicketRepository) scanTicket(row rowScanner) (*models.Ticket, error) {
	ticket, err := scanTicketColumns(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

func (r *TicketRepository) scanTicketRow(rows *sql.Rows) (*models.Ticket, error) {
	return scanTicketColumns(rows)
}

func scanTicketColumns(row rowScanner) (*models.Ticket, error) {
	var t models.Ticket
	var tags string
	err := row.Scan(&t.ID, &t.AccountID, &t.DisplayID, &t.Subject, &t.Description,
		&t.Status, &t.Priority, &t.Source, &t.RequesterID, &t.ResponderID,
		&t.GroupID, &tags, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Tags = splitTags(tags)
	return &t, nil
}

func joinTags(tags []string) string {
	var cleaned []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitTags(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}
