package models

import (
	"time"
)

// Ticket status codes follow the numbering used by the legacy export data,
// so imported tickets keep their stored values.
const (
	StatusOpen     = 2
	StatusPending  = 3
	StatusResolved = 4
	StatusClosed   = 5
)

// Ticket priority codes.
const (
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

// Ticket source codes.
const (
	SourceEmail  = 1
	SourcePortal = 2
	SourcePhone  = 3
)

var statusNames = map[int]string{
	StatusOpen:     "open",
	StatusPending:  "pending",
	StatusResolved: "resolved",
	StatusClosed:   "closed",
}

var priorityNames = map[int]string{
	PriorityLow:    "low",
	PriorityMedium: "medium",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

// StatusName returns the human-readable name for a status code.
func StatusName(code int) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return "unknown"
}

// PriorityName returns the human-readable name for a priority code.
func PriorityName(code int) string {
	if name, ok := priorityNames[code]; ok {
		return name
	}
	return "unknown"
}

// ValidStatus reports whether the code is a known ticket status.
func ValidStatus(code int) bool {
	_, ok := statusNames[code]
	return ok
}

// ValidPriority reports whether the code is a known ticket priority.
func ValidPriority(code int) bool {
	_, ok := priorityNames[code]
	return ok
}

// Ticket is a support request. ID is the opaque storage identifier assigned
// at creation; DisplayID is the human-facing sequential number, assigned
// exactly once and never reused.
type Ticket struct {
	ID          string    `json:"id" db:"id"`
	AccountID   int64     `json:"account_id" db:"account_id"`
	DisplayID   int64     `json:"display_id" db:"display_id"`
	Subject     string    `json:"subject" db:"subject"`
	Description string    `json:"description" db:"description"`
	Status      int       `json:"status" db:"status"`
	Priority    int       `json:"priority" db:"priority"`
	Source      int       `json:"source" db:"source"`
	RequesterID string    `json:"requester_id" db:"requester_id"`
	ResponderID *string   `json:"responder_id,omitempty" db:"responder_id"`
	GroupID     *int64    `json:"group_id,omitempty" db:"group_id"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`

	// Populated on detail reads.
	Conversations []Conversation `json:"conversations,omitempty"`
}

// Conversation is a single comment/note/reply attached to a ticket. Incoming
// marks entries folded in from inbound mail; Private marks internal notes.
type Conversation struct {
	ID        string     `json:"id" db:"id"`
	TicketID  string     `json:"ticket_id" db:"ticket_id"`
	Body      string     `json:"body" db:"body"`
	BodyText  string     `json:"body_text" db:"body_text"`
	Author    Actor      `json:"author"`
	Private   bool       `json:"private" db:"private"`
	Incoming  bool       `json:"incoming" db:"incoming"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// StatusName is a convenience accessor for API payloads.
func (t *Ticket) StatusName() string { return StatusName(t.Status) }

// PriorityName is a convenience accessor for API payloads.
func (t *Ticket) PriorityName() string { return PriorityName(t.Priority) }

// IsClosed reports whether the ticket is resolved or closed.
func (t *Ticket) IsClosed() bool {
	return t.Status == StatusResolved || t.Status == StatusClosed
}

// TicketCreateRequest is the payload for creating a ticket via the API.
type TicketCreateRequest struct {
	Subject     string   `json:"subject" binding:"required,min=1,max=255"`
	Description string   `json:"description" binding:"required"`
	Status      int      `json:"status,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	Source      int      `json:"source,omitempty"`
	RequesterID string   `json:"requester_id" binding:"required"`
	ResponderID *string  `json:"responder_id,omitempty"`
	GroupID     *int64   `json:"group_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// TicketPatchRequest carries partial updates; only non-nil fields apply.
type TicketPatchRequest struct {
	Subject     *string   `json:"subject,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *int      `json:"status,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	ResponderID *string   `json:"responder_id,omitempty"`
	GroupID     *int64    `json:"group_id,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// Empty reports whether the patch carries no fields at all.
func (p *TicketPatchRequest) Empty() bool {
	return p.Subject == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.ResponderID == nil && p.GroupID == nil && p.Tags == nil
}

// ConversationCreateRequest is the payload for appending a conversation.
type ConversationCreateRequest struct {
	BodyText string `json:"body_text" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
	Private  bool   `json:"private,omitempty"`
	Incoming bool   `json:"incoming,omitempty"`
}

// TicketSearchRequest models the search query string parameters.
type TicketSearchRequest struct {
	Query       string `form:"q"`
	Status      int    `form:"status"`
	Priority    int    `form:"priority"`
	RequesterID string `form:"requester_id"`
	CompanyID   int64  `form:"company_id"`
	Sort        string `form:"sort"`      // created | updated
	Direction   string `form:"direction"` // asc | desc
	Page        int    `form:"page"`
	Limit       int    `form:"limit"`
}

// TicketSearchResponse is a paginated search result.
type TicketSearchResponse struct {
	Tickets []Ticket `json:"tickets"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	Pages   int      `json:"pages"`
}
