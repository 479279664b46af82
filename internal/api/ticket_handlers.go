// Package api exposes the ticket repository over REST. Handlers translate
// domain sentinels into registered error codes; notification dispatch for
// outbound replies lives here so the repository stays store-only.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opendesk-io/opendesk-ce/internal/apierrors"
	"github.com/opendesk-io/opendesk-ce/internal/displayid"
	"github.com/opendesk-io/opendesk-ce/internal/models"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
)

type ticketStore interface {
	Create(ctx context.Context, req models.TicketCreateRequest) (*models.Ticket, error)
	Get(ctx context.Context, id string) (*models.Ticket, error)
	GetByDisplayID(ctx context.Context, displayID int64) (*models.Ticket, error)
	Patch(ctx context.Context, id string, req models.TicketPatchRequest) (*models.Ticket, error)
	Delete(ctx context.Context, id string) error
	AppendConversation(ctx context.Context, ticketID string, conv models.Conversation) (*models.Conversation, error)
	Search(ctx context.Context, req models.TicketSearchRequest) (*models.TicketSearchResponse, error)
}

type userStore interface {
	Get(ctx context.Context, id string) (*models.User, error)
	ResolveActor(ctx context.Context, id string) (models.Actor, error)
}

type commentNotifier interface {
	SendCommentNotification(ctx context.Context, ticket *models.Ticket, requester *models.User, conv *models.Conversation) error
}

// TicketHandler serves the /api/tickets surface.
type TicketHandler struct {
	tickets  ticketStore
	users    userStore
	notifier commentNotifier
	logger   *log.Logger
}

// TicketHandlerOption customizes the handler.
type TicketHandlerOption func(*TicketHandler)

// NewTicketHandler wires the handler. notifier may be nil; replies then
// commit without outbound mail.
func NewTicketHandler(tickets ticketStore, users userStore, notifier commentNotifier, opts ...TicketHandlerOption) *TicketHandler {
	h := &TicketHandler{
		tickets:  tickets,
		users:    users,
		notifier: notifier,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// WithHandlerLogger overrides the logger.
func WithHandlerLogger(logger *log.Logger) TicketHandlerOption {
	return func(h *TicketHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Register mounts the ticket routes on the given group.
func (h *TicketHandler) Register(g *gin.RouterGroup) {
	tickets := g.Group("/tickets")
	tickets.GET("/search", h.Search)
	tickets.GET("/display/:displayId", h.GetByDisplayID)
	tickets.POST("/reply", h.Reply)
	tickets.POST("", h.Create)
	tickets.GET("/:id", h.Get)
	tickets.PATCH("/:id", h.Patch)
	tickets.DELETE("/:id", h.Delete)
	tickets.POST("/:id/conversations", h.AppendConversation)
}

// Search handles GET /api/tickets/search.
func (h *TicketHandler) Search(c *gin.Context) {
	var req models.TicketSearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}
	result, err := h.tickets.Search(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Get handles GET /api/tickets/:id.
func (h *TicketHandler) Get(c *gin.Context) {
	ticket, err := h.tickets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ticket})
}

// GetByDisplayID handles GET /api/tickets/display/:displayId.
func (h *TicketHandler) GetByDisplayID(c *gin.Context) {
	displayID, err := strconv.ParseInt(c.Param("displayId"), 10, 64)
	if err != nil || displayID <= 0 {
		apierrors.Error(c, apierrors.CodeInvalidID)
		return
	}
	ticket, err := h.tickets.GetByDisplayID(c.Request.Context(), displayID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ticket})
}

// Create handles POST /api/tickets.
func (h *TicketHandler) Create(c *gin.Context) {
	var req models.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}
	if _, err := h.users.Get(c.Request.Context(), req.RequesterID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeUnknownRequester)
			return
		}
		h.fail(c, err)
		return
	}
	ticket, err := h.tickets.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": ticket})
}

// Patch handles PATCH /api/tickets/:id.
func (h *TicketHandler) Patch(c *gin.Context) {
	var req models.TicketPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}
	if req.Empty() {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "no fields to update")
		return
	}
	ticket, err := h.tickets.Patch(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ticket})
}

// Delete handles DELETE /api/tickets/:id.
func (h *TicketHandler) Delete(c *gin.Context) {
	if err := h.tickets.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ticket deleted"})
}

// AppendConversation handles POST /api/tickets/:id/conversations. Entries not
// flagged incoming notify the requester after the append commits.
func (h *TicketHandler) AppendConversation(c *gin.Context) {
	var req models.ConversationCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}
	conv, err := h.appendAndNotify(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": conv})
}

type replyRequest struct {
	TicketID string `json:"ticket_id" binding:"required"`
	Body     string `json:"body" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
}

// Reply handles POST /api/tickets/reply: an outbound public reply that is
// always mailed to the requester.
func (h *TicketHandler) Reply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}
	conv, err := h.appendAndNotify(c.Request.Context(), req.TicketID, models.ConversationCreateRequest{
		BodyText: req.Body,
		UserID:   req.UserID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": conv})
}

func (h *TicketHandler) appendAndNotify(ctx context.Context, ticketID string, req models.ConversationCreateRequest) (*models.Conversation, error) {
	if strings.TrimSpace(req.BodyText) == "" {
		return nil, repository.ErrValidation
	}
	author, err := h.users.ResolveActor(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrValidation
		}
		return nil, err
	}
	conv, err := h.tickets.AppendConversation(ctx, ticketID, models.Conversation{
		BodyText: req.BodyText,
		Author:   author,
		Private:  req.Private,
		Incoming: req.Incoming,
	})
	if err != nil {
		return nil, err
	}

	// Notification failure never unwinds the committed append.
	if !conv.Incoming && !conv.Private && h.notifier != nil {
		if ticket, getErr := h.tickets.Get(ctx, ticketID); getErr == nil {
			if requester, userErr := h.users.Get(ctx, ticket.RequesterID); userErr == nil {
				if sendErr := h.notifier.SendCommentNotification(ctx, ticket, requester, conv); sendErr != nil {
					h.logger.Printf("api: comment notification for ticket %s failed: %v", ticketID, sendErr)
				}
			}
		}
	}
	return conv, nil
}

func (h *TicketHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, displayid.ErrNotFound):
		apierrors.Error(c, apierrors.CodeTicketNotFound)
	case errors.Is(err, repository.ErrValidation):
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, err.Error())
	case errors.Is(err, displayid.ErrAllocationFailed):
		apierrors.Error(c, apierrors.CodeAllocationFailed)
	default:
		h.logger.Printf("api: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		apierrors.Error(c, apierrors.CodeInternalError)
	}
}
