package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// ErrDeliveryFailed wraps transport errors so callers can detect and log
// them without inspecting provider internals.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// TicketNotifier renders and sends requester-facing ticket mail. The display
// number is stamped into every subject so replies thread back to the ticket.
type TicketNotifier struct {
	provider EmailProvider
	baseURL  string
	markdown goldmark.Markdown
	logger   *log.Logger
}

// TicketNotifierOption customizes the notifier.
type TicketNotifierOption func(*TicketNotifier)

// NewTicketNotifier builds a notifier over the given provider.
func NewTicketNotifier(provider EmailProvider, baseURL string, opts ...TicketNotifierOption) *TicketNotifier {
	n := &TicketNotifier{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		markdown: goldmark.New(),
		logger:   log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// WithNotifierLogger overrides the logger.
func WithNotifierLogger(logger *log.Logger) TicketNotifierOption {
	return func(n *TicketNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// SendTicketCreated sends the acknowledgment for a freshly opened ticket.
func (n *TicketNotifier) SendTicketCreated(ctx context.Context, ticket *models.Ticket, requester *models.User) error {
	if n == nil || n.provider == nil || ticket == nil || requester == nil || requester.Email == "" {
		return nil
	}
	body := fmt.Sprintf(
		"Hi %s,\n\nwe received your request and opened ticket **#%d**: %s.\n\n"+
			"Reply to this mail to add to the ticket, keeping `#%d` in the subject.\n\n"+
			"You can follow progress here: %s\n",
		displayName(requester.Name, requester.Email),
		ticket.DisplayID, ticket.Subject, ticket.DisplayID,
		n.permalink(ticket.DisplayID),
	)
	return n.send(ctx, requester.Email, n.subject(ticket), body)
}

// SendCommentNotification tells the requester about a new public reply.
// Private notes never notify.
func (n *TicketNotifier) SendCommentNotification(ctx context.Context, ticket *models.Ticket, requester *models.User, conv *models.Conversation) error {
	if n == nil || n.provider == nil || ticket == nil || requester == nil || requester.Email == "" || conv == nil {
		return nil
	}
	if conv.Private {
		return nil
	}
	body := fmt.Sprintf(
		"Hi %s,\n\n%s replied on ticket **#%d** (%s):\n\n%s\n\n"+
			"Reply to this mail to respond, keeping `#%d` in the subject.\n\n%s\n",
		displayName(requester.Name, requester.Email),
		displayName(conv.Author.Name, conv.Author.Email),
		ticket.DisplayID, ticket.Subject,
		quoted(conv.BodyText),
		ticket.DisplayID,
		n.permalink(ticket.DisplayID),
	)
	return n.send(ctx, requester.Email, n.subject(ticket), body)
}

func (n *TicketNotifier) send(ctx context.Context, to, subject, markdown string) error {
	html, err := n.render(markdown)
	msg := EmailMessage{To: []string{to}, Subject: subject, Body: html, HTML: true}
	if err != nil {
		n.logger.Printf("notifications: markdown render failed, sending plain text: %v", err)
		msg.Body = markdown
		msg.HTML = false
	}
	if err := n.provider.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (n *TicketNotifier) render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := n.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (n *TicketNotifier) subject(ticket *models.Ticket) string {
	return fmt.Sprintf("[#%d] %s", ticket.DisplayID, ticket.Subject)
}

func (n *TicketNotifier) permalink(displayID int64) string {
	if n.baseURL == "" {
		return fmt.Sprintf("/tickets/display/%d", displayID)
	}
	return fmt.Sprintf("%s/tickets/display/%d", n.baseURL, displayID)
}

func quoted(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func displayName(name, email string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return email
}
