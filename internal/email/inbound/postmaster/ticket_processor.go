package postmaster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	stdmail "net/mail"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/opendesk-io/opendesk-ce/internal/displayid"
	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/connector"
	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/filters"
	"github.com/opendesk-io/opendesk-ce/internal/models"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
)

type ticketCreator interface {
	Create(ctx context.Context, req models.TicketCreateRequest) (*models.Ticket, error)
}

type conversationAppender interface {
	AppendConversation(ctx context.Context, ticketID string, conv models.Conversation) (*models.Conversation, error)
}

type threadResolver interface {
	Resolve(ctx context.Context, tenantID, displayID int64) (string, error)
	DisplayIDFor(ctx context.Context, storageID string) (int64, error)
}

type senderLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type ackSender interface {
	SendTicketCreated(ctx context.Context, ticket *models.Ticket, requester *models.User) error
}

const defaultBodyLimit = 128 * 1024

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// TicketProcessor converts inbound mail into tickets or follow-up
// conversations. Messages from unknown senders are discarded.
type TicketProcessor struct {
	tickets       ticketCreator
	conversations conversationAppender
	threads       threadResolver
	senders       senderLookup
	acks          ackSender
	tenantID      int64
	maxBodyBytes  int64
	decoder       *mime.WordDecoder
	sanitizer     *bluemonday.Policy
	logger        *log.Logger
}

// TicketProcessorOption customizes TicketProcessor.
type TicketProcessorOption func(*TicketProcessor)

// NewTicketProcessor builds a processor over the injected stores.
func NewTicketProcessor(tickets ticketCreator, conversations conversationAppender, threads threadResolver, senders senderLookup, opts ...TicketProcessorOption) *TicketProcessor {
	tp := &TicketProcessor{
		tickets:       tickets,
		conversations: conversations,
		threads:       threads,
		senders:       senders,
		tenantID:      1,
		maxBodyBytes:  defaultBodyLimit,
		decoder:       &mime.WordDecoder{},
		sanitizer:     bluemonday.StrictPolicy(),
		logger:        log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tp)
		}
	}
	if tp.decoder == nil {
		tp.decoder = &mime.WordDecoder{}
	}
	return tp
}

// WithTicketProcessorLogger overrides the logger used for diagnostics.
func WithTicketProcessorLogger(logger *log.Logger) TicketProcessorOption {
	return func(tp *TicketProcessor) {
		if logger != nil {
			tp.logger = logger
		}
	}
}

// WithTicketProcessorTenant sets the tenant messages are filed under.
func WithTicketProcessorTenant(tenantID int64) TicketProcessorOption {
	return func(tp *TicketProcessor) {
		if tenantID > 0 {
			tp.tenantID = tenantID
		}
	}
}

// WithTicketProcessorBodyLimit constrains how much body text is stored.
func WithTicketProcessorBodyLimit(limit int64) TicketProcessorOption {
	return func(tp *TicketProcessor) {
		if limit > 0 {
			tp.maxBodyBytes = limit
		}
	}
}

// WithTicketProcessorAckSender wires the acknowledgment notifier. Ack
// delivery is best-effort; failures never unwind the stored ticket.
func WithTicketProcessorAckSender(acks ackSender) TicketProcessorOption {
	return func(tp *TicketProcessor) {
		if acks != nil {
			tp.acks = acks
		}
	}
}

// Process parses the message, matches it to an existing thread when a
// display-number token resolved, and otherwise opens a new ticket.
func (tp *TicketProcessor) Process(ctx context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error) {
	if msg == nil {
		return Result{}, errors.New("postmaster: message required")
	}
	if tp == nil || tp.tickets == nil || tp.senders == nil {
		return Result{}, errors.New("postmaster: stores unavailable")
	}
	if meta.Ignored() {
		tp.logf("postmaster: ignoring message %s due to annotation", msg.UID)
		return Result{Action: ActionIgnored}, nil
	}

	env := tp.extractEnvelope(msg)
	if env.From == "" {
		tp.logf("postmaster: message %s has no sender address, discarding", msg.UID)
		return Result{Action: ActionUnknownSender}, nil
	}
	sender, err := tp.senders.GetByEmail(ctx, env.From)
	if errors.Is(err, repository.ErrNotFound) {
		tp.logf("postmaster: unknown sender %s, discarding message %s", env.From, msg.UID)
		return Result{Action: ActionUnknownSender}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("postmaster: sender lookup: %w", err)
	}

	if res, handled, err := tp.tryFollowUp(ctx, meta, &env, sender); handled {
		return res, err
	}

	subject := strings.TrimSpace(env.Subject)
	if subject == "" {
		subject = tp.defaultSubject(msg)
	}
	body := env.BodyText
	if body == "" {
		body = env.Body
	}
	if strings.TrimSpace(body) == "" {
		body = "(no content)"
	}
	ticket, err := tp.tickets.Create(ctx, models.TicketCreateRequest{
		Subject:     subject,
		Description: body,
		Source:      models.SourceEmail,
		RequesterID: sender.ID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("postmaster: create ticket: %w", err)
	}
	tp.logf("postmaster: opened ticket #%d from %s", ticket.DisplayID, env.From)
	tp.sendAck(ctx, ticket, sender)
	return Result{TicketID: ticket.ID, DisplayID: ticket.DisplayID, Action: ActionNewTicket}, nil
}

// tryFollowUp appends the message to an existing thread when the filter chain
// extracted a display number that resolves. An unresolvable number falls
// through to new-ticket creation rather than bouncing the message.
func (tp *TicketProcessor) tryFollowUp(ctx context.Context, meta *filters.MessageContext, env *envelope, sender *models.User) (Result, bool, error) {
	if tp.conversations == nil || tp.threads == nil {
		return Result{}, false, nil
	}
	displayID := annotationInt64(meta, filters.AnnotationThreadDisplayNumber)
	if displayID <= 0 {
		return Result{}, false, nil
	}
	ticketID, err := tp.threads.Resolve(ctx, tp.tenantID, displayID)
	if errors.Is(err, displayid.ErrNotFound) {
		tp.logf("postmaster: display number %d did not resolve, treating as new ticket", displayID)
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, true, fmt.Errorf("postmaster: resolve #%d: %w", displayID, err)
	}

	body := env.Body
	if strings.TrimSpace(body) == "" {
		body = env.BodyText
	}
	conv, err := tp.conversations.AppendConversation(ctx, ticketID, models.Conversation{
		Body:     body,
		BodyText: env.BodyText,
		Author:   models.UserActor(sender),
		Incoming: true,
	})
	if errors.Is(err, repository.ErrNotFound) {
		tp.logf("postmaster: ticket %s vanished before append, treating as new ticket", ticketID)
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, true, fmt.Errorf("postmaster: append follow-up: %w", err)
	}
	tp.logf("postmaster: appended follow-up to ticket #%d", displayID)
	return Result{TicketID: ticketID, ConversationID: conv.ID, DisplayID: displayID, Action: ActionFollowUp}, true, nil
}

func (tp *TicketProcessor) sendAck(ctx context.Context, ticket *models.Ticket, requester *models.User) {
	if tp.acks == nil {
		return
	}
	if err := tp.acks.SendTicketCreated(ctx, ticket, requester); err != nil {
		tp.logf("postmaster: ack for ticket #%d failed: %v", ticket.DisplayID, err)
	}
}

type envelope struct {
	Subject  string
	From     string
	Body     string // original content, HTML when the mail was HTML
	BodyText string // plain-text projection
}

func (tp *TicketProcessor) extractEnvelope(msg *connector.FetchedMessage) envelope {
	var env envelope
	if msg == nil || len(msg.Raw) == 0 {
		return env
	}
	reader, err := gomail.CreateReader(bytes.NewReader(msg.Raw))
	if err != nil {
		tp.logf("postmaster: structured parse failed: %v", err)
		return tp.legacyEnvelope(msg)
	}
	env.Subject = tp.subjectFromHeader(&reader.Header)
	env.From = tp.addressFromHeader(&reader.Header)
	plain, html := tp.readBodyParts(reader)
	switch {
	case plain != "":
		env.Body = plain
		env.BodyText = plain
	case html != "":
		env.Body = html
		env.BodyText = tp.plainText(html)
	}
	if env.Body != "" {
		return env
	}

	legacy := tp.legacyEnvelope(msg)
	if env.Subject == "" {
		env.Subject = legacy.Subject
	}
	if env.From == "" {
		env.From = legacy.From
	}
	env.Body = legacy.Body
	env.BodyText = legacy.BodyText
	return env
}

func (tp *TicketProcessor) legacyEnvelope(msg *connector.FetchedMessage) envelope {
	var env envelope
	if msg == nil || len(msg.Raw) == 0 {
		return env
	}
	reader, err := stdmail.ReadMessage(bytes.NewReader(msg.Raw))
	if err != nil {
		tp.logf("postmaster: parse message failed: %v", err)
		return env
	}
	env.Subject = tp.decodeHeader(reader.Header.Get("Subject"))
	env.From = tp.parseAddress(reader.Header.Get("From"))
	body, err := io.ReadAll(io.LimitReader(reader.Body, tp.bodyLimit()))
	if err != nil {
		tp.logf("postmaster: read body failed: %v", err)
		return env
	}
	env.Body = string(body)
	env.BodyText = tp.plainText(env.Body)
	return env
}

func (tp *TicketProcessor) readBodyParts(reader *gomail.Reader) (string, string) {
	if reader == nil {
		return "", ""
	}
	var plain, html string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			tp.logf("postmaster: read part failed: %v", err)
			break
		}
		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		body, mimeType := tp.extractInlineBody(part, inline)
		if body == "" {
			continue
		}
		switch {
		case strings.HasPrefix(mimeType, "text/plain"):
			if plain == "" {
				plain = body
			}
		case strings.HasPrefix(mimeType, "text/html"):
			if html == "" {
				html = body
			}
		default:
			if plain == "" && html == "" {
				plain = body
			}
		}
		if plain != "" {
			break
		}
	}
	return plain, html
}

func (tp *TicketProcessor) extractInlineBody(part *gomail.Part, header *gomail.InlineHeader) (string, string) {
	if part == nil || header == nil {
		return "", ""
	}
	mimeType, _, err := header.ContentType()
	if err != nil || strings.TrimSpace(mimeType) == "" {
		mimeType, _ = tp.parseContentType(header.Get("Content-Type"))
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		mimeType = "text/plain"
	}
	body, readErr := io.ReadAll(io.LimitReader(part.Body, tp.bodyLimit()))
	if readErr != nil {
		tp.logf("postmaster: read part body failed: %v", readErr)
		return "", ""
	}
	return string(body), mimeType
}

// plainText projects HTML to readable text for search and notifications.
func (tp *TicketProcessor) plainText(in string) string {
	if tp.sanitizer == nil {
		return strings.TrimSpace(in)
	}
	return strings.TrimSpace(tp.sanitizer.Sanitize(in))
}

func (tp *TicketProcessor) subjectFromHeader(header *gomail.Header) string {
	if header == nil {
		return ""
	}
	if subject, err := header.Subject(); err == nil {
		return subject
	}
	return tp.decodeHeader(header.Get("Subject"))
}

func (tp *TicketProcessor) addressFromHeader(header *gomail.Header) string {
	if header == nil {
		return ""
	}
	if list, err := header.AddressList("From"); err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0].Address)
	}
	return tp.parseAddress(header.Get("From"))
}

func (tp *TicketProcessor) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || tp.decoder == nil {
		return value
	}
	decoded, err := tp.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func (tp *TicketProcessor) parseAddress(value string) string {
	value = tp.decodeHeader(value)
	if value == "" {
		return ""
	}
	if addrs, err := stdmail.ParseAddressList(value); err == nil && len(addrs) > 0 {
		return strings.TrimSpace(addrs[0].Address)
	}
	if addr, err := stdmail.ParseAddress(value); err == nil {
		return strings.TrimSpace(addr.Address)
	}
	return ""
}

func (tp *TicketProcessor) parseContentType(value string) (string, string) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return "", ""
	}
	mediaType := raw
	charset := ""
	if parsed, params, err := mime.ParseMediaType(raw); err == nil {
		mediaType = parsed
		if cs, ok := params["charset"]; ok {
			charset = strings.TrimSpace(cs)
		}
	}
	return strings.ToLower(mediaType), strings.ToLower(charset)
}

func (tp *TicketProcessor) defaultSubject(msg *connector.FetchedMessage) string {
	if msg != nil && msg.RemoteID != "" {
		return fmt.Sprintf("Inbound email %s", msg.RemoteID)
	}
	if msg != nil && msg.UID != "" {
		return fmt.Sprintf("Inbound email %s", msg.UID)
	}
	return "Inbound email"
}

func (tp *TicketProcessor) bodyLimit() int64 {
	if tp == nil || tp.maxBodyBytes <= 0 {
		return defaultBodyLimit
	}
	return tp.maxBodyBytes
}

func annotationInt64(meta *filters.MessageContext, key string) int64 {
	if meta == nil || meta.Annotations == nil {
		return 0
	}
	switch v := meta.Annotations[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (tp *TicketProcessor) logf(format string, args ...any) {
	if tp == nil || tp.logger == nil {
		return
	}
	tp.logger.Printf(format, args...)
}
