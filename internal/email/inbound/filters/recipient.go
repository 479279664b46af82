package filters

import (
	"bytes"
	"context"
	"log"
	"net/mail"
	"strings"
)

// Headers that can carry the helpdesk address. Delivered-To and
// X-Original-To cover mail that reached the mailbox via an alias or BCC.
var recipientHeaders = []string{"To", "Cc", "Delivered-To", "X-Original-To"}

// RecipientFilter discards mail whose recipient list does not name the
// configured helpdesk address. Shared mailboxes collect CC'd and misdirected
// traffic; only mail addressed to the target may open or update tickets.
type RecipientFilter struct {
	address string
	logger  *log.Logger
}

// NewRecipientFilter constructs the gate for the given target address. An
// empty address disables the gate.
func NewRecipientFilter(address string, logger *log.Logger) *RecipientFilter {
	return &RecipientFilter{address: strings.ToLower(strings.TrimSpace(address)), logger: logger}
}

// ID implements Filter.
func (f *RecipientFilter) ID() string { return "recipient_gate" }

// Apply flags the message for discard when no recipient header matches the
// target address case-insensitively.
func (f *RecipientFilter) Apply(ctx context.Context, m *MessageContext) error {
	if f == nil || f.address == "" {
		return nil
	}
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	reader, err := mail.ReadMessage(bytes.NewReader(m.Message.Raw))
	if err != nil {
		// An unparsable header set cannot prove the mail was for us.
		f.flag(m, "unparsable headers")
		return nil
	}
	for _, key := range recipientHeaders {
		if f.headerMatches(reader.Header, key) {
			return nil
		}
	}
	f.flag(m, "not addressed to "+f.address)
	return nil
}

func (f *RecipientFilter) headerMatches(header mail.Header, key string) bool {
	raw := header.Get(key)
	if strings.TrimSpace(raw) == "" {
		return false
	}
	addrs, err := header.AddressList(key)
	if err != nil {
		// Malformed list: fall back to a substring scan of the raw header.
		return strings.Contains(strings.ToLower(raw), f.address)
	}
	for _, addr := range addrs {
		if strings.EqualFold(strings.TrimSpace(addr.Address), f.address) {
			return true
		}
	}
	return false
}

func (f *RecipientFilter) flag(m *MessageContext, reason string) {
	m.SetAnnotation(AnnotationIgnoreMessage, true)
	m.SetAnnotation(AnnotationIgnoreReason, reason)
	if f.logger != nil {
		f.logger.Printf("recipient_gate: ignoring message %s (%s)", m.Message.UID, reason)
	}
}
