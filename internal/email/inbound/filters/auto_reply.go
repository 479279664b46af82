package filters

import (
	"bytes"
	"context"
	"log"
	"net/mail"
	"strings"
)

// AutoReplyFilter flags vacation responders and other automated mail so the
// postmaster discards them instead of opening tickets. Without it an
// acknowledgment to an out-of-office address loops forever.
type AutoReplyFilter struct {
	logger *log.Logger
}

// NewAutoReplyFilter constructs the filter instance.
func NewAutoReplyFilter(logger *log.Logger) *AutoReplyFilter {
	return &AutoReplyFilter{logger: logger}
}

// ID implements Filter.
func (f *AutoReplyFilter) ID() string { return "auto_reply" }

// Apply inspects loop-prevention headers per RFC 3834.
func (f *AutoReplyFilter) Apply(ctx context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	reader, err := mail.ReadMessage(bytes.NewReader(m.Message.Raw))
	if err != nil {
		return nil
	}
	header := reader.Header

	if v := strings.ToLower(strings.TrimSpace(header.Get("Auto-Submitted"))); v != "" && v != "no" {
		f.flag(m, "auto-submitted: "+v)
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(header.Get("Precedence"))) {
	case "bulk", "junk", "auto_reply":
		f.flag(m, "precedence header")
		return nil
	}
	if header.Get("X-Autoreply") != "" || header.Get("X-Autorespond") != "" {
		f.flag(m, "autoresponder header")
	}
	return nil
}

func (f *AutoReplyFilter) flag(m *MessageContext, reason string) {
	m.SetAnnotation(AnnotationIgnoreMessage, true)
	m.SetAnnotation(AnnotationIgnoreReason, reason)
	if f != nil && f.logger != nil {
		f.logger.Printf("auto_reply: ignoring message %s (%s)", m.Message.UID, reason)
	}
}
