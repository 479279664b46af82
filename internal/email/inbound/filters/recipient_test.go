package filters

import (
	"context"
	"testing"

	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/connector"
)

func recipientContext(raw string) *MessageContext {
	return &MessageContext{Message: &connector.FetchedMessage{Raw: []byte(raw)}}
}

func TestRecipientFilterDiscardsMailForOtherAddresses(t *testing.T) {
	raw := "From: dana@example.com\r\n" +
		"To: totally-unrelated@elsewhere.example\r\n" +
		"Subject: hi\r\n\r\nbody\r\n"
	ctx := recipientContext(raw)

	filter := NewRecipientFilter("support@example.com", nil)
	if err := filter.Apply(context.Background(), ctx); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if !ctx.Ignored() {
		t.Fatalf("mail for another address must be flagged for discard")
	}
}

func TestRecipientFilterAcceptsTargetAddress(t *testing.T) {
	cases := map[string]string{
		"direct":       "To: support@example.com\r\n",
		"case folded":  "To: Support@EXAMPLE.com\r\n",
		"display name": "To: \"OpenDesk Support\" <support@example.com>\r\n",
		"cc":           "To: boss@example.com\r\nCc: support@example.com\r\n",
		"delivered-to": "To: list@elsewhere.example\r\nDelivered-To: support@example.com\r\n",
	}
	for name, headers := range cases {
		raw := "From: dana@example.com\r\n" + headers + "Subject: hi\r\n\r\nbody\r\n"
		ctx := recipientContext(raw)

		filter := NewRecipientFilter("support@example.com", nil)
		if err := filter.Apply(context.Background(), ctx); err != nil {
			t.Fatalf("%s: Apply returned error: %v", name, err)
		}
		if ctx.Ignored() {
			t.Fatalf("%s: mail addressed to the target was discarded", name)
		}
	}
}

func TestRecipientFilterDisabledWithoutAddress(t *testing.T) {
	raw := "From: dana@example.com\r\nTo: anyone@anywhere.example\r\n\r\nbody\r\n"
	ctx := recipientContext(raw)

	filter := NewRecipientFilter("", nil)
	if err := filter.Apply(context.Background(), ctx); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if ctx.Ignored() {
		t.Fatalf("unconfigured gate must accept everything")
	}
}

func TestChainDiscardsMailForOtherRecipients(t *testing.T) {
	raw := "From: dana@example.com\r\n" +
		"To: totally-unrelated@elsewhere.example\r\n" +
		"Subject: please help\r\n\r\nbody\r\n"
	ctx := recipientContext(raw)

	chain := NewChain(
		NewRecipientFilter("support@example.com", nil),
		NewAutoReplyFilter(nil),
		NewSubjectTokenFilter(nil),
		NewBodyTokenFilter(nil),
	)
	if err := chain.Run(context.Background(), ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !ctx.Ignored() {
		t.Fatalf("chain must flag mail not addressed to the helpdesk")
	}
}
