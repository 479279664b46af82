package filters

import (
	"context"
	"testing"

	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/connector"
)

func TestBodyTokenFilterFindsPermalink(t *testing.T) {
	raw := "From: dana@example.com\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"Thanks!\r\n\r\n> View your ticket: https://desk.example.com/tickets/display/7042\r\n"
	ctx := &MessageContext{Message: &connector.FetchedMessage{Raw: []byte(raw)}}

	filter := NewBodyTokenFilter(nil)
	if err := filter.Apply(context.Background(), ctx); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if ctx.Annotations[AnnotationThreadDisplayNumber] != int64(7042) {
		t.Fatalf("expected 7042, got %+v", ctx.Annotations[AnnotationThreadDisplayNumber])
	}
}

func TestBodyTokenFilterScansHTMLPart(t *testing.T) {
	raw := "From: dana@example.com\r\n" +
		"Content-Type: text/html\r\n\r\n" +
		`<p>see <a href="https://desk.example.com/tickets/display/8100">your ticket</a></p>` + "\r\n"
	ctx := &MessageContext{Message: &connector.FetchedMessage{Raw: []byte(raw)}}

	filter := NewBodyTokenFilter(nil)
	if err := filter.Apply(context.Background(), ctx); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if ctx.Annotations[AnnotationThreadDisplayNumber] != int64(8100) {
		t.Fatalf("expected 8100, got %+v", ctx.Annotations[AnnotationThreadDisplayNumber])
	}
}

func TestBodyTokenFilterSkipsWhenSubjectAlreadyMatched(t *testing.T) {
	raw := "Content-Type: text/plain\r\n\r\nhttps://desk.example.com/tickets/display/1111\r\n"
	ctx := &MessageContext{Message: &connector.FetchedMessage{Raw: []byte(raw)}}
	ctx.SetAnnotation(AnnotationThreadDisplayNumber, int64(2222))

	filter := NewBodyTokenFilter(nil)
	if err := filter.Apply(context.Background(), ctx); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if ctx.Annotations[AnnotationThreadDisplayNumber] != int64(2222) {
		t.Fatalf("subject annotation was overwritten: %+v", ctx.Annotations[AnnotationThreadDisplayNumber])
	}
}

func TestBodyTokenFilterNoMatch(t *testing.T) {
	raw := "Content-Type: text/plain\r\n\r\nJust a plain question, no links.\r\n"
	ctx := &MessageContext{Message: &connector.FetchedMessage{Raw: []byte(raw)}}

	filter := NewBodyTokenFilter(nil)
	if err := filter.Apply(context.Background(), ctx); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if ctx.Annotations != nil {
		if _, ok := ctx.Annotations[AnnotationThreadDisplayNumber]; ok {
			t.Fatalf("expected no annotation")
		}
	}
}
