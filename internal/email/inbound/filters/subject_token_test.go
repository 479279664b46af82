package filters

import (
	"context"
	"testing"

	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/connector"
)

func TestSubjectTokenFilterSetsAnnotation(t *testing.T) {
	filter := NewSubjectTokenFilter(nil)
	msg := &connector.FetchedMessage{Raw: []byte("Subject: Re: #7042 printer still broken\r\n\r\nBody")}
	ctx := &MessageContext{Message: msg}

	if err := filter.Apply(context.Background(), ctx); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	got, ok := ctx.Annotations[AnnotationThreadDisplayNumber]
	if !ok {
		t.Fatalf("expected thread annotation")
	}
	if got.(int64) != 7042 {
		t.Fatalf("unexpected display number %v", got)
	}
}

func TestSubjectTokenFilterDecodesEncodedHeader(t *testing.T) {
	filter := NewSubjectTokenFilter(nil)
	encodedSubject := "Subject: =?UTF-8?Q?Re=3A_=235123_hi?=\r\n\r\nBody"
	msg := &connector.FetchedMessage{Raw: []byte(encodedSubject)}
	ctx := &MessageContext{Message: msg}

	if err := filter.Apply(context.Background(), ctx); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if ctx.Annotations[AnnotationThreadDisplayNumber] != int64(5123) {
		t.Fatalf("expected decoded display number, got %+v", ctx.Annotations[AnnotationThreadDisplayNumber])
	}
}

func TestSubjectTokenFilterAcceptsBracketedToken(t *testing.T) {
	filter := NewSubjectTokenFilter(nil)
	msg := &connector.FetchedMessage{Raw: []byte("Subject: Re: [#9001] status\r\n\r\nBody")}
	ctx := &MessageContext{Message: msg}

	if err := filter.Apply(context.Background(), ctx); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if ctx.Annotations[AnnotationThreadDisplayNumber] != int64(9001) {
		t.Fatalf("expected 9001, got %+v", ctx.Annotations[AnnotationThreadDisplayNumber])
	}
}

func TestSubjectTokenFilterIgnoresMissingToken(t *testing.T) {
	filter := NewSubjectTokenFilter(nil)
	cases := []string{
		"Subject: Hello world\r\n\r\nBody",
		"Subject: Issue 42 without hash\r\n\r\nBody",
		"Subject: version v1#2 marker\r\n\r\nBody",
	}
	for _, raw := range cases {
		ctx := &MessageContext{Message: &connector.FetchedMessage{Raw: []byte(raw)}}
		if err := filter.Apply(context.Background(), ctx); err != nil {
			t.Fatalf("Apply returned error: %v", err)
		}
		if ctx.Annotations != nil {
			if _, ok := ctx.Annotations[AnnotationThreadDisplayNumber]; ok {
				t.Fatalf("expected no annotation for %q", raw)
			}
		}
	}
}
