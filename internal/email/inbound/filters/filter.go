// Package filters normalizes and annotates inbound messages before the
// postmaster decides what to do with them.
package filters

import (
	"context"

	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/connector"
)

// MessageContext is the mutable envelope filters operate on.
type MessageContext struct {
	Account     connector.Account
	Message     *connector.FetchedMessage
	Annotations map[string]any
}

// SetAnnotation records a key on the context, allocating the map lazily.
func (m *MessageContext) SetAnnotation(key string, value any) {
	if m.Annotations == nil {
		m.Annotations = make(map[string]any)
	}
	m.Annotations[key] = value
}

// Ignored reports whether an earlier filter flagged the message for discard.
func (m *MessageContext) Ignored() bool {
	if m == nil || m.Annotations == nil {
		return false
	}
	ignored, _ := m.Annotations[AnnotationIgnoreMessage].(bool)
	return ignored
}

// Filter mutates a message before it reaches the postmaster.
type Filter interface {
	ID() string
	Apply(ctx context.Context, m *MessageContext) error
}

// Chain executes filters in order, short-circuiting on error. Filters after
// an ignore flag still run; the postmaster checks the flag once at the end.
type Chain struct {
	filters []Filter
}

// NewChain returns a filter chain that runs the provided filters sequentially.
func NewChain(fs ...Filter) Chain {
	return Chain{filters: fs}
}

// Run executes the chain.
func (c Chain) Run(ctx context.Context, m *MessageContext) error {
	for _, f := range c.filters {
		if err := f.Apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
