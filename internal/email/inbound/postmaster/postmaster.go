// Package postmaster turns fetched mail into tickets and conversations.
package postmaster

import (
	"context"

	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/connector"
	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/filters"
)

// Actions a processed message can result in.
const (
	ActionNewTicket     = "new_ticket"
	ActionFollowUp      = "follow_up"
	ActionIgnored       = "ignored"
	ActionUnknownSender = "unknown_sender"
)

// Processor parses, routes, and persists one inbound message.
type Processor interface {
	Process(ctx context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error)
}

// Result tracks what happened to a message.
type Result struct {
	TicketID       string
	ConversationID string
	DisplayID      int64
	Action         string
}

// Service wires the filter chain in front of the processor and satisfies
// connector.Handler.
type Service struct {
	FilterChain filters.Chain
	Handler     Processor
}

// Handle implements connector.Handler.
func (s Service) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	ctxMsg := &filters.MessageContext{
		Account:     msg.AccountSnapshot(),
		Message:     msg,
		Annotations: map[string]any{},
	}
	if err := s.FilterChain.Run(ctx, ctxMsg); err != nil {
		return err
	}
	_, err := s.Handler.Process(ctx, msg, ctxMsg)
	return err
}
