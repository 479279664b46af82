// Package connector opens mailboxes over IMAP or POP3 and streams raw
// messages into the inbound pipeline.
package connector

import (
	"context"
	"errors"
	"time"
)

// ErrAuthFailed marks a mailbox credential rejection. The pipeline counts
// these toward its bounded retry budget before halting the account.
var ErrAuthFailed = errors.New("mailbox authentication failed")

// Account carries the fields a connector needs to open a mailbox.
type Account struct {
	ID           int64
	Name         string
	Protocol     string // imap, imaps, pop3, pop3s
	Host         string
	Port         int
	Username     string
	Password     []byte
	Folder       string
	PollInterval time.Duration
}

// FetchedMessage wraps the on-wire RFC822 payload plus derived metadata.
type FetchedMessage struct {
	AccountID  int64
	Connector  string
	UID        string
	RemoteID   string
	ReceivedAt time.Time
	SizeBytes  int64
	Raw        []byte
	Metadata   map[string]string
	account    Account
}

// AccountSnapshot returns the account metadata captured at fetch time.
func (m FetchedMessage) AccountSnapshot() Account {
	return m.account
}

// WithAccount captures the account metadata on the message.
func (m *FetchedMessage) WithAccount(acc Account) {
	m.account = acc
	m.AccountID = acc.ID
}

// Handler receives fetched messages and hands them to the postmaster.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// Fetcher implementations stream messages received after the since mark to a
// handler. Messages stay on the server unless delete-after-fetch is enabled;
// the pipeline's high-water mark keeps reruns idempotent.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account Account, since time.Time, handler Handler) error
}

// Factory resolves the connector implementation for a mailbox.
type Factory interface {
	FetcherFor(account Account) (Fetcher, error)
}
