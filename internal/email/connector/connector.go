// Package connector opens tenant mailboxes over IMAP or POP3 and streams
// raw messages into the ingestion pipeline.
package connector

import (
	"context"
	"time"
)

// Account carries the minimal set of fields a connector needs to open a
// mailbox. Password is the already-unsealed credential; it lives only for
// the duration of one fetch.
type Account struct {
	ID         int
	TenantID   string
	Type       string // imap, imaps, pop3, pop3s
	Host       string
	Port       int
	Username   string
	Password   []byte
	Folder     string
	FetchLimit int
}

// FetchedMessage wraps the on-wire RFC822 payload plus derived metadata.
type FetchedMessage struct {
	AccountID  int
	TenantID   string
	Connector  string
	UID        string
	RemoteID   string
	ReceivedAt time.Time
	SizeBytes  int64
	Raw        []byte
	Metadata   map[string]string
	account    Account
}

// AccountSnapshot returns the account metadata captured when the fetch occurred.
func (m FetchedMessage) AccountSnapshot() Account {
	return m.account
}

// WithAccount captures the account metadata on the message.
func (m *FetchedMessage) WithAccount(acc Account) {
	m.account = acc
	m.AccountID = acc.ID
	m.TenantID = acc.TenantID
}

// Handler receives fully fetched messages and hands them to ingestion. Handle
// reports whether the message was newly stored; duplicates and skipped
// messages return false.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) (bool, error)
}

// Fetcher implementations (IMAP, POP3) stream messages to a handler.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account Account, handler Handler) error
}

// Factory resolves the correct connector implementation for a mailbox.
type Factory interface {
	FetcherFor(account Account) (Fetcher, error)
}
