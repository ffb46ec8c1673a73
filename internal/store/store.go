// ABOUTME: Store interface, Message type, and error taxonomy for deadrop persistence
// ABOUTME: Defines the contract the command surface consumes; SQLiteStore implements it

package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidInput is returned when a required field is empty or missing.
// It is always detected before storage is touched.
var ErrInvalidInput = errors.New("invalid input")

// ErrUnavailable is returned when the backing file cannot be opened,
// read, or written, including when the lock-retry budget is exhausted.
var ErrUnavailable = errors.New("store unavailable")

// ErrCorrupted is returned when the on-disk structure fails an integrity
// check. It is never auto-repaired; the operator decides whether to
// rebuild or investigate.
var ErrCorrupted = errors.New("store corrupted")

// ErrNotFound is returned when a requested message does not exist.
var ErrNotFound = errors.New("not found")

// Message is a single deposited notification. Messages are immutable
// except for the one-way transition of ReadAt from nil to a timestamp.
type Message struct {
	ID        int64
	From      string
	To        string
	Subject   *string // nil when the sender gave no subject; distinct from ""
	Body      string
	CreatedAt time.Time
	ReadAt    *time.Time // nil = unread
}

// Read reports whether the message has been drained.
func (m *Message) Read() bool {
	return m.ReadAt != nil
}

// Store defines the message persistence contract.
//
// Deposit, DrainUnread, and ListInbox are each a single ACID transaction
// against the shared file. Transient lock contention is retried
// internally with a bounded budget; callers only ever see ErrUnavailable
// once that budget is exhausted.
type Store interface {
	// Deposit appends one message for the named recipient and returns
	// its assigned id. Ids are strictly increasing and never reused.
	Deposit(ctx context.Context, from, to string, subject *string, body string) (int64, error)

	// DrainUnread atomically selects every unread message for the agent,
	// oldest first, marks the selected set read, and returns it. Two
	// concurrent drains for the same agent return disjoint sets.
	DrainUnread(ctx context.Context, agent string) ([]*Message, error)

	// ListInbox returns the agent's messages newest first without
	// mutating read state. With unreadOnly, only unread messages.
	ListInbox(ctx context.Context, agent string, unreadOnly bool) ([]*Message, error)

	// GetMessage retrieves a single message by id.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// CountUnread reports how many messages are waiting for the agent.
	CountUnread(ctx context.Context, agent string) (int64, error)

	// Close releases the underlying database handle.
	Close() error
}
