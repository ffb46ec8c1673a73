// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Single-file message table with WAL mode and idempotent schema bootstrap

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is the stored timestamp layout. The fractional seconds are
// fixed-width (RFC3339Nano trims trailing zeros, which breaks SQL's
// lexicographic ORDER BY) so string comparison agrees with time order.
// Nanosecond resolution keeps created_at non-decreasing across rapid
// deposits; equal stamps are tie-broken by id everywhere ordering
// matters. Reads accept any fraction width.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the message store at the
// given path. Parent directories are created if missing, the schema is
// bootstrapped idempotently, and an integrity check runs before any
// operation is served.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating database directory: %v", ErrUnavailable, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrUnavailable, err)
	}

	// One connection per handle. Each operation owns one transaction;
	// cross-process contention is handled by busy_timeout plus the
	// bounded retry in retryBusy.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, classify(fmt.Errorf("setting %s: %w", p, err))
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.checkIntegrity(); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("message store opened", "path", path)
	return s, nil
}

// checkIntegrity runs SQLite's quick_check. A non-"ok" result means the
// file structure is damaged and is surfaced as ErrCorrupted so an
// operator can choose between rebuilding and investigating.
func (s *SQLiteStore) checkIntegrity() error {
	var result string
	if err := s.db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return classify(fmt.Errorf("running integrity check: %w", err))
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check failed: %s", ErrCorrupted, result)
	}
	return nil
}

// createSchema creates the message table if it doesn't exist. Safe to
// run concurrently from multiple processes opening the same file for
// the first time: IF NOT EXISTS absorbs the duplicate, and a lock held
// by the other process is absorbed by the busy retry.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			from_agent TEXT NOT NULL,
			to_agent   TEXT NOT NULL,
			subject    TEXT,
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			read_at    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_messages_inbox
			ON messages(to_agent, read_at);

		CREATE INDEX IF NOT EXISTS idx_messages_inbox_created
			ON messages(to_agent, created_at);
	`

	return retryBusy(context.Background(), func() error {
		_, err := s.db.Exec(schema)
		return err
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Deposit appends one message and returns its assigned id. The row is
// durably committed before Deposit returns; on failure no row is left
// visible.
func (s *SQLiteStore) Deposit(ctx context.Context, from, to string, subject *string, body string) (int64, error) {
	if from == "" {
		return 0, fmt.Errorf("%w: from is required", ErrInvalidInput)
	}
	if to == "" {
		return 0, fmt.Errorf("%w: to is required", ErrInvalidInput)
	}
	if body == "" {
		return 0, fmt.Errorf("%w: body is required", ErrInvalidInput)
	}

	var id int64
	err := retryBusy(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (from_agent, to_agent, subject, body, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, from, to, subjectArg(subject), body, time.Now().UTC().Format(timeFormat))
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, classify(fmt.Errorf("inserting message: %w", err))
	}

	s.logger.Debug("deposited message", "id", id, "from", from, "to", to)
	return id, nil
}

// DrainUnread returns every unread message for the agent, oldest first,
// and marks exactly that set read, all in one transaction. A drain that
// races a concurrent writer fails its lock upgrade, is rolled back, and
// re-runs against the committed state, so two concurrent drains for the
// same agent return disjoint sets.
func (s *SQLiteStore) DrainUnread(ctx context.Context, agent string) ([]*Message, error) {
	if agent == "" {
		return nil, fmt.Errorf("%w: agent is required", ErrInvalidInput)
	}

	var drained []*Message
	err := retryBusy(ctx, func() error {
		var err error
		drained, err = s.drainTx(ctx, agent)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(drained) > 0 {
		s.logger.Debug("drained inbox", "agent", agent, "count", len(drained))
	}
	return drained, nil
}

// drainTx is one attempt at the drain transaction. The rollback in the
// defer is a no-op after a successful commit.
func (s *SQLiteStore) drainTx(ctx context.Context, agent string) ([]*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning drain transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, from_agent, to_agent, subject, body, created_at, read_at
		FROM messages
		WHERE to_agent = ? AND read_at IS NULL
		ORDER BY created_at ASC, id ASC
	`, agent)
	if err != nil {
		return nil, fmt.Errorf("selecting unread: %w", err)
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	if len(messages) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing drain: %w", err)
		}
		return []*Message{}, nil
	}

	now := time.Now().UTC()
	args := make([]any, 0, len(messages)+1)
	args = append(args, now.Format(timeFormat))
	placeholders := make([]string, len(messages))
	for i, m := range messages {
		placeholders[i] = "?"
		args = append(args, m.ID)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE messages SET read_at = ?
		WHERE id IN (`+strings.Join(placeholders, ", ")+`) AND read_at IS NULL
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("marking read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("marking read: %w", err)
	}
	if affected != int64(len(messages)) {
		// The select and update ran in the same snapshot; a mismatch
		// means the transaction is not isolated as required.
		return nil, fmt.Errorf("marking read: updated %d of %d selected rows", affected, len(messages))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing drain: %w", err)
	}

	for _, m := range messages {
		t := now
		m.ReadAt = &t
	}
	return messages, nil
}

// ListInbox returns the agent's messages newest first. Read-only; does
// not touch read_at.
func (s *SQLiteStore) ListInbox(ctx context.Context, agent string, unreadOnly bool) ([]*Message, error) {
	if agent == "" {
		return nil, fmt.Errorf("%w: agent is required", ErrInvalidInput)
	}

	query := `
		SELECT id, from_agent, to_agent, subject, body, created_at, read_at
		FROM messages
		WHERE to_agent = ?
	`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var messages []*Message
	err := retryBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, agent)
		if err != nil {
			return err
		}
		messages, err = scanMessages(rows)
		return err
	})
	if err != nil {
		return nil, classify(fmt.Errorf("listing inbox: %w", err))
	}
	return messages, nil
}

// GetMessage retrieves a message by id. Returns ErrNotFound if no
// message has that id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	var m *Message
	err := retryBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, from_agent, to_agent, subject, body, created_at, read_at
			FROM messages WHERE id = ?
		`, id)
		if err != nil {
			return err
		}
		messages, err := scanMessages(rows)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			return ErrNotFound
		}
		m = messages[0]
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, classify(fmt.Errorf("querying message: %w", err))
	}
	return m, nil
}

// CountUnread reports the agent's unread message count.
func (s *SQLiteStore) CountUnread(ctx context.Context, agent string) (int64, error) {
	if agent == "" {
		return 0, fmt.Errorf("%w: agent is required", ErrInvalidInput)
	}

	var count int64
	err := retryBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM messages WHERE to_agent = ? AND read_at IS NULL
		`, agent).Scan(&count)
	})
	if err != nil {
		return 0, classify(fmt.Errorf("counting unread: %w", err))
	}
	return count, nil
}

// scanMessages drains rows into messages, closing rows on every path.
func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer func() { _ = rows.Close() }()

	messages := []*Message{}
	for rows.Next() {
		var m Message
		var subject, readAt sql.NullString
		var createdAt string

		if err := rows.Scan(&m.ID, &m.From, &m.To, &subject, &m.Body, &createdAt, &readAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		var err error
		m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing created_at %q: %v", ErrCorrupted, createdAt, err)
		}
		if subject.Valid {
			s := subject.String
			m.Subject = &s
		}
		if readAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, readAt.String)
			if err != nil {
				return nil, fmt.Errorf("%w: parsing read_at %q: %v", ErrCorrupted, readAt.String, err)
			}
			m.ReadAt = &t
		}
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// subjectArg returns the INSERT argument for an optional subject:
// SQL NULL when absent, the string (possibly empty) when present.
func subjectArg(subject *string) any {
	if subject == nil {
		return nil
	}
	return *subject
}

// classify maps a low-level failure onto the store's error taxonomy.
// Errors already carrying a taxonomy sentinel pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrInvalidInput, ErrUnavailable, ErrCorrupted, ErrNotFound} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed") {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Ensure SQLiteStore implements the Store interface.
var _ Store = (*SQLiteStore)(nil)
