// ABOUTME: Bounded retry with exponential backoff for transient SQLite lock contention
// ABOUTME: BUSY/LOCKED failures are retried; budget exhaustion maps to ErrUnavailable

package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	retryMaxAttempts = 5
	retryBaseDelay   = 50 * time.Millisecond
	retryMaxDelay    = 500 * time.Millisecond
)

// retryBusy runs f, retrying while SQLite reports BUSY or LOCKED.
// Lock contention between independent processes is expected and must
// not surface to callers of the public operations; only exhausting
// the retry budget does, as ErrUnavailable. Any other error from f
// is returned as-is on the first occurrence.
func retryBusy(ctx context.Context, f func() error) error {
	var err error
	for attempt := 0; attempt <= retryMaxAttempts; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		if attempt == retryMaxAttempts {
			break
		}

		// 50ms, 100ms, 200ms, 400ms, 500ms (capped), each with ±25% jitter.
		delay := retryBaseDelay << uint(attempt)
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: lock retry budget exhausted: %v", ErrUnavailable, err)
}

// isBusy reports whether err is a SQLite BUSY (5) or LOCKED (6) failure.
// Matched on the message so the retry path stays independent of the
// driver's error types.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}
