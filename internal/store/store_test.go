// ABOUTME: Tests for SQLiteStore open/bootstrap, Deposit, ListInbox, and error taxonomy
// ABOUTME: Uses real SQLite databases under t.TempDir for isolation per test case

package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	return openTestStore(t, dbPath)
}

// openTestStore opens an additional handle on an existing path,
// modelling a second independent process.
func openTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func strPtr(s string) *string {
	return &s
}

func TestStore_DepositAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.Deposit(ctx, "larry", "cody", strPtr("Update"), "done")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	inbox, err := s.ListInbox(ctx, "cody", false)
	require.NoError(t, err)
	require.Len(t, inbox, 1)

	m := inbox[0]
	assert.Equal(t, int64(1), m.ID)
	assert.Equal(t, "larry", m.From)
	assert.Equal(t, "cody", m.To)
	require.NotNil(t, m.Subject)
	assert.Equal(t, "Update", *m.Subject)
	assert.Equal(t, "done", m.Body)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Nil(t, m.ReadAt, "freshly deposited message must be unread")
}

func TestStore_Deposit_InvalidInput(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Seed one valid message so the inbox has a known state.
	_, err := s.Deposit(ctx, "larry", "cody", nil, "hello")
	require.NoError(t, err)

	cases := []struct {
		name string
		from string
		to   string
		body string
	}{
		{"empty from", "", "cody", "x"},
		{"empty to", "larry", "", "x"},
		{"empty body", "larry", "cody", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Deposit(ctx, tc.from, tc.to, nil, tc.body)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	// No partial writes: the failed calls left no rows behind.
	inbox, err := s.ListInbox(ctx, "cody", false)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
}

func TestStore_Deposit_SubjectAbsentVsEmpty(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	noSubject, err := s.Deposit(ctx, "larry", "cody", nil, "no subject")
	require.NoError(t, err)

	emptySubject, err := s.Deposit(ctx, "larry", "cody", strPtr(""), "empty subject")
	require.NoError(t, err)

	got, err := s.GetMessage(ctx, noSubject)
	require.NoError(t, err)
	assert.Nil(t, got.Subject, "absent subject must round-trip as nil")

	got, err = s.GetMessage(ctx, emptySubject)
	require.NoError(t, err)
	require.NotNil(t, got.Subject, "empty subject is present, not absent")
	assert.Equal(t, "", *got.Subject)
}

func TestStore_MonotonicIDs(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	a := openTestStore(t, dbPath)
	b := openTestStore(t, dbPath)
	ctx := context.Background()

	// Interleave deposits across two independent handles; ids must be
	// strictly increasing through the shared sequence.
	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := a.Deposit(ctx, "larry", "cody", nil, "from a")
		require.NoError(t, err)
		ids = append(ids, id)

		id, err = b.Deposit(ctx, "ralph", "cody", nil, "from b")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "ids must be strictly increasing")
	}
}

func TestStore_ListInbox_NewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second", "third"} {
		_, err := s.Deposit(ctx, "larry", "cody", nil, body)
		require.NoError(t, err)
	}

	inbox, err := s.ListInbox(ctx, "cody", false)
	require.NoError(t, err)
	require.Len(t, inbox, 3)

	assert.Equal(t, "third", inbox[0].Body)
	assert.Equal(t, "second", inbox[1].Body)
	assert.Equal(t, "first", inbox[2].Body)
	for i := 1; i < len(inbox); i++ {
		assert.False(t, inbox[i].CreatedAt.After(inbox[i-1].CreatedAt))
		assert.Less(t, inbox[i].ID, inbox[i-1].ID)
	}
}

func TestStore_ListInbox_PartitionedByRecipient(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Deposit(ctx, "larry", "cody", nil, "for cody")
	require.NoError(t, err)
	_, err = s.Deposit(ctx, "larry", "ralph", nil, "for ralph")
	require.NoError(t, err)

	inbox, err := s.ListInbox(ctx, "cody", false)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "for cody", inbox[0].Body)

	inbox, err = s.ListInbox(ctx, "nobody", false)
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestStore_ListInbox_InvalidInput(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.ListInbox(context.Background(), "", false)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStore_GetMessage_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetMessage(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CountUnread(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	count, err := s.CountUnread(ctx, "cody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	for i := 0; i < 3; i++ {
		_, err := s.Deposit(ctx, "larry", "cody", nil, "hi")
		require.NoError(t, err)
	}

	count, err = s.CountUnread(ctx, "cody")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	_, err = s.DrainUnread(ctx, "cody")
	require.NoError(t, err)

	count, err = s.CountUnread(ctx, "cody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestStore_DepositVisibleToSecondHandle(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	writer := openTestStore(t, dbPath)
	ctx := context.Background()

	id, err := writer.Deposit(ctx, "larry", "cody", nil, "durable")
	require.NoError(t, err)

	// A handle opened after the deposit sees the committed row.
	reader := openTestStore(t, dbPath)
	got, err := reader.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Body)
}

func TestStore_BootstrapIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	first := openTestStore(t, dbPath)
	_, err := first.Deposit(context.Background(), "larry", "cody", nil, "kept")
	require.NoError(t, err)

	// Reopening must not error or disturb existing rows.
	second := openTestStore(t, dbPath)
	inbox, err := second.ListInbox(context.Background(), "cody", false)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
}

func TestStore_BootstrapConcurrent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "fresh.db")

	// Several handles racing to create the schema on a fresh path; no
	// duplicate-table error may surface.
	const handles = 4
	var wg sync.WaitGroup
	errs := make([]error, handles)
	stores := make([]*SQLiteStore, handles)

	for i := 0; i < handles; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stores[i], errs[i] = NewSQLiteStore(dbPath)
		}(i)
	}
	wg.Wait()

	for i := 0; i < handles; i++ {
		require.NoError(t, errs[i], "handle %d", i)
		defer stores[i].Close()
	}

	_, err := stores[0].Deposit(context.Background(), "larry", "cody", nil, "after race")
	require.NoError(t, err)
}

func TestStore_OpenCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "deeper", "test.db")

	s := openTestStore(t, dbPath)
	_, err := s.Deposit(context.Background(), "larry", "cody", nil, "hi")
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestStore_OpenCorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "garbage.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("this is not a sqlite database, not even close"), 0644))

	_, err := NewSQLiteStore(dbPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.NotErrorIs(t, err, ErrUnavailable, "corruption must be distinct from unavailability")
}

func TestTimeFormat_LexicographicOrderMatchesTimeOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Fractions with trailing zeros are the hazardous case: a trimming
	// layout renders 0.5s as ".5Z", which compares after ".52Z".
	times := []time.Time{
		base,
		base.Add(500 * time.Millisecond),
		base.Add(520 * time.Millisecond),
		base.Add(time.Second),
		base.Add(time.Second + time.Nanosecond),
	}

	for i := 1; i < len(times); i++ {
		earlier := times[i-1].Format(timeFormat)
		later := times[i].Format(timeFormat)
		assert.Less(t, earlier, later,
			"formatted %v must sort before %v", times[i-1], times[i])
	}
}

func TestStore_OrderingWithTrailingZeroFractions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Two messages half a second apart, the earlier one on a fraction
	// with trailing zeros (0.5s vs 0.52s). Inserted directly so the
	// stored timestamps are exactly these instants.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []struct {
		body string
		at   time.Time
	}{
		{"earlier", base.Add(500 * time.Millisecond)},
		{"later", base.Add(520 * time.Millisecond)},
	}
	for _, r := range rows {
		_, err := s.db.Exec(`
			INSERT INTO messages (from_agent, to_agent, body, created_at)
			VALUES (?, ?, ?, ?)
		`, "larry", "cody", r.body, r.at.Format(timeFormat))
		require.NoError(t, err)
	}

	inbox, err := s.ListInbox(ctx, "cody", false)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "later", inbox[0].Body, "newest first")
	assert.Equal(t, "earlier", inbox[1].Body)

	drained, err := s.DrainUnread(ctx, "cody")
	require.NoError(t, err)
	require.Len(t, drained, 2)
	assert.Equal(t, "earlier", drained[0].Body, "oldest first")
	assert.Equal(t, "later", drained[1].Body)
}

func TestStore_CreatedAtNonDecreasing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 10; i++ {
		id, err := s.Deposit(ctx, "larry", "cody", nil, "tick")
		require.NoError(t, err)
		m, err := s.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.False(t, m.CreatedAt.Before(prev), "created_at must be non-decreasing in insertion order")
		prev = m.CreatedAt
	}
}
