package persistence

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/AleutianAI/AleutianVault/services/vault_buddy/storage/badger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(StoreConfig{
		Root:   t.TempDir(),
		DB:     db,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return store
}

func testHeader(id, title string) StreamHeader {
	return StreamHeader{
		ID:        id,
		Title:     title,
		Kind:      "agent",
		CreatedAt: time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC),
	}
}

func TestStore_CreateAndReadStream(t *testing.T) {
	store := newTestStore(t)

	// ---- create ----

	header := testHeader("550e8400-e29b-41d4-a716-446655440000", "Agent Session 2025-01-02")
	header.Metadata = map[string]string{"origin": "cli"}
	require.NoError(t, store.CreateStream("Agent Session 2025-01-02.md", header))

	// ---- duplicate rejected ----

	err := store.CreateStream("Agent Session 2025-01-02.md", header)
	assert.ErrorIs(t, err, ErrStreamExists)

	// ---- read back ----

	got, records, err := store.ReadStream("Agent Session 2025-01-02.md")
	require.NoError(t, err)
	assert.Equal(t, header.ID, got.ID)
	assert.Equal(t, header.Title, got.Title)
	assert.Equal(t, header.Kind, got.Kind)
	assert.True(t, header.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "cli", got.Metadata["origin"])
	assert.Empty(t, records)
}

func TestStore_AppendAndParseRecords(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateStream("s.md", testHeader("abc123", "S")))

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	recs := []Record{
		{Role: "user", Timestamp: base, Body: "What changed in the roadmap?"},
		{Role: "assistant", Timestamp: base.Add(2 * time.Second), Body: "Two milestones moved.\n\nDetails:\n- alpha slipped a week\n- beta unchanged"},
		{Role: "tool", Timestamp: base.Add(3 * time.Second), Body: "read_note: projects/roadmap.md"},
	}
	for _, r := range recs {
		require.NoError(t, store.AppendRecord("s.md", r))
	}

	_, got, err := store.ReadStream("s.md")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range recs {
		assert.Equal(t, recs[i].Role, got[i].Role, "record %d role", i)
		assert.True(t, recs[i].Timestamp.Equal(got[i].Timestamp), "record %d timestamp", i)
		assert.Equal(t, recs[i].Body, got[i].Body, "record %d body", i)
	}
}

func TestStore_AppendToMissingStream(t *testing.T) {
	store := newTestStore(t)

	err := store.AppendRecord("nope.md", Record{Role: "user", Timestamp: time.Now(), Body: "x"})
	assert.ErrorIs(t, err, ErrStreamMissing)
}

func TestStore_HeadingLookalikeStaysInBody(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateStream("s.md", testHeader("abc123", "S")))

	body := "## user (not a timestamp)\nstill the same record\n## chapter (2)"
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendRecord("s.md", Record{Role: "assistant", Timestamp: ts, Body: body}))

	_, got, err := store.ReadStream("s.md")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, body, got[0].Body)
}

func TestStore_RewriteHeaderKeepsRecords(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateStream("s.md", testHeader("abc123", "Old Title")))

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendRecord("s.md", Record{Role: "user", Timestamp: ts, Body: "hello"}))

	renamed := testHeader("abc123", "New Title")
	require.NoError(t, store.RewriteHeader("s.md", renamed))

	header, records, err := store.ReadStream("s.md")
	require.NoError(t, err)
	assert.Equal(t, "New Title", header.Title)
	require.Len(t, records, 1)
	assert.Equal(t, "hello", records[0].Body)
}

func TestStore_RenameStreamMovesLedgerEntry(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateStream("old.md", testHeader("abc123", "Old")))
	require.NoError(t, store.recordChecksums(map[string]string{"old.md": "deadbeef"}))

	require.NoError(t, store.RenameStream("old.md", "new.md"))

	exists, err := store.Exists("old.md")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = store.Exists("new.md")
	require.NoError(t, err)
	assert.True(t, exists)

	_, found, err := store.RecordedChecksum("old.md")
	require.NoError(t, err)
	assert.False(t, found)

	sum, found, err := store.RecordedChecksum("new.md")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "deadbeef", sum)
}

func TestStore_RenameOntoExistingStream(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateStream("a.md", testHeader("aaa111", "A")))
	require.NoError(t, store.CreateStream("b.md", testHeader("bbb222", "B")))

	err := store.RenameStream("a.md", "b.md")
	assert.ErrorIs(t, err, ErrStreamExists)
}

func TestStore_DeleteStream(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateStream("s.md", testHeader("abc123", "S")))
	require.NoError(t, store.recordChecksums(map[string]string{"s.md": "deadbeef"}))

	require.NoError(t, store.DeleteStream("s.md"))

	exists, err := store.Exists("s.md")
	require.NoError(t, err)
	assert.False(t, exists)

	_, found, err := store.RecordedChecksum("s.md")
	require.NoError(t, err)
	assert.False(t, found)

	err = store.DeleteStream("s.md")
	assert.ErrorIs(t, err, ErrStreamMissing)
}

func TestStore_ListSkipsNonMarkdown(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateStream("b.md", testHeader("bbb222", "B")))
	require.NoError(t, store.CreateStream("nested/a.md", testHeader("aaa111", "A")))
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "stray.txt"), []byte("x"), 0o644))

	paths, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md", "nested/a.md"}, paths)
}

func TestStore_ChecksumTracksContent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateStream("s.md", testHeader("abc123", "S")))

	before, err := store.Checksum("s.md")
	require.NoError(t, err)
	assert.Len(t, before, 64)

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendRecord("s.md", Record{Role: "user", Timestamp: ts, Body: "x"}))

	after, err := store.Checksum("s.md")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	again, err := store.Checksum("s.md")
	require.NoError(t, err)
	assert.Equal(t, after, again)
}

func TestStore_RejectsTraversalPaths(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateStream("../escape.md", testHeader("abc123", "X"))
	assert.Error(t, err)

	_, _, err = store.ReadStream("/etc/passwd")
	assert.Error(t, err)
}
