package persistence

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeArchive builds a gzip tarball by hand so tests can produce
// malformed archives.
func makeArchive(t *testing.T, path string, manifest *Manifest, files map[string][]byte) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for name, data := range files {
		require.NoError(t, writeTarEntry(tw, name, data))
	}
	if manifest != nil {
		data, err := json.Marshal(manifest)
		require.NoError(t, err)
		require.NoError(t, writeTarEntry(tw, manifestName, data))
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func seedStream(t *testing.T, store *Store, rel, id, title string, bodies ...string) {
	t.Helper()

	require.NoError(t, store.CreateStream(rel, testHeader(id, title)))
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, body := range bodies {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		require.NoError(t, store.AppendRecord(rel, Record{
			Role:      role,
			Timestamp: ts.Add(time.Duration(i) * time.Second),
			Body:      body,
		}))
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	seedStream(t, src, "a.md", "aaa111", "A", "question", "answer")
	seedStream(t, src, "nested/b.md", "bbb222", "B", "only one")

	archivePath := filepath.Join(t.TempDir(), "history.tar.gz")
	report, err := src.ExportTo(ctx, archivePath)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Positive(t, report.Bytes)

	// ---- restore into an empty store ----

	dst := newTestStore(t)
	imported, err := dst.ImportFrom(ctx, archivePath)
	require.NoError(t, err)
	assert.Equal(t, 2, imported.Total)
	assert.Equal(t, 2, imported.Imported)
	assert.Equal(t, 0, imported.Skipped)
	assert.Empty(t, imported.Failures)

	header, records, err := dst.ReadStream("a.md")
	require.NoError(t, err)
	assert.Equal(t, "A", header.Title)
	require.Len(t, records, 2)
	assert.Equal(t, "question", records[0].Body)
	assert.Equal(t, "answer", records[1].Body)

	_, records, err = dst.ReadStream("nested/b.md")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestArchive_ImportSkipsUnchangedStreams(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStream(t, store, "a.md", "aaa111", "A", "hello")
	seedStream(t, store, "b.md", "bbb222", "B", "world")

	archivePath := filepath.Join(t.TempDir(), "history.tar.gz")
	_, err := store.ExportTo(ctx, archivePath)
	require.NoError(t, err)

	infoBefore, err := os.Stat(filepath.Join(store.Root(), "a.md"))
	require.NoError(t, err)

	// ---- nothing changed since export, so zero writes ----

	report, err := store.ImportFrom(ctx, archivePath)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 0, report.Imported)
	assert.Equal(t, 2, report.Skipped)
	assert.Empty(t, report.Failures)

	infoAfter, err := os.Stat(filepath.Join(store.Root(), "a.md"))
	require.NoError(t, err)
	assert.True(t, infoBefore.ModTime().Equal(infoAfter.ModTime()),
		"skipped stream must not be rewritten")
}

func TestArchive_ImportRestoresModifiedStream(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStream(t, store, "a.md", "aaa111", "A", "hello")
	seedStream(t, store, "b.md", "bbb222", "B", "world")

	archivePath := filepath.Join(t.TempDir(), "history.tar.gz")
	_, err := store.ExportTo(ctx, archivePath)
	require.NoError(t, err)

	// a.md drifts after the export; b.md stays put.
	ts := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendRecord("a.md", Record{Role: "user", Timestamp: ts, Body: "extra"}))

	report, err := store.ImportFrom(ctx, archivePath)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Failures)

	_, records, err := store.ReadStream("a.md")
	require.NoError(t, err)
	require.Len(t, records, 1, "import should roll back the post-export append")
	assert.Equal(t, "hello", records[0].Body)
}

func TestArchive_ImportRejectsSchemaMajorMismatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	archivePath := filepath.Join(t.TempDir(), "future.tar.gz")
	makeArchive(t, archivePath, &Manifest{SchemaVersion: "v2.0.0", CreatedAt: time.Now()}, nil)

	_, err := store.ImportFrom(ctx, archivePath)
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestArchive_ImportRejectsMissingManifest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	archivePath := filepath.Join(t.TempDir(), "bare.tar.gz")
	makeArchive(t, archivePath, nil, map[string][]byte{
		streamPrefix + "a.md": []byte("---\nid: x\n---\n\n"),
	})

	_, err := store.ImportFrom(ctx, archivePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), manifestName)
}

func TestArchive_PerStreamFailureIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	good := []byte("---\nid: aaa111\ntitle: A\nkind: agent\ncreated: 2025-03-01T10:00:00Z\n---\n\n")
	corrupt := []byte("payload")

	archivePath := filepath.Join(t.TempDir(), "mixed.tar.gz")
	makeArchive(t, archivePath, &Manifest{
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now(),
		Files: []ManifestFile{
			{Path: "bad.md", Checksum: "0000000000000000000000000000000000000000000000000000000000000000", Size: int64(len(corrupt))},
			{Path: "ghost.md", Checksum: checksumBytes(good), Size: int64(len(good))},
			{Path: "good.md", Checksum: checksumBytes(good), Size: int64(len(good))},
		},
	}, map[string][]byte{
		streamPrefix + "bad.md":  corrupt,
		streamPrefix + "good.md": good,
	})

	report, err := store.ImportFrom(ctx, archivePath)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 2, report.Failed())

	reasons := make(map[string]string, len(report.Failures))
	for _, f := range report.Failures {
		reasons[f.Path] = f.Reason
	}
	assert.Contains(t, reasons["bad.md"], "checksum mismatch")
	assert.Contains(t, reasons["ghost.md"], "entry missing")

	exists, err := store.Exists("good.md")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestArchive_ExportRecordsLedger(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStream(t, store, "a.md", "aaa111", "A", "hello")

	_, found, err := store.RecordedChecksum("a.md")
	require.NoError(t, err)
	assert.False(t, found, "no ledger entry before first export")

	archivePath := filepath.Join(t.TempDir(), "history.tar.gz")
	_, err = store.ExportTo(ctx, archivePath)
	require.NoError(t, err)

	sum, found, err := store.RecordedChecksum("a.md")
	require.NoError(t, err)
	require.True(t, found)

	live, err := store.Checksum("a.md")
	require.NoError(t, err)
	assert.Equal(t, live, sum)
}
