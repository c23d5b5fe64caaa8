// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSetGetDelete(t *testing.T) {
	db := openTestDB(t)

	// ---- set and get ----
	require.NoError(t, db.Set("session:abc", []byte(`{"id":"abc"}`)))
	got, err := db.Get("session:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"abc"}`, string(got))

	// ---- overwrite ----
	require.NoError(t, db.Set("session:abc", []byte(`{"id":"abc","title":"t"}`)))
	got, err = db.Get("session:abc")
	require.NoError(t, err)
	assert.Contains(t, string(got), "title")

	// ---- delete ----
	require.NoError(t, db.Delete("session:abc"))
	_, err = db.Get("session:abc")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	// ---- deleting absent key is fine ----
	assert.NoError(t, db.Delete("session:never-existed"))
}

func TestGetMissingKey(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Get("source:inbox/missing.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	assert.Contains(t, err.Error(), "source:inbox/missing.md")
}

func TestScanPrefix(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Set(fmt.Sprintf("checksum:file-%d.md", i), []byte(fmt.Sprintf("sum-%d", i))))
	}
	require.NoError(t, db.Set("session:other", []byte("x")))

	var keys []string
	err := db.ScanPrefix("checksum:", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, keys, 5)
	for _, k := range keys {
		assert.Contains(t, k, "checksum:")
	}

	// ---- early stop propagates ----
	stop := errors.New("stop")
	err = db.ScanPrefix("checksum:", func(key string, value []byte) error {
		return stop
	})
	assert.True(t, errors.Is(err, stop))
}

func TestClosedDatabase(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	assert.True(t, errors.Is(db.Set("k", nil), ErrClosed))
	_, err = db.Get("k")
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(db.Delete("k"), ErrClosed))
}

func TestOnDiskRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0 // no background work in tests
	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Set("session:persisted", []byte("v1")))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Get("session:persisted")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
}
