// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps BadgerDB for the session index and the export
// checksum ledger. Session history itself lives in human-readable
// files; Badger only carries the lookup tier on top of them.
package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ===== Errors =====

var (
	// ErrKeyNotFound is returned when a key has no value.
	ErrKeyNotFound = errors.New("key not found")

	// ErrClosed is returned for operations on a closed database.
	ErrClosed = errors.New("database is closed")
)

// Config controls database placement and maintenance.
type Config struct {
	// Dir is the on-disk location. Ignored when InMemory is set.
	Dir string `json:"dir" yaml:"dir"`

	// InMemory runs entirely in RAM, for tests.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// SyncWrites fsyncs every write. Slower, safer. Default: false;
	// the persistence queue already serializes writes so the window
	// for loss is one operation.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`

	// GCInterval is how often value-log garbage collection runs.
	// Zero disables the GC runner. Default: 10m
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`

	// Logger receives store lifecycle events. Badger's own chatty
	// logger stays disabled either way.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:        dir,
		GCInterval: 10 * time.Minute,
	}
}

// InMemoryConfig returns a throwaway in-memory configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is a thin wrapper around a Badger instance.
//
// Thread Safety: safe for concurrent use; Badger handles transaction
// isolation internally.
type DB struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
}

// Open opens or creates the database.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating badger dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	inner, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", cfg.Dir, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &DB{db: inner, logger: logger, stopGC: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go d.runGC(cfg.GCInterval)
	}
	return d, nil
}

// runGC reclaims value-log space on a timer until Close.
func (d *DB) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			// Badger returns ErrNoRewrite when there was nothing to
			// collect; that is the common case and not worth logging.
			err := d.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				d.logger.Warn("badger gc failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops maintenance and closes the database.
func (d *DB) Close() error {
	close(d.stopGC)
	return d.db.Close()
}

// Set stores value under key.
func (d *DB) Set(key string, value []byte) error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Get returns the value for key, or ErrKeyNotFound.
func (d *DB) Get(key string) ([]byte, error) {
	if d.db.IsClosed() {
		return nil, ErrClosed
	}
	var out []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
			}
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (d *DB) Delete(key string) error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// ScanPrefix streams every key/value under prefix to fn in key order.
// Returning an error from fn stops the scan and propagates the error.
func (d *DB) ScanPrefix(prefix string, fn func(key string, value []byte) error) error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	return d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.Key()), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// WithTxn runs fn inside one read-write transaction.
func (d *DB) WithTxn(fn func(txn *badger.Txn) error) error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside one read-only transaction.
func (d *DB) WithReadTxn(fn func(txn *badger.Txn) error) error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	return d.db.View(fn)
}
