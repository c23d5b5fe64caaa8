// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vault

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ===== Types =====

// NoteOp identifies the kind of change observed on a note.
type NoteOp int

const (
	NoteOpCreate NoteOp = iota
	NoteOpWrite
	NoteOpRemove
	NoteOpRename
)

// String returns a human-readable name for the operation.
func (op NoteOp) String() string {
	switch op {
	case NoteOpCreate:
		return "create"
	case NoteOpWrite:
		return "write"
	case NoteOpRemove:
		return "remove"
	case NoteOpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// NoteChange is one observed vault change. Path is vault-relative.
type NoteChange struct {
	Path string
	Op   NoteOp
	Time time.Time
}

// NoteChangeHandler receives debounced batches of note changes.
type NoteChangeHandler func(changes []NoteChange)

// WatcherOptions configures a vault watcher.
type WatcherOptions struct {
	// DebounceWindow batches rapid-fire events from editors that
	// save through temp files.
	DebounceWindow time.Duration

	// IgnorePatterns are glob patterns and folder names to skip, in
	// addition to the vault's protected folders.
	IgnorePatterns []string

	// BufferSize is the event channel capacity. Events past a full
	// buffer are dropped.
	BufferSize int

	// Logger receives watcher diagnostics. Defaults to slog.Default
	// when nil.
	Logger *slog.Logger
}

// DefaultWatcherOptions returns the standard watcher settings.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 200 * time.Millisecond,
		IgnorePatterns: []string{
			"*.tmp",
			"*.swp",
			".note-*",
			".stream-*",
		},
		BufferSize: 1000,
	}
}

// Watcher observes a vault directory tree and reports markdown note
// changes in debounced batches.
//
// Thread Safety: Start and Stop are safe to call from any goroutine;
// the handler runs on the watcher's own goroutine.
type Watcher struct {
	vault    *FS
	watcher  *fsnotify.Watcher
	handler  NoteChangeHandler
	debounce time.Duration
	ignore   []string
	logger   *slog.Logger

	changes  chan NoteChange
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a watcher over the given vault.
//
// Inputs:
//   - vault: the store whose root is observed.
//   - handler: receives debounced change batches. Must not be nil.
//   - opts: optional settings; nil uses DefaultWatcherOptions.
func NewWatcher(vault *FS, handler NoteChangeHandler, opts *WatcherOptions) (*Watcher, error) {
	options := DefaultWatcherOptions()
	if opts != nil {
		options = *opts
	}
	if options.DebounceWindow <= 0 {
		options.DebounceWindow = DefaultWatcherOptions().DebounceWindow
	}
	if options.BufferSize <= 0 {
		options.BufferSize = DefaultWatcherOptions().BufferSize
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		vault:    vault,
		watcher:  fsWatcher,
		handler:  handler,
		debounce: options.DebounceWindow,
		ignore:   options.IgnorePatterns,
		logger:   options.Logger,
		changes:  make(chan NoteChange, options.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the vault tree.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.vault.Root()); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	w.logger.Info("vault watcher started", slog.String("root", w.vault.Root()))
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

// addRecursive registers every non-ignored directory under root.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("watch walk error", slog.String("path", p), slog.Any("error", err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.shouldIgnore(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			w.logger.Warn("failed to watch directory",
				slog.String("path", p),
				slog.Any("error", err),
			)
		}
		return nil
	})
}

// shouldIgnore reports whether an absolute path should be skipped.
// Protected vault folders are always ignored.
func (w *Watcher) shouldIgnore(abs string) bool {
	rel, err := filepath.Rel(w.vault.Root(), abs)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return false
	}
	if w.vault.IsProtected(rel) {
		return true
	}
	base := filepath.Base(abs)
	if strings.HasPrefix(base, ".") {
		return true
	}
	for _, pattern := range w.ignore {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

// processEvents consumes raw fsnotify events, filters them down to
// markdown notes, and feeds the debounce channel.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}

			// New directories join the watch set so notes created
			// inside them are seen.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory",
							slog.String("path", event.Name),
							slog.Any("error", err),
						)
					}
					continue
				}
			}

			rel, err := filepath.Rel(w.vault.Root(), event.Name)
			if err != nil || !strings.HasSuffix(rel, ".md") {
				continue
			}

			change := NoteChange{
				Path: filepath.ToSlash(rel),
				Op:   convertOp(event.Op),
				Time: time.Now(),
			}
			select {
			case w.changes <- change:
			default:
				w.logger.Debug("change buffer full, dropping event",
					slog.String("path", change.Path),
				)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("vault watcher error", slog.Any("error", err))
		}
	}
}

// convertOp maps an fsnotify operation to a NoteOp.
func convertOp(op fsnotify.Op) NoteOp {
	switch {
	case op.Has(fsnotify.Create):
		return NoteOpCreate
	case op.Has(fsnotify.Remove):
		return NoteOpRemove
	case op.Has(fsnotify.Rename):
		return NoteOpRename
	default:
		return NoteOpWrite
	}
}

// debounceLoop batches changes and flushes them after a quiet period.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var pending []NoteChange
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := deduplicateChanges(pending)
		pending = nil
		if w.handler != nil {
			w.handler(batch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			pending = append(pending, change)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			flush()
		}
	}
}

// deduplicateChanges keeps the newest change per path, preserving
// first-seen order.
func deduplicateChanges(changes []NoteChange) []NoteChange {
	index := make(map[string]int, len(changes))
	var result []NoteChange
	for _, change := range changes {
		if i, seen := index[change.Path]; seen {
			result[i] = change
			continue
		}
		index[change.Path] = len(result)
		result = append(result, change)
	}
	return result
}
