// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vault provides access to the user's note vault: a directory
// tree of markdown files addressed by vault-relative paths.
//
// All paths crossing this package boundary are validated against
// traversal, and a small set of protected folders (tool state, VCS
// metadata) is fenced off from every mutating operation.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianVault/pkg/validation"
)

// ===== Errors =====

var (
	// ErrNoteNotFound is returned when a vault path has no file.
	ErrNoteNotFound = errors.New("note not found")

	// ErrNoteExists is returned when a write target is occupied and
	// overwriting was not requested.
	ErrNoteExists = errors.New("note already exists")

	// ErrPathProtected is returned for mutations inside protected
	// folders.
	ErrPathProtected = errors.New("path is protected")

	// ErrVaultRoot is returned when the vault root is unusable.
	ErrVaultRoot = errors.New("invalid vault root")
)

// defaultProtectedFolders are fenced off from mutation. The tool
// state folder holds session history; deleting it through a vault
// tool would let the agent destroy its own audit trail.
var defaultProtectedFolders = []string{
	".vaultbuddy",
	".obsidian",
	".git",
	".trash",
}

// ===== Types =====

// NoteInfo describes one vault file.
type NoteInfo struct {
	// Path is the vault-relative path.
	Path string `json:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// ModTime is the last modification time.
	ModTime time.Time `json:"mod_time"`
}

// Store is the vault access surface the agent tools run against.
//
// Implementations must validate every path and enforce folder
// protection on mutations.
type Store interface {
	// Read returns a note's content.
	Read(ctx context.Context, rel string) ([]byte, error)

	// Write creates or replaces a note.
	Write(ctx context.Context, rel string, data []byte) error

	// Delete removes a note.
	Delete(ctx context.Context, rel string) error

	// Move renames a note. The destination must be free.
	Move(ctx context.Context, oldRel, newRel string) error

	// List returns the notes under prefix, sorted by path. An empty
	// prefix lists the whole vault.
	List(ctx context.Context, prefix string) ([]NoteInfo, error)

	// Stat returns metadata for one note.
	Stat(ctx context.Context, rel string) (NoteInfo, error)

	// IsProtected reports whether rel sits in a protected folder.
	IsProtected(rel string) bool
}

// ===== Filesystem Store =====

// FSConfig configures the filesystem vault store.
type FSConfig struct {
	// Root is the vault directory. It must exist.
	Root string `json:"root" yaml:"root"`

	// Protected lists additional protected folder prefixes beyond
	// the defaults.
	Protected []string `json:"protected,omitempty" yaml:"protected,omitempty"`

	// Logger receives structured vault events. Defaults to
	// slog.Default when nil.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// FS is the production Store backed by the local filesystem.
//
// Thread Safety: all methods are safe for concurrent use; atomicity
// of individual writes comes from temp-file renames.
type FS struct {
	root      string
	protected []string
	logger    *slog.Logger
}

// NewFS opens a vault rooted at cfg.Root.
//
// Outputs:
//   - *FS: the store.
//   - error: ErrVaultRoot if the root is missing or not a directory.
func NewFS(cfg FSConfig) (*FS, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("%w: root is required", ErrVaultRoot)
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrVaultRoot, cfg.Root)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	protected := append([]string{}, defaultProtectedFolders...)
	protected = append(protected, cfg.Protected...)

	return &FS{
		root:      cfg.Root,
		protected: protected,
		logger:    cfg.Logger,
	}, nil
}

// Root returns the vault root directory.
func (v *FS) Root() string {
	return v.root
}

// resolve validates rel and returns its cleaned form plus the
// absolute path under the root.
func (v *FS) resolve(rel string) (string, string, error) {
	clean, err := validation.CleanVaultPath(rel)
	if err != nil {
		return "", "", fmt.Errorf("invalid note path: %w", err)
	}
	return clean, filepath.Join(v.root, filepath.FromSlash(clean)), nil
}

// IsProtected reports whether rel falls under a protected folder.
func (v *FS) IsProtected(rel string) bool {
	clean, err := validation.CleanVaultPath(rel)
	if err != nil {
		return false
	}
	for _, p := range v.protected {
		if clean == p || strings.HasPrefix(clean, p+"/") {
			return true
		}
	}
	return false
}

// guardMutation rejects writes into protected folders.
func (v *FS) guardMutation(clean string) error {
	if v.IsProtected(clean) {
		return fmt.Errorf("%w: %s", ErrPathProtected, clean)
	}
	return nil
}

// Read returns a note's content.
func (v *FS) Read(ctx context.Context, rel string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, abs, err := v.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoteNotFound, clean)
		}
		return nil, fmt.Errorf("read note: %w", err)
	}
	return data, nil
}

// Write creates or replaces a note atomically, creating parent
// folders as needed.
func (v *FS) Write(ctx context.Context, rel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, abs, err := v.resolve(rel)
	if err != nil {
		return err
	}
	if err := v.guardMutation(clean); err != nil {
		return err
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create note directory: %w", err)
	}
	tempFile, err := os.CreateTemp(dir, ".note-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write note: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync note: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close note: %w", err)
	}
	if err := os.Rename(tempPath, abs); err != nil {
		return fmt.Errorf("rename note: %w", err)
	}

	success = true
	v.logger.Debug("note written", slog.String("path", clean), slog.Int("bytes", len(data)))
	return nil
}

// Delete removes a note.
func (v *FS) Delete(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, abs, err := v.resolve(rel)
	if err != nil {
		return err
	}
	if err := v.guardMutation(clean); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoteNotFound, clean)
		}
		return fmt.Errorf("delete note: %w", err)
	}
	v.logger.Debug("note deleted", slog.String("path", clean))
	return nil
}

// Move renames a note. The destination must not exist.
func (v *FS) Move(ctx context.Context, oldRel, newRel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	oldClean, oldAbs, err := v.resolve(oldRel)
	if err != nil {
		return err
	}
	newClean, newAbs, err := v.resolve(newRel)
	if err != nil {
		return err
	}
	if err := v.guardMutation(oldClean); err != nil {
		return err
	}
	if err := v.guardMutation(newClean); err != nil {
		return err
	}

	if _, err := os.Stat(newAbs); err == nil {
		return fmt.Errorf("%w: %s", ErrNoteExists, newClean)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat note: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return fmt.Errorf("create note directory: %w", err)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoteNotFound, oldClean)
		}
		return fmt.Errorf("move note: %w", err)
	}
	v.logger.Debug("note moved", slog.String("from", oldClean), slog.String("to", newClean))
	return nil
}

// List returns the markdown notes under prefix, sorted by path.
// Hidden and protected folders are excluded.
func (v *FS) List(ctx context.Context, prefix string) ([]NoteInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := v.root
	cleanPrefix := ""
	if prefix != "" {
		var err error
		var abs string
		cleanPrefix, abs, err = v.resolve(prefix)
		if err != nil {
			return nil, err
		}
		start = abs
	}

	var notes []NoteInfo
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == start {
				return fmt.Errorf("%w: %s", ErrNoteNotFound, cleanPrefix)
			}
			return err
		}
		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && (validation.IsHiddenPath(rel) || v.IsProtected(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(rel, ".md") || validation.IsHiddenPath(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		notes = append(notes, NoteInfo{
			Path:    rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Path < notes[j].Path })
	return notes, nil
}

// Stat returns metadata for one note.
func (v *FS) Stat(ctx context.Context, rel string) (NoteInfo, error) {
	if err := ctx.Err(); err != nil {
		return NoteInfo{}, err
	}
	clean, abs, err := v.resolve(rel)
	if err != nil {
		return NoteInfo{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NoteInfo{}, fmt.Errorf("%w: %s", ErrNoteNotFound, clean)
		}
		return NoteInfo{}, fmt.Errorf("stat note: %w", err)
	}
	if info.IsDir() {
		return NoteInfo{}, fmt.Errorf("%w: %s is a folder", ErrNoteNotFound, clean)
	}
	return NoteInfo{Path: clean, Size: info.Size(), ModTime: info.ModTime()}, nil
}
