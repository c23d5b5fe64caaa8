// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianVault/pkg/validation"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/storage/badger"
)

// ErrStreamExists is returned when creating a stream at an occupied path.
var ErrStreamExists = errors.New("history stream already exists")

// ledgerPrefix namespaces export checksums inside the shared badger DB.
const ledgerPrefix = "checksum:"

// ===== Stream Format =====

// StreamHeader is the YAML frontmatter at the top of every history
// stream. It carries the session identity and is written once at
// stream creation; renames rewrite it through RewriteHeader.
type StreamHeader struct {
	// ID is the session UUID.
	ID string `yaml:"id"`

	// Title is the sanitized session title.
	Title string `yaml:"title"`

	// Kind distinguishes agent sessions from note chats.
	Kind string `yaml:"kind"`

	// CreatedAt is the session creation time.
	CreatedAt time.Time `yaml:"created"`

	// SourceNote is the vault-relative path of the note a note chat
	// was spawned from. Empty for agent sessions.
	SourceNote string `yaml:"source_note,omitempty"`

	// Model is the resolved model identifier, if pinned.
	Model string `yaml:"model,omitempty"`

	// Metadata holds free-form string tags.
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// Record is a single turn entry appended to a history stream.
type Record struct {
	// Role is one of "user", "assistant", "system", or "tool".
	Role string

	// Timestamp is when the turn completed.
	Timestamp time.Time

	// Body is the markdown content of the turn.
	Body string
}

// recordRoles are the roles a heading line may carry. A body line that
// looks like a heading is treated as content unless the role is known
// and the timestamp parses as RFC 3339.
var recordRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
	"tool":      true,
}

// ===== Store =====

// StoreConfig configures the history stream store.
type StoreConfig struct {
	// Root is the directory holding history streams.
	Root string

	// DB is the badger database carrying the export checksum ledger.
	DB *badger.DB

	// Logger receives structured store events. Defaults to
	// slog.Default when nil.
	Logger *slog.Logger
}

// Validate checks the configuration for completeness.
func (c *StoreConfig) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("store root is required")
	}
	if c.DB == nil {
		return fmt.Errorf("store requires a badger database")
	}
	return nil
}

// Store reads and writes history streams as markdown files with YAML
// frontmatter. Files live under a single root directory and are
// addressed by root-relative forward-slash paths.
//
// Store performs no locking of its own. All mutating calls are made
// through the persistence Queue, which serializes them.
type Store struct {
	root   string
	db     *badger.DB
	logger *slog.Logger
}

// NewStore creates a history stream store rooted at cfg.Root,
// creating the directory if needed.
//
// Inputs:
//   - cfg: store configuration. Root and DB are required.
//
// Outputs:
//   - *Store: the store.
//   - error: if the configuration is invalid or the root cannot be
//     created.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{
		root:   cfg.Root,
		db:     cfg.DB,
		logger: cfg.Logger,
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// absPath validates rel and resolves it under the store root.
func (s *Store) absPath(rel string) (string, error) {
	clean, err := validation.CleanVaultPath(rel)
	if err != nil {
		return "", fmt.Errorf("invalid stream path: %w", err)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Exists reports whether a stream exists at rel.
func (s *Store) Exists(rel string) (bool, error) {
	abs, err := s.absPath(rel)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat stream: %w", err)
	}
	return true, nil
}

// CreateStream writes a new history stream containing only the
// frontmatter header. It fails with ErrStreamExists if the path is
// already occupied; callers probe Exists to pick a free path first.
func (s *Store) CreateStream(rel string, header StreamHeader) error {
	abs, err := s.absPath(rel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("%w: %s", ErrStreamExists, rel)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat stream: %w", err)
	}

	data, err := encodeHeader(header)
	if err != nil {
		return err
	}
	if err := s.writeAtomic(abs, data); err != nil {
		return err
	}

	s.logger.Debug("history stream created",
		slog.String("path", rel),
		slog.String("session_id", header.ID))
	return nil
}

// AppendRecord appends a turn record to an existing stream.
//
// Thread Safety: This method is safe for concurrent use, but callers
// are expected to serialize writes through the persistence Queue so
// that record order matches submission order.
func (s *Store) AppendRecord(rel string, rec Record) error {
	abs, err := s.absPath(rel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrStreamMissing, rel)
		}
		return fmt.Errorf("stat stream: %w", err)
	}

	f, err := os.OpenFile(abs, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open stream for append: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatRecord(rec)); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// ReadStream parses a history stream into its header and records.
func (s *Store) ReadStream(rel string) (StreamHeader, []Record, error) {
	abs, err := s.absPath(rel)
	if err != nil {
		return StreamHeader{}, nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StreamHeader{}, nil, fmt.Errorf("%w: %s", ErrStreamMissing, rel)
		}
		return StreamHeader{}, nil, fmt.Errorf("read stream: %w", err)
	}
	return parseStream(data)
}

// RewriteHeader replaces a stream's frontmatter while preserving its
// records. Used when a session is renamed in place.
func (s *Store) RewriteHeader(rel string, header StreamHeader) error {
	abs, err := s.absPath(rel)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrStreamMissing, rel)
		}
		return fmt.Errorf("read stream: %w", err)
	}
	_, body, err := splitFrontmatter(data)
	if err != nil {
		return err
	}
	head, err := encodeHeader(header)
	if err != nil {
		return err
	}
	return s.writeAtomic(abs, append(head, []byte(body)...))
}

// RenameStream moves a stream to a new path and carries its export
// ledger entry along, so an unchanged stream still skips on import
// after a rename.
func (s *Store) RenameStream(oldRel, newRel string) error {
	oldAbs, err := s.absPath(oldRel)
	if err != nil {
		return err
	}
	newAbs, err := s.absPath(newRel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(newAbs); err == nil {
		return fmt.Errorf("%w: %s", ErrStreamExists, newRel)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat stream: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return fmt.Errorf("create stream directory: %w", err)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrStreamMissing, oldRel)
		}
		return fmt.Errorf("rename stream: %w", err)
	}

	if sum, ok, err := s.RecordedChecksum(oldRel); err == nil && ok {
		if err := s.db.Set(ledgerPrefix+newRel, []byte(sum)); err == nil {
			_ = s.db.Delete(ledgerPrefix + oldRel)
		}
	}
	return nil
}

// ResetStream replaces a stream with frontmatter only, discarding all
// records. The session stays readable, unlike ClearStream's truncate.
func (s *Store) ResetStream(rel string, header StreamHeader) error {
	abs, err := s.absPath(rel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrStreamMissing, rel)
		}
		return fmt.Errorf("stat stream: %w", err)
	}
	data, err := encodeHeader(header)
	if err != nil {
		return err
	}
	return s.writeAtomic(abs, data)
}

// ClearStream truncates a stream to zero bytes. Import uses this as
// the destructive step before rewriting a file from an archive.
func (s *Store) ClearStream(rel string) error {
	abs, err := s.absPath(rel)
	if err != nil {
		return err
	}
	if err := os.Truncate(abs, 0); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrStreamMissing, rel)
		}
		return fmt.Errorf("truncate stream: %w", err)
	}
	return nil
}

// DeleteStream removes a stream and its ledger entry.
func (s *Store) DeleteStream(rel string) error {
	abs, err := s.absPath(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrStreamMissing, rel)
		}
		return fmt.Errorf("delete stream: %w", err)
	}
	_ = s.db.Delete(ledgerPrefix + rel)
	return nil
}

// List returns the relative paths of all streams under the root,
// sorted lexically.
func (s *Store) List() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(p, ".md") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadRaw returns a stream's bytes without parsing. Export uses this.
func (s *Store) ReadRaw(rel string) ([]byte, error) {
	abs, err := s.absPath(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStreamMissing, rel)
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return data, nil
}

// WriteRaw replaces a stream's bytes wholesale. Import uses this
// after ClearStream has succeeded.
func (s *Store) WriteRaw(rel string, data []byte) error {
	abs, err := s.absPath(rel)
	if err != nil {
		return err
	}
	return s.writeAtomic(abs, data)
}

// Checksum returns the hex SHA-256 of a stream's current content.
func (s *Store) Checksum(rel string) (string, error) {
	data, err := s.ReadRaw(rel)
	if err != nil {
		return "", err
	}
	return checksumBytes(data), nil
}

// ===== Export Ledger =====

// RecordedChecksum returns the checksum recorded for rel at the end
// of the last export, and whether one exists.
func (s *Store) RecordedChecksum(rel string) (string, bool, error) {
	val, err := s.db.Get(ledgerPrefix + rel)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read checksum ledger: %w", err)
	}
	return string(val), true, nil
}

// recordChecksums writes a batch of export checksums to the ledger.
func (s *Store) recordChecksums(sums map[string]string) error {
	for rel, sum := range sums {
		if err := s.db.Set(ledgerPrefix+rel, []byte(sum)); err != nil {
			return fmt.Errorf("record checksum for %s: %w", rel, err)
		}
	}
	return nil
}

// ===== Encoding =====

// checksumBytes returns the hex SHA-256 of data.
func checksumBytes(data []byte) string {
	hasher := sha256.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// encodeHeader renders frontmatter followed by a blank line.
func encodeHeader(header StreamHeader) ([]byte, error) {
	body, err := yaml.Marshal(&header)
	if err != nil {
		return nil, fmt.Errorf("marshal stream header: %w", err)
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(body)
	b.WriteString("---\n\n")
	return []byte(b.String()), nil
}

// formatRecord renders a record as a heading plus body. The trailing
// blank line keeps adjacent records separated.
func formatRecord(rec Record) string {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(rec.Role)
	b.WriteString(" (")
	b.WriteString(rec.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString(")\n\n")
	b.WriteString(strings.TrimRight(rec.Body, "\n"))
	b.WriteString("\n\n")
	return b.String()
}

// splitFrontmatter separates the YAML payload between the fence lines
// from the record body that follows the closing fence.
func splitFrontmatter(data []byte) (yamlPayload, body string, err error) {
	const fence = "---\n"
	text := string(data)
	if !strings.HasPrefix(text, fence) {
		return "", "", fmt.Errorf("stream missing frontmatter fence")
	}
	end := strings.Index(text[len(fence):], "\n"+fence)
	if end < 0 {
		return "", "", fmt.Errorf("stream frontmatter not terminated")
	}
	yamlPayload = text[len(fence) : len(fence)+end+1]
	rest := text[len(fence)+end+1+len(fence):]
	rest = strings.TrimPrefix(rest, "\n")
	return yamlPayload, rest, nil
}

// parseStream decodes a stream into header and records.
func parseStream(data []byte) (StreamHeader, []Record, error) {
	yamlPayload, body, err := splitFrontmatter(data)
	if err != nil {
		return StreamHeader{}, nil, err
	}

	var header StreamHeader
	if err := yaml.Unmarshal([]byte(yamlPayload), &header); err != nil {
		return StreamHeader{}, nil, fmt.Errorf("unmarshal stream header: %w", err)
	}

	var records []Record
	var current *Record
	var lines []string
	flush := func() {
		if current != nil {
			current.Body = strings.Trim(strings.Join(lines, "\n"), "\n")
			records = append(records, *current)
		}
		current = nil
		lines = nil
	}

	for _, line := range strings.Split(body, "\n") {
		if role, ts, ok := parseRecordHeading(line); ok {
			flush()
			current = &Record{Role: role, Timestamp: ts}
			continue
		}
		if current != nil {
			lines = append(lines, line)
		}
	}
	flush()

	return header, records, nil
}

// parseRecordHeading matches "## role (timestamp)" lines.
func parseRecordHeading(line string) (string, time.Time, bool) {
	rest, ok := strings.CutPrefix(line, "## ")
	if !ok {
		return "", time.Time{}, false
	}
	role, stamp, ok := strings.Cut(rest, " (")
	if !ok || !recordRoles[role] || !strings.HasSuffix(stamp, ")") {
		return "", time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSuffix(stamp, ")"))
	if err != nil {
		return "", time.Time{}, false
	}
	return role, ts, true
}

// writeAtomic writes data via a temp file and rename so readers never
// observe a partial stream.
func (s *Store) writeAtomic(abs string, data []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create stream directory: %w", err)
	}
	tempFile, err := os.CreateTemp(dir, ".stream-*.tmp")
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
		return fmt.Errorf("write stream: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync stream: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	if err := os.Rename(tempPath, abs); err != nil {
		return fmt.Errorf("rename stream: %w", err)
	}

	success = true
	return nil
}
