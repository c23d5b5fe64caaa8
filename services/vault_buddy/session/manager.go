// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns conversation lifecycle: creation, lookup,
// title sanitization, history-path derivation, and per-session model
// and permission overrides.
//
// The manager never writes to disk or to the index directly. Every
// mutation is enqueued on the persistence queue, which serializes all
// durable writes; that is also what makes collision-free history-path
// reservation possible without file locks.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianVault/pkg/validation"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/safety"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/persistence"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/storage/badger"
)

// Index key prefixes inside the shared badger DB.
const (
	sessionKeyPrefix = "session:"
	pathKeyPrefix    = "path:"
	sourceKeyPrefix  = "source:"
)

// History layout constants.
const (
	// HistoryExtension is the storage extension for history streams.
	HistoryExtension = ".md"

	// noteChatFolder holds note-chat streams, keeping their derived
	// names out of the agent-session namespace.
	noteChatFolder = "chats"

	// archiveFolder holds archived session streams.
	archiveFolder = "archive"

	// noteChatSuffix is appended to the sanitized note basename.
	noteChatSuffix = " Chat"

	// defaultTitlePrefix starts an untitled agent session's title;
	// the ISO date follows.
	defaultTitlePrefix = "Agent Session "

	// maxPathProbes bounds collision-suffix probing.
	maxPathProbes = 10000
)

// Package-level tracer and meter for session operations.
var (
	sessionTracer = otel.Tracer("vaultbuddy.session")
	sessionMeter  = otel.Meter("vaultbuddy.session")

	sessionMetricsOnce    sync.Once
	sessionCreatedCounter metric.Int64Counter
)

func initSessionMetrics() {
	sessionMetricsOnce.Do(func() {
		sessionCreatedCounter, _ = sessionMeter.Int64Counter(
			"vaultbuddy.sessions.created",
			metric.WithDescription("Sessions created, by kind"),
		)
	})
}

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// Defaults are the process-wide model parameters that session
	// overrides fall back to, field by field.
	Defaults ModelParams `json:"defaults" yaml:"defaults"`

	// Logger receives structured manager events. Defaults to
	// slog.Default when nil.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// Manager is the authoritative source of truth for session existence,
// naming, and configuration.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Manager struct {
	config ManagerConfig
	store  *persistence.Store
	queue  *persistence.Queue
	db     *badger.DB
	vault  VaultReader
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	// flights collapses concurrent note-chat creates that derive the
	// same history path into a single get-or-create.
	flights singleflight.Group
}

// ManagerOption adjusts manager construction.
type ManagerOption func(*Manager)

// WithClock overrides the manager's time source. Tests use this to
// pin default titles and timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithVault attaches a vault reader used to seed note-chat context.
func WithVault(reader VaultReader) ManagerOption {
	return func(m *Manager) { m.vault = reader }
}

// NewManager creates a session manager.
//
// Inputs:
//   - cfg: defaults and logging.
//   - store: history stream store.
//   - queue: the single-writer persistence queue. All mutations flow
//     through it.
//   - db: badger DB holding the session index.
//   - opts: optional clock and vault wiring.
//
// Outputs:
//   - *Manager: the manager.
//   - error: if a required dependency is missing.
func NewManager(cfg ManagerConfig, store *persistence.Store, queue *persistence.Queue, db *badger.DB, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session manager requires a store")
	}
	if queue == nil {
		return nil, fmt.Errorf("session manager requires a persistence queue")
	}
	if db == nil {
		return nil, fmt.Errorf("session manager requires a badger database")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	initSessionMetrics()

	m := &Manager{
		config:   cfg,
		store:    store,
		queue:    queue,
		db:       db,
		logger:   cfg.Logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ===== Creation =====

// CreateAgentSession creates a freestanding agent session.
//
// Description:
//
//	An empty title yields the default "Agent Session <ISO date>".
//	The title is sanitized, the history path is derived from it
//	(collisions resolved by suffixing " 2", " 3", ...), and the
//	stream is created through the persistence queue so that path
//	reservation races cannot occur.
//
// Inputs:
//   - ctx: bounds the wait for the queued creation. Cancelling the
//     wait does not cancel the queued work.
//   - title: requested title. May be empty.
//
// Outputs:
//   - *Session: a clone of the created session.
//   - error: ErrInvalidTitle if the title sanitizes to nothing, or a
//     persistence failure.
//
// Thread Safety: This method is safe for concurrent use.
func (m *Manager) CreateAgentSession(ctx context.Context, title string) (*Session, error) {
	ctx, span := sessionTracer.Start(ctx, "session.create_agent")
	defer span.End()

	raw := title
	if raw == "" {
		raw = defaultTitlePrefix + m.now().Format("2006-01-02")
	}
	clean := SanitizeTitle(raw)
	if clean == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTitle, title)
	}

	now := m.now()
	sess := &Session{
		ID:        uuid.NewString(),
		Kind:      KindAgent,
		Title:     clean,
		CreatedAt: now,
		UpdatedAt: now,
	}

	pending := m.queue.Enqueue("create agent session", func(opCtx context.Context) error {
		rel, err := m.reservePath("", clean)
		if err != nil {
			return err
		}
		sess.HistoryPath = rel
		if err := m.store.CreateStream(rel, m.headerFor(sess)); err != nil {
			return err
		}
		return m.indexSession(sess)
	})
	if err := pending.Wait(ctx); err != nil {
		return nil, err
	}

	sessionCreatedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(KindAgent))))
	m.logger.Info("agent session created",
		slog.String("session_id", sess.ID),
		slog.String("title", sess.Title),
		slog.String("history_path", sess.HistoryPath))
	return sess.Clone(), nil
}

// CreateNoteChatSession creates, or returns, the note chat anchored
// to a source note. Note chats are one-to-one with their derived
// history path, so repeated calls for the same note (or for a rename
// that sanitizes to the same name) converge on one session, and
// concurrent creates deriving the same path collapse into one flight.
//
// The source note is auto-attached to the session context, and the
// head of the note is seeded into the stream as a system record.
//
// Thread Safety: This method is safe for concurrent use.
func (m *Manager) CreateNoteChatSession(ctx context.Context, sourcePath string) (*Session, error) {
	ctx, span := sessionTracer.Start(ctx, "session.create_note_chat")
	defer span.End()

	source, err := validation.CleanVaultPath(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceNote, err)
	}
	title, err := noteChatTitle(source)
	if err != nil {
		return nil, err
	}
	derived := path.Join(noteChatFolder, title+HistoryExtension)

	v, err, _ := m.flights.Do(derived, func() (any, error) {
		return m.getOrCreateNoteChat(ctx, source, title)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session).Clone(), nil
}

// getOrCreateNoteChat resolves the note chat for source or creates it
// through the queue. Runs inside a single flight per derived path.
func (m *Manager) getOrCreateNoteChat(ctx context.Context, source, title string) (*Session, error) {
	if existing, err := m.GetNoteChatSession(ctx, source); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := m.now()
	sess := &Session{
		ID:             uuid.NewString(),
		Kind:           KindNoteChat,
		Title:          title,
		SourceNotePath: source,
		Context: []ContextFile{{
			Path:    source,
			Source:  ContextAuto,
			AddedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var created *Session
	pending := m.queue.Enqueue("create note chat", func(opCtx context.Context) error {
		// Re-check under the queue's serialization: a racing create
		// may have landed first. Resolution mirrors GetNoteChatSession,
		// derived path first, exact source second.
		derived := path.Join(noteChatFolder, title+HistoryExtension)
		for _, key := range []string{pathKeyPrefix + derived, sourceKeyPrefix + source} {
			id, err := m.idForKey(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			existing, err := m.load(id)
			if err != nil {
				return err
			}
			created = existing.Clone()
			return nil
		}

		rel, err := m.reservePath(noteChatFolder, title)
		if err != nil {
			return err
		}
		sess.HistoryPath = rel
		if err := m.store.CreateStream(rel, m.headerFor(sess)); err != nil {
			return err
		}

		seed, err := buildSeed(opCtx, m.vault, source)
		if err != nil {
			m.logger.Warn("note chat seed unavailable",
				slog.String("source", source),
				slog.String("error", err.Error()))
			seed = "Context note: " + source + "\n"
		}
		if err := m.store.AppendRecord(rel, persistence.Record{
			Role:      "system",
			Timestamp: m.now(),
			Body:      seed,
		}); err != nil {
			return err
		}
		if err := m.indexSession(sess); err != nil {
			return err
		}
		created = sess.Clone()
		return nil
	})
	if err := pending.Wait(ctx); err != nil {
		return nil, err
	}

	if created.ID == sess.ID {
		sessionCreatedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(KindNoteChat))))
		m.logger.Info("note chat created",
			slog.String("session_id", created.ID),
			slog.String("source", source),
			slog.String("history_path", created.HistoryPath))
	}
	return created, nil
}

// noteChatTitle derives a note chat's title from its source path.
func noteChatTitle(source string) (string, error) {
	base := path.Base(source)
	base = strings.TrimSuffix(base, path.Ext(base))
	clean := SanitizeTitle(base)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTitle, base)
	}
	return clean + noteChatSuffix, nil
}

// ===== Lookup =====

// GetSession returns a clone of the session with the given id.
func (m *Manager) GetSession(id string) (*Session, error) {
	sess, err := m.load(id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// GetNoteChatSession finds the note chat for a source note.
//
// Description:
//
//	Lookup derives the history path from the sanitized note basename
//	through the same code path creation uses, so a source whose name
//	contains forbidden characters resolves identically on both
//	sides. If the derived path is shadowed by a suffixed stream, the
//	exact source index is consulted as a fallback.
//
// Outputs:
//   - *Session: the note chat, cloned.
//   - error: ErrSessionNotFound when no note chat matches.
func (m *Manager) GetNoteChatSession(ctx context.Context, sourcePath string) (*Session, error) {
	source, err := validation.CleanVaultPath(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceNote, err)
	}
	title, err := noteChatTitle(source)
	if err != nil {
		return nil, err
	}
	derived := path.Join(noteChatFolder, title+HistoryExtension)

	if id, err := m.idForKey(pathKeyPrefix + derived); err == nil {
		sess, err := m.load(id)
		if err == nil && sess.Kind == KindNoteChat {
			return sess.Clone(), nil
		}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}

	// Fallback: the derived path may have been suffixed at creation.
	if id, err := m.idForKey(sourceKeyPrefix + source); err == nil {
		sess, err := m.load(id)
		if err != nil {
			return nil, err
		}
		return sess.Clone(), nil
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}

	return nil, fmt.Errorf("%w: no note chat for %s", ErrSessionNotFound, source)
}

// ListSessions returns clones of all known sessions, most recently
// updated first.
func (m *Manager) ListSessions() ([]*Session, error) {
	var out []*Session
	err := m.db.ScanPrefix(sessionKeyPrefix, func(key string, value []byte) error {
		var sess Session
		if err := json.Unmarshal(value, &sess); err != nil {
			return fmt.Errorf("decode session %s: %w", key, err)
		}
		out = append(out, &sess)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// ===== Turns =====

// AppendTurn appends one turn record to a session's history stream.
//
// Description:
//
//	The append is enqueued and the Pending returned immediately, so
//	callers on the hot path do not block on disk. Await the Pending
//	to observe durability or the append error.
//
// Inputs:
//   - id: session identifier.
//   - role: "user", "assistant", "system", or "tool".
//   - body: markdown content of the turn.
//
// Outputs:
//   - *persistence.Pending: settles when the append has run.
//   - error: ErrSessionNotFound or ErrSessionArchived; immediate
//     validation only.
//
// Thread Safety: This method is safe for concurrent use.
func (m *Manager) AppendTurn(id, role, body string) (*persistence.Pending, error) {
	sess, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if sess.Archived {
		return nil, fmt.Errorf("%w: %s", ErrSessionArchived, id)
	}

	rel := sess.HistoryPath
	pending := m.queue.Enqueue("append turn", func(opCtx context.Context) error {
		if err := m.store.AppendRecord(rel, persistence.Record{
			Role:      role,
			Timestamp: m.now(),
			Body:      body,
		}); err != nil {
			return err
		}
		return m.touch(id)
	})
	return pending, nil
}

// History returns a session's parsed history stream.
func (m *Manager) History(id string) (persistence.StreamHeader, []persistence.Record, error) {
	sess, err := m.load(id)
	if err != nil {
		return persistence.StreamHeader{}, nil, err
	}
	return m.store.ReadStream(sess.HistoryPath)
}

// ===== Configuration =====

// ResolveModelParams returns the effective model parameters for a
// session: each override field if present, else the process default.
func (m *Manager) ResolveModelParams(id string) (ModelParams, error) {
	sess, err := m.load(id)
	if err != nil {
		return ModelParams{}, err
	}
	return sess.Overrides.Resolve(m.config.Defaults), nil
}

// SetOverrides replaces a session's model overrides.
func (m *Manager) SetOverrides(ctx context.Context, id string, overrides *ModelOverrides) error {
	return m.mutate(ctx, id, "set overrides", func(sess *Session) error {
		sess.Overrides = overrides
		return nil
	})
}

// MergeMetadata applies metadata updates, last write winning per key.
func (m *Manager) MergeMetadata(ctx context.Context, id string, updates map[string]string) error {
	return m.mutate(ctx, id, "merge metadata", func(sess *Session) error {
		sess.mergeMetadata(updates)
		return nil
	})
}

// AddContextFile attaches a vault file to the session context.
// Re-attaching an existing path is a no-op.
func (m *Manager) AddContextFile(ctx context.Context, id, filePath string, source ContextSource) error {
	rel, err := validation.CleanVaultPath(filePath)
	if err != nil {
		return fmt.Errorf("invalid context file: %w", err)
	}
	return m.mutate(ctx, id, "add context file", func(sess *Session) error {
		if sess.hasContextFile(rel) {
			return nil
		}
		sess.Context = append(sess.Context, ContextFile{
			Path:    rel,
			Source:  source,
			AddedAt: m.now(),
		})
		return nil
	})
}

// SetPermissions replaces a session's standing grants.
func (m *Manager) SetPermissions(ctx context.Context, id string, grants safety.Grants) error {
	return m.mutate(ctx, id, "set permissions", func(sess *Session) error {
		sess.Permissions = grants
		return nil
	})
}

// ===== Lifecycle =====

// RenameSession retitles a session and moves its history stream.
// The new path gets the usual collision suffixing.
func (m *Manager) RenameSession(ctx context.Context, id, title string) (*Session, error) {
	clean := SanitizeTitle(title)
	if clean == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTitle, title)
	}
	sess, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if sess.Archived {
		return nil, fmt.Errorf("%w: %s", ErrSessionArchived, id)
	}
	if clean == sess.Title {
		return sess.Clone(), nil
	}

	var renamed *Session
	pending := m.queue.Enqueue("rename session", func(opCtx context.Context) error {
		current, err := m.load(id)
		if err != nil {
			return err
		}
		folder := ""
		if current.Kind == KindNoteChat {
			folder = noteChatFolder
		}
		newRel, err := m.reservePath(folder, clean)
		if err != nil {
			return err
		}
		oldRel := current.HistoryPath

		if err := m.store.RenameStream(oldRel, newRel); err != nil {
			return err
		}
		updated := current.Clone()
		updated.Title = clean
		updated.HistoryPath = newRel
		updated.UpdatedAt = m.now()
		if err := m.store.RewriteHeader(newRel, m.headerFor(updated)); err != nil {
			return err
		}
		if err := m.db.Delete(pathKeyPrefix + oldRel); err != nil {
			return err
		}
		if err := m.indexSession(updated); err != nil {
			return err
		}
		renamed = updated.Clone()
		return nil
	})
	if err := pending.Wait(ctx); err != nil {
		return nil, err
	}

	m.logger.Info("session renamed",
		slog.String("session_id", id),
		slog.String("title", clean))
	return renamed, nil
}

// ClearHistory discards a session's records, leaving an empty stream
// with intact frontmatter. The session stays active.
func (m *Manager) ClearHistory(ctx context.Context, id string) error {
	sess, err := m.load(id)
	if err != nil {
		return err
	}
	if sess.Archived {
		return fmt.Errorf("%w: %s", ErrSessionArchived, id)
	}

	pending := m.queue.Enqueue("clear history", func(opCtx context.Context) error {
		current, err := m.load(id)
		if err != nil {
			return err
		}
		if err := m.store.ResetStream(current.HistoryPath, m.headerFor(current)); err != nil {
			return err
		}
		return m.touch(id)
	})
	if err := pending.Wait(ctx); err != nil {
		return err
	}

	m.logger.Info("session history cleared", slog.String("session_id", id))
	return nil
}

// ArchiveSession retires a session: the stream moves under the
// archive folder and further turns are rejected. Sessions are never
// deleted.
func (m *Manager) ArchiveSession(ctx context.Context, id string) error {
	sess, err := m.load(id)
	if err != nil {
		return err
	}
	if sess.Archived {
		return nil
	}

	pending := m.queue.Enqueue("archive session", func(opCtx context.Context) error {
		current, err := m.load(id)
		if err != nil {
			return err
		}
		if current.Archived {
			return nil
		}
		newRel, err := m.reservePath(archiveFolder, current.Title)
		if err != nil {
			return err
		}
		oldRel := current.HistoryPath

		if err := m.store.RenameStream(oldRel, newRel); err != nil {
			return err
		}
		updated := current.Clone()
		updated.HistoryPath = newRel
		updated.Archived = true
		updated.UpdatedAt = m.now()
		if err := m.db.Delete(pathKeyPrefix + oldRel); err != nil {
			return err
		}
		if updated.SourceNotePath != "" {
			if err := m.db.Delete(sourceKeyPrefix + updated.SourceNotePath); err != nil {
				return err
			}
		}
		return m.indexSession(updated)
	})
	if err := pending.Wait(ctx); err != nil {
		return err
	}

	m.logger.Info("session archived", slog.String("session_id", id))
	return nil
}

// ===== Export / Import =====

// ExportHistory writes all history streams to an archive. The export
// runs as a queued operation, so no stream mutates mid-archive.
func (m *Manager) ExportHistory(ctx context.Context, archivePath string) (persistence.ExportReport, error) {
	var report persistence.ExportReport
	pending := m.queue.Enqueue("export history", func(opCtx context.Context) error {
		r, err := m.store.ExportTo(opCtx, archivePath)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err := pending.Wait(ctx); err != nil {
		return persistence.ExportReport{}, err
	}
	return report, nil
}

// ImportHistory restores streams from an archive through the queue.
// Unchanged streams are skipped; see persistence.Store.ImportFrom.
func (m *Manager) ImportHistory(ctx context.Context, archivePath string) (persistence.ImportReport, error) {
	var report persistence.ImportReport
	pending := m.queue.Enqueue("import history", func(opCtx context.Context) error {
		r, err := m.store.ImportFrom(opCtx, archivePath)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err := pending.Wait(ctx); err != nil {
		return persistence.ImportReport{}, err
	}
	return report, nil
}

// ===== Internals =====

// reservePath finds the first free history path for a title inside
// folder. Runs only on the queue's drain goroutine, which is what
// makes probe-then-create safe.
func (m *Manager) reservePath(folder, title string) (string, error) {
	for i := 1; i <= maxPathProbes; i++ {
		name := title
		if i > 1 {
			name = title + " " + strconv.Itoa(i)
		}
		rel := path.Join(folder, name+HistoryExtension)
		exists, err := m.store.Exists(rel)
		if err != nil {
			return "", err
		}
		if !exists {
			return rel, nil
		}
	}
	return "", fmt.Errorf("no free history path for title %q", title)
}

// headerFor builds a stream header from session state.
func (m *Manager) headerFor(sess *Session) persistence.StreamHeader {
	model := ""
	if sess.Overrides != nil && sess.Overrides.Model != nil {
		model = *sess.Overrides.Model
	}
	return persistence.StreamHeader{
		ID:         sess.ID,
		Title:      sess.Title,
		Kind:       string(sess.Kind),
		CreatedAt:  sess.CreatedAt,
		SourceNote: sess.SourceNotePath,
		Model:      model,
		Metadata:   sess.Metadata,
	}
}

// indexSession persists the session record and its lookup keys, then
// installs it in the in-memory map.
func (m *Manager) indexSession(sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.db.Set(sessionKeyPrefix+sess.ID, data); err != nil {
		return err
	}
	if err := m.db.Set(pathKeyPrefix+sess.HistoryPath, []byte(sess.ID)); err != nil {
		return err
	}
	if sess.Kind == KindNoteChat && sess.SourceNotePath != "" && !sess.Archived {
		if err := m.db.Set(sourceKeyPrefix+sess.SourceNotePath, []byte(sess.ID)); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return nil
}

// idForKey resolves an index key to a session id.
func (m *Manager) idForKey(key string) (string, error) {
	val, err := m.db.Get(key)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// load returns the published session for id, pulling it from the
// index on first access. Published sessions are immutable: mutations
// clone, modify, and republish via indexSession, so a loaded pointer
// is always safe to read without a lock.
func (m *Manager) load(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	val, err := m.db.Get(sessionKeyPrefix + id)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	loaded := &Session{}
	if err := json.Unmarshal(val, loaded); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = loaded
	return loaded, nil
}

// mutate enqueues a copy-modify-republish of one session and waits
// for it to land.
func (m *Manager) mutate(ctx context.Context, id, name string, fn func(*Session) error) error {
	if _, err := m.load(id); err != nil {
		return err
	}
	pending := m.queue.Enqueue(name, func(opCtx context.Context) error {
		sess, err := m.load(id)
		if err != nil {
			return err
		}
		if sess.Archived {
			return fmt.Errorf("%w: %s", ErrSessionArchived, id)
		}
		updated := sess.Clone()
		if err := fn(updated); err != nil {
			return err
		}
		updated.UpdatedAt = m.now()
		return m.indexSession(updated)
	})
	return pending.Wait(ctx)
}

// touch republishes a session with a fresh UpdatedAt.
func (m *Manager) touch(id string) error {
	sess, err := m.load(id)
	if err != nil {
		return err
	}
	updated := sess.Clone()
	updated.UpdatedAt = m.now()
	return m.indexSession(updated)
}
