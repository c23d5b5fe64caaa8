// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory indexes session transcripts in Weaviate so the agent
// can recall past conversations with the recall_sessions tool.
//
// Memory is strictly optional: when Weaviate is unreachable the index
// starts degraded, indexing and recall fail with
// ErrMemoryUnavailable, and the rest of the service runs unaffected.
// A periodic probe promotes the index back once Weaviate returns.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// ===== Errors =====

var (
	// ErrMemoryUnavailable is returned while the index is degraded.
	ErrMemoryUnavailable = errors.New("session memory is not available")

	// ErrInvalidConfig is returned for unusable configuration.
	ErrInvalidConfig = errors.New("invalid memory config")
)

// SessionTurnClass is the Weaviate class holding transcript turns.
const SessionTurnClass = "SessionTurn"

// ===== Configuration =====

// Config configures the transcript memory index.
type Config struct {
	// URL is the Weaviate server URL (e.g., "http://localhost:8080").
	URL string `json:"url" yaml:"url"`

	// StartDegraded controls startup when Weaviate is unreachable:
	// true starts the index degraded, false fails construction.
	StartDegraded bool `json:"start_degraded" yaml:"start_degraded"`

	// ProbeTimeout bounds each health probe.
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout"`

	// Logger receives index diagnostics. Defaults to slog.Default
	// when nil.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultConfig returns the standard memory settings. Degraded start
// is the default because memory is an optional capability.
func DefaultConfig() Config {
	return Config{
		StartDegraded: true,
		ProbeTimeout:  5 * time.Second,
	}
}

// ===== Types =====

// TurnDocument is one transcript turn to index.
type TurnDocument struct {
	SessionID    string
	SessionTitle string
	Kind         string
	Role         string
	Content      string
	TurnAt       time.Time
}

// RecalledTurn is one recall match.
type RecalledTurn struct {
	SessionID    string    `json:"session_id"`
	SessionTitle string    `json:"session_title"`
	Kind         string    `json:"kind"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	TurnAt       time.Time `json:"turn_at"`
}

// Index is the transcript memory backed by Weaviate.
//
// Thread Safety: safe for concurrent use.
type Index struct {
	client    *weaviate.Client
	config    Config
	logger    *slog.Logger
	available atomic.Bool
}

// turnSchema returns the SessionTurn class definition.
func turnSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       SessionTurnClass,
		Description: "One transcript turn from a Vault Buddy session",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "sessionId",
				DataType:        []string{"text"},
				Description:     "Owning session ID",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "sessionTitle",
				DataType:     []string{"text"},
				Description:  "Session title at index time",
				Tokenization: "word",
			},
			{
				Name:            "kind",
				DataType:        []string{"text"},
				Description:     "Session kind: agent or note_chat",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "role",
				DataType:        []string{"text"},
				Description:     "Turn role: user, assistant, system, tool",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Turn text",
				Tokenization: "word",
			},
			{
				Name:         "turnAt",
				DataType:     []string{"text"},
				Description:  "Turn timestamp, RFC 3339",
				Tokenization: "field",
			},
		},
	}
}

// NewIndex connects to Weaviate and prepares the transcript index.
//
// Description:
//
//	Builds the client, probes readiness, and ensures the SessionTurn
//	class exists. With StartDegraded the constructor always succeeds;
//	an unreachable Weaviate just leaves the index degraded until a
//	later Probe finds it healthy.
//
// Outputs:
//   - *Index: the index, possibly degraded.
//   - error: invalid config, or an unreachable server when
//     StartDegraded is false.
func NewIndex(config Config) (*Index, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	defaults := DefaultConfig()
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	cfg := weaviate.Config{
		Host:   config.URL,
		Scheme: "http",
	}
	if strings.HasPrefix(config.URL, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(config.URL, "https://")
	} else if strings.HasPrefix(config.URL, "http://") {
		cfg.Host = strings.TrimPrefix(config.URL, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	idx := &Index{
		client: client,
		config: config,
		logger: config.Logger.With(slog.String("component", "session_memory")),
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
	defer cancel()
	if err := idx.connect(ctx); err != nil {
		if !config.StartDegraded {
			return nil, fmt.Errorf("weaviate not available: %w", err)
		}
		idx.logger.Warn("session memory starting degraded",
			slog.String("url", config.URL),
			slog.String("error", err.Error()),
		)
		return idx, nil
	}

	idx.logger.Info("session memory ready", slog.String("url", config.URL))
	return idx, nil
}

// connect probes readiness, ensures the schema, and marks the index
// available.
func (idx *Index) connect(ctx context.Context) error {
	ready, err := idx.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("readiness check: %w", err)
	}
	if !ready {
		return ErrMemoryUnavailable
	}
	if err := idx.ensureSchema(ctx); err != nil {
		return err
	}
	idx.available.Store(true)
	return nil
}

// ensureSchema creates the SessionTurn class if missing. Idempotent.
func (idx *Index) ensureSchema(ctx context.Context) error {
	_, err := idx.client.Schema().ClassGetter().WithClassName(SessionTurnClass).Do(ctx)
	if err == nil {
		return nil
	}
	if err := idx.client.Schema().ClassCreator().WithClass(turnSchema()).Do(ctx); err != nil {
		return fmt.Errorf("creating SessionTurn schema: %w", err)
	}
	idx.logger.Info("SessionTurn schema created")
	return nil
}

// Available reports whether the index is currently usable.
func (idx *Index) Available() bool {
	return idx.available.Load()
}

// Probe re-checks a degraded index and promotes it when Weaviate is
// back. Cheap no-op while available.
func (idx *Index) Probe(ctx context.Context) bool {
	if idx.available.Load() {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, idx.config.ProbeTimeout)
	defer cancel()
	if err := idx.connect(ctx); err != nil {
		return false
	}
	idx.logger.Info("session memory recovered")
	return true
}

// turnObjectID derives a deterministic object ID so re-indexing the
// same turn overwrites instead of duplicating.
func turnObjectID(doc TurnDocument) strfmt.UUID {
	key := fmt.Sprintf("%s#%s#%d", doc.SessionID, doc.Role, doc.TurnAt.UnixNano())
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String())
}

// IndexTurn stores one transcript turn.
//
// Outputs:
//   - error: ErrMemoryUnavailable while degraded; otherwise the
//     batcher failure, with the index demoted to degraded.
func (idx *Index) IndexTurn(ctx context.Context, doc TurnDocument) error {
	if !idx.available.Load() {
		return ErrMemoryUnavailable
	}
	if doc.SessionID == "" || doc.Content == "" {
		return fmt.Errorf("%w: session id and content are required", ErrInvalidConfig)
	}

	object := &models.Object{
		Class: SessionTurnClass,
		ID:    turnObjectID(doc),
		Properties: map[string]interface{}{
			"sessionId":    doc.SessionID,
			"sessionTitle": doc.SessionTitle,
			"kind":         doc.Kind,
			"role":         doc.Role,
			"content":      doc.Content,
			"turnAt":       doc.TurnAt.UTC().Format(time.RFC3339),
		},
	}

	result, err := idx.client.Batch().ObjectsBatcher().WithObjects(object).Do(ctx)
	if err != nil {
		idx.demote(err)
		return fmt.Errorf("index turn: %w", err)
	}
	for _, obj := range result {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("index turn rejected: %s", obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Recall searches past transcript turns with BM25.
//
// Inputs:
//   - ctx: cancellation and deadline.
//   - query: the keyword query.
//   - limit: maximum matches (default 10 when <= 0).
//
// Outputs:
//   - []RecalledTurn: matches, most relevant first.
//   - error: ErrMemoryUnavailable while degraded.
func (idx *Index) Recall(ctx context.Context, query string, limit int) ([]RecalledTurn, error) {
	if !idx.available.Load() {
		return nil, ErrMemoryUnavailable
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidConfig)
	}
	if limit <= 0 {
		limit = 10
	}

	fields := []graphql.Field{
		{Name: "sessionId"},
		{Name: "sessionTitle"},
		{Name: "kind"},
		{Name: "role"},
		{Name: "content"},
		{Name: "turnAt"},
	}

	result, err := idx.client.GraphQL().Get().
		WithClassName(SessionTurnClass).
		WithFields(fields...).
		WithBM25(idx.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		idx.demote(err)
		return nil, fmt.Errorf("recall search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("recall error: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []RecalledTurn{}, nil
	}
	objects, ok := data[SessionTurnClass].([]interface{})
	if !ok {
		return []RecalledTurn{}, nil
	}

	turns := make([]RecalledTurn, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		turn := RecalledTurn{
			SessionID:    getString(m, "sessionId"),
			SessionTitle: getString(m, "sessionTitle"),
			Kind:         getString(m, "kind"),
			Role:         getString(m, "role"),
			Content:      getString(m, "content"),
		}
		if at, err := time.Parse(time.RFC3339, getString(m, "turnAt")); err == nil {
			turn.TurnAt = at
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// ForgetSession removes every indexed turn for a session. Used when a
// session's history is cleared or replaced by an import.
func (idx *Index) ForgetSession(ctx context.Context, sessionID string) error {
	if !idx.available.Load() {
		return ErrMemoryUnavailable
	}
	whereFilter := filters.Where().
		WithPath([]string{"sessionId"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	_, err := idx.client.Batch().ObjectsBatchDeleter().
		WithClassName(SessionTurnClass).
		WithWhere(whereFilter).
		Do(ctx)
	if err != nil {
		idx.demote(err)
		return fmt.Errorf("forget session: %w", err)
	}
	idx.logger.Debug("session forgotten", slog.String("session_id", sessionID))
	return nil
}

// demote flips the index to degraded after a transport failure so
// later calls fail fast until a Probe succeeds.
func (idx *Index) demote(err error) {
	if idx.available.CompareAndSwap(true, false) {
		idx.logger.Warn("session memory degraded", slog.String("error", err.Error()))
	}
}

// getString safely extracts a string from a GraphQL result map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
