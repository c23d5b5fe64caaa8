// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vault_buddy provides the Vault Buddy HTTP service: an AI
// copilot over a local markdown note vault.
//
// The service exposes endpoints for:
//   - Creating and administering chat sessions (agent and note-chat)
//   - Running agent turns that read and edit vault notes through tools
//   - Streaming chat and vault change events over WebSocket
//   - Exporting and importing conversation history archives
package vault_buddy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianVault/pkg/extensions"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/retry"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/safety"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/tools"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/llm"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/memory"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/persistence"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/session"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/storage/badger"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/telemetry"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/vault"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/webfetch"
)

// ServiceVersion is the Vault Buddy service version.
const ServiceVersion = "0.1.0"

// =============================================================================
// Configuration
// =============================================================================

// ServiceConfig configures the Vault Buddy service.
type ServiceConfig struct {
	// Port is the HTTP server port. Default: 12310
	Port int `json:"port" yaml:"port"`

	// VaultDir is the markdown vault root. Required.
	VaultDir string `json:"vault_dir" yaml:"vault_dir"`

	// DataDir holds the session index, history streams, and other
	// service state. Default: "./data"
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Backend selects the model provider.
	// Valid values: "openai", "local". Default: "local"
	Backend string `json:"backend" yaml:"backend"`

	// BackendURL overrides the model API endpoint. For "local" this
	// points at an OpenAI-compatible server such as llama.cpp or
	// Ollama. Default: "http://localhost:11434/v1"
	BackendURL string `json:"backend_url,omitempty" yaml:"backend_url,omitempty"`

	// MemoryURL is the Weaviate URL for transcript memory. Empty
	// disables recall (the index starts degraded and stays so).
	MemoryURL string `json:"memory_url,omitempty" yaml:"memory_url,omitempty"`

	// GinMode sets the Gin framework mode: "debug", "release", "test".
	// Empty leaves the GIN_MODE environment setting in effect.
	GinMode string `json:"gin_mode,omitempty" yaml:"gin_mode,omitempty"`

	// MaxTurnHops bounds model round trips inside one chat turn.
	// Default: 8
	MaxTurnHops int `json:"max_turn_hops" yaml:"max_turn_hops"`

	// DisableWatcher turns off vault change watching, for tests and
	// read-only mounts.
	DisableWatcher bool `json:"disable_watcher,omitempty" yaml:"disable_watcher,omitempty"`

	// Defaults are the process-wide model parameters sessions fall
	// back to.
	Defaults session.ModelParams `json:"defaults" yaml:"defaults"`

	// Logger receives structured service events. Defaults to
	// slog.Default when nil.
	Logger *slog.Logger `json:"-" yaml:"-"`

	// Extensions are the enterprise extension points. Nil fields fall
	// back to the open source no-op implementations.
	Extensions extensions.ServiceExtensions `json:"-" yaml:"-"`
}

// DefaultServiceConfig returns sensible defaults for a local vault.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Port:        12310,
		DataDir:     "./data",
		Backend:     "local",
		BackendURL:  "http://localhost:11434/v1",
		MaxTurnHops: 8,
		Defaults: session.ModelParams{
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			TopP:        1.0,
		},
	}
}

// LoadServiceConfig reads a YAML service configuration file. Fields
// absent from the file keep their DefaultServiceConfig values; unknown
// keys are rejected. An empty file yields the defaults unchanged.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultServiceConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return ServiceConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// =============================================================================
// Service
// =============================================================================

// Service is the Vault Buddy service. It owns every long-lived
// component: the vault store and watcher, the session manager and its
// persistence queue, the tool engine, and the model backend.
//
// Thread Safety: safe for concurrent use after New returns. Close may
// be called once.
type Service struct {
	config ServiceConfig
	logger *slog.Logger
	ext    extensions.ServiceExtensions

	vault    *vault.FS
	watcher  *vault.Watcher
	db       *badger.DB
	queue    *persistence.Queue
	store    *persistence.Store
	sessions *session.Manager
	registry *tools.Registry
	engine   *tools.Engine
	backend  llm.Backend
	keys     *llm.KeyVault
	memory   *memory.Index
	fetcher  *webfetch.Client
	events   *EventHub

	metrics  *telemetry.Metrics
	depthReg metric.Registration

	router *gin.Engine
}

// New creates a Vault Buddy service with the given configuration.
//
// Components are wired in dependency order: storage first, then the
// session manager, then the tool engine, then the model backend, and
// the HTTP router last. A failure part way through releases whatever
// was already opened.
//
// Inputs:
//   - cfg: service configuration. VaultDir is required.
//
// Outputs:
//   - *Service: ready to Run.
//   - error: non-nil if any component fails to initialize.
func New(cfg ServiceConfig) (*Service, error) {
	cfg = applyServiceDefaults(cfg)
	if cfg.VaultDir == "" {
		return nil, fmt.Errorf("vault_buddy: VaultDir is required")
	}

	s := &Service{
		config: cfg,
		logger: cfg.Logger,
		ext:    cfg.Extensions.Resolved(),
	}
	ok := false
	defer func() {
		if !ok {
			s.release(context.Background())
		}
	}()

	if err := s.initStorage(); err != nil {
		return nil, err
	}
	if err := s.initSessions(); err != nil {
		return nil, err
	}
	s.initMemory()
	if err := s.initTools(); err != nil {
		return nil, err
	}
	if err := s.initBackend(); err != nil {
		return nil, err
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("metrics initialization failed, continuing without",
			"error", err)
	}
	if err := s.initWatcher(); err != nil {
		return nil, err
	}
	s.initRouter()

	ok = true
	return s, nil
}

// applyServiceDefaults fills in missing configuration values.
func applyServiceDefaults(cfg ServiceConfig) ServiceConfig {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Backend == "" {
		cfg.Backend = "local"
	}
	if cfg.BackendURL == "" && cfg.Backend == "local" {
		cfg.BackendURL = "http://localhost:11434/v1"
	}
	if cfg.MaxTurnHops <= 0 {
		cfg.MaxTurnHops = 8
	}
	if cfg.Defaults.Model == "" {
		cfg.Defaults = DefaultServiceConfig().Defaults
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run starts the HTTP server and blocks until it stops. Resources are
// released on return.
func (s *Service) Run() error {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.release(ctx)
	}()

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("starting vault buddy server",
		"port", s.config.Port,
		"vault", s.config.VaultDir,
		"backend", s.config.Backend,
	)
	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Sessions returns the session manager, for CLI embedding.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// Close releases all resources: the watcher stops, the persistence
// queue drains, and the session index closes. Safe to call once.
func (s *Service) Close(ctx context.Context) error {
	return s.release(ctx)
}

// release tears down components in reverse dependency order. Nil
// fields are skipped so it is safe on a partially built service.
func (s *Service) release(ctx context.Context) error {
	var firstErr error
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	if s.events != nil {
		s.events.Close()
		s.events = nil
	}
	if s.depthReg != nil {
		if err := s.depthReg.Unregister(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.depthReg = nil
	}
	if s.queue != nil {
		if err := s.queue.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close persistence queue: %w", err)
		}
		s.queue = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session index: %w", err)
		}
		s.db = nil
	}
	if s.ext.Audit != nil {
		if err := s.ext.Audit.Flush(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush audit events: %w", err)
		}
	}
	return firstErr
}

// =============================================================================
// Component Initialization
// =============================================================================

// initStorage opens the vault, the badger session index, the
// persistence queue, and the history stream store.
func (s *Service) initStorage() error {
	vaultFS, err := vault.NewFS(vault.FSConfig{
		Root:   s.config.VaultDir,
		Logger: s.logger,
	})
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	s.vault = vaultFS

	db, err := badger.Open(badger.DefaultConfig(filepath.Join(s.config.DataDir, "index")))
	if err != nil {
		return fmt.Errorf("open session index: %w", err)
	}
	s.db = db

	s.queue = persistence.NewQueue(persistence.DefaultQueueConfig(), s.logger)

	store, err := persistence.NewStore(persistence.StoreConfig{
		Root:   filepath.Join(s.config.DataDir, "history"),
		DB:     db,
		Logger: s.logger,
	})
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	s.store = store
	return nil
}

// initSessions builds the session manager on top of the storage layer.
func (s *Service) initSessions() error {
	mgr, err := session.NewManager(session.ManagerConfig{
		Defaults: s.config.Defaults,
		Logger:   s.logger,
	}, s.store, s.queue, s.db, session.WithVault(s.vault))
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}
	s.sessions = mgr
	return nil
}

// initMemory connects the transcript memory index. Memory is an
// optional capability: an unreachable Weaviate leaves recall degraded
// rather than failing startup.
func (s *Service) initMemory() {
	if s.config.MemoryURL == "" {
		s.logger.Debug("transcript memory not configured, recall disabled")
		return
	}
	memCfg := memory.DefaultConfig()
	memCfg.URL = s.config.MemoryURL
	memCfg.Logger = s.logger

	idx, err := memory.NewIndex(memCfg)
	if err != nil {
		s.logger.Warn("transcript memory unavailable, recall disabled",
			"error", err)
		return
	}
	s.memory = idx
}

// initTools registers the builtin tools and assembles the execution
// engine.
func (s *Service) initTools() error {
	s.fetcher = webfetch.NewClient(webfetch.DefaultConfig())

	reg := tools.NewRegistry()
	if err := tools.RegisterReadTools(reg, s.vault); err != nil {
		return fmt.Errorf("register read tools: %w", err)
	}
	if err := tools.RegisterWriteTools(reg, s.vault); err != nil {
		return fmt.Errorf("register write tools: %w", err)
	}
	var recaller tools.SessionRecaller
	if s.memory != nil {
		recaller = s.memory
	}
	if err := tools.RegisterNetworkTools(reg, s.fetcher, recaller); err != nil {
		return fmt.Errorf("register network tools: %w", err)
	}
	reg.Seal()
	s.registry = reg

	detector := tools.NewLoopDetector(tools.DefaultLoopDetectorConfig())
	retrier := retry.NewExecutor(retry.DefaultConfig(), s.logger)
	s.engine = tools.NewEngine(tools.DefaultEngineConfig(), reg, detector,
		retrier, safety.NewDefaultGate(), s.logger)
	return nil
}

// initBackend creates the model backend. "local" talks to any
// OpenAI-compatible server and needs no real key.
func (s *Service) initBackend() error {
	var (
		keys *llm.KeyVault
		err  error
	)
	switch s.config.Backend {
	case "openai":
		keys, err = llm.LoadAPIKey(s.logger)
		if err != nil {
			return fmt.Errorf("load api key: %w", err)
		}
	case "local":
		keys, err = llm.NewKeyVault([]byte("local"), s.logger)
		if err != nil {
			return fmt.Errorf("seal local key: %w", err)
		}
	default:
		return fmt.Errorf("unknown backend %q (want openai or local)", s.config.Backend)
	}
	s.keys = keys

	backend, err := llm.NewOpenAIBackend(llm.OpenAIConfig{
		BaseURL: s.config.BackendURL,
		Logger:  s.logger,
	}, keys)
	if err != nil {
		return fmt.Errorf("create %s backend: %w", s.config.Backend, err)
	}
	// Every outbound request crosses the redactor, so an enterprise
	// deployment masks vault content in one place.
	s.backend = newRedactingBackend(backend, s.ext.Redactor)
	return nil
}

// initMetrics creates the service-level metric instruments and wires
// the queue depth gauge. Tool and session metrics register themselves
// inside their own packages.
func (s *Service) initMetrics() error {
	meter := otel.Meter("vault_buddy/service")
	m, err := telemetry.NewMetrics(meter)
	if err != nil {
		return err
	}
	s.metrics = m

	reg, err := m.RegisterQueueDepth(meter, func() int64 {
		return int64(s.queue.Depth())
	})
	if err != nil {
		return err
	}
	s.depthReg = reg
	return nil
}

// initWatcher starts the vault change watcher feeding the event hub.
func (s *Service) initWatcher() error {
	s.events = NewEventHub(s.logger)

	if s.config.DisableWatcher {
		return nil
	}

	w, err := vault.NewWatcher(s.vault, func(changes []vault.NoteChange) {
		s.events.Publish(changes)
		if s.metrics != nil {
			ctx := context.Background()
			for _, ch := range changes {
				s.metrics.NoteEventsTotal.Add(ctx, 1,
					metric.WithAttributes(attribute.String("op", ch.Op.String())))
			}
		}
	}, nil)
	if err != nil {
		return fmt.Errorf("create vault watcher: %w", err)
	}
	if err := w.Start(context.Background()); err != nil {
		return fmt.Errorf("start vault watcher: %w", err)
	}
	s.watcher = w
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *Service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("vaultbuddy-service"))
	s.router.Use(authMiddleware(s.ext.TokenAuth))
	if s.metrics != nil {
		s.router.Use(metricsMiddleware(s.metrics))
	}

	RegisterRoutes(s.router, NewHandlers(s))
}
