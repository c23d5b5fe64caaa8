// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the slog loggers used by every Vault Buddy
// binary.
//
// A logger fans out to up to three sinks: stderr (text by default,
// JSON on request), an append-only JSON file under LogDir, and an
// optional LogExporter. The exporter is wired in as a slog.Handler, so
// records reach it no matter how they were produced; handing
// Logger.Slog() to a component does not lose export coverage.
//
// Export is asynchronous over a bounded queue. A slow or stalled
// exporter makes the queue drop records (counted, never blocking the
// caller); Close drains whatever is still queued before flushing.
//
// Nothing here redacts content. Keep note bodies and credentials out
// of log attributes; log paths and sizes instead.
package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// String returns the upper-case level name.
func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// slogLevel maps onto slog's numeric scale (-4, 0, 4, 8).
func (l Level) slogLevel() slog.Level {
	return slog.Level(int(l)*4 - 4)
}

// Config selects the sinks for New. The zero value logs Debug and
// above to stderr as text.
type Config struct {
	// Level is the minimum severity across all sinks.
	Level Level

	// LogDir, when set, adds a JSON file sink at
	// "<LogDir>/<Service>.log". A leading ~ expands to the home
	// directory. The file appends across restarts; rotation is the
	// operator's business.
	LogDir string

	// Service is stamped on every record as the "service" attribute
	// and names the log file.
	Service string

	// JSON switches the stderr sink to JSON. The file sink is JSON
	// regardless.
	JSON bool

	// Quiet drops the stderr sink. With no file and no exporter the
	// logger still works and discards nothing visibly useful.
	Quiet bool

	// Exporter receives every record at or above Level. Nil disables
	// export.
	Exporter LogExporter

	// ExportQueue bounds the async export queue. Zero means 256.
	ExportQueue int
}

// LogExporter forwards records to an external sink.
//
// Export runs on the logger's single export goroutine with a short
// per-record timeout; it should hand off quickly and buffer
// internally. Flush sends anything buffered, Close follows Flush on
// shutdown.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is the exported form of one record.
type LogEntry struct {
	Time    time.Time
	Level   Level
	Message string
	Service string
	Attrs   map[string]any
}

// Logger wraps a slog.Logger plus the resources behind it. Safe for
// concurrent use. Close the logger New returned; derived loggers from
// With share its file and exporter.
type Logger struct {
	slog *slog.Logger
	cfg  Config

	file *os.File
	pump *exportPump

	closeOnce sync.Once
	closeErr  error
}

// New builds a logger for the given config. Sink setup failures
// degrade rather than abort: a file that cannot be opened is reported
// on the remaining sinks and skipped.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}
	lg := &Logger{cfg: cfg}

	var sinks []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			sinks = append(sinks, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			sinks = append(sinks, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	var fileErr error
	if cfg.LogDir != "" {
		file, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			fileErr = err
		} else {
			lg.file = file
			sinks = append(sinks, slog.NewJSONHandler(file, opts))
		}
	}

	if cfg.Exporter != nil {
		lg.pump = newExportPump(cfg.Exporter, cfg.ExportQueue)
		sinks = append(sinks, &exportHandler{
			pump:    lg.pump,
			min:     cfg.Level,
			service: cfg.Service,
		})
	}

	var handler slog.Handler
	switch len(sinks) {
	case 0:
		// Quiet with nothing else configured; keep stderr so errors
		// have somewhere to land.
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = sinks[0]
	default:
		handler = teeHandler(sinks)
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	lg.slog = slog.New(handler)
	if fileErr != nil {
		lg.slog.Warn("File logging disabled", "error", fileErr)
	}
	return lg
}

// Default returns a stderr text logger at Info level for the
// vaultbuddy service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "vaultbuddy"})
}

// openLogFile creates the directory and opens the append-only file.
func openLogFile(dir, service string) (*os.File, error) {
	if service == "" {
		service = "vaultbuddy"
	}
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, service+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// expandHome rewrites a leading ~ to the current home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// Debug logs at Debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a logger carrying the extra attributes. File and
// exporter are shared with the parent; close only the root.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog: l.slog.With(args...),
		cfg:  l.cfg,
		file: l.file,
		pump: l.pump,
	}
}

// Slog exposes the underlying slog.Logger for components that take
// one. Records logged through it still reach every sink, the exporter
// included.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Dropped reports how many records the export queue discarded because
// the exporter could not keep up.
func (l *Logger) Dropped() uint64 {
	if l.pump == nil {
		return 0
	}
	return l.pump.dropped.Load()
}

// Close drains and flushes the exporter, then syncs and closes the
// log file. Subsequent calls return the first result.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		var errs []error
		if l.pump != nil {
			if err := l.pump.stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if l.file != nil {
			if err := l.file.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("sync log file: %w", err))
			}
			if err := l.file.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close log file: %w", err))
			}
		}
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}

// teeHandler fans one record out to every sink.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

// exportHandler converts slog records to LogEntry and queues them on
// the pump. Attribute groups flatten to dotted keys.
type exportHandler struct {
	pump    *exportPump
	min     Level
	service string
	prefix  string
	attrs   []slog.Attr
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min.slogLevel()
}

func (h *exportHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:    r.Time,
		Level:   levelFromSlog(r.Level),
		Message: r.Message,
		Service: h.service,
		Attrs:   make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	for _, a := range h.attrs {
		flattenAttr(entry.Attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flattenAttr(entry.Attrs, h.prefix, a)
		return true
	})
	h.pump.offer(entry)
	return nil
}

// WithAttrs qualifies keys with the open group prefix up front, so a
// group opened later cannot retroactively re-home earlier attributes.
func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &c
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

// flattenAttr writes an attribute into the map, dotting group members.
// An unnamed group inlines its members at the current prefix.
func flattenAttr(into map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, member := range v.Group() {
			flattenAttr(into, p, member)
		}
		return
	}
	into[prefix+a.Key] = v.Any()
}

// levelFromSlog maps slog's scale back onto Level, clamping custom
// levels to the nearest named one.
func levelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// exportPump feeds entries to the exporter from a single goroutine.
// offer never blocks; a full queue increments dropped instead.
type exportPump struct {
	exporter LogExporter
	queue    chan LogEntry
	done     chan struct{}
	dropped  atomic.Uint64
}

const defaultExportQueue = 256

func newExportPump(exporter LogExporter, depth int) *exportPump {
	if depth <= 0 {
		depth = defaultExportQueue
	}
	p := &exportPump{
		exporter: exporter,
		queue:    make(chan LogEntry, depth),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *exportPump) run() {
	defer close(p.done)
	for entry := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = p.exporter.Export(ctx, entry)
		cancel()
	}
}

func (p *exportPump) offer(entry LogEntry) {
	select {
	case p.queue <- entry:
	default:
		p.dropped.Add(1)
	}
}

// stop drains the queue, then flushes and closes the exporter.
func (p *exportPump) stop() error {
	close(p.queue)
	<-p.done

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.exporter.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush exporter: %w", err))
	}
	if err := p.exporter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close exporter: %w", err))
	}
	return errors.Join(errs...)
}

// NopExporter discards everything.
type NopExporter struct{}

func (NopExporter) Export(context.Context, LogEntry) error { return nil }
func (NopExporter) Flush(context.Context) error            { return nil }
func (NopExporter) Close() error                           { return nil }

var _ LogExporter = NopExporter{}

// BufferedExporter keeps entries in memory for inspection in tests.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
	flushes int
	closed  bool
}

// NewBufferedExporter returns an empty buffer.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{}
}

func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushes++
	return nil
}

func (e *BufferedExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Entries returns a copy of everything exported so far.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Flushed reports whether Flush has run at least once.
func (e *BufferedExporter) Flushed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushes > 0
}

// Closed reports whether Close has run.
func (e *BufferedExporter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

var _ LogExporter = (*BufferedExporter)(nil)
