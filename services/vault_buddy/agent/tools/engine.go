// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/retry"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/safety"
)

// LoopPolicy controls what a detected loop does to the rest of the turn.
type LoopPolicy string

const (
	// LoopPolicySkipCall skips only the looping call; the rest of the
	// turn proceeds. This is the default.
	LoopPolicySkipCall LoopPolicy = "skip_call"

	// LoopPolicyHaltTurn skips the looping call and everything after it.
	LoopPolicyHaltTurn LoopPolicy = "halt_turn"
)

// EngineConfig tunes turn execution.
type EngineConfig struct {
	// StopOnToolError halts not-yet-started calls after the first error
	// result. In-flight calls run to completion. Default: true
	StopOnToolError bool `json:"stop_on_tool_error" yaml:"stop_on_tool_error"`

	// MaxParallelReads bounds concurrent read_only handlers. Default: 4
	MaxParallelReads int `json:"max_parallel_reads" yaml:"max_parallel_reads"`

	// LoopPolicy selects the loop-skip behavior. Default: skip_call
	LoopPolicy LoopPolicy `json:"loop_policy" yaml:"loop_policy"`

	// CallTimeout bounds a single handler invocation including its
	// retries. Zero disables the per-call timeout. Default: 60s
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StopOnToolError:  true,
		MaxParallelReads: 4,
		LoopPolicy:       LoopPolicySkipCall,
		CallTimeout:      60 * time.Second,
	}
}

// TurnContext carries the session-scoped state a turn executes under.
type TurnContext struct {
	// SessionID identifies the owning session. Required.
	SessionID string

	// Grants is the session's standing permission state.
	Grants safety.Grants

	// Confirm is the per-call approval callback, nil when no
	// interactive approval path exists.
	Confirm safety.ConfirmFunc
}

// TurnOutcome aggregates a turn's results plus turn-level conditions.
type TurnOutcome struct {
	// Results holds one entry per request, in original request order,
	// correlated by CallID. Skipped calls are included.
	Results []Result `json:"results"`

	// LoopDetected is set when any call in the turn tripped the loop
	// detector.
	LoopDetected bool `json:"loop_detected"`

	// Halted is set when fail-fast stopped part of the turn.
	Halted bool `json:"halted"`
}

// Engine executes a turn's tool calls: validate, loop-check, order,
// gate, execute, aggregate.
//
// Thread Safety: safe for concurrent use; per-turn state lives on the
// stack of ExecuteTurn.
type Engine struct {
	config   EngineConfig
	registry *Registry
	detector *LoopDetector
	retrier  *retry.Executor
	gate     safety.Gate
	logger   *slog.Logger
}

// NewEngine wires an Engine from its collaborators. All collaborators
// are required; the constructor panics on nil wiring because that is a
// programming error, not a runtime condition.
func NewEngine(config EngineConfig, registry *Registry, detector *LoopDetector, retrier *retry.Executor, gate safety.Gate, logger *slog.Logger) *Engine {
	if registry == nil || detector == nil || retrier == nil || gate == nil || logger == nil {
		panic("tools: NewEngine requires registry, detector, retrier, gate, and logger")
	}
	def := DefaultEngineConfig()
	if config.MaxParallelReads <= 0 {
		config.MaxParallelReads = def.MaxParallelReads
	}
	if config.LoopPolicy == "" {
		config.LoopPolicy = def.LoopPolicy
	}
	return &Engine{
		config:   config,
		registry: registry,
		detector: detector,
		retrier:  retrier,
		gate:     gate,
		logger:   logger,
	}
}

// pendingCall is a validated call bound to its result slot.
type pendingCall struct {
	idx int
	req CallRequest
	def Definition
}

// ExecuteTurn runs one turn of tool calls.
//
// Inputs:
//   - ctx: Cancellation for the whole turn.
//   - turn: Session identity, grants, and confirmation callback.
//   - requests: The model's tool calls, in emission order.
//
// Outputs:
//   - *TurnOutcome: One result per request plus turn-level flags. Never
//     nil when error is nil.
//   - error: ErrInvalidTurn for a missing session identity, or the
//     context error when the turn was cancelled mid-flight. Handler
//     failures never surface here; they live in the per-call results.
func (e *Engine) ExecuteTurn(ctx context.Context, turn TurnContext, requests []CallRequest) (*TurnOutcome, error) {
	if turn.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidTurn)
	}

	ctx, span := engineTracer().Start(ctx, "tools.ExecuteTurn",
		trace.WithAttributes(
			attribute.String("session.id", turn.SessionID),
			attribute.Int("turn.requests", len(requests)),
		))
	defer span.End()

	logger := e.logger.With(slog.String("session_id", turn.SessionID))
	logger.Debug("turn state", slog.String("state", "received"), slog.Int("calls", len(requests)))

	results := make([]Result, len(requests))
	outcome := &TurnOutcome{}

	// ---- Validate ----
	pending := e.validate(requests, results)
	logger.Debug("turn state", slog.String("state", "validated"), slog.Int("calls", len(pending)))

	// ---- Loop check ----
	survivors := e.loopCheck(turn.SessionID, pending, results, outcome)

	// ---- Order: all reads first, then mutating calls ----
	var reads, writes []pendingCall
	for _, pc := range survivors {
		if pc.def.Category.Mutating() {
			writes = append(writes, pc)
		} else {
			reads = append(reads, pc)
		}
	}
	logger.Debug("turn state", slog.String("state", "ordered"),
		slog.Int("reads", len(reads)), slog.Int("writes", len(writes)))

	var halted atomic.Bool

	// ---- Execute reads with bounded parallelism ----
	e.runReads(ctx, turn, reads, results, &halted, logger)

	// ---- Execute mutating calls sequentially ----
	for _, pc := range writes {
		if err := ctx.Err(); err != nil {
			results[pc.idx] = skippedResult(pc.req, StatusSkipped, "halted: "+err.Error())
			continue
		}
		if halted.Load() {
			results[pc.idx] = skippedResult(pc.req, StatusSkipped, "halted: earlier tool call failed")
			continue
		}
		res := e.executeGated(ctx, turn, pc, logger)
		results[pc.idx] = res
		if res.Status == StatusError && e.config.StopOnToolError {
			halted.Store(true)
		}
	}

	outcome.Halted = halted.Load()
	outcome.Results = results
	logger.Debug("turn state", slog.String("state", "aggregated"),
		slog.Bool("loop_detected", outcome.LoopDetected), slog.Bool("halted", outcome.Halted))

	recordTurn(ctx, outcome)
	if err := ctx.Err(); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// validate resolves requests against the registry and checks argument
// schemas. Failures land in results; survivors are returned with their
// slot index. Empty call IDs are assigned a positional fallback so the
// result stays addressable; duplicate IDs fail validation.
func (e *Engine) validate(requests []CallRequest, results []Result) []pendingCall {
	var pending []pendingCall
	seen := make(map[string]bool, len(requests))
	for i, req := range requests {
		if req.CallID == "" {
			req.CallID = fmt.Sprintf("call-%d", i)
		}
		if seen[req.CallID] {
			results[i] = errorResult(req, fmt.Sprintf("duplicate call id %q", req.CallID))
			continue
		}
		seen[req.CallID] = true

		def, err := e.registry.Lookup(req.ToolName)
		if err != nil {
			results[i] = errorResult(req, fmt.Sprintf("unknown tool %q", req.ToolName))
			continue
		}
		if err := def.Schema.Validate(req.Arguments); err != nil {
			results[i] = errorResult(req, err.Error())
			continue
		}
		pending = append(pending, pendingCall{idx: i, req: req, def: def})
	}
	return pending
}

// loopCheck records every surviving call with the detector. Looping
// calls are skipped; under LoopPolicyHaltTurn everything after the
// first loop is skipped as well.
func (e *Engine) loopCheck(sessionID string, pending []pendingCall, results []Result, outcome *TurnOutcome) []pendingCall {
	var survivors []pendingCall
	haltRest := false
	for _, pc := range pending {
		if haltRest {
			results[pc.idx] = skippedResult(pc.req, StatusSkipped, "halted: repeated call loop detected earlier in turn")
			continue
		}
		sig := ComputeSignature(pc.req.ToolName, pc.req.Arguments)
		if e.detector.RecordAndCheck(sessionID, sig) {
			outcome.LoopDetected = true
			results[pc.idx] = skippedResult(pc.req, StatusSkippedLoop,
				fmt.Sprintf("repeated call to %q with identical arguments detected", pc.req.ToolName))
			if e.config.LoopPolicy == LoopPolicyHaltTurn {
				haltRest = true
			}
			continue
		}
		survivors = append(survivors, pc)
	}
	return survivors
}

// runReads executes read_only calls under a semaphore. Each worker
// writes only its own result slot, so no lock is needed. The halted
// flag is re-checked after semaphore acquisition so queued calls skip
// once fail-fast fires while in-flight calls finish.
func (e *Engine) runReads(ctx context.Context, turn TurnContext, reads []pendingCall, results []Result, halted *atomic.Bool, logger *slog.Logger) {
	if len(reads) == 0 {
		return
	}
	sem := semaphore.NewWeighted(int64(e.config.MaxParallelReads))
	var wg sync.WaitGroup
	for _, pc := range reads {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[pc.idx] = skippedResult(pc.req, StatusSkipped, "halted: "+err.Error())
			continue
		}
		wg.Add(1)
		go func(pc pendingCall) {
			defer wg.Done()
			defer sem.Release(1)
			if halted.Load() {
				results[pc.idx] = skippedResult(pc.req, StatusSkipped, "halted: earlier tool call failed")
				return
			}
			res := e.executeGated(ctx, turn, pc, logger)
			results[pc.idx] = res
			if res.Status == StatusError && e.config.StopOnToolError {
				halted.Store(true)
			}
		}(pc)
	}
	wg.Wait()
}

// executeGated runs the permission check then the handler. Every call
// goes through the gate; the gate itself decides which categories are
// actually gated, keeping permission rules out of the engine.
func (e *Engine) executeGated(ctx context.Context, turn TurnContext, pc pendingCall, logger *slog.Logger) Result {
	logger.Debug("turn state", slog.String("state", "permission_checked"),
		slog.String("call_id", pc.req.CallID), slog.String("tool", pc.req.ToolName))

	decision, err := e.gate.Check(ctx, safety.Request{
		SessionID: turn.SessionID,
		CallID:    pc.req.CallID,
		ToolName:  pc.req.ToolName,
		Category:  string(pc.def.Category),
		Target:    callTarget(pc.req.Arguments),
	}, turn.Grants, turn.Confirm)
	if err != nil {
		return errorResult(pc.req, fmt.Sprintf("permission check failed: %v", err))
	}
	if !decision.Allowed {
		return skippedResult(pc.req, StatusSkippedPermission, decision.Reason)
	}

	return e.executeCall(ctx, turn, pc, logger)
}

// executeCall invokes the handler under the retry executor. The retry
// predicate confines retries to transiently-classified errors; logical
// errors return after the first attempt and become the call's error
// result.
func (e *Engine) executeCall(ctx context.Context, turn TurnContext, pc pendingCall, logger *slog.Logger) Result {
	logger.Debug("turn state", slog.String("state", "executing"),
		slog.String("call_id", pc.req.CallID), slog.String("tool", pc.req.ToolName))

	callCtx := ctx
	if e.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.config.CallTimeout)
		defer cancel()
	}

	ec := &ExecutionContext{
		SessionID: turn.SessionID,
		CallID:    pc.req.CallID,
		Grants:    turn.Grants,
		Logger: logger.With(
			slog.String("call_id", pc.req.CallID),
			slog.String("tool", pc.req.ToolName),
		),
	}

	start := time.Now()
	var payload any
	_, err := e.retrier.Execute(callCtx, pc.req.ToolName, func(ctx context.Context, attempt int) error {
		p, herr := pc.def.Handler(ctx, ec, pc.req.Arguments)
		if herr == nil {
			payload = p
		}
		return herr
	})
	duration := time.Since(start)

	if err != nil {
		recordCall(ctx, pc.req.ToolName, StatusError, duration)
		res := errorResult(pc.req, err.Error())
		res.Duration = duration
		return res
	}

	recordCall(ctx, pc.req.ToolName, StatusSuccess, duration)
	return Result{
		CallID:   pc.req.CallID,
		ToolName: pc.req.ToolName,
		Status:   StatusSuccess,
		Payload:  payload,
		Duration: duration,
	}
}

// callTarget extracts the primary path argument for permission prompts.
func callTarget(args map[string]any) string {
	for _, key := range []string{"path", "source", "url"} {
		if v, ok := args[key].(string); ok {
			return v
		}
	}
	return ""
}

// ===== Telemetry =====

var (
	engineTracerOnce sync.Once
	engineTracerVal  trace.Tracer

	engineMeterOnce sync.Once
	turnCounter     metric.Int64Counter
	callCounter     metric.Int64Counter
	callDuration    metric.Float64Histogram
)

func engineTracer() trace.Tracer {
	engineTracerOnce.Do(func() {
		engineTracerVal = otel.Tracer("vault_buddy/agent/tools")
	})
	return engineTracerVal
}

func initEngineMeter() {
	meter := otel.Meter("vault_buddy/agent/tools")
	var err error
	turnCounter, err = meter.Int64Counter("vaultbuddy.turns",
		metric.WithDescription("Executed turns"))
	if err != nil {
		turnCounter = nil
	}
	callCounter, err = meter.Int64Counter("vaultbuddy.tool_calls",
		metric.WithDescription("Tool calls by status"))
	if err != nil {
		callCounter = nil
	}
	callDuration, err = meter.Float64Histogram("vaultbuddy.tool_call.duration_ms",
		metric.WithDescription("Handler wall time in milliseconds"))
	if err != nil {
		callDuration = nil
	}
}

func recordTurn(ctx context.Context, outcome *TurnOutcome) {
	engineMeterOnce.Do(initEngineMeter)
	if turnCounter == nil {
		return
	}
	turnCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("loop_detected", outcome.LoopDetected),
		attribute.Bool("halted", outcome.Halted),
	))
}

func recordCall(ctx context.Context, tool string, status CallStatus, d time.Duration) {
	engineMeterOnce.Do(initEngineMeter)
	if callCounter != nil {
		callCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", string(status)),
		))
	}
	if callDuration != nil {
		callDuration.Record(ctx, float64(d)/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("tool", tool)))
	}
}
