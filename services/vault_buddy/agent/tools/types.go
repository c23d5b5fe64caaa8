// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the tool registry, loop detection, and the turn
// execution engine that carries a model's tool calls through validation,
// ordering, permission gating, and execution.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/safety"
)

// ===== Categories =====

// Category classifies a tool's side effects. Categories drive both the
// execution ordering within a turn and the permission gate.
type Category string

const (
	// CategoryReadOnly tools observe vault state without mutating it.
	// They always run before any mutating call in a turn and may run
	// in parallel with each other.
	CategoryReadOnly Category = "read_only"

	// CategoryVaultOps tools mutate vault content (create, append, edit).
	CategoryVaultOps Category = "vault_ops"

	// CategoryDestructive tools remove or relocate content and require a
	// standing session grant or a per-call confirmation.
	CategoryDestructive Category = "destructive"

	// CategoryNetwork tools reach outside the vault (fetch, recall).
	CategoryNetwork Category = "network"
)

// knownCategories is the closed set accepted by the registry.
var knownCategories = map[Category]bool{
	CategoryReadOnly:    true,
	CategoryVaultOps:    true,
	CategoryDestructive: true,
	CategoryNetwork:     true,
}

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	return knownCategories[c]
}

// Mutating reports whether calls in this category run in the sequential
// write phase of a turn.
func (c Category) Mutating() bool {
	return c != CategoryReadOnly
}

// ===== Call statuses =====

// CallStatus is the terminal status of a single tool call in a turn.
type CallStatus string

const (
	// StatusSuccess indicates the handler completed and produced a payload.
	StatusSuccess CallStatus = "success"

	// StatusError indicates validation failure or a handler error.
	StatusError CallStatus = "error"

	// StatusSkippedLoop indicates the call matched a repeated-call loop.
	StatusSkippedLoop CallStatus = "skipped_loop"

	// StatusSkippedPermission indicates a destructive call without a
	// grant or confirmation.
	StatusSkippedPermission CallStatus = "skipped_permission"

	// StatusSkipped indicates the call never started because the turn
	// halted earlier.
	StatusSkipped CallStatus = "skipped"
)

// ===== Requests and results =====

// CallRequest is one tool invocation requested by the model.
type CallRequest struct {
	// CallID correlates the request with its result. Assigned by the
	// model backend or the caller.
	CallID string `json:"call_id"`

	// ToolName names a registered tool.
	ToolName string `json:"tool_name"`

	// Arguments are the raw model-provided arguments.
	Arguments map[string]any `json:"arguments"`
}

// Result is the outcome of one tool call, correlated by CallID. Errors
// are captured here and never propagated as batch-level errors.
type Result struct {
	// CallID matches the originating request.
	CallID string `json:"call_id"`

	// ToolName echoes the requested tool.
	ToolName string `json:"tool_name"`

	// Status is the terminal call status.
	Status CallStatus `json:"status"`

	// Payload is the handler's output on success.
	Payload any `json:"payload,omitempty"`

	// ErrorMessage is the human-readable reason for any non-success
	// status. Always set when Status is not success.
	ErrorMessage string `json:"error_message,omitempty"`

	// Duration is wall time spent executing the handler, zero for
	// skipped calls.
	Duration time.Duration `json:"duration"`
}

// errorResult builds an error-status result for a request.
func errorResult(req CallRequest, msg string) Result {
	return Result{CallID: req.CallID, ToolName: req.ToolName, Status: StatusError, ErrorMessage: msg}
}

// skippedResult builds a skipped-family result for a request.
func skippedResult(req CallRequest, status CallStatus, reason string) Result {
	return Result{CallID: req.CallID, ToolName: req.ToolName, Status: status, ErrorMessage: reason}
}

// ===== Definitions =====

// ExecutionContext is passed to handlers alongside the call arguments.
// Cancellation travels on the context.Context, not here.
type ExecutionContext struct {
	// SessionID identifies the owning session.
	SessionID string

	// CallID identifies the call being executed.
	CallID string

	// Grants is the session's standing permission state.
	Grants safety.Grants

	// Logger is scoped with session and call attributes.
	Logger *slog.Logger
}

// Handler executes a tool call. Arguments arrive schema-validated.
// Returning an error the retry classifier deems transient triggers
// backoff and re-invocation; any other error becomes the call's
// error result.
type Handler func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error)

// Definition describes a registered tool.
type Definition struct {
	// Name is the unique tool name models call it by.
	Name string

	// Description is shown to the model as the tool's purpose.
	Description string

	// Category classifies side effects for ordering and gating.
	Category Category

	// Schema validates call arguments before the handler runs.
	Schema Schema

	// Handler executes the call.
	Handler Handler
}

// validate checks the definition is registrable.
func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidDefinition, d.Name)
	}
	if !d.Category.Valid() {
		return fmt.Errorf("%w: %s has unknown category %q", ErrInvalidDefinition, d.Name, d.Category)
	}
	return nil
}

// ===== Parameter schemas =====

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	// Name is the argument key.
	Name string `json:"name"`

	// Type is one of "string", "number", "boolean", "object", "array".
	Type string `json:"type"`

	// Description is surfaced to the model.
	Description string `json:"description"`

	// Required rejects calls that omit the argument.
	Required bool `json:"required"`
}

// Schema is the ordered parameter list for a tool.
type Schema struct {
	Params []ParamSpec `json:"params"`
}

// Validate checks args against the schema: required parameters must be
// present, present parameters must match their declared type, and
// undeclared parameters are rejected.
func (s Schema) Validate(args map[string]any) error {
	specs := make(map[string]ParamSpec, len(s.Params))
	for _, p := range s.Params {
		specs[p.Name] = p
		if p.Required {
			if _, ok := args[p.Name]; !ok {
				return fmt.Errorf("%w: missing required parameter %q", ErrValidation, p.Name)
			}
		}
	}
	for name, value := range args {
		spec, ok := specs[name]
		if !ok {
			return fmt.Errorf("%w: unexpected parameter %q", ErrValidation, name)
		}
		if !matchesType(value, spec.Type) {
			return fmt.Errorf("%w: parameter %q must be %s", ErrValidation, name, spec.Type)
		}
	}
	return nil
}

// matchesType checks a decoded JSON value against a declared type. JSON
// numbers decode as float64; native ints from in-process callers are
// accepted as numbers too.
func matchesType(value any, declared string) bool {
	if value == nil {
		return true
	}
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return false
	}
}
