// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a logger with trace context injected.
//
// Description:
//
//	Extracts trace_id and span_id from the context and adds them as
//	structured log fields. This enables log correlation between log
//	aggregators and trace backends.
//
// Inputs:
//
//	ctx - Context containing span context. May be nil or have no active span.
//	logger - Base logger to enhance. Must not be nil.
//
// Outputs:
//
//	*slog.Logger - Logger with trace_id and span_id fields added if available.
//	              Returns the original logger if no valid span context.
//
// Example:
//
//	func (s *Service) Process(ctx context.Context) error {
//	    logger := telemetry.LoggerWithTrace(ctx, s.logger)
//	    logger.Info("processing started")
//	}
//
// Thread Safety: Safe for concurrent use.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}

	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// LoggerWithSession returns a logger with trace context and session ID.
//
// Description:
//
//	Adds a session identifier for tracking related operations across
//	multiple agent turns and persistence operations.
//
// Inputs:
//
//	ctx - Context containing span context.
//	logger - Base logger to enhance.
//	sessionID - Unique session identifier.
//
// Outputs:
//
//	*slog.Logger - Logger with trace_id, span_id, and session_id fields.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithSession(ctx context.Context, logger *slog.Logger, sessionID string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(
		slog.String("session_id", sessionID),
	)
}

// LoggerWithTool returns a logger with trace context and tool name.
//
// Description:
//
//	Combines LoggerWithTrace with a tool identifier for agent turn logging.
//	Useful for distinguishing log entries from different tool handlers.
//
// Inputs:
//
//	ctx - Context containing span context.
//	logger - Base logger to enhance.
//	toolName - Name of the tool being executed (e.g., "read_note").
//
// Outputs:
//
//	*slog.Logger - Logger with trace_id, span_id, and tool fields.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithTool(ctx context.Context, logger *slog.Logger, toolName string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(
		slog.String("tool", toolName),
	)
}
