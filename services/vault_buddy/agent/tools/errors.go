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

import "errors"

var (
	// ErrToolNotFound is returned when a tool name has no registration.
	ErrToolNotFound = errors.New("tool not found")

	// ErrDuplicateTool is returned when registering a name twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("registry is sealed")

	// ErrInvalidDefinition is returned for definitions missing a name,
	// handler, or known category.
	ErrInvalidDefinition = errors.New("invalid tool definition")

	// ErrValidation is returned when call arguments fail schema checks.
	ErrValidation = errors.New("argument validation failed")

	// ErrInvalidTurn is returned when a turn is submitted without a
	// session identity.
	ErrInvalidTurn = errors.New("invalid turn context")

	// ErrLoopDetected reports a repeated-call loop at turn level. Per-call
	// loop skips are carried in results, never as returned errors.
	ErrLoopDetected = errors.New("tool call loop detected")
)
