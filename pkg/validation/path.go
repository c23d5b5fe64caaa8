// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// file paths, database keys, or subprocess calls. Using these validators
// prevents injection attacks (path traversal, key injection).
package validation

import (
	"fmt"
	"path"
	"strings"
)

// sessionIDPattern matches valid session identifiers.
// Session IDs are UUIDs or UUID-like tokens: lowercase hex and hyphens.
// Max length: 64 characters.
const sessionIDMaxLen = 64

// ValidateVaultPath validates a vault-relative file path to prevent
// path traversal outside the vault root.
//
// Valid paths:
//   - Non-empty after cleaning
//   - Relative (no leading / or drive prefix)
//   - Forward slashes only
//   - No "." or ".." segments
//   - No NUL or other control characters
//
// Returns an error if the path is invalid.
//
// Example:
//
//	if err := validation.ValidateVaultPath(rel); err != nil {
//	    return nil, fmt.Errorf("invalid note path: %w", err)
//	}
//	// Safe to join under the vault root
func ValidateVaultPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(rel, '\x00') {
		return fmt.Errorf("path contains NUL byte")
	}
	for _, r := range rel {
		if r < 0x20 {
			return fmt.Errorf("path contains control character %q", r)
		}
	}
	if strings.Contains(rel, "\\") {
		return fmt.Errorf("path must use forward slashes: %q", rel)
	}
	if path.IsAbs(rel) {
		return fmt.Errorf("path must be relative: %q", rel)
	}
	if len(rel) >= 2 && rel[1] == ':' {
		return fmt.Errorf("path must not carry a drive prefix: %q", rel)
	}
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "":
			return fmt.Errorf("path contains an empty segment: %q", rel)
		case ".", "..":
			return fmt.Errorf("path contains a traversal segment: %q", rel)
		}
	}
	return nil
}

// CleanVaultPath normalizes and validates a vault-relative path.
// Returns the cleaned forward-slash path if valid, or an error if the
// path escapes the vault root.
//
// Use this when you need both validation and normalization:
//
//	safe, err := validation.CleanVaultPath(userInput)
//	if err != nil {
//	    return err
//	}
//	// safe is cleaned and validated
func CleanVaultPath(rel string) (string, error) {
	normalized := strings.TrimSpace(rel)
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = path.Clean(normalized)
	if normalized == "." {
		return "", fmt.Errorf("path cannot be empty")
	}
	if err := ValidateVaultPath(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateSessionID validates a session identifier before it is used in
// storage keys or file names.
//
// Valid session IDs:
//   - 1-64 characters
//   - Lowercase hex digits and hyphens (UUID shape)
//
// Returns an error if the identifier is invalid.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if len(id) > sessionIDMaxLen {
		return fmt.Errorf("session id exceeds %d characters", sessionIDMaxLen)
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && r != '-' {
			return fmt.Errorf("session id contains invalid character %q", r)
		}
	}
	return nil
}

// IsHiddenPath reports whether any segment of a vault-relative path is
// hidden (starts with a dot). Hidden paths hold tool state and are not
// listed as notes.
func IsHiddenPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}
