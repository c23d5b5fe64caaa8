// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import "errors"

var (
	// ErrInvalidTitle is returned when a title sanitizes to the
	// empty string.
	ErrInvalidTitle = errors.New("title is empty after sanitization")

	// ErrSessionNotFound is returned when no session matches the
	// given identifier or source note.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionArchived is returned for mutations against an
	// archived session.
	ErrSessionArchived = errors.New("session is archived")

	// ErrInvalidSourceNote is returned when a note chat is requested
	// for an unusable source path.
	ErrInvalidSourceNote = errors.New("invalid source note path")
)
