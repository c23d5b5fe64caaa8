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

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxTitleLength is the cap on sanitized titles, in characters.
const MaxTitleLength = 100

// forbiddenTitleChars are characters that are unsafe in file names on
// at least one supported platform. Each is replaced with a hyphen so
// a title maps to the same history file everywhere.
var forbiddenTitleChars = []string{
	`\`, "/", ":", "*", "?", `"`, "<", ">", "|",
}

// titleReplacer substitutes every forbidden character with a hyphen.
var titleReplacer = buildTitleReplacer()

func buildTitleReplacer() *strings.Replacer {
	pairs := make([]string, 0, len(forbiddenTitleChars)*2)
	for _, c := range forbiddenTitleChars {
		pairs = append(pairs, c, "-")
	}
	return strings.NewReplacer(pairs...)
}

// whitespaceRun matches one or more consecutive whitespace characters.
var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeTitle converts an arbitrary title into a file-safe display
// string.
//
// Description:
//
//	Sanitization applies, in order:
//	1. Replace each of \ / : * ? " < > | with a hyphen.
//	2. Collapse runs of whitespace to a single space.
//	3. Trim leading and trailing whitespace.
//	4. Truncate to MaxTitleLength characters, then trim again so a
//	   cut that lands after a space cannot leave a trailing space.
//
//	The function is idempotent: SanitizeTitle(SanitizeTitle(x)) ==
//	SanitizeTitle(x) for every input. Creation and lookup both go
//	through this single function, so a title containing forbidden
//	characters resolves to the same history file on both paths.
//
// Inputs:
//
//	raw - The title as provided by the user or derived from a note
//	      name. May be empty.
//
// Outputs:
//
//	string - The sanitized title. Empty only when the input holds
//	         nothing but whitespace; callers treat an empty result
//	         as an invalid title.
//
// Thread Safety: This function is safe for concurrent use.
func SanitizeTitle(raw string) string {
	title := titleReplacer.Replace(raw)
	title = whitespaceRun.ReplaceAllString(title, " ")
	title = strings.TrimSpace(title)
	title = truncateRunes(title, MaxTitleLength)
	return strings.TrimSpace(title)
}

// truncateRunes cuts s to at most max characters at a rune boundary.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
