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
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Seeding limits for note-chat context. A note chat opens with the
// head of its source note; the rest is pulled on demand through the
// read tools.
const (
	seedChunkSize    = 1000
	seedChunkOverlap = 100
	seedMaxChunks    = 3
)

// markdownSeparators split on heading boundaries first so seed chunks
// align with document structure.
var markdownSeparators = []string{
	"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
	"\n\n", "\n", " ", "",
}

// VaultReader provides read access to vault notes. The vault store
// satisfies this.
type VaultReader interface {
	Read(ctx context.Context, rel string) ([]byte, error)
}

// buildSeed renders the opening context block for a note chat: the
// source path followed by the leading chunks of the note.
//
// Inputs:
//   - ctx: cancellation.
//   - reader: vault access. May be nil, in which case only the path
//     reference is seeded.
//   - sourcePath: vault-relative path of the anchoring note.
//
// Outputs:
//   - string: markdown context block.
//   - error: if the note exists but cannot be read or split.
func buildSeed(ctx context.Context, reader VaultReader, sourcePath string) (string, error) {
	var b strings.Builder
	b.WriteString("Context note: ")
	b.WriteString(sourcePath)
	b.WriteString("\n")

	if reader == nil {
		return b.String(), nil
	}

	content, err := reader.Read(ctx, sourcePath)
	if err != nil {
		return "", fmt.Errorf("read source note: %w", err)
	}
	if len(content) == 0 {
		return b.String(), nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(seedChunkSize),
		textsplitter.WithChunkOverlap(seedChunkOverlap),
		textsplitter.WithSeparators(markdownSeparators),
	)
	chunks, err := splitter.SplitText(string(content))
	if err != nil {
		return "", fmt.Errorf("split source note: %w", err)
	}

	if len(chunks) > seedMaxChunks {
		chunks = chunks[:seedMaxChunks]
	}
	for _, chunk := range chunks {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(chunk))
		b.WriteString("\n")
	}
	return b.String(), nil
}
