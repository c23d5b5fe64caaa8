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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Signature identifies a tool call by name and canonicalized arguments.
// Two calls with the same signature are "the same call" for loop
// detection purposes.
type Signature string

// volatileKeys are argument names that legitimately change between
// otherwise identical calls and are excluded from the signature.
var volatileKeys = map[string]bool{
	"timestamp":  true,
	"ts":         true,
	"nonce":      true,
	"request_id": true,
}

// ComputeSignature hashes a tool name and its arguments into a stable
// signature. Map keys are serialized in sorted order so argument order
// never changes the result.
func ComputeSignature(toolName string, args map[string]any) Signature {
	canonical := make(map[string]any, len(args))
	for k, v := range args {
		if volatileKeys[k] {
			continue
		}
		canonical[k] = v
	}

	// encoding/json sorts map keys at every nesting level, which is the
	// canonical form we need.
	payload, err := json.Marshal(canonical)
	if err != nil {
		payload = []byte(fallbackEncode(canonical))
	}

	sum := sha256.Sum256([]byte(toolName + "|" + string(payload)))
	return Signature(hex.EncodeToString(sum[:]))
}

// fallbackEncode handles argument maps that JSON cannot serialize
// (channels, funcs). Rare in practice since arguments arrive decoded
// from model JSON.
func fallbackEncode(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, args[k])
	}
	return b.String()
}
