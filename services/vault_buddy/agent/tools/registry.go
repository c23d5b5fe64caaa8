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
	"fmt"
	"sync"
)

// Registry holds tool definitions keyed by name. Registration happens
// during service wiring; Seal freezes the set for the process lifetime
// so turn execution reads without contention concerns.
//
// Thread Safety: safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	tools  map[string]Definition
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Definition),
	}
}

// Register adds a definition.
//
// Outputs:
//   - error: ErrInvalidDefinition for unusable definitions,
//     ErrDuplicateTool when the name is taken, ErrRegistrySealed after
//     Seal. nil on success.
func (r *Registry) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, def.Name)
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, def.Name)
	}
	r.tools[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Seal freezes the registry. Later Register calls fail with
// ErrRegistrySealed. Sealing twice is harmless.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the definition for name.
//
// Outputs:
//   - Definition: the registered definition on success.
//   - error: ErrToolNotFound when the name has no registration.
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return def, nil
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// ListByCategory returns definitions of one category in registration
// order.
func (r *Registry) ListByCategory(category Category) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Definition
	for _, name := range r.order {
		if def := r.tools[name]; def.Category == category {
			out = append(out, def)
		}
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
