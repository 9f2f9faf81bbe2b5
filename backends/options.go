// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package backends

// BackendOptions is an opaque bag of backend-specific options. The engine
// passes it through unmodified; only the backend it is addressed to
// interprets the values.
type BackendOptions struct {
	Backend BackendId
	Options map[string]any
}

// ModelOptions carries the per-backend option bags for one optimization
// pass.
type ModelOptions []BackendOptions

// ForBackend returns the merged options addressed to the given backend.
// Later entries win on key collisions.
func (m ModelOptions) ForBackend(id BackendId) map[string]any {
	var result map[string]any
	for _, bo := range m {
		if bo.Backend != id {
			continue
		}
		if result == nil {
			result = make(map[string]any, len(bo.Options))
		}
		for k, v := range bo.Options {
			result[k] = v
		}
	}
	return result
}

// Option returns the value of key for the given backend, and whether it was
// present.
func (m ModelOptions) Option(id BackendId, key string) (any, bool) {
	value, found := any(nil), false
	for _, bo := range m {
		if bo.Backend != id {
			continue
		}
		if v, ok := bo.Options[key]; ok {
			value, found = v, true
		}
	}
	return value, found
}

// BoolOption returns the boolean value of key for the given backend, or
// defaultValue if unset or not a bool.
func (m ModelOptions) BoolOption(id BackendId, key string, defaultValue bool) bool {
	if v, found := m.Option(id, key); found {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultValue
}
