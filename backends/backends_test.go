// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend embeds the interface so only the methods the tests touch need
// real implementations.
type stubBackend struct {
	Backend
	id     BackendId
	config string
}

func (s *stubBackend) Id() BackendId { return s.id }

func TestRegistry(t *testing.T) {
	const id = BackendId("test-stub")
	Register(id, func(config string) Backend {
		return &stubBackend{id: id, config: config}
	})

	assert.True(t, IsRegistered(id))
	assert.Contains(t, Registered(), id)
	assert.False(t, IsRegistered("no-such-backend"))

	b, err := NewById(id, "some-config")
	require.NoError(t, err)
	assert.Equal(t, id, b.Id())
	assert.Equal(t, "some-config", b.(*stubBackend).config)

	_, err = NewById("no-such-backend", "")
	require.Error(t, err)
	var unknown *UnknownBackendError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, BackendId("no-such-backend"), unknown.Id)
}

func TestNewWithConfig(t *testing.T) {
	const id = BackendId("test-stub-config")
	Register(id, func(config string) Backend {
		return &stubBackend{id: id, config: config}
	})

	b := NewWithConfig(string(id) + ":x=1,y=2")
	assert.Equal(t, "x=1,y=2", b.(*stubBackend).config)

	require.Panics(t, func() { NewWithConfig("no-such-backend:x=1") })
}

func TestMemorySourceFlags(t *testing.T) {
	flags := FlagsOf(MemoryMalloc, MemoryDmaBuf)
	assert.True(t, flags.Has(MemoryMalloc))
	assert.True(t, flags.Has(MemoryDmaBuf))
	assert.False(t, flags.Has(MemoryDmaBufProtected))
	assert.False(t, flags.Has(MemoryUndefined))

	// Undefined is only a member of the empty set.
	assert.True(t, MemorySourceFlags(0).Has(MemoryUndefined))

	assert.Equal(t, FlagsOf(MemoryMalloc), NormalizeImportFlags(0))
	assert.Equal(t, flags, NormalizeImportFlags(flags))
}

func TestModelOptions(t *testing.T) {
	options := ModelOptions{
		{Backend: "CpuFused", Options: map[string]any{"config": "nobias", "fast": true}},
		{Backend: "CpuFused", Options: map[string]any{"fast": false}},
		{Backend: "CpuRef", Options: map[string]any{"config": "other"}},
	}

	// Later entries for the same backend win on conflicting keys.
	merged := options.ForBackend("CpuFused")
	assert.Equal(t, "nobias", merged["config"])
	assert.Equal(t, false, merged["fast"])

	v, ok := options.Option("CpuRef", "config")
	require.True(t, ok)
	assert.Equal(t, "other", v)
	_, ok = options.Option("CpuRef", "missing")
	assert.False(t, ok)

	assert.False(t, options.BoolOption("CpuFused", "fast", true))
	assert.True(t, options.BoolOption("CpuFused", "missing", true))
}
