// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendIsRegistered(t *testing.T) {
	assert.True(t, backends.IsRegistered(BackendName))
	b := must.M1(backends.NewById(BackendName, ""))
	assert.Equal(t, BackendName, b.Id())
}

func TestOptimizeDeclinesWholeView(t *testing.T) {
	g := graph.New()
	add := g.AddLayer("add", &graph.AdditionDescriptor{})
	relu := g.AddLayer("relu", &graph.ActivationDescriptor{Function: graph.ActivationReLU})
	view := graph.NewSubgraphView(add, relu)

	b := New("")
	views := b.OptimizeSubgraphView(view, nil)
	require.NoError(t, views.Validate(view))
	assert.Empty(t, views.Substitutions())
	assert.Empty(t, views.Failed())
	require.Len(t, views.Untouched(), 1)
	assert.Equal(t, view, views.Untouched()[0])
}

func TestCapabilities(t *testing.T) {
	c := New("").Capabilities()
	assert.True(t, c.Supports(graph.LayerTypeAddition, dtypes.Float32))
	assert.True(t, c.Supports(graph.LayerTypeConvolution2d, dtypes.Float16))
	assert.False(t, c.Supports(graph.LayerTypeAddition, dtypes.Float64))
	assert.False(t, c.Supports(graph.LayerTypePreCompiled, dtypes.Float32))
}

func TestRegisterTensorHandleFactoriesNormalizesFlags(t *testing.T) {
	registry := backends.NewHandleFactoryRegistry()
	New("").RegisterTensorHandleFactories(registry, 0, 0)

	factory := registry.Factory(HandleFactoryName)
	require.NotNil(t, factory)
	// Undefined flags were normalized: force-import of host memory works.
	assert.True(t, factory.ImportFlags().Has(backends.MemoryMalloc))
	assert.True(t, factory.ExportFlags().Has(backends.MemoryMalloc))
	require.Len(t, registry.MemoryManagers(), 1)

	h := factory.CreateTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 4))
	require.NoError(t, h.Import(make([]byte, 16), backends.MemoryMalloc))
	require.NoError(t, h.Finalize())
}

func TestCustomAllocatorIsUsed(t *testing.T) {
	alloc := &countingAllocator{}
	b := NewWithAllocator(alloc)
	mm := b.CreateMemoryManager().(*PoolMemoryManager)

	h := newTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 16), 0, mm)
	require.NoError(t, h.Allocate())
	assert.Equal(t, 1, alloc.allocations)
	require.NoError(t, h.Finalize())
}

// countingAllocator wraps MallocAllocator and counts allocations.
type countingAllocator struct {
	MallocAllocator
	allocations int
}

func (a *countingAllocator) Allocate(size, alignment uintptr) []byte {
	a.allocations++
	return a.MallocAllocator.Allocate(size, alignment)
}
