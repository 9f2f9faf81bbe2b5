// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

// Package reference implements the pure-Go reference CPU backend.
//
// It is the default execution path for everything no accelerated backend
// claims: its OptimizeSubgraphView declines every region (reporting the
// whole view untouched), and its workload factory executes layers with
// plain, portable Go kernels. It also provides the canonical tensor-handle
// implementation, including zero-copy import of host-malloc'd buffers and
// the typed copy paths.
package reference

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/graph"
)

// BackendName to be used in GRAPHFUSE_BACKEND to specify this backend.
const BackendName = backends.BackendId("CpuRef")

// HandleFactoryName identifies this backend's tensor-handle factory.
const HandleFactoryName = backends.HandleFactoryId("CpuRef/TensorHandleFactory")

func init() {
	backends.Register(BackendName, New)
}

// New constructs a reference Backend. There are no configurations, the
// string is simply ignored.
func New(_ string) backends.Backend {
	return &Backend{}
}

// NewWithAllocator constructs a reference Backend whose pooled storage comes
// from the given custom allocator.
func NewWithAllocator(allocator backends.Allocator) *Backend {
	return &Backend{customAllocator: allocator}
}

// Backend implements the backends.Backend interface on plain Go.
type Backend struct {
	customAllocator backends.Allocator
}

// Compile-time check that reference.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Id returns the backend's identifier.
func (b *Backend) Id() backends.BackendId { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Reference CPU backend (portable Go)"
}

// copyDTypes is the closed set of element types the typed copy paths and the
// reference kernels understand.
var copyDTypes = map[dtypes.DType]bool{
	dtypes.Float32: true,
	dtypes.Uint8:   true,
	dtypes.Int8:    true,
	dtypes.Int16:   true,
	dtypes.Int32:   true,
	dtypes.Float16: true,
}

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	c := backends.Capabilities{
		Operations: map[graph.LayerType]bool{
			graph.LayerTypeConstant:       true,
			graph.LayerTypeConvolution2d:  true,
			graph.LayerTypePooling2d:      true,
			graph.LayerTypeActivation:     true,
			graph.LayerTypeFullyConnected: true,
			graph.LayerTypeAddition:       true,
			graph.LayerTypeReshape:        true,
		},
		DTypes: make(map[dtypes.DType]bool, len(copyDTypes)),
	}
	for dtype := range copyDTypes {
		c.DTypes[dtype] = true
	}
	return c
}

// OptimizeSubgraphView declines the whole view: the reference backend runs
// layers as-is and never substitutes, so the entire input is reported as a
// single untouched subgraph and the graph is left unchanged.
func (b *Backend) OptimizeSubgraphView(view *graph.SubgraphView, options backends.ModelOptions) *backends.OptimizationViews {
	views := backends.NewOptimizationViews(options)
	views.AddUntouchedSubgraph(view)
	return views
}

// CreateMemoryManager returns a fresh pooling memory manager, backed by the
// custom allocator if the backend was built with one.
func (b *Backend) CreateMemoryManager() backends.MemoryManager {
	if b.customAllocator != nil {
		return NewPoolMemoryManager(b.customAllocator)
	}
	return NewPoolMemoryManager(b.DefaultAllocator())
}

// CreateWorkloadFactory returns a workload factory bound to the given
// memory manager, which must have been created by this backend.
func (b *Backend) CreateWorkloadFactory(memoryManager backends.MemoryManager) backends.WorkloadFactory {
	mm, ok := memoryManager.(*PoolMemoryManager)
	if !ok {
		mm = b.CreateMemoryManager().(*PoolMemoryManager)
	}
	return &WorkloadFactory{
		factory: newHandleFactory(mm, backends.FlagsOf(backends.MemoryMalloc), backends.FlagsOf(backends.MemoryMalloc)),
	}
}

// HandleFactoryPreferences returns this backend's tensor-handle factory ids
// in preference order.
func (b *Backend) HandleFactoryPreferences() []backends.HandleFactoryId {
	return []backends.HandleFactoryId{HandleFactoryName}
}

// RegisterTensorHandleFactories registers the backend's handle factory and
// memory manager. Undefined input/output flags are normalized to Malloc so
// force-import of host memory keeps working when the caller left them
// unspecified.
func (b *Backend) RegisterTensorHandleFactories(registry *backends.HandleFactoryRegistry, inputFlags, outputFlags backends.MemorySourceFlags) {
	inputFlags = backends.NormalizeImportFlags(inputFlags)
	outputFlags = backends.NormalizeImportFlags(outputFlags)

	mm := b.CreateMemoryManager().(*PoolMemoryManager)
	registry.RegisterMemoryManager(mm)
	registry.RegisterFactory(newHandleFactory(mm, inputFlags, outputFlags))
}

// DefaultAllocator returns the host allocator.
func (b *Backend) DefaultAllocator() backends.Allocator {
	return MallocAllocator{}
}
