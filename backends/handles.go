// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/exceptions"
	"github.com/graphfuse/graphfuse/types/shapes"
)

// TensorHandle is a backend's concrete representation of a tensor's storage.
// It is a closed capability set -- allocate, map, strides/shape, import,
// typed copy -- implemented per backend and selected by backend id, so the
// substitution engine stays backend-agnostic.
//
// Ownership: a handle owns the storage it allocates, never the memory it
// imports. A handle created as a sub-tensor view does not own storage at
// all; its parent does, and the parent must outlive it.
type TensorHandle interface {
	// Info returns the TensorInfo the handle was created for.
	Info() shapes.TensorInfo

	// Shape returns the shape of the handle's tensor.
	Shape() shapes.Shape

	// Strides returns the element strides of the handle's storage,
	// outermost axis first.
	Strides() []int

	// Allocate binds owned storage to the handle. Allocating an already
	// backed handle is an error.
	Allocate() error

	// Map returns the raw bytes of the handle's storage. It fails if the
	// handle has no backing storage yet.
	Map() ([]byte, error)

	// Unmap releases the mapping obtained by Map.
	Unmap()

	// Parent returns the handle this one is a sub-tensor view of, or nil.
	Parent() TensorHandle

	// ImportFlags returns the memory sources this handle may zero-copy
	// import from.
	ImportFlags() MemorySourceFlags

	// Import binds the handle's storage to externally owned memory without
	// copying. It fails with a MemoryImportError -- leaving the handle's
	// storage untouched -- unless source is present in ImportFlags and
	// supported by the backend. The handle does not take ownership of
	// memory and never frees it.
	Import(memory []byte, source MemorySource) error

	// CopyIn copies a densely packed external buffer into the handle's
	// storage, dispatching on the handle's element type. Element types
	// outside the supported closed set fail with UnimplementedDTypeError.
	CopyIn(src []byte) error

	// CopyOut copies the handle's storage into a densely packed external
	// buffer, with the same closed element type dispatch as CopyIn.
	CopyOut(dst []byte) error

	// Finalize releases the handle's owned storage. It fails if sub-tensor
	// views of this handle are still alive.
	Finalize() error
}

// HandleFactoryId identifies a TensorHandleFactory.
type HandleFactoryId string

// TensorHandleFactory creates the tensor handles of one backend.
type TensorHandleFactory interface {
	// Id returns the factory's identifier.
	Id() HandleFactoryId

	// ImportFlags returns the memory sources handles created by this
	// factory accept for import.
	ImportFlags() MemorySourceFlags

	// ExportFlags returns the memory sources this factory's handles can be
	// exported to without copying.
	ExportFlags() MemorySourceFlags

	// CreateTensorHandle creates an unallocated handle for the given info.
	CreateTensorHandle(info shapes.TensorInfo) TensorHandle

	// CreateSubTensorHandle creates a non-owning view into parent covering
	// subShape starting at origin (element coordinates in the parent).
	// The parent owns the underlying storage and must outlive the child.
	CreateSubTensorHandle(parent TensorHandle, subShape shapes.Shape, origin []int) (TensorHandle, error)
}

// HandleFactoryRegistry collects the tensor-handle factories and memory
// managers of all backends participating in one optimized graph. Populated
// during graph setup via Backend.RegisterTensorHandleFactories; read-only
// afterwards.
type HandleFactoryRegistry struct {
	factories      map[HandleFactoryId]TensorHandleFactory
	order          []HandleFactoryId
	memoryManagers []MemoryManager
}

// NewHandleFactoryRegistry creates an empty registry.
func NewHandleFactoryRegistry() *HandleFactoryRegistry {
	return &HandleFactoryRegistry{factories: make(map[HandleFactoryId]TensorHandleFactory)}
}

// RegisterFactory adds a factory. Registering a duplicate id panics: it
// means two backends claim the same factory, a setup bug.
func (r *HandleFactoryRegistry) RegisterFactory(factory TensorHandleFactory) {
	id := factory.Id()
	if _, found := r.factories[id]; found {
		exceptions.Panicf("HandleFactoryRegistry: factory %q registered twice", id)
	}
	r.factories[id] = factory
	r.order = append(r.order, id)
}

// RegisterMemoryManager adds a memory manager whose lifecycle the registry
// owner will drive around execution.
func (r *HandleFactoryRegistry) RegisterMemoryManager(mm MemoryManager) {
	r.memoryManagers = append(r.memoryManagers, mm)
}

// Factory returns the factory with the given id, or nil.
func (r *HandleFactoryRegistry) Factory(id HandleFactoryId) TensorHandleFactory {
	return r.factories[id]
}

// Factories returns all registered factories in registration order.
func (r *HandleFactoryRegistry) Factories() []TensorHandleFactory {
	result := make([]TensorHandleFactory, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.factories[id])
	}
	return result
}

// MemoryManagers returns all registered memory managers.
func (r *HandleFactoryRegistry) MemoryManagers() []MemoryManager {
	return r.memoryManagers
}

// AcquireMemory calls Acquire on every registered memory manager.
func (r *HandleFactoryRegistry) AcquireMemory() {
	for _, mm := range r.memoryManagers {
		mm.Acquire()
	}
}

// ReleaseMemory calls Release on every registered memory manager.
func (r *HandleFactoryRegistry) ReleaseMemory() {
	for _, mm := range r.memoryManagers {
		mm.Release()
	}
}
