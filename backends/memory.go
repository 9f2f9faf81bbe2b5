// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "fmt"

// MemorySource tags the provenance of externally supplied memory offered to
// a tensor handle for zero-copy import.
type MemorySource uint32

const (
	// MemoryUndefined means the caller did not specify a source. The engine
	// normalizes it to MemoryMalloc before a backend ever observes it.
	MemoryUndefined MemorySource = 0
	// MemoryMalloc is host memory allocated by the caller.
	MemoryMalloc MemorySource = 1
	// MemoryDmaBuf is a dma-buf file descriptor backed buffer.
	MemoryDmaBuf MemorySource = 2
	// MemoryDmaBufProtected is a protected dma-buf buffer.
	MemoryDmaBufProtected MemorySource = 4
)

// String implements fmt.Stringer.
func (s MemorySource) String() string {
	switch s {
	case MemoryUndefined:
		return "Undefined"
	case MemoryMalloc:
		return "Malloc"
	case MemoryDmaBuf:
		return "DmaBuf"
	case MemoryDmaBufProtected:
		return "DmaBufProtected"
	}
	return fmt.Sprintf("MemorySource(%d)", uint32(s))
}

// MemorySourceFlags is a bitmask of MemorySources a tensor handle accepts
// for import.
type MemorySourceFlags uint32

// FlagsOf builds a flag set from the given sources.
func FlagsOf(sources ...MemorySource) MemorySourceFlags {
	var flags MemorySourceFlags
	for _, s := range sources {
		flags |= MemorySourceFlags(s)
	}
	return flags
}

// Has returns whether the given source is present in the flag set.
// MemoryUndefined is present only in the empty flag set.
func (f MemorySourceFlags) Has(s MemorySource) bool {
	if s == MemoryUndefined {
		return f == 0
	}
	return f&MemorySourceFlags(s) != 0
}

// NormalizeImportFlags maps the undefined flag set to Malloc, so backends
// never observe MemoryUndefined. This mirrors the engine's contract that
// unspecified input/output import flags allow force-import of host memory.
func NormalizeImportFlags(f MemorySourceFlags) MemorySourceFlags {
	if f == MemorySourceFlags(MemoryUndefined) {
		return MemorySourceFlags(MemoryMalloc)
	}
	return f
}

// Allocator is the backend's hook for raw storage. Backends constructed with
// a custom allocator use it for all pooled storage; otherwise they fall back
// to their DefaultAllocator.
type Allocator interface {
	// Allocate returns a zeroed buffer of at least size bytes whose first
	// element is aligned to alignment bytes (alignment must be a power of
	// two; 0 means no constraint).
	Allocate(size, alignment uintptr) []byte

	// Free releases a buffer previously returned by Allocate. Go-native
	// allocators may treat this as a no-op and let the GC collect.
	Free(buffer []byte)

	// Source returns the memory source the allocator's buffers count as
	// when imported into a tensor handle.
	Source() MemorySource
}

// MemoryManager scopes the working memory of a backend's workloads. Acquire
// is called before execution and Release afterwards; between the two, tensor
// handles created from the owning backend's factories are backed by the
// manager's storage.
type MemoryManager interface {
	Acquire()
	Release()
}
