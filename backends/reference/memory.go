// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/types/shapes"
)

// MallocAllocator allocates plain host memory. Buffers it hands out count as
// MemoryMalloc when imported into a tensor handle.
type MallocAllocator struct{}

// Allocate returns a zeroed buffer of size bytes, aligned to alignment.
func (MallocAllocator) Allocate(size, alignment uintptr) []byte {
	if alignment <= 1 {
		return make([]byte, size)
	}
	raw := make([]byte, size+alignment)
	offset := uintptr(0)
	if rem := uintptr(unsafe.Pointer(&raw[0])) % alignment; rem != 0 {
		offset = alignment - rem
	}
	return raw[offset : offset+size]
}

// Free is a no-op: the garbage collector reclaims host buffers.
func (MallocAllocator) Free(_ []byte) {}

// Source returns MemoryMalloc.
func (MallocAllocator) Source() backends.MemorySource { return backends.MemoryMalloc }

type poolKey struct {
	dtype  dtypes.DType
	length int
}

// pooledBuffer is one reusable chunk of storage handed to tensor handles.
type pooledBuffer struct {
	data []byte
	key  poolKey
}

// PoolMemoryManager hands out pooled storage for tensor handles, keyed by
// element type and length so buffers are only reused for identically shaped
// tensors. Release drops every pool, returning the memory to the allocator.
type PoolMemoryManager struct {
	allocator backends.Allocator

	// pools is a map to pools of buffers that can be reused.
	// The underlying type is map[poolKey]*sync.Pool.
	pools sync.Map

	bytesAllocated atomic.Uint64
	buffersInUse   atomic.Int64
}

// Compile-time check:
var _ backends.MemoryManager = (*PoolMemoryManager)(nil)

// NewPoolMemoryManager creates a manager drawing storage from the given
// allocator.
func NewPoolMemoryManager(allocator backends.Allocator) *PoolMemoryManager {
	return &PoolMemoryManager{allocator: allocator}
}

// Acquire prepares the manager for a round of execution.
func (m *PoolMemoryManager) Acquire() {}

// Release drops all pooled buffers. Handles still holding rented buffers
// keep them valid; the pools just stop reusing.
func (m *PoolMemoryManager) Release() {
	m.pools.Range(func(key, _ any) bool {
		m.pools.Delete(key)
		return true
	})
}

// getPool for given dtype/length.
func (m *PoolMemoryManager) getPool(dtype dtypes.DType, length int) *sync.Pool {
	key := poolKey{dtype: dtype, length: length}
	poolInterface, ok := m.pools.Load(key)
	if !ok {
		poolInterface, _ = m.pools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				numBytes := dtype.Memory() * uintptr(length)
				m.bytesAllocated.Add(uint64(numBytes))
				return &pooledBuffer{
					data: m.allocator.Allocate(numBytes, dtype.Memory()),
					key:  key,
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// rent a buffer fitting the given tensor from the pool.
func (m *PoolMemoryManager) rent(info shapes.TensorInfo) *pooledBuffer {
	shape := info.Shape()
	buffer := m.getPool(shape.DType, shape.Size()).Get().(*pooledBuffer)
	m.buffersInUse.Add(1)
	return buffer
}

// giveBack a rented buffer to its pool.
// After this any references to the buffer should be dropped.
func (m *PoolMemoryManager) giveBack(buffer *pooledBuffer) {
	if buffer == nil {
		return
	}
	m.buffersInUse.Add(-1)
	m.getPool(buffer.key.dtype, buffer.key.length).Put(buffer)
}

// String summarizes the manager's allocation stats.
func (m *PoolMemoryManager) String() string {
	return fmt.Sprintf("PoolMemoryManager: %s allocated, %d buffer(s) in use",
		humanize.Bytes(m.bytesAllocated.Load()), m.buffersInUse.Load())
}
