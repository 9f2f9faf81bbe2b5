// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/types/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// tensorHandle is the reference backend's TensorHandle. Storage is a flat
// byte buffer, either rented from the backend's pool (owned) or an alias of
// externally supplied memory (imported, never owned).
type tensorHandle struct {
	info    shapes.TensorInfo
	strides []int // element strides, outermost axis first
	flags   backends.MemorySourceFlags
	mm      *PoolMemoryManager

	data     []byte
	owned    *pooledBuffer // non-nil while holding pooled storage
	imported bool

	parent   *tensorHandle
	children atomic.Int32
}

// Compile-time check:
var _ backends.TensorHandle = (*tensorHandle)(nil)

// NewTensorHandle creates an unallocated host tensor handle accepting
// imports from the given sources. Exported for backends that reuse the
// reference handle implementation.
func NewTensorHandle(info shapes.TensorInfo, flags backends.MemorySourceFlags, mm *PoolMemoryManager) backends.TensorHandle {
	return newTensorHandle(info, flags, mm)
}

func newTensorHandle(info shapes.TensorInfo, flags backends.MemorySourceFlags, mm *PoolMemoryManager) *tensorHandle {
	return &tensorHandle{
		info:    info,
		strides: info.Shape().DenseStrides(),
		flags:   flags,
		mm:      mm,
	}
}

// Info returns the TensorInfo the handle was created for.
func (h *tensorHandle) Info() shapes.TensorInfo { return h.info }

// Shape returns the shape of the handle's tensor.
func (h *tensorHandle) Shape() shapes.Shape { return h.info.Shape() }

// Strides returns the element strides of the handle's storage.
func (h *tensorHandle) Strides() []int { return h.strides }

// Parent returns nil: this is a top-level handle.
func (h *tensorHandle) Parent() backends.TensorHandle {
	if h.parent == nil {
		return nil
	}
	return h.parent
}

// ImportFlags returns the memory sources this handle accepts for import.
func (h *tensorHandle) ImportFlags() backends.MemorySourceFlags { return h.flags }

// Allocate rents owned storage from the backend pool.
func (h *tensorHandle) Allocate() error {
	if h.parent != nil {
		return errors.New("sub-tensor handles have no storage of their own, allocate the parent")
	}
	if h.data != nil {
		return errors.Errorf("tensor handle for %s is already backed", h.info)
	}
	buffer := h.mm.rent(h.info)
	h.owned = buffer
	h.data = buffer.data[:h.info.NumBytes()]
	h.imported = false
	return nil
}

// Map returns the raw bytes of the handle's storage.
func (h *tensorHandle) Map() ([]byte, error) {
	if h.data == nil {
		return nil, errors.Errorf("tensor handle for %s has no backing storage (not allocated or imported)", h.info)
	}
	return h.data, nil
}

// Unmap is a no-op: host storage needs no mapping lifecycle.
func (h *tensorHandle) Unmap() {}

// Import binds the handle's storage to externally owned memory. All checks
// run before any mutation, so a failed import leaves the handle exactly as
// it was. On success the previous owned storage (if any) goes back to the
// pool and the handle aliases memory until released or re-imported; the
// memory stays owned by the caller.
func (h *tensorHandle) Import(memory []byte, source backends.MemorySource) error {
	if h.parent != nil {
		return &backends.MemoryImportError{Source: source, Reason: "sub-tensor handles cannot import"}
	}
	if !h.flags.Has(source) {
		return &backends.MemoryImportError{Source: source, Reason: "incorrect import flag"}
	}
	if source != backends.MemoryMalloc {
		return &backends.MemoryImportError{Source: source, Reason: "import source not supported by the reference backend"}
	}
	numBytes := int(h.info.NumBytes())
	if len(memory) < numBytes {
		return &backends.MemoryImportError{
			Source: source,
			Reason: errors.Errorf("imported memory has %d bytes, tensor needs %d", len(memory), numBytes).Error(),
		}
	}
	if h.owned != nil {
		h.mm.giveBack(h.owned)
		h.owned = nil
	}
	h.data = memory[:numBytes]
	h.imported = true
	return nil
}

// CopyIn copies a densely packed buffer into the handle's storage, with the
// closed typed dispatch on the handle's element type.
func (h *tensorHandle) CopyIn(src []byte) error {
	storage, err := h.Map()
	if err != nil {
		return err
	}
	defer h.Unmap()
	if len(src) != int(h.info.NumBytes()) {
		return errors.Errorf("CopyIn: source has %d bytes, tensor %s needs %d", len(src), h.info, h.info.NumBytes())
	}
	dims := h.Shape().Dimensions
	dense := h.Shape().DenseStrides()
	switch h.info.DType() {
	case dtypes.Float32:
		copyStrided[float32](storage, h.strides, src, dense, dims)
	case dtypes.Uint8:
		copyStrided[uint8](storage, h.strides, src, dense, dims)
	case dtypes.Int8:
		copyStrided[int8](storage, h.strides, src, dense, dims)
	case dtypes.Int16:
		copyStrided[int16](storage, h.strides, src, dense, dims)
	case dtypes.Int32:
		copyStrided[int32](storage, h.strides, src, dense, dims)
	case dtypes.Float16:
		copyStrided[float16.Float16](storage, h.strides, src, dense, dims)
	default:
		return &backends.UnimplementedDTypeError{DType: h.info.DType(), Op: "CopyIn"}
	}
	return nil
}

// CopyOut copies the handle's storage into a densely packed buffer, with the
// same closed typed dispatch as CopyIn.
func (h *tensorHandle) CopyOut(dst []byte) error {
	storage, err := h.Map()
	if err != nil {
		return err
	}
	defer h.Unmap()
	if len(dst) != int(h.info.NumBytes()) {
		return errors.Errorf("CopyOut: destination has %d bytes, tensor %s needs %d", len(dst), h.info, h.info.NumBytes())
	}
	dims := h.Shape().Dimensions
	dense := h.Shape().DenseStrides()
	switch h.info.DType() {
	case dtypes.Float32:
		copyStrided[float32](dst, dense, storage, h.strides, dims)
	case dtypes.Uint8:
		copyStrided[uint8](dst, dense, storage, h.strides, dims)
	case dtypes.Int8:
		copyStrided[int8](dst, dense, storage, h.strides, dims)
	case dtypes.Int16:
		copyStrided[int16](dst, dense, storage, h.strides, dims)
	case dtypes.Int32:
		copyStrided[int32](dst, dense, storage, h.strides, dims)
	case dtypes.Float16:
		copyStrided[float16.Float16](dst, dense, storage, h.strides, dims)
	default:
		return &backends.UnimplementedDTypeError{DType: h.info.DType(), Op: "CopyOut"}
	}
	return nil
}

// Finalize releases the handle's owned storage. Imported memory is only
// un-aliased, never freed. It fails while sub-tensor views are alive.
func (h *tensorHandle) Finalize() error {
	if n := h.children.Load(); n > 0 {
		return errors.Errorf("tensor handle for %s still has %d live sub-tensor view(s)", h.info, n)
	}
	if h.parent != nil {
		h.parent.children.Add(-1)
		h.parent = nil
		h.data = nil
		return nil
	}
	if h.owned != nil {
		h.mm.giveBack(h.owned)
		h.owned = nil
	}
	h.data = nil
	h.imported = false
	return nil
}

// asTyped views a byte buffer as a slice of n elements of type T.
func asTyped[T any](buffer []byte, n int) []T {
	if n == 0 || len(buffer) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&buffer[0])), n)
}

// copyStrided copies dims-shaped data between two byte buffers with the
// given element strides, element-typed so padding bytes are never read or
// written. Scalars copy a single element.
func copyStrided[T constraints.Integer | constraints.Float](dst []byte, dstStrides []int, src []byte, srcStrides []int, dims []int) {
	numDst := maxExtent(dstStrides, dims)
	numSrc := maxExtent(srcStrides, dims)
	dstTyped := asTyped[T](dst, numDst)
	srcTyped := asTyped[T](src, numSrc)
	if len(dims) == 0 {
		dstTyped[0] = srcTyped[0]
		return
	}
	var walk func(axis, dstOffset, srcOffset int)
	walk = func(axis, dstOffset, srcOffset int) {
		if axis == len(dims)-1 {
			for i := 0; i < dims[axis]; i++ {
				dstTyped[dstOffset+i*dstStrides[axis]] = srcTyped[srcOffset+i*srcStrides[axis]]
			}
			return
		}
		for i := 0; i < dims[axis]; i++ {
			walk(axis+1, dstOffset+i*dstStrides[axis], srcOffset+i*srcStrides[axis])
		}
	}
	walk(0, 0, 0)
}

// maxExtent returns the number of elements a buffer must hold to cover the
// given dims under the given strides.
func maxExtent(strides []int, dims []int) int {
	extent := 1
	for axis, dim := range dims {
		extent += (dim - 1) * strides[axis]
	}
	return extent
}
