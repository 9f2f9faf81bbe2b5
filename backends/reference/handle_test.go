// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"testing"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func newTestManager() *PoolMemoryManager {
	return NewPoolMemoryManager(MallocAllocator{})
}

// f32Bytes packs float32 values into a dense byte buffer.
func f32Bytes(vals ...float32) []byte {
	buf := make([]byte, 4*len(vals))
	copy(asTyped[float32](buf, len(vals)), vals)
	return buf
}

func f32FromBytes(buf []byte) []float32 {
	return asTyped[float32](buf, len(buf)/4)
}

func TestAllocateAndCopyRoundTrip(t *testing.T) {
	mm := newTestManager()
	h := newTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 2, 3), 0, mm)
	require.NoError(t, h.Allocate())
	require.Error(t, h.Allocate(), "double allocation must fail")

	src := f32Bytes(1, 2, 3, 4, 5, 6)
	require.NoError(t, h.CopyIn(src))
	dst := make([]byte, len(src))
	require.NoError(t, h.CopyOut(dst))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, f32FromBytes(dst))

	require.NoError(t, h.Finalize())
	_, err := h.Map()
	assert.Error(t, err, "finalized handle has no storage")
}

func TestMapBeforeBackingFails(t *testing.T) {
	h := newTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 4), 0, newTestManager())
	_, err := h.Map()
	require.Error(t, err)
	require.Error(t, h.CopyIn(make([]byte, 16)))
}

func TestImportFlagEnforcement(t *testing.T) {
	mm := newTestManager()
	h := newTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 4),
		backends.FlagsOf(backends.MemoryMalloc), mm)
	require.NoError(t, h.Allocate())
	require.NoError(t, h.CopyIn(f32Bytes(1, 2, 3, 4)))

	// A source outside the handle's flag set is rejected before any mutation.
	err := h.Import(make([]byte, 16), backends.MemoryDmaBuf)
	require.Error(t, err)
	require.True(t, backends.IsMemoryImportError(err))
	var importErr *backends.MemoryImportError
	require.ErrorAs(t, err, &importErr)
	assert.Equal(t, backends.MemoryDmaBuf, importErr.Source)
	assert.Contains(t, importErr.Reason, "incorrect import flag")

	// The handle's storage is exactly as it was before the failed import.
	dst := make([]byte, 16)
	require.NoError(t, h.CopyOut(dst))
	assert.Equal(t, []float32{1, 2, 3, 4}, f32FromBytes(dst))
	require.NoError(t, h.Finalize())
}

func TestImportUnsupportedSource(t *testing.T) {
	// DmaBuf is in the flag set but the host backend cannot service it; the
	// two failures are reported distinctly.
	h := newTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 4),
		backends.FlagsOf(backends.MemoryMalloc, backends.MemoryDmaBuf), newTestManager())
	err := h.Import(make([]byte, 16), backends.MemoryDmaBuf)
	require.Error(t, err)
	var importErr *backends.MemoryImportError
	require.ErrorAs(t, err, &importErr)
	assert.Contains(t, importErr.Reason, "not supported")
}

func TestImportAliasesCallerMemory(t *testing.T) {
	h := newTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 4),
		backends.FlagsOf(backends.MemoryMalloc), newTestManager())

	external := f32Bytes(1, 2, 3, 4)
	require.NoError(t, h.Import(external, backends.MemoryMalloc))

	// Zero-copy: writes through the caller's buffer are visible to the handle.
	f32FromBytes(external)[2] = 42
	dst := make([]byte, 16)
	require.NoError(t, h.CopyOut(dst))
	assert.Equal(t, []float32{1, 2, 42, 4}, f32FromBytes(dst))

	// Undersized memory is rejected.
	require.Error(t, h.Import(make([]byte, 8), backends.MemoryMalloc))
	require.NoError(t, h.Finalize())
}

func TestCopyFloat16(t *testing.T) {
	h := newTensorHandle(shapes.MakeTensorInfo(dtypes.Float16, 3), 0, newTestManager())
	require.NoError(t, h.Allocate())

	src := make([]byte, 6)
	typed := asTyped[float16.Float16](src, 3)
	typed[0] = float16.Fromfloat32(0.5)
	typed[1] = float16.Fromfloat32(-1)
	typed[2] = float16.Fromfloat32(2.25)
	require.NoError(t, h.CopyIn(src))

	dst := make([]byte, 6)
	require.NoError(t, h.CopyOut(dst))
	got := asTyped[float16.Float16](dst, 3)
	assert.Equal(t, float32(0.5), got[0].Float32())
	assert.Equal(t, float32(-1), got[1].Float32())
	assert.Equal(t, float32(2.25), got[2].Float32())
}

func TestCopyUnimplementedDType(t *testing.T) {
	h := newTensorHandle(shapes.MakeTensorInfo(dtypes.Float64, 2), 0, newTestManager())
	require.NoError(t, h.Allocate())

	err := h.CopyIn(make([]byte, 16))
	require.Error(t, err)
	require.True(t, backends.IsUnimplementedDTypeError(err))
	var dtypeErr *backends.UnimplementedDTypeError
	require.ErrorAs(t, err, &dtypeErr)
	assert.Equal(t, dtypes.Float64, dtypeErr.DType)

	require.Error(t, h.CopyOut(make([]byte, 16)))
}

func TestSubTensorHandle(t *testing.T) {
	mm := newTestManager()
	factory := newHandleFactory(mm, backends.FlagsOf(backends.MemoryMalloc), 0)

	parent := factory.CreateTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 4, 4))
	require.NoError(t, parent.Allocate())
	src := make([]byte, 4*4*4)
	vals := f32FromBytes(src)
	for i := range vals {
		vals[i] = float32(i)
	}
	require.NoError(t, parent.CopyIn(src))

	child, err := factory.CreateSubTensorHandle(parent,
		shapes.Make(dtypes.Float32, 2, 2), []int{1, 1})
	require.NoError(t, err)
	assert.Equal(t, parent, child.Parent())
	assert.Equal(t, parent.Strides(), child.Strides())

	// The child reads the parent's storage through the parent's strides.
	dst := make([]byte, 16)
	require.NoError(t, child.CopyOut(dst))
	assert.Equal(t, []float32{5, 6, 9, 10}, f32FromBytes(dst))

	// Writes through the child land in the parent.
	require.NoError(t, child.CopyIn(f32Bytes(50, 60, 90, 100)))
	full := make([]byte, 64)
	require.NoError(t, parent.CopyOut(full))
	assert.Equal(t, float32(50), f32FromBytes(full)[5])
	assert.Equal(t, float32(100), f32FromBytes(full)[10])

	// Sub-tensors never own storage and never import.
	require.Error(t, child.Allocate())
	require.Error(t, child.Import(make([]byte, 16), backends.MemoryMalloc))

	// The parent cannot be finalized before its children.
	require.Error(t, parent.Finalize())
	require.NoError(t, child.Finalize())
	require.NoError(t, parent.Finalize())
}

func TestSubTensorHandleValidation(t *testing.T) {
	factory := newHandleFactory(newTestManager(), 0, 0)
	parent := factory.CreateTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 4, 4))
	require.NoError(t, parent.Allocate())

	_, err := factory.CreateSubTensorHandle(parent, shapes.Make(dtypes.Int32, 2, 2), []int{0, 0})
	assert.Error(t, err, "element type mismatch")
	_, err = factory.CreateSubTensorHandle(parent, shapes.Make(dtypes.Float32, 2), []int{0})
	assert.Error(t, err, "rank mismatch")
	_, err = factory.CreateSubTensorHandle(parent, shapes.Make(dtypes.Float32, 2, 2), []int{3, 3})
	assert.Error(t, err, "out of bounds")

	unbacked := factory.CreateTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 4, 4))
	_, err = factory.CreateSubTensorHandle(unbacked, shapes.Make(dtypes.Float32, 2, 2), []int{0, 0})
	assert.Error(t, err, "parent must be backed")
}

func TestPoolAccounting(t *testing.T) {
	mm := newTestManager()
	h := newTensorHandle(shapes.MakeTensorInfo(dtypes.Float32, 128), 0, mm)
	require.NoError(t, h.Allocate())
	assert.Equal(t, int64(1), mm.buffersInUse.Load())
	assert.GreaterOrEqual(t, mm.bytesAllocated.Load(), uint64(128*4))

	require.NoError(t, h.Finalize())
	assert.Equal(t, int64(0), mm.buffersInUse.Load())
}

func TestMallocAllocatorAlignment(t *testing.T) {
	var a MallocAllocator
	buf := a.Allocate(100, 64)
	require.Len(t, buf, 100)
	assert.Zero(t, uintptr(unsafe.Pointer(&buf[0]))%64)
	for _, b := range buf {
		require.Zero(t, b)
	}
	assert.Equal(t, backends.MemoryMalloc, a.Source())
}
