// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/types/shapes"
	"github.com/pkg/errors"
)

// handleFactory creates the reference backend's tensor handles.
type handleFactory struct {
	id          backends.HandleFactoryId
	mm          *PoolMemoryManager
	importFlags backends.MemorySourceFlags
	exportFlags backends.MemorySourceFlags
}

// Compile-time check:
var _ backends.TensorHandleFactory = (*handleFactory)(nil)

func newHandleFactory(mm *PoolMemoryManager, importFlags, exportFlags backends.MemorySourceFlags) *handleFactory {
	return &handleFactory{id: HandleFactoryName, mm: mm, importFlags: importFlags, exportFlags: exportFlags}
}

// NewTensorHandleFactory creates a handle factory over the reference
// backend's host tensor handles, under the given factory id. Other
// host-memory backends reuse this instead of reimplementing handles.
func NewTensorHandleFactory(id backends.HandleFactoryId, mm *PoolMemoryManager, importFlags, exportFlags backends.MemorySourceFlags) backends.TensorHandleFactory {
	return &handleFactory{id: id, mm: mm, importFlags: importFlags, exportFlags: exportFlags}
}

// Id returns the factory's identifier.
func (f *handleFactory) Id() backends.HandleFactoryId { return f.id }

// ImportFlags returns the memory sources this factory's handles accept for
// import.
func (f *handleFactory) ImportFlags() backends.MemorySourceFlags { return f.importFlags }

// ExportFlags returns the memory sources this factory's handles can be
// exported to without copying.
func (f *handleFactory) ExportFlags() backends.MemorySourceFlags { return f.exportFlags }

// CreateTensorHandle creates an unallocated handle for the given info.
func (f *handleFactory) CreateTensorHandle(info shapes.TensorInfo) backends.TensorHandle {
	return newTensorHandle(info, f.importFlags, f.mm)
}

// CreateSubTensorHandle creates a non-owning view into parent covering
// subShape starting at origin. The parent must already be backed by storage
// and must outlive the child; finalizing the parent first is reported as an
// error (see tensorHandle.Finalize).
func (f *handleFactory) CreateSubTensorHandle(parent backends.TensorHandle, subShape shapes.Shape, origin []int) (backends.TensorHandle, error) {
	p, ok := parent.(*tensorHandle)
	if !ok {
		return nil, errors.Errorf("parent handle is not a reference backend handle (got %T)", parent)
	}
	parentShape := p.Shape()
	if subShape.DType != parentShape.DType {
		return nil, errors.Errorf("sub-tensor element type %s differs from parent %s", subShape.DType, parentShape.DType)
	}
	if subShape.Rank() != parentShape.Rank() || len(origin) != parentShape.Rank() {
		return nil, errors.Errorf("sub-tensor rank %d and origin rank %d must match parent rank %d",
			subShape.Rank(), len(origin), parentShape.Rank())
	}
	for axis := range origin {
		if origin[axis] < 0 || origin[axis]+subShape.Dimensions[axis] > parentShape.Dimensions[axis] {
			return nil, errors.Errorf("sub-tensor axis %d: origin %d + dim %d exceeds parent dim %d",
				axis, origin[axis], subShape.Dimensions[axis], parentShape.Dimensions[axis])
		}
	}
	parentData, err := p.Map()
	if err != nil {
		return nil, errors.Wrap(err, "parent of a sub-tensor handle must be backed by storage")
	}

	offsetElements := 0
	for axis, o := range origin {
		offsetElements += o * p.strides[axis]
	}
	elemSize := int(subShape.DType.Memory())
	offsetBytes := offsetElements * elemSize
	extentBytes := maxExtent(p.strides, subShape.Dimensions) * elemSize

	info := shapes.InfoFromShape(subShape).
		WithQuantization(p.info.Quantization()).
		WithLayout(p.info.Layout())
	child := &tensorHandle{
		info:    info,
		strides: p.strides,
		flags:   0, // sub-tensors never import
		mm:      f.mm,
		data:    parentData[offsetBytes : offsetBytes+extentBytes],
		parent:  p,
	}
	p.children.Add(1)
	return child, nil
}
