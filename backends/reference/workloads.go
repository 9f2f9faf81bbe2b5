// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/types/shapes"
	"github.com/pkg/errors"
)

// WorkloadFactory instantiates reference workloads and tensor handles.
type WorkloadFactory struct {
	factory *handleFactory
}

// Compile-time check:
var _ backends.WorkloadFactory = (*WorkloadFactory)(nil)

// BackendId returns the reference backend's id.
func (f *WorkloadFactory) BackendId() backends.BackendId { return BackendName }

// CreateTensorHandle creates a handle accepting imports from the given
// sources.
func (f *WorkloadFactory) CreateTensorHandle(info shapes.TensorInfo, importFlags backends.MemorySourceFlags) backends.TensorHandle {
	return newTensorHandle(info, backends.NormalizeImportFlags(importFlags), f.factory.mm)
}

// CreateWorkload builds the workload executing the given layer. The
// reference kernel set is deliberately small; anything else returns
// ErrNotImplemented.
func (f *WorkloadFactory) CreateWorkload(layer *graph.Layer, inputs, outputs []backends.TensorHandle) (backends.Workload, error) {
	switch layer.Type() {
	case graph.LayerTypeAddition:
		if len(inputs) != 2 || len(outputs) != 1 {
			return nil, errors.Errorf("Addition workload needs 2 inputs and 1 output, got %d/%d", len(inputs), len(outputs))
		}
		return &additionWorkload{lhs: inputs[0], rhs: inputs[1], out: outputs[0]}, nil
	case graph.LayerTypeActivation:
		desc := layer.Parameters().(*graph.ActivationDescriptor)
		if desc.Function != graph.ActivationReLU {
			return nil, errors.Wrapf(backends.ErrNotImplemented, "reference Activation kernel for %v", desc.Function)
		}
		if len(inputs) != 1 || len(outputs) != 1 {
			return nil, errors.Errorf("Activation workload needs 1 input and 1 output, got %d/%d", len(inputs), len(outputs))
		}
		return &reluWorkload{in: inputs[0], out: outputs[0]}, nil
	case graph.LayerTypeReshape:
		if len(inputs) != 1 || len(outputs) != 1 {
			return nil, errors.Errorf("Reshape workload needs 1 input and 1 output, got %d/%d", len(inputs), len(outputs))
		}
		return &passthroughWorkload{in: inputs[0], out: outputs[0]}, nil
	default:
		return nil, errors.Wrapf(backends.ErrNotImplemented, "reference kernel for layer type %s", layer.Type())
	}
}

// additionWorkload adds two float32 tensors elementwise.
type additionWorkload struct {
	lhs, rhs, out backends.TensorHandle
}

// Execute implements backends.Workload.
func (w *additionWorkload) Execute() error {
	if dtype := w.out.Info().DType(); dtype != dtypes.Float32 {
		return &backends.UnimplementedDTypeError{DType: dtype, Op: "Addition"}
	}
	lhs, err := w.lhs.Map()
	if err != nil {
		return err
	}
	defer w.lhs.Unmap()
	rhs, err := w.rhs.Map()
	if err != nil {
		return err
	}
	defer w.rhs.Unmap()
	out, err := w.out.Map()
	if err != nil {
		return err
	}
	defer w.out.Unmap()

	n := w.out.Shape().Size()
	lhsFlat, rhsFlat, outFlat := asTyped[float32](lhs, n), asTyped[float32](rhs, n), asTyped[float32](out, n)
	for i := range outFlat {
		outFlat[i] = lhsFlat[i] + rhsFlat[i]
	}
	return nil
}

// reluWorkload applies max(0, x) to a float32 tensor.
type reluWorkload struct {
	in, out backends.TensorHandle
}

// Execute implements backends.Workload.
func (w *reluWorkload) Execute() error {
	if dtype := w.out.Info().DType(); dtype != dtypes.Float32 {
		return &backends.UnimplementedDTypeError{DType: dtype, Op: "Activation"}
	}
	in, err := w.in.Map()
	if err != nil {
		return err
	}
	defer w.in.Unmap()
	out, err := w.out.Map()
	if err != nil {
		return err
	}
	defer w.out.Unmap()

	n := w.out.Shape().Size()
	inFlat, outFlat := asTyped[float32](in, n), asTyped[float32](out, n)
	for i := range outFlat {
		if inFlat[i] > 0 {
			outFlat[i] = inFlat[i]
		} else {
			outFlat[i] = 0
		}
	}
	return nil
}

// passthroughWorkload copies input bytes to output, for layout-free ops
// like Reshape.
type passthroughWorkload struct {
	in, out backends.TensorHandle
}

// Execute implements backends.Workload.
func (w *passthroughWorkload) Execute() error {
	in, err := w.in.Map()
	if err != nil {
		return err
	}
	defer w.in.Unmap()
	out, err := w.out.Map()
	if err != nil {
		return err
	}
	defer w.out.Unmap()
	copy(out, in)
	return nil
}
