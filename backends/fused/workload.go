// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package fused

import (
	"unsafe"

	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/backends/reference"
	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/types/shapes"
	"github.com/pkg/errors"
)

// WorkloadFactory instantiates workloads executing this backend's compiled
// artifacts. It only knows how to run PreCompiled layers that carry a
// *CompiledArtifact produced by this backend.
type WorkloadFactory struct {
	mm *reference.PoolMemoryManager
}

// Compile-time check:
var _ backends.WorkloadFactory = (*WorkloadFactory)(nil)

// BackendId returns the fused backend's id.
func (f *WorkloadFactory) BackendId() backends.BackendId { return BackendName }

// CreateTensorHandle creates a host handle accepting imports from the given
// sources.
func (f *WorkloadFactory) CreateTensorHandle(info shapes.TensorInfo, importFlags backends.MemorySourceFlags) backends.TensorHandle {
	return reference.NewTensorHandle(info, backends.NormalizeImportFlags(importFlags), f.mm)
}

// CreateWorkload builds the workload executing a pre-compiled layer's fused
// artifact. Any other layer type returns ErrNotImplemented: the fused
// backend only executes what it compiled.
func (f *WorkloadFactory) CreateWorkload(layer *graph.Layer, inputs, outputs []backends.TensorHandle) (backends.Workload, error) {
	if layer.Type() != graph.LayerTypePreCompiled {
		return nil, errors.Wrapf(backends.ErrNotImplemented, "fused backend only executes pre-compiled layers, got %s", layer.Type())
	}
	artifact, ok := layer.CompiledBlob().(*CompiledArtifact)
	if !ok {
		return nil, errors.Errorf("pre-compiled layer %s carries a %T, not a fused artifact", layer, layer.CompiledBlob())
	}
	if len(inputs) < 2 || len(outputs) != 1 {
		return nil, errors.Errorf("fused convolution workload needs at least 2 inputs and 1 output, got %d/%d",
			len(inputs), len(outputs))
	}
	w := &preCompiledWorkload{artifact: artifact, inputs: inputs, output: outputs[0]}
	return w, nil
}

// preCompiledWorkload runs one fused artifact over its bound handles.
type preCompiledWorkload struct {
	artifact *CompiledArtifact
	inputs   []backends.TensorHandle
	output   backends.TensorHandle
}

// Execute implements backends.Workload.
func (w *preCompiledWorkload) Execute() error {
	input, err := mapFloat32(w.inputs[0])
	if err != nil {
		return err
	}
	weights, err := mapFloat32(w.inputs[1])
	if err != nil {
		return err
	}
	var bias []float32
	if len(w.inputs) > 2 {
		bias, err = mapFloat32(w.inputs[2])
		if err != nil {
			return err
		}
	}
	output, err := mapFloat32(w.output)
	if err != nil {
		return err
	}
	return w.artifact.Kernel(input, weights, bias, output)
}

func mapFloat32(handle backends.TensorHandle) ([]float32, error) {
	raw, err := handle.Map()
	if err != nil {
		return nil, err
	}
	n := handle.Shape().Size()
	if len(raw) < n*4 {
		return nil, errors.Errorf("handle storage has %d bytes, tensor %s needs %d", len(raw), handle.Info(), n*4)
	}
	return unsafeFloat32(raw, n), nil
}

// unsafeFloat32 views a byte buffer as n float32 elements.
func unsafeFloat32(buffer []byte, n int) []float32 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&buffer[0])), n)
}
