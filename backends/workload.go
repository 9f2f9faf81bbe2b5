// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/types/shapes"
)

// Workload is one executable unit of the final partitioned graph: a layer
// (or pre-compiled region) bound to its input and output tensor handles.
type Workload interface {
	// Execute runs the workload synchronously.
	Execute() error
}

// WorkloadFactory instantiates workloads and tensor handles for one backend,
// bound to the memory manager it was created with.
type WorkloadFactory interface {
	// BackendId returns the id of the backend this factory belongs to.
	BackendId() BackendId

	// CreateTensorHandle creates a handle for the given info, accepting
	// imports from the given sources.
	CreateTensorHandle(info shapes.TensorInfo, importFlags MemorySourceFlags) TensorHandle

	// CreateWorkload builds the workload executing the given layer over the
	// given handles. Layer types the backend has no kernel for return an
	// error wrapping ErrNotImplemented.
	CreateWorkload(layer *graph.Layer, inputs, outputs []TensorHandle) (Workload, error)
}
