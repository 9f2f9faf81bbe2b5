// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkloadFactory() backends.WorkloadFactory {
	b := &Backend{}
	return b.CreateWorkloadFactory(b.CreateMemoryManager())
}

func allocated(t *testing.T, f backends.WorkloadFactory, info shapes.TensorInfo) backends.TensorHandle {
	t.Helper()
	h := f.CreateTensorHandle(info, 0)
	require.NoError(t, h.Allocate())
	return h
}

func TestAdditionWorkload(t *testing.T) {
	f := newTestWorkloadFactory()
	info := shapes.MakeTensorInfo(dtypes.Float32, 4)
	lhs := allocated(t, f, info)
	rhs := allocated(t, f, info)
	out := allocated(t, f, info)
	require.NoError(t, lhs.CopyIn(f32Bytes(1, 2, 3, 4)))
	require.NoError(t, rhs.CopyIn(f32Bytes(10, 20, 30, 40)))

	g := graph.New()
	add := g.AddLayer("add", &graph.AdditionDescriptor{})
	w, err := f.CreateWorkload(add, []backends.TensorHandle{lhs, rhs}, []backends.TensorHandle{out})
	require.NoError(t, err)
	require.NoError(t, w.Execute())

	dst := make([]byte, 16)
	require.NoError(t, out.CopyOut(dst))
	assert.Equal(t, []float32{11, 22, 33, 44}, f32FromBytes(dst))
}

func TestReluWorkload(t *testing.T) {
	f := newTestWorkloadFactory()
	info := shapes.MakeTensorInfo(dtypes.Float32, 4)
	in := allocated(t, f, info)
	out := allocated(t, f, info)
	require.NoError(t, in.CopyIn(f32Bytes(-1, 0, 2, -3)))

	g := graph.New()
	relu := g.AddLayer("relu", &graph.ActivationDescriptor{Function: graph.ActivationReLU})
	w, err := f.CreateWorkload(relu, []backends.TensorHandle{in}, []backends.TensorHandle{out})
	require.NoError(t, err)
	require.NoError(t, w.Execute())

	dst := make([]byte, 16)
	require.NoError(t, out.CopyOut(dst))
	assert.Equal(t, []float32{0, 0, 2, 0}, f32FromBytes(dst))
}

func TestUnsupportedWorkloads(t *testing.T) {
	f := newTestWorkloadFactory()
	g := graph.New()

	pool := g.AddLayer("pool", &graph.Pooling2dDescriptor{})
	_, err := f.CreateWorkload(pool, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, backends.ErrNotImplemented)

	sigmoid := g.AddLayer("sigmoid", &graph.ActivationDescriptor{Function: graph.ActivationSigmoid})
	_, err = f.CreateWorkload(sigmoid, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, backends.ErrNotImplemented)
}
