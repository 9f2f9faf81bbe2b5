// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeBasics(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3, 4)
	assert.True(t, s.Ok())
	assert.Equal(t, 3, s.Rank())
	assert.Equal(t, 24, s.Size())
	assert.Equal(t, uintptr(24*4), s.Memory())
	assert.Equal(t, 4, s.Dim(-1))
	assert.Equal(t, 2, s.Dim(0))

	scalar := Make(dtypes.Int32)
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())

	assert.False(t, Invalid().Ok())
	require.Panics(t, func() { Make(dtypes.Float32, 2, 0) })
}

func TestShapeEqualAndClone(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	c := s.Clone()
	assert.True(t, s.Equal(c))
	c.Dimensions[0] = 7
	assert.False(t, s.Equal(c))
	assert.Equal(t, 2, s.Dimensions[0])

	assert.False(t, s.Equal(Make(dtypes.Int32, 2, 3)))
	assert.False(t, s.Equal(Make(dtypes.Float32, 2, 3, 1)))
}

func TestDenseStrides(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3, 4)
	assert.Equal(t, []int{12, 4, 1}, s.DenseStrides())
	assert.Empty(t, Make(dtypes.Float32).DenseStrides())
}

func TestTensorInfoBuilders(t *testing.T) {
	info := MakeTensorInfo(dtypes.Float32, 1, 8, 8, 3).
		WithLayout(LayoutNHWC).
		WithConstant(true)
	assert.Equal(t, dtypes.Float32, info.DType())
	assert.Equal(t, LayoutNHWC, info.Layout())
	assert.True(t, info.IsConstant())
	assert.Equal(t, uintptr(1*8*8*3*4), info.NumBytes())

	// With* returns a copy, the receiver is untouched.
	base := MakeTensorInfo(dtypes.Uint8, 4)
	_ = base.WithConstant(true)
	assert.False(t, base.IsConstant())
}

func TestTensorInfoQuantization(t *testing.T) {
	q := Quantization{Scale: 0.5, Offset: 128}
	info := MakeTensorInfo(dtypes.Uint8, 10).WithQuantization(q)
	assert.True(t, info.Quantization().IsQuantized())
	assert.False(t, info.Quantization().PerChannel())

	perChannel := Quantization{Scales: []float64{0.1, 0.2}, Axis: 0}
	assert.True(t, perChannel.PerChannel())
	assert.False(t, q.Equal(perChannel))
}

func TestTensorInfoEqualIgnoresConstant(t *testing.T) {
	a := MakeTensorInfo(dtypes.Float32, 2, 2)
	b := a.WithConstant(true)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(a.WithLayout(LayoutNHWC)))
	assert.False(t, a.Equal(MakeTensorInfo(dtypes.Float32, 2, 3)))
}
