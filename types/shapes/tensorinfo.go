// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
)

// DataLayout describes the ordering of the axes of an image-like tensor.
type DataLayout int

const (
	// LayoutNCHW orders axes as batch, channels, height, width.
	LayoutNCHW DataLayout = iota
	// LayoutNHWC orders axes as batch, height, width, channels.
	LayoutNHWC
)

// String implements fmt.Stringer.
func (l DataLayout) String() string {
	switch l {
	case LayoutNCHW:
		return "NCHW"
	case LayoutNHWC:
		return "NHWC"
	}
	return fmt.Sprintf("DataLayout(%d)", int(l))
}

// Quantization holds the affine quantization parameters of a tensor.
//
// A zero value means not quantized. Per-channel quantization sets Scales
// (one per channel along Axis) and leaves Scale at 0.
type Quantization struct {
	Scale  float64
	Offset int32

	// Scales is set for per-channel quantization, one scale per channel
	// along Axis. Mutually exclusive with Scale.
	Scales []float64
	Axis   int
}

// IsQuantized returns whether any quantization parameter is set.
func (q Quantization) IsQuantized() bool {
	return q.Scale != 0 || len(q.Scales) > 0
}

// PerChannel returns whether the quantization is per-channel.
func (q Quantization) PerChannel() bool { return len(q.Scales) > 0 }

// Equal compares all quantization parameters.
func (q Quantization) Equal(q2 Quantization) bool {
	return q.Scale == q2.Scale && q.Offset == q2.Offset &&
		q.Axis == q2.Axis && slices.Equal(q.Scales, q2.Scales)
}

// TensorInfo fully describes a tensor flowing through the graph: its shape,
// element type, quantization and data layout. It is attached to the producing
// OutputSlot of a layer and treated as authoritative by every consumer.
type TensorInfo struct {
	shape    Shape
	quant    Quantization
	layout   DataLayout
	constant bool
}

// MakeTensorInfo creates a TensorInfo with the given element type and
// dimensions, not quantized, NCHW layout.
func MakeTensorInfo(dtype dtypes.DType, dimensions ...int) TensorInfo {
	return TensorInfo{shape: Make(dtype, dimensions...)}
}

// InfoFromShape creates a TensorInfo from a Shape, not quantized.
func InfoFromShape(shape Shape) TensorInfo {
	return TensorInfo{shape: shape.Clone()}
}

// WithQuantization returns a copy of the TensorInfo with the given
// quantization parameters.
func (t TensorInfo) WithQuantization(q Quantization) TensorInfo {
	t2 := t.Clone()
	t2.quant = q
	return t2
}

// WithLayout returns a copy of the TensorInfo with the given data layout.
func (t TensorInfo) WithLayout(layout DataLayout) TensorInfo {
	t2 := t.Clone()
	t2.layout = layout
	return t2
}

// WithConstant returns a copy marked as holding constant (weight) data.
func (t TensorInfo) WithConstant(constant bool) TensorInfo {
	t2 := t.Clone()
	t2.constant = constant
	return t2
}

// Shape of the tensor. Implements HasShape.
func (t TensorInfo) Shape() Shape { return t.shape }

// DType of the tensor's elements.
func (t TensorInfo) DType() dtypes.DType { return t.shape.DType }

// Quantization parameters, zero value if not quantized.
func (t TensorInfo) Quantization() Quantization { return t.quant }

// Layout of the tensor's axes.
func (t TensorInfo) Layout() DataLayout { return t.layout }

// IsConstant returns whether the tensor holds constant data.
func (t TensorInfo) IsConstant() bool { return t.constant }

// Ok returns whether the TensorInfo has a valid shape.
func (t TensorInfo) Ok() bool { return t.shape.Ok() }

// NumBytes returns the bytes needed to store the tensor densely packed.
func (t TensorInfo) NumBytes() uintptr { return t.shape.Memory() }

// Clone makes a deep copy.
func (t TensorInfo) Clone() TensorInfo {
	return TensorInfo{
		shape:    t.shape.Clone(),
		quant:    Quantization{Scale: t.quant.Scale, Offset: t.quant.Offset, Scales: slices.Clone(t.quant.Scales), Axis: t.quant.Axis},
		layout:   t.layout,
		constant: t.constant,
	}
}

// Equal compares shape, quantization and layout. The constant marker is not
// part of the tensor's identity and is ignored.
func (t TensorInfo) Equal(t2 TensorInfo) bool {
	return t.shape.Equal(t2.shape) && t.quant.Equal(t2.quant) && t.layout == t2.layout
}

// String implements fmt.Stringer.
func (t TensorInfo) String() string {
	s := t.shape.String()
	if t.quant.IsQuantized() {
		if t.quant.PerChannel() {
			s += fmt.Sprintf(" quant(per-channel, axis=%d)", t.quant.Axis)
		} else {
			s += fmt.Sprintf(" quant(scale=%g, offset=%d)", t.quant.Scale, t.quant.Offset)
		}
	}
	return s
}
