// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/graphfuse/graphfuse/types/shapes"
)

// LayerType identifies the operation kind of a Layer.
type LayerType int

const (
	LayerTypeInvalid LayerType = iota
	LayerTypeInput
	LayerTypeOutput
	LayerTypeConstant
	LayerTypeConvolution2d
	LayerTypePooling2d
	LayerTypeActivation
	LayerTypeFullyConnected
	LayerTypeAddition
	LayerTypeReshape
	LayerTypePreCompiled
)

var layerTypeNames = map[LayerType]string{
	LayerTypeInvalid:        "Invalid",
	LayerTypeInput:          "Input",
	LayerTypeOutput:         "Output",
	LayerTypeConstant:       "Constant",
	LayerTypeConvolution2d:  "Convolution2d",
	LayerTypePooling2d:      "Pooling2d",
	LayerTypeActivation:     "Activation",
	LayerTypeFullyConnected: "FullyConnected",
	LayerTypeAddition:       "Addition",
	LayerTypeReshape:        "Reshape",
	LayerTypePreCompiled:    "PreCompiled",
}

// String implements fmt.Stringer.
func (t LayerType) String() string {
	if name, found := layerTypeNames[t]; found {
		return name
	}
	return fmt.Sprintf("LayerType(%d)", int(t))
}

// Descriptor is the tagged variant holding a layer's operation parameters.
// Each implementation is keyed to one LayerType and fixes the layer's slot
// counts at construction time.
type Descriptor interface {
	LayerType() LayerType
	NumInputSlots() int
	NumOutputSlots() int
}

// InputDescriptor marks a graph input binding point.
type InputDescriptor struct {
	BindingId int
}

func (d *InputDescriptor) LayerType() LayerType { return LayerTypeInput }
func (d *InputDescriptor) NumInputSlots() int   { return 0 }
func (d *InputDescriptor) NumOutputSlots() int  { return 1 }

// OutputDescriptor marks a graph output binding point.
type OutputDescriptor struct {
	BindingId int
}

func (d *OutputDescriptor) LayerType() LayerType { return LayerTypeOutput }
func (d *OutputDescriptor) NumInputSlots() int   { return 1 }
func (d *OutputDescriptor) NumOutputSlots() int  { return 0 }

// ConstantDescriptor holds weight or bias data baked into the graph.
type ConstantDescriptor struct {
	Info shapes.TensorInfo
}

func (d *ConstantDescriptor) LayerType() LayerType { return LayerTypeConstant }
func (d *ConstantDescriptor) NumInputSlots() int   { return 0 }
func (d *ConstantDescriptor) NumOutputSlots() int  { return 1 }

// Convolution2dDescriptor parameterizes a 2D convolution. Input slots are
// data, weights and, if BiasEnabled, bias -- in that order.
type Convolution2dDescriptor struct {
	PadLeft, PadRight, PadTop, PadBottom uint32
	StrideX, StrideY                     uint32
	DilationX, DilationY                 uint32
	BiasEnabled                          bool
	Layout                               shapes.DataLayout
}

func (d *Convolution2dDescriptor) LayerType() LayerType { return LayerTypeConvolution2d }
func (d *Convolution2dDescriptor) NumInputSlots() int {
	if d.BiasEnabled {
		return 3
	}
	return 2
}
func (d *Convolution2dDescriptor) NumOutputSlots() int { return 1 }

// PoolingAlgorithm selects the pooling operation.
type PoolingAlgorithm int

const (
	PoolingMax PoolingAlgorithm = iota
	PoolingAverage
)

// Pooling2dDescriptor parameterizes a 2D pooling operation.
type Pooling2dDescriptor struct {
	Algorithm             PoolingAlgorithm
	PoolWidth, PoolHeight uint32
	PadLeft, PadRight     uint32
	PadTop, PadBottom     uint32
	StrideX, StrideY      uint32
	Layout                shapes.DataLayout
}

func (d *Pooling2dDescriptor) LayerType() LayerType { return LayerTypePooling2d }
func (d *Pooling2dDescriptor) NumInputSlots() int   { return 1 }
func (d *Pooling2dDescriptor) NumOutputSlots() int  { return 1 }

// ActivationFunction selects the activation applied by an Activation layer.
type ActivationFunction int

const (
	ActivationReLU ActivationFunction = iota
	ActivationSigmoid
	ActivationTanH
	ActivationBoundedReLU
)

// ActivationDescriptor parameterizes an activation layer. A and B are
// function-specific constants (e.g. the bound for BoundedReLU).
type ActivationDescriptor struct {
	Function ActivationFunction
	A, B     float32
}

func (d *ActivationDescriptor) LayerType() LayerType { return LayerTypeActivation }
func (d *ActivationDescriptor) NumInputSlots() int   { return 1 }
func (d *ActivationDescriptor) NumOutputSlots() int  { return 1 }

// FullyConnectedDescriptor parameterizes a fully connected layer. Input
// slots are data, weights and, if BiasEnabled, bias.
type FullyConnectedDescriptor struct {
	BiasEnabled bool
}

func (d *FullyConnectedDescriptor) LayerType() LayerType { return LayerTypeFullyConnected }
func (d *FullyConnectedDescriptor) NumInputSlots() int {
	if d.BiasEnabled {
		return 3
	}
	return 2
}
func (d *FullyConnectedDescriptor) NumOutputSlots() int { return 1 }

// AdditionDescriptor parameterizes an elementwise addition of two tensors.
type AdditionDescriptor struct{}

func (d *AdditionDescriptor) LayerType() LayerType { return LayerTypeAddition }
func (d *AdditionDescriptor) NumInputSlots() int   { return 2 }
func (d *AdditionDescriptor) NumOutputSlots() int  { return 1 }

// ReshapeDescriptor parameterizes a reshape to TargetShape.
type ReshapeDescriptor struct {
	TargetShape shapes.Shape
}

func (d *ReshapeDescriptor) LayerType() LayerType { return LayerTypeReshape }
func (d *ReshapeDescriptor) NumInputSlots() int   { return 1 }
func (d *ReshapeDescriptor) NumOutputSlots() int  { return 1 }

// PreCompiledDescriptor parameterizes the opaque placeholder layer a backend
// substitutes for a region it compiled. Slot counts are copied from the
// original region so the placeholder is structurally transparent.
type PreCompiledDescriptor struct {
	InputSlots  int
	OutputSlots int
}

func (d *PreCompiledDescriptor) LayerType() LayerType { return LayerTypePreCompiled }
func (d *PreCompiledDescriptor) NumInputSlots() int   { return d.InputSlots }
func (d *PreCompiledDescriptor) NumOutputSlots() int  { return d.OutputSlots }
