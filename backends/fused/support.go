// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package fused

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/types/shapes"
	"github.com/pkg/errors"
)

// LayerSupport decides which layers the fused compilation path accepts.
//
// Its methods return two distinct negatives, and the distinction matters to
// the engine: (false, nil) means the layer is outside this backend's scope
// and should stay untouched for another backend; (false, reason) means the
// layer is structurally ours but its specific parameters are invalid for
// the fused path, which the optimizer reports as a failed region.
type LayerSupport struct {
	// BiasSupported toggles support for convolutions with a bias input.
	BiasSupported bool
}

// IsConvolution2dSupported checks whether the fused path can compile the
// given convolution.
func (s LayerSupport) IsConvolution2dSupported(input, weights shapes.TensorInfo, bias *shapes.TensorInfo, desc *graph.Convolution2dDescriptor) (bool, error) {
	if input.DType() != dtypes.Float32 || weights.DType() != dtypes.Float32 {
		return false, nil // only the float32 path is fused; decline quietly
	}
	if bias != nil && !s.BiasSupported {
		return false, nil
	}

	// From here on the convolution is structurally ours; parameter problems
	// are validation failures, not declines.
	if desc.Layout != shapes.LayoutNHWC {
		return false, errors.Errorf("fused convolution requires NHWC data layout, got %s", desc.Layout)
	}
	if input.Shape().Rank() != 4 || weights.Shape().Rank() != 4 {
		return false, errors.Errorf("fused convolution requires rank-4 input and weights, got %d and %d",
			input.Shape().Rank(), weights.Shape().Rank())
	}
	if desc.StrideX == 0 || desc.StrideY == 0 {
		return false, errors.New("fused convolution requires non-zero strides")
	}
	if bias != nil {
		if bias.Shape().Rank() != 1 {
			return false, errors.Errorf("fused convolution bias must be rank 1, got %d", bias.Shape().Rank())
		}
		if bias.DType() != dtypes.Float32 {
			return false, errors.Errorf("fused convolution bias must be float32, got %s", bias.DType())
		}
	}
	return true, nil
}
