// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package fused

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/types/shapes"
	"github.com/pkg/errors"
)

// ConvKernel executes one fused convolution over flat float32 buffers.
// The bias slice is nil for bias-less convolutions.
type ConvKernel func(input, weights, bias, output []float32) error

// CompiledArtifact is the opaque blob a pre-compiled placeholder layer
// carries for this backend: the fused kernel plus enough metadata to
// identify it in logs. Only this backend's workload factory looks inside.
type CompiledArtifact struct {
	Id      string
	Backend backends.BackendId
	Summary string
	Kernel  ConvKernel
	Output  shapes.TensorInfo
}

// compileConvolution2d builds the fused kernel for a validated convolution.
// Expects NHWC input [N,H,W,Ci], weights [O,Kh,Kw,Ci], optional bias [O].
func compileConvolution2d(input, weights shapes.TensorInfo, bias *shapes.TensorInfo, desc *graph.Convolution2dDescriptor) (*CompiledArtifact, error) {
	in := input.Shape().Dimensions
	w := weights.Shape().Dimensions
	batch, inH, inW, inC := in[0], in[1], in[2], in[3]
	outC, kH, kW, wC := w[0], w[1], w[2], w[3]
	if wC != inC {
		return nil, errors.Errorf("weights expect %d input channels, input has %d", wC, inC)
	}
	if bias != nil && bias.Shape().Dim(0) != outC {
		return nil, errors.Errorf("bias has %d elements, convolution produces %d channels", bias.Shape().Dim(0), outC)
	}

	strideX, strideY := int(desc.StrideX), int(desc.StrideY)
	dilX, dilY := int(desc.DilationX), int(desc.DilationY)
	if dilX == 0 {
		dilX = 1
	}
	if dilY == 0 {
		dilY = 1
	}
	padT, padL := int(desc.PadTop), int(desc.PadLeft)
	outH := (inH+int(desc.PadTop+desc.PadBottom)-(kH-1)*dilY-1)/strideY + 1
	outW := (inW+int(desc.PadLeft+desc.PadRight)-(kW-1)*dilX-1)/strideX + 1
	if outH <= 0 || outW <= 0 {
		return nil, errors.Errorf("convolution output would be empty (%dx%d)", outH, outW)
	}
	output := shapes.MakeTensorInfo(input.DType(), batch, outH, outW, outC).WithLayout(shapes.LayoutNHWC)

	kernel := func(inputFlat, weightsFlat, biasFlat, outputFlat []float32) error {
		if len(outputFlat) != batch*outH*outW*outC {
			return errors.Errorf("output buffer has %d elements, kernel produces %d", len(outputFlat), batch*outH*outW*outC)
		}
		for n := 0; n < batch; n++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					for oc := 0; oc < outC; oc++ {
						var acc float32
						if biasFlat != nil {
							acc = biasFlat[oc]
						}
						for ky := 0; ky < kH; ky++ {
							iy := oy*strideY + ky*dilY - padT
							if iy < 0 || iy >= inH {
								continue
							}
							for kx := 0; kx < kW; kx++ {
								ix := ox*strideX + kx*dilX - padL
								if ix < 0 || ix >= inW {
									continue
								}
								for ic := 0; ic < inC; ic++ {
									inputValue := inputFlat[((n*inH+iy)*inW+ix)*inC+ic]
									weightValue := weightsFlat[((oc*kH+ky)*kW+kx)*inC+ic]
									acc += inputValue * weightValue
								}
							}
						}
						outputFlat[((n*outH+oy)*outW+ox)*outC+oc] = acc
					}
				}
			}
		}
		return nil
	}

	return &CompiledArtifact{
		Id:      uuid.NewString(),
		Backend: BackendName,
		Summary: fmt.Sprintf("fused conv2d %s * %s -> %s", input, weights, output),
		Kernel:  kernel,
		Output:  output,
	}, nil
}
