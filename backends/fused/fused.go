// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

// Package fused implements a fused-kernel backend: it claims Convolution2d
// layers it can compile into a single fused kernel, substituting each with
// an opaque pre-compiled placeholder layer, and leaves everything else to
// other backends.
//
// The backend walks its subgraph view in reverse order, so producers are
// visited after their already-classified consumers, and classifies every
// layer: a supported convolution becomes a substitution carrying a
// CompiledArtifact; a convolution whose parameters the fused path cannot
// handle (e.g. NCHW layout) is reported failed, which is distinct from
// untouched -- the engine may retry failed regions with another backend
// ordering instead of silently falling back.
package fused

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphfuse/graphfuse/backends"
	"github.com/graphfuse/graphfuse/backends/reference"
	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/types/shapes"
	"k8s.io/klog/v2"
)

// BackendName to be used in GRAPHFUSE_BACKEND to specify this backend.
const BackendName = backends.BackendId("CpuFused")

// HandleFactoryName identifies this backend's tensor-handle factory.
const HandleFactoryName = backends.HandleFactoryId("CpuFused/TensorHandleFactory")

func init() {
	backends.Register(BackendName, New)
}

// New constructs a fused Backend. The config string is a comma-separated
// list of toggles; "nobias" disables support for biased convolutions.
func New(config string) backends.Backend {
	b := &Backend{support: LayerSupport{BiasSupported: true}}
	for _, toggle := range strings.Split(config, ",") {
		switch strings.TrimSpace(toggle) {
		case "":
		case "nobias":
			b.support.BiasSupported = false
		default:
			klog.Warningf("fused backend: unknown config toggle %q ignored", toggle)
		}
	}
	return b
}

// NewWithAllocator constructs a fused Backend whose pooled storage comes
// from the given custom allocator.
func NewWithAllocator(allocator backends.Allocator) *Backend {
	return &Backend{
		support:         LayerSupport{BiasSupported: true},
		customAllocator: allocator,
	}
}

// Backend implements the backends.Backend interface with fused kernels.
type Backend struct {
	support         LayerSupport
	customAllocator backends.Allocator
}

// Compile-time check that fused.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Id returns the backend's identifier.
func (b *Backend) Id() backends.BackendId { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Fused-kernel CPU backend (convolution fusion)"
}

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return backends.Capabilities{
		Operations: map[graph.LayerType]bool{
			graph.LayerTypeConvolution2d: true,
		},
		DTypes: map[dtypes.DType]bool{
			dtypes.Float32: true,
		},
	}
}

// OptimizeSubgraphView walks the view in reverse, substituting every
// convolution the fused path supports with a pre-compiled placeholder layer
// carrying the compiled artifact. Output TensorInfos are copied verbatim
// from the original layer, so the placeholder is semantically transparent
// downstream.
//
// If nothing was substituted, the entire input view is reported as one
// untouched subgraph; otherwise every remaining layer is reported
// individually, so no layer goes unaccounted.
func (b *Backend) OptimizeSubgraphView(view *graph.SubgraphView, options backends.ModelOptions) *backends.OptimizationViews {
	views := backends.NewOptimizationViews(options)

	layers := view.Layers()
	untouched := make(map[graph.LayerGuid]*graph.Layer, len(layers))
	for i := len(layers) - 1; i >= 0; i-- {
		untouched[layers[i].Guid()] = layers[i]
	}

	for i := len(layers) - 1; i >= 0; i-- {
		base := layers[i]
		switch base.Type() {
		case graph.LayerTypeConvolution2d:
			desc := base.Parameters().(*graph.Convolution2dDescriptor)
			input := base.InputSlot(0).Info()
			weights := base.InputSlot(1).Info()
			var bias *shapes.TensorInfo
			if desc.BiasEnabled {
				info := base.InputSlot(2).Info()
				bias = &info
			}

			supported, reason := b.support.IsConvolution2dSupported(input, weights, bias, desc)
			if reason != nil {
				// Structurally ours, but the parameters are invalid for the
				// fused path: report failed, not untouched.
				klog.V(1).Infof("fused backend: %s failed validation: %v", base, reason)
				views.AddFailedSubgraph(graph.NewSubgraphView(base))
				delete(untouched, base.Guid())
				continue
			}
			if !supported {
				// Unsupported layer for the fused backend.
				continue
			}

			artifact, err := compileConvolution2d(input, weights, bias, desc)
			if err != nil {
				klog.V(1).Infof("fused backend: compiling %s failed: %v", base, err)
				views.AddFailedSubgraph(graph.NewSubgraphView(base))
				delete(untouched, base.Guid())
				continue
			}

			preCompiled := views.Network().AddPreCompiledLayer(
				fmt.Sprintf("%s pre-compiled layer", BackendName),
				&graph.PreCompiledDescriptor{
					InputSlots:  base.NumInputSlots(),
					OutputSlots: base.NumOutputSlots(),
				},
				artifact,
				string(BackendName))

			// Copy the output tensor infos from the original layer.
			for slot := 0; slot < base.NumOutputSlots(); slot++ {
				preCompiled.OutputSlot(slot).SetInfo(base.OutputSlot(slot).Info())
			}

			original := graph.SubgraphViewFrom(graph.InputsFrom(base), graph.OutputsFrom(base), []*graph.Layer{base})
			views.AddSubstitution(backends.SubstitutionPair{
				Original:    original,
				Replacement: graph.SingleLayerView(preCompiled),
			})
			delete(untouched, base.Guid())

		default:
			// Unsupported layer for the fused backend.
			continue
		}
	}

	if len(views.Substitutions()) == 0 && len(views.Failed()) == 0 {
		views.AddUntouchedSubgraph(view)
	} else {
		backends.ReportUntouched(views, view, untouched)
	}
	return views
}

// CreateMemoryManager returns a fresh pooling memory manager; storage comes
// from the custom allocator if the backend was built with one.
func (b *Backend) CreateMemoryManager() backends.MemoryManager {
	if b.customAllocator != nil {
		return reference.NewPoolMemoryManager(b.customAllocator)
	}
	return reference.NewPoolMemoryManager(b.DefaultAllocator())
}

// CreateWorkloadFactory returns a workload factory executing pre-compiled
// fused artifacts.
func (b *Backend) CreateWorkloadFactory(memoryManager backends.MemoryManager) backends.WorkloadFactory {
	mm, ok := memoryManager.(*reference.PoolMemoryManager)
	if !ok {
		mm = b.CreateMemoryManager().(*reference.PoolMemoryManager)
	}
	return &WorkloadFactory{mm: mm}
}

// HandleFactoryPreferences returns this backend's tensor-handle factory ids
// in preference order.
func (b *Backend) HandleFactoryPreferences() []backends.HandleFactoryId {
	return []backends.HandleFactoryId{HandleFactoryName}
}

// RegisterTensorHandleFactories registers the backend's handle factory and
// memory manager. Undefined input/output flags are normalized to Malloc
// before the factory observes them.
func (b *Backend) RegisterTensorHandleFactories(registry *backends.HandleFactoryRegistry, inputFlags, outputFlags backends.MemorySourceFlags) {
	inputFlags = backends.NormalizeImportFlags(inputFlags)
	outputFlags = backends.NormalizeImportFlags(outputFlags)

	mm := b.CreateMemoryManager().(*reference.PoolMemoryManager)
	registry.RegisterMemoryManager(mm)
	registry.RegisterFactory(reference.NewTensorHandleFactory(HandleFactoryName, mm, inputFlags, outputFlags))
}

// DefaultAllocator returns the host allocator.
func (b *Backend) DefaultAllocator() backends.Allocator {
	return reference.MallocAllocator{}
}
