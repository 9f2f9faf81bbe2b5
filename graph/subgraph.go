// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// SubgraphView is a non-owning, ordered view over a set of layers of a
// graph, plus the input and output slots that cross the view's boundary to
// the rest of the graph. It is the unit handed to a backend for
// optimization, and the unit replaced by a substitution.
//
// Boundary slot order is derived from the member-layer iteration order and,
// within a layer, the layer's own slot order. The same layer sequence always
// yields the same boundary order; substitution reconnects boundary slots
// positionally, so this determinism is load-bearing.
type SubgraphView struct {
	layers  []*Layer
	inputs  []*InputSlot
	outputs []*OutputSlot
}

// NewSubgraphView builds a view over the given layers, resolving the
// boundary slots from the layers' current connectivity:
//
//   - an input slot is boundary if it is disconnected (an external input) or
//     its producer is not a member of the view;
//   - an output slot is boundary if it has no consumers or any consumer is
//     not a member.
func NewSubgraphView(layers ...*Layer) *SubgraphView {
	v := &SubgraphView{layers: slices.Clone(layers)}
	member := make(map[LayerGuid]bool, len(layers))
	for _, l := range layers {
		member[l.Guid()] = true
	}
	for _, l := range v.layers {
		for _, in := range l.InputSlots() {
			src := in.Source()
			if src == nil || !member[src.Owner().Guid()] {
				v.inputs = append(v.inputs, in)
			}
		}
		for _, out := range l.OutputSlots() {
			connections := out.Connections()
			boundary := len(connections) == 0
			for _, consumer := range connections {
				if !member[consumer.Owner().Guid()] {
					boundary = true
					break
				}
			}
			if boundary {
				v.outputs = append(v.outputs, out)
			}
		}
	}
	return v
}

// SubgraphViewFrom builds a view with explicitly given boundary slots and
// layers. Every boundary slot must belong to a member layer.
func SubgraphViewFrom(inputs []*InputSlot, outputs []*OutputSlot, layers []*Layer) *SubgraphView {
	v := &SubgraphView{
		layers:  slices.Clone(layers),
		inputs:  slices.Clone(inputs),
		outputs: slices.Clone(outputs),
	}
	for _, in := range v.inputs {
		if !v.Contains(in.Owner().Guid()) {
			exceptions.Panicf("SubgraphViewFrom: boundary input slot %d belongs to layer %s outside the view",
				in.Index(), in.Owner())
		}
	}
	for _, out := range v.outputs {
		if !v.Contains(out.Owner().Guid()) {
			exceptions.Panicf("SubgraphViewFrom: boundary output slot %d belongs to layer %s outside the view",
				out.Index(), out.Owner())
		}
	}
	return v
}

// SingleLayerView builds a view over one layer with all of its slots as
// boundary slots. This is the shape of a substitution's replacement view for
// a pre-compiled placeholder layer.
func SingleLayerView(l *Layer) *SubgraphView {
	return SubgraphViewFrom(InputsFrom(l), OutputsFrom(l), []*Layer{l})
}

// InputsFrom returns all input slots of the layer, in slot order.
func InputsFrom(l *Layer) []*InputSlot {
	return slices.Clone(l.InputSlots())
}

// OutputsFrom returns all output slots of the layer, in slot order.
func OutputsFrom(l *Layer) []*OutputSlot {
	return slices.Clone(l.OutputSlots())
}

// Layers returns the member layers in view order.
func (v *SubgraphView) Layers() []*Layer { return v.layers }

// NumLayers returns the number of member layers.
func (v *SubgraphView) NumLayers() int { return len(v.layers) }

// InputSlots returns the boundary input slots in their deterministic order.
func (v *SubgraphView) InputSlots() []*InputSlot { return v.inputs }

// OutputSlots returns the boundary output slots in their deterministic order.
func (v *SubgraphView) OutputSlots() []*OutputSlot { return v.outputs }

// NumInputSlots returns the number of boundary input slots.
func (v *SubgraphView) NumInputSlots() int { return len(v.inputs) }

// NumOutputSlots returns the number of boundary output slots.
func (v *SubgraphView) NumOutputSlots() int { return len(v.outputs) }

// Contains returns whether the layer with the given guid is a member.
func (v *SubgraphView) Contains(guid LayerGuid) bool {
	return slices.ContainsFunc(v.layers, func(l *Layer) bool { return l.Guid() == guid })
}
