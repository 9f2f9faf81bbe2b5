// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// ApplySubstitution replaces the original view's layers in the graph with
// the replacement view's layers, reconnecting boundary slots positionally:
// the i-th original boundary input is rewired to the i-th replacement
// boundary input, and likewise for outputs.
//
// The original view's layers must belong to g. The replacement view's layers
// may belong to another graph (typically the scratch network a backend built
// them in); they are moved into g.
//
// A boundary slot count mismatch between original and replacement is a
// backend bug, not a recoverable condition: it panics. On return, every
// input slot that was connected before the substitution is connected again,
// to an output slot carrying the original boundary slot's TensorInfo.
func ApplySubstitution(g *Graph, original, replacement *SubgraphView) {
	if original.NumInputSlots() != replacement.NumInputSlots() ||
		original.NumOutputSlots() != replacement.NumOutputSlots() {
		exceptions.Panicf(
			"ApplySubstitution: boundary slot count mismatch: original has %d inputs / %d outputs, replacement has %d inputs / %d outputs",
			original.NumInputSlots(), original.NumOutputSlots(),
			replacement.NumInputSlots(), replacement.NumOutputSlots())
	}
	for _, l := range original.Layers() {
		if g.LayerByGuid(l.Guid()) != l {
			exceptions.Panicf("ApplySubstitution: original view layer %s is not part of the target graph", l)
		}
	}

	// Record the external endpoints before any disconnection.
	sources := make([]*OutputSlot, original.NumInputSlots())
	for i, in := range original.InputSlots() {
		sources[i] = in.Source() // nil for the graph's external inputs
	}
	consumers := make([][]*InputSlot, original.NumOutputSlots())
	for i, out := range original.OutputSlots() {
		for _, consumer := range out.Connections() {
			if original.Contains(consumer.Owner().Guid()) {
				continue
			}
			consumers[i] = append(consumers[i], consumer)
		}
	}

	for i := range original.OutputSlots() {
		for _, consumer := range consumers[i] {
			consumer.Disconnect()
		}
	}
	for _, in := range original.InputSlots() {
		in.Disconnect()
	}
	for _, l := range original.Layers() {
		g.EraseLayer(l)
	}

	for _, l := range replacement.Layers() {
		g.adopt(l)
	}

	for i, in := range replacement.InputSlots() {
		if sources[i] == nil {
			continue
		}
		if in.IsConnected() {
			exceptions.Panicf("ApplySubstitution: replacement boundary input slot %d of %s is already connected",
				in.Index(), in.Owner())
		}
		sources[i].Connect(in)
	}
	for i, out := range replacement.OutputSlots() {
		for _, consumer := range consumers[i] {
			out.Connect(consumer)
		}
	}

	// Postcondition: no consumer that was connected before is left dangling.
	for i := range consumers {
		for _, consumer := range consumers[i] {
			if !consumer.IsConnected() {
				exceptions.Panicf("ApplySubstitution: input slot %d of %s left dangling after substitution",
					consumer.Index(), consumer.Owner())
			}
		}
	}
	if klog.V(2).Enabled() {
		klog.Infof("applied substitution: %d layer(s) replaced by %d layer(s)",
			original.NumLayers(), replacement.NumLayers())
	}
}
