// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements the computation graph the partitioning runtime
// operates on: layers with process-unique guids, ordered input/output slots
// carrying TensorInfos, subgraph views over a set of layers plus their
// boundary slots, and the substitution primitive that replaces a region of
// the graph with a backend-compiled equivalent.
//
// The graph is an arena of layers keyed by guid. Slots refer to their peers
// by guid+index (see SlotRef) rather than pointers, so bulk removal during
// substitution cannot leave dangling references.
//
// Graph mutation is not safe for concurrent use: callers must serialize
// optimization passes per graph instance.
package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// Graph owns a set of connected Layers. Create layers with AddLayer, wire
// them with OutputSlot.Connect, and hand regions to backends as
// SubgraphViews.
type Graph struct {
	layers map[LayerGuid]*Layer
	order  []LayerGuid // insertion order, stable iteration

	inputs  []LayerGuid
	outputs []LayerGuid
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{layers: make(map[LayerGuid]*Layer)}
}

// AddLayer creates a new Layer with the given name and parameters, with slot
// counts fixed by the descriptor, and adds it to the graph.
func (g *Graph) AddLayer(name string, params Descriptor) *Layer {
	if params == nil {
		exceptions.Panicf("Graph.AddLayer(%q): nil descriptor", name)
	}
	l := &Layer{
		graph:  g,
		guid:   nextGuid(),
		name:   name,
		params: params,
	}
	l.inputs = make([]*InputSlot, params.NumInputSlots())
	for i := range l.inputs {
		l.inputs[i] = &InputSlot{owner: l, index: i}
	}
	l.outputs = make([]*OutputSlot, params.NumOutputSlots())
	for i := range l.outputs {
		l.outputs[i] = &OutputSlot{owner: l, index: i}
	}
	g.layers[l.guid] = l
	g.order = append(g.order, l.guid)
	switch params.LayerType() {
	case LayerTypeInput:
		g.inputs = append(g.inputs, l.guid)
	case LayerTypeOutput:
		g.outputs = append(g.outputs, l.guid)
	}
	return l
}

// AddPreCompiledLayer creates the opaque placeholder layer a backend
// substitutes for a compiled region. The blob is the backend-specific
// compiled artifact, and backendId records which backend owns it.
func (g *Graph) AddPreCompiledLayer(name string, params *PreCompiledDescriptor, blob any, backendId string) *Layer {
	l := g.AddLayer(name, params)
	l.blob = blob
	l.backend = backendId
	return l
}

// NumLayers returns the number of layers in the graph.
func (g *Graph) NumLayers() int { return len(g.order) }

// Layers returns the graph's layers in insertion order.
func (g *Graph) Layers() []*Layer {
	result := make([]*Layer, 0, len(g.order))
	for _, guid := range g.order {
		result = append(result, g.layers[guid])
	}
	return result
}

// LayerByGuid returns the layer with the given guid, or nil.
func (g *Graph) LayerByGuid(guid LayerGuid) *Layer { return g.layers[guid] }

func (g *Graph) layerByGuid(guid LayerGuid) *Layer { return g.layers[guid] }

// InputLayers returns the graph's declared external input layers, in
// insertion order.
func (g *Graph) InputLayers() []*Layer {
	result := make([]*Layer, 0, len(g.inputs))
	for _, guid := range g.inputs {
		result = append(result, g.layers[guid])
	}
	return result
}

// OutputLayers returns the graph's declared external output layers.
func (g *Graph) OutputLayers() []*Layer {
	result := make([]*Layer, 0, len(g.outputs))
	for _, guid := range g.outputs {
		result = append(result, g.layers[guid])
	}
	return result
}

// EraseLayer disconnects every slot of the layer and removes it from the
// graph. The layer must belong to this graph.
func (g *Graph) EraseLayer(l *Layer) {
	if l.graph != g {
		exceptions.Panicf("Graph.EraseLayer: layer %s does not belong to this graph", l)
	}
	for _, in := range l.inputs {
		in.Disconnect()
	}
	for _, out := range l.outputs {
		out.DisconnectAll()
	}
	g.remove(l)
	l.graph = nil
}

// remove takes the layer out of the arena without touching its slots.
func (g *Graph) remove(l *Layer) {
	delete(g.layers, l.guid)
	g.order = slices.DeleteFunc(g.order, func(guid LayerGuid) bool { return guid == l.guid })
	g.inputs = slices.DeleteFunc(g.inputs, func(guid LayerGuid) bool { return guid == l.guid })
	g.outputs = slices.DeleteFunc(g.outputs, func(guid LayerGuid) bool { return guid == l.guid })
}

// adopt moves a layer from another graph into g, preserving its guid, slots
// and slot wiring. Used by ApplySubstitution to transplant replacement
// layers; internal connections among transplanted layers stay valid once
// all of them have been adopted.
func (g *Graph) adopt(l *Layer) {
	if l.graph == g {
		return
	}
	if l.graph != nil {
		l.graph.remove(l)
	}
	l.graph = g
	g.layers[l.guid] = l
	g.order = append(g.order, l.guid)
	switch l.Type() {
	case LayerTypeInput:
		g.inputs = append(g.inputs, l.guid)
	case LayerTypeOutput:
		g.outputs = append(g.outputs, l.guid)
	}
}

// TopologicalSort returns the layers ordered so that every producer comes
// before its consumers. Ties are broken by insertion order, so the result is
// deterministic for a given graph construction sequence.
func (g *Graph) TopologicalSort() []*Layer {
	inDegree := make(map[LayerGuid]int, len(g.layers))
	for _, guid := range g.order {
		l := g.layers[guid]
		degree := 0
		for _, in := range l.inputs {
			if in.IsConnected() {
				degree++
			}
		}
		inDegree[guid] = degree
	}

	result := make([]*Layer, 0, len(g.order))
	pending := slices.Clone(g.order)
	for len(pending) > 0 {
		progressed := false
		for i := 0; i < len(pending); i++ {
			guid := pending[i]
			if inDegree[guid] != 0 {
				continue
			}
			l := g.layers[guid]
			result = append(result, l)
			pending = append(pending[:i], pending[i+1:]...)
			i--
			progressed = true
			for _, out := range l.outputs {
				for _, consumer := range out.Connections() {
					inDegree[consumer.Owner().Guid()]--
				}
			}
		}
		if !progressed {
			exceptions.Panicf("Graph.TopologicalSort: cycle detected among %d remaining layers", len(pending))
		}
	}
	return result
}
