// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/graphfuse/graphfuse/types/shapes"
)

// LayerGuid is the identity of a Layer, unique for the lifetime of the
// process. It is assigned at layer construction and never reused, so it
// survives the layer moving between graphs during substitution.
type LayerGuid int64

// InvalidLayerGuid is never assigned to a layer.
const InvalidLayerGuid = LayerGuid(0)

var guidCounter atomic.Int64

func nextGuid() LayerGuid {
	return LayerGuid(guidCounter.Add(1))
}

// SlotRef addresses an input or output slot by the guid of its owning layer
// plus the slot index. Slots reference their peers through SlotRefs rather
// than pointers, so bulk layer removal cannot leave dangling references:
// resolving a ref whose layer is gone simply yields nil.
type SlotRef struct {
	Layer LayerGuid
	Slot  int
}

// InputSlot is a consuming connection point on a Layer. It connects to at
// most one OutputSlot.
type InputSlot struct {
	owner     *Layer
	index     int
	source    SlotRef
	connected bool
}

// Owner returns the layer this slot belongs to.
func (in *InputSlot) Owner() *Layer { return in.owner }

// Index of the slot within the owner's input slots. Slot order is
// semantically meaningful (e.g. weights vs. bias) and never changes.
func (in *InputSlot) Index() int { return in.index }

// IsConnected returns whether the slot has a producing OutputSlot.
func (in *InputSlot) IsConnected() bool { return in.connected }

// Source resolves the producing OutputSlot, or nil if the slot is
// disconnected or the producer has been removed from its graph.
func (in *InputSlot) Source() *OutputSlot {
	if !in.connected {
		return nil
	}
	producer := in.owner.graph.layerByGuid(in.source.Layer)
	if producer == nil {
		return nil
	}
	return producer.OutputSlot(in.source.Slot)
}

// Info returns the TensorInfo of the producing OutputSlot, which is
// authoritative for the tensor flowing into this slot. It panics if the slot
// is disconnected.
func (in *InputSlot) Info() shapes.TensorInfo {
	src := in.Source()
	if src == nil {
		exceptions.Panicf("InputSlot %d of layer %q (guid %d) is not connected, no TensorInfo available",
			in.index, in.owner.Name(), in.owner.Guid())
	}
	return src.Info()
}

// Disconnect breaks the connection, leaving both endpoints in a valid
// disconnected state. It is a no-op on an already disconnected slot.
func (in *InputSlot) Disconnect() {
	if !in.connected {
		return
	}
	src := in.Source()
	in.connected = false
	in.source = SlotRef{}
	if src != nil {
		src.removeConsumer(SlotRef{Layer: in.owner.Guid(), Slot: in.index})
	}
}

// OutputSlot is a producing connection point on a Layer. It may fan out to
// any number of InputSlots and carries the authoritative TensorInfo of the
// tensor it produces.
type OutputSlot struct {
	owner     *Layer
	index     int
	info      shapes.TensorInfo
	consumers []SlotRef
}

// Owner returns the layer this slot belongs to.
func (out *OutputSlot) Owner() *Layer { return out.owner }

// Index of the slot within the owner's output slots.
func (out *OutputSlot) Index() int { return out.index }

// Info returns the TensorInfo attached to this slot.
func (out *OutputSlot) Info() shapes.TensorInfo { return out.info }

// SetInfo attaches the TensorInfo describing the tensor this slot produces.
func (out *OutputSlot) SetInfo(info shapes.TensorInfo) { out.info = info }

// NumConnections returns the fan-out of this slot.
func (out *OutputSlot) NumConnections() int { return len(out.consumers) }

// Connections resolves the connected InputSlots, in connection order.
func (out *OutputSlot) Connections() []*InputSlot {
	result := make([]*InputSlot, 0, len(out.consumers))
	for _, ref := range out.consumers {
		consumer := out.owner.graph.layerByGuid(ref.Layer)
		if consumer == nil {
			continue
		}
		result = append(result, consumer.InputSlot(ref.Slot))
	}
	return result
}

// Connect attaches the given InputSlot to this slot, updating both sides.
// The InputSlot must be disconnected; connecting an already connected slot
// is a programming error and panics.
func (out *OutputSlot) Connect(in *InputSlot) {
	if in.connected {
		exceptions.Panicf("cannot connect: input slot %d of layer %q (guid %d) is already connected",
			in.index, in.owner.Name(), in.owner.Guid())
	}
	in.source = SlotRef{Layer: out.owner.Guid(), Slot: out.index}
	in.connected = true
	out.consumers = append(out.consumers, SlotRef{Layer: in.owner.Guid(), Slot: in.index})
}

// DisconnectAll breaks every connection of this slot.
func (out *OutputSlot) DisconnectAll() {
	for _, in := range out.Connections() {
		in.Disconnect()
	}
	out.consumers = out.consumers[:0]
}

func (out *OutputSlot) removeConsumer(ref SlotRef) {
	for i, c := range out.consumers {
		if c == ref {
			out.consumers = append(out.consumers[:i], out.consumers[i+1:]...)
			return
		}
	}
}

// Layer is a single node of the computation graph, representing one
// operation. It is owned by its Graph and destroyed on substitution or graph
// teardown. Its parameters are a tagged variant (Descriptor) keyed by the
// layer's type.
type Layer struct {
	graph   *Graph
	guid    LayerGuid
	name    string
	params  Descriptor
	inputs  []*InputSlot
	outputs []*OutputSlot
	backend string
	blob    any
}

// Guid returns the layer's process-unique identity.
func (l *Layer) Guid() LayerGuid { return l.guid }

// Name returns the layer's name, used only for diagnostics.
func (l *Layer) Name() string { return l.name }

// Type returns the operation kind of the layer.
func (l *Layer) Type() LayerType { return l.params.LayerType() }

// Parameters returns the layer's operation parameters. Callers downcast to
// the concrete descriptor matching Type().
func (l *Layer) Parameters() Descriptor { return l.params }

// NumInputSlots returns the number of input slots.
func (l *Layer) NumInputSlots() int { return len(l.inputs) }

// NumOutputSlots returns the number of output slots.
func (l *Layer) NumOutputSlots() int { return len(l.outputs) }

// InputSlot returns the i-th input slot. Iteration by index is stable and
// order-preserving.
func (l *Layer) InputSlot(i int) *InputSlot { return l.inputs[i] }

// OutputSlot returns the i-th output slot.
func (l *Layer) OutputSlot(i int) *OutputSlot { return l.outputs[i] }

// InputSlots returns all input slots in order.
func (l *Layer) InputSlots() []*InputSlot { return l.inputs }

// OutputSlots returns all output slots in order.
func (l *Layer) OutputSlots() []*OutputSlot { return l.outputs }

// BackendId returns the id of the backend this layer is assigned to, or ""
// if unassigned.
func (l *Layer) BackendId() string { return l.backend }

// SetBackendId assigns the layer to a backend.
func (l *Layer) SetBackendId(id string) { l.backend = id }

// CompiledBlob returns the opaque backend-compiled artifact attached to a
// pre-compiled layer, or nil.
func (l *Layer) CompiledBlob() any { return l.blob }

// String implements fmt.Stringer.
func (l *Layer) String() string {
	return fmt.Sprintf("%s[%q guid=%d]", l.Type(), l.name, l.guid)
}
