// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildAddChain(t *testing.T) (g *graph.Graph, add, relu *graph.Layer) {
	t.Helper()
	g = graph.New()
	a := g.AddLayer("a", &graph.InputDescriptor{})
	b := g.AddLayer("b", &graph.InputDescriptor{BindingId: 1})
	info := shapes.MakeTensorInfo(dtypes.Float32, 2, 2)
	a.OutputSlot(0).SetInfo(info)
	b.OutputSlot(0).SetInfo(info)

	add = g.AddLayer("add", &graph.AdditionDescriptor{})
	a.OutputSlot(0).Connect(add.InputSlot(0))
	b.OutputSlot(0).Connect(add.InputSlot(1))
	add.OutputSlot(0).SetInfo(info)

	relu = g.AddLayer("relu", &graph.ActivationDescriptor{Function: graph.ActivationReLU})
	add.OutputSlot(0).Connect(relu.InputSlot(0))
	relu.OutputSlot(0).SetInfo(info)

	out := g.AddLayer("out", &graph.OutputDescriptor{})
	relu.OutputSlot(0).Connect(out.InputSlot(0))
	return
}

func TestValidateCompletePartition(t *testing.T) {
	_, add, relu := buildAddChain(t)
	input := graph.NewSubgraphView(add, relu)

	views := NewOptimizationViews(nil)
	views.AddUntouchedSubgraph(graph.SingleLayerView(add))
	views.AddFailedSubgraph(graph.SingleLayerView(relu))
	require.NoError(t, views.Validate(input))
}

func TestValidateUnaccountedLayer(t *testing.T) {
	_, add, relu := buildAddChain(t)
	input := graph.NewSubgraphView(add, relu)

	views := NewOptimizationViews(nil)
	views.AddUntouchedSubgraph(graph.SingleLayerView(add))
	err := views.Validate(input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unaccounted")
}

func TestValidateDuplicateLayer(t *testing.T) {
	_, add, relu := buildAddChain(t)
	input := graph.NewSubgraphView(add, relu)

	views := NewOptimizationViews(nil)
	views.AddUntouchedSubgraph(graph.SingleLayerView(add))
	views.AddFailedSubgraph(graph.NewSubgraphView(add, relu))
	require.Error(t, views.Validate(input))
}

func TestValidateLayerOutsideView(t *testing.T) {
	_, add, relu := buildAddChain(t)
	input := graph.SingleLayerView(add)

	views := NewOptimizationViews(nil)
	views.AddUntouchedSubgraph(graph.NewSubgraphView(add, relu))
	require.Error(t, views.Validate(input))
}

func TestReportUntouchedPreservesOrder(t *testing.T) {
	_, add, relu := buildAddChain(t)
	input := graph.NewSubgraphView(add, relu)

	// The map carries both layers; the reported views must follow the input
	// view's order regardless of map iteration order.
	untouched := map[graph.LayerGuid]*graph.Layer{
		relu.Guid(): relu,
		add.Guid():  add,
	}
	views := NewOptimizationViews(nil)
	ReportUntouched(views, input, untouched)
	require.Len(t, views.Untouched(), 2)
	assert.True(t, views.Untouched()[0].Contains(add.Guid()))
	assert.True(t, views.Untouched()[1].Contains(relu.Guid()))
	require.NoError(t, views.Validate(input))
}
