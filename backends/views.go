// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/graphfuse/graphfuse/graph"
	"github.com/pkg/errors"
)

// SubstitutionPair maps an original region of the input view to the
// replacement region a backend compiled for it. The replacement's layers
// live in the OptimizationViews' scratch network until the substitution is
// applied.
type SubstitutionPair struct {
	Original    *graph.SubgraphView
	Replacement *graph.SubgraphView
}

// OptimizationViews is the result of one backend's optimization attempt over
// a subgraph view. It partitions the input view's layers into three disjoint
// sets: substitutions (regions the backend compiled), untouched regions (the
// backend declined) and failed regions (the backend attempted but rejected,
// e.g. an unsupported parameter combination).
//
// Every layer of the input view must appear in exactly one partition;
// Validate checks this and the engine treats a violation as a backend bug.
type OptimizationViews struct {
	network *graph.Graph

	substitutions []SubstitutionPair
	untouched     []*graph.SubgraphView
	failed        []*graph.SubgraphView

	options ModelOptions
}

// NewOptimizationViews creates an empty result carrying the model options of
// the pass.
func NewOptimizationViews(options ModelOptions) *OptimizationViews {
	return &OptimizationViews{network: graph.New(), options: options}
}

// Network returns the scratch graph replacement layers are created in. Its
// layers are transplanted into the target graph when substitutions are
// applied.
func (v *OptimizationViews) Network() *graph.Graph { return v.network }

// ModelOptions returns the options the pass was invoked with.
func (v *OptimizationViews) ModelOptions() ModelOptions { return v.options }

// AddSubstitution records a region the backend compiled.
func (v *OptimizationViews) AddSubstitution(pair SubstitutionPair) {
	v.substitutions = append(v.substitutions, pair)
}

// AddUntouchedSubgraph records a region the backend declines.
func (v *OptimizationViews) AddUntouchedSubgraph(view *graph.SubgraphView) {
	v.untouched = append(v.untouched, view)
}

// AddFailedSubgraph records a region the backend attempted but rejected.
func (v *OptimizationViews) AddFailedSubgraph(view *graph.SubgraphView) {
	v.failed = append(v.failed, view)
}

// Substitutions returns the recorded substitutions.
func (v *OptimizationViews) Substitutions() []SubstitutionPair { return v.substitutions }

// Untouched returns the recorded untouched regions.
func (v *OptimizationViews) Untouched() []*graph.SubgraphView { return v.untouched }

// Failed returns the recorded failed regions.
func (v *OptimizationViews) Failed() []*graph.SubgraphView { return v.failed }

// Validate checks that every layer of the input view is accounted for in
// exactly one of the three partitions, with no duplicates and no layers from
// outside the view. A non-nil error means the backend violated the
// optimization contract.
func (v *OptimizationViews) Validate(input *graph.SubgraphView) error {
	seen := make(map[graph.LayerGuid]int, input.NumLayers())
	count := func(view *graph.SubgraphView, partition string) error {
		for _, l := range view.Layers() {
			if !input.Contains(l.Guid()) {
				return errors.Errorf("optimization result (%s) reports layer %s that is not part of the input view",
					partition, l)
			}
			seen[l.Guid()]++
		}
		return nil
	}
	for _, pair := range v.substitutions {
		if err := count(pair.Original, "substitution"); err != nil {
			return err
		}
	}
	for _, view := range v.untouched {
		if err := count(view, "untouched"); err != nil {
			return err
		}
	}
	for _, view := range v.failed {
		if err := count(view, "failed"); err != nil {
			return err
		}
	}
	for _, l := range input.Layers() {
		switch seen[l.Guid()] {
		case 0:
			return errors.Errorf("layer %s of the input view is unaccounted for in the optimization result", l)
		case 1:
			// Accounted exactly once.
		default:
			return errors.Errorf("layer %s appears in %d partitions of the optimization result", l, seen[l.Guid()])
		}
	}
	return nil
}

// ReportUntouched records every layer of the input view whose guid is still
// in untouched as a single-layer untouched subgraph, preserving the input
// view's layer order so results are deterministic.
func ReportUntouched(views *OptimizationViews, input *graph.SubgraphView, untouched map[graph.LayerGuid]*graph.Layer) {
	for _, l := range input.Layers() {
		if _, found := untouched[l.Guid()]; !found {
			continue
		}
		views.AddUntouchedSubgraph(graph.NewSubgraphView(l))
	}
}
