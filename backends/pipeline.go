// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/exceptions"
	"github.com/graphfuse/graphfuse/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OptimizeResult reports the outcome of an optimization pipeline run.
type OptimizeResult struct {
	// Assignments maps each layer (by guid) claimed by a backend -- the
	// pre-compiled placeholder layers after substitution -- to that backend.
	Assignments map[graph.LayerGuid]BackendId

	// NonAccelerable lists layers every backend in the preference order
	// reported as failed. Whether these stay on a default reference path or
	// abort setup is the caller's policy.
	NonAccelerable []*graph.Layer

	// Substitutions counts the substitutions applied across all passes.
	Substitutions int
}

// Optimize runs the substitution engine over the graph: each backend in
// preference order is handed a view of the layers no backend has claimed
// yet, its result partition is validated and its substitutions applied,
// shrinking the unclaimed set. Sweeps repeat until a full sweep applies no
// substitution.
//
// Input, output and already pre-compiled layers are never offered to
// backends. Graph mutation is single-threaded: the caller must not run two
// optimization passes over the same graph concurrently.
//
// Contract violations by a backend -- an incomplete partition, or a
// substitution that changes boundary shape or type -- are programming
// errors and panic; they must abort setup, not be recovered from.
func Optimize(g *graph.Graph, preference []BackendId, options ModelOptions) (*OptimizeResult, error) {
	if len(preference) == 0 {
		return nil, errors.New("Optimize: empty backend preference order")
	}
	instances := make([]Backend, 0, len(preference))
	for _, id := range preference {
		config := ""
		if v, found := options.Option(id, "config"); found {
			if s, ok := v.(string); ok {
				config = s
			}
		}
		backend, err := NewById(id, config)
		if err != nil {
			return nil, errors.Wrapf(err, "Optimize: instantiating backend %q", id)
		}
		instances = append(instances, backend)
	}

	result := &OptimizeResult{Assignments: make(map[graph.LayerGuid]BackendId)}
	claimed := make(map[graph.LayerGuid]BackendId)
	failedBy := make(map[graph.LayerGuid]map[BackendId]bool)

	for sweep := 0; ; sweep++ {
		substitutionsThisSweep := 0
		for _, backend := range instances {
			view := unclaimedView(g, claimed)
			if view.NumLayers() == 0 {
				break
			}
			views := backend.OptimizeSubgraphView(view, options)
			if err := views.Validate(view); err != nil {
				exceptions.Panicf("backend %q violated the optimization contract: %+v", backend.Id(), err)
			}
			for _, pair := range views.Substitutions() {
				checkBoundaryPreserved(backend.Id(), pair)
				graph.ApplySubstitution(g, pair.Original, pair.Replacement)
				for _, l := range pair.Replacement.Layers() {
					claimed[l.Guid()] = backend.Id()
					result.Assignments[l.Guid()] = backend.Id()
					l.SetBackendId(string(backend.Id()))
				}
				substitutionsThisSweep++
			}
			for _, failedView := range views.Failed() {
				for _, l := range failedView.Layers() {
					if failedBy[l.Guid()] == nil {
						failedBy[l.Guid()] = make(map[BackendId]bool)
					}
					failedBy[l.Guid()][backend.Id()] = true
				}
			}
			klog.V(1).Infof("backend %q: %d substitution(s), %d untouched, %d failed region(s) over %d layer(s)",
				backend.Id(), len(views.Substitutions()), len(views.Untouched()), len(views.Failed()), view.NumLayers())
		}
		if substitutionsThisSweep == 0 {
			break
		}
		result.Substitutions += substitutionsThisSweep
	}

	for _, l := range unclaimedView(g, claimed).Layers() {
		if len(failedBy[l.Guid()]) == len(instances) {
			result.NonAccelerable = append(result.NonAccelerable, l)
		}
	}
	if len(result.NonAccelerable) > 0 {
		klog.Warningf("optimization: %d layer(s) failed by every backend in %v", len(result.NonAccelerable), preference)
	}
	return result, nil
}

// unclaimedView builds the view of layers still up for grabs: everything
// except input/output binding layers and layers already claimed by a
// backend.
func unclaimedView(g *graph.Graph, claimed map[graph.LayerGuid]BackendId) *graph.SubgraphView {
	var layers []*graph.Layer
	for _, l := range g.TopologicalSort() {
		switch l.Type() {
		case graph.LayerTypeInput, graph.LayerTypeOutput:
			continue
		}
		if _, taken := claimed[l.Guid()]; taken {
			continue
		}
		layers = append(layers, l)
	}
	return graph.NewSubgraphView(layers...)
}

// checkBoundaryPreserved asserts a substitution is semantically transparent:
// boundary slot counts match and every replacement boundary output carries
// exactly the original's TensorInfo.
func checkBoundaryPreserved(id BackendId, pair SubstitutionPair) {
	if pair.Original.NumInputSlots() != pair.Replacement.NumInputSlots() ||
		pair.Original.NumOutputSlots() != pair.Replacement.NumOutputSlots() {
		exceptions.Panicf("backend %q substitution changes boundary slot counts: %d/%d inputs, %d/%d outputs",
			id, pair.Original.NumInputSlots(), pair.Replacement.NumInputSlots(),
			pair.Original.NumOutputSlots(), pair.Replacement.NumOutputSlots())
	}
	for i, out := range pair.Original.OutputSlots() {
		got := pair.Replacement.OutputSlots()[i].Info()
		want := out.Info()
		if !got.Equal(want) {
			exceptions.Panicf("backend %q substitution changes TensorInfo of boundary output %d: %s != %s",
				id, i, got, want)
		}
	}
}
