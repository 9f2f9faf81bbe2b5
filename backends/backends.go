// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the contract a compute backend implements to
// claim and rewrite subgraphs of an inference graph, and the optimization
// pipeline that drives registered backends over a graph until convergence.
//
// A backend inspects the subgraph view it is handed and classifies every
// layer: regions it can accelerate become substitutions (replaced in the
// graph by an opaque pre-compiled layer), regions it declines are reported
// untouched, and regions it attempted but could not compile are reported
// failed. See OptimizationViews.
//
// Backends register themselves with Register, typically from an init()
// function of their package, so importing a backend package is enough to
// make it available:
//
//	import _ "github.com/graphfuse/graphfuse/backends/reference"
//
// Registration happens once at process initialization; the registry is
// read-only during optimization passes.
package backends

import (
	"os"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/graphfuse/graphfuse/graph"
)

// BackendId identifies a compute backend, e.g. "CpuRef" or "CpuFused".
type BackendId string

// Backend is the contract each compute backend implements. The optimization
// pipeline only ever talks to backends through this interface; everything
// backend-specific (compiled artifacts, handle implementations) stays
// opaque behind it.
type Backend interface {
	// Id returns the backend's identifier.
	Id() BackendId

	// Description is a longer description of the backend for pretty-printing.
	Description() string

	// Capabilities returns the operations and element types the backend
	// supports. Advisory: the authoritative decision is OptimizeSubgraphView.
	Capabilities() Capabilities

	// OptimizeSubgraphView inspects the given view and returns a complete
	// partition of its layers into substitutions, untouched and failed
	// regions. It is a blocking call; no partial results are accepted.
	OptimizeSubgraphView(view *graph.SubgraphView, options ModelOptions) *OptimizationViews

	// CreateMemoryManager returns a fresh memory manager for the backend.
	CreateMemoryManager() MemoryManager

	// CreateWorkloadFactory returns a workload factory bound to the given
	// memory manager, used to instantiate workloads and tensor handles for
	// the final partitioned graph.
	CreateWorkloadFactory(memoryManager MemoryManager) WorkloadFactory

	// HandleFactoryPreferences returns the backend's tensor-handle factory
	// ids in preference order.
	HandleFactoryPreferences() []HandleFactoryId

	// RegisterTensorHandleFactories registers the backend's tensor-handle
	// factories and memory managers with the registry. The flags declare
	// which external memory sources imported inputs/outputs may come from;
	// MemoryUndefined is normalized to MemoryMalloc before the backend
	// observes it.
	RegisterTensorHandleFactories(registry *HandleFactoryRegistry, inputFlags, outputFlags MemorySourceFlags)

	// DefaultAllocator returns the allocator the backend uses when the
	// caller does not supply a custom one.
	DefaultAllocator() Allocator
}

// Constructor takes a backend-specific config string (optionally empty) and
// returns a Backend instance.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[BackendId]Constructor)
	firstRegistered        BackendId
)

// Register a backend constructor under the given id.
//
// To be safe, call Register during initialization of a package.
func Register(id BackendId, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = id
	}
	registeredConstructors[id] = constructor
}

// Registered returns the ids of all registered backends, sorted.
func Registered() []BackendId {
	ids := make([]BackendId, 0, len(registeredConstructors))
	for id := range registeredConstructors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsRegistered returns whether a backend with the given id is registered.
func IsRegistered(id BackendId) bool {
	_, found := registeredConstructors[id]
	return found
}

// DefaultConfig is the backend configuration used by New if the environment
// variable is unset. See NewWithConfig for the format.
var DefaultConfig string

// GRAPHFUSE_BACKEND is the environment variable with the default backend
// configuration: "<backend_id>:<backend_configuration>".
const GRAPHFUSE_BACKEND = "GRAPHFUSE_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
//  1. The environment GRAPHFUSE_BACKEND is used as a configuration if defined.
//  2. Next the variable DefaultConfig is used as a configuration if defined.
//  3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() Backend {
	config, found := os.LookupEnv(GRAPHFUSE_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as
// "<backend_id>:<backend_configuration>", where "<backend_configuration>" is
// backend specific, and returns a new instance of that backend.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends -- import one, e.g. import _ "github.com/graphfuse/graphfuse/backends/reference"`)
	}
	id := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		id = BackendId(config[:idx])
		backendConfig = config[idx+1:]
	}
	constructor, found := registeredConstructors[id]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", id, config)
	}
	return constructor(backendConfig)
}

// NewById instantiates the registered backend with the given id and a
// backend-specific config string.
func NewById(id BackendId, config string) (Backend, error) {
	constructor, found := registeredConstructors[id]
	if !found {
		return nil, &UnknownBackendError{Id: id}
	}
	return constructor(config), nil
}
