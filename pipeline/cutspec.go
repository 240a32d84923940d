// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

// Package pipeline splits a training graph (forward plus gradient nodes) into
// per-stage sub-graphs for pipeline-parallel execution.
//
// The caller describes the cut with a CutSpec: per stage and direction the
// member nodes (by stable graph.NodeID), the tensors crossing stage
// boundaries (sync inputs/outputs) and extra ordering-only dependencies.
// Split partitions the main graph accordingly, inserts WaitEvent/RecordEvent
// synchronization nodes at each stage boundary, and assembles one
// self-contained Artifact per stage.
//
// Stages synchronize exclusively through integer event tokens fed to the
// artifacts at invocation time. TokenSpace assigns tokens from disjoint
// ranges and Schedule produces a one-forward-one-backward (1F1B) assignment
// of token values per (microbatch, stage, direction) that a runtime can
// execute without deadlock.
package pipeline

import (
	"slices"
	"strings"

	"github.com/ashbhandare/onnxruntime/graph"
	"github.com/pkg/errors"
)

// Sentinel causes for the construction-time failure classes. Use errors.Is to
// test for them.
var (
	// ErrUnclassifiedNode reports a main-graph node that no stage/direction
	// lists.
	ErrUnclassifiedNode = errors.New("node not classified by any stage/direction")

	// ErrUnresolvableReference reports a node or tensor name that does not
	// resolve against the main graph.
	ErrUnresolvableReference = errors.New("name does not resolve in the main graph")

	// ErrInvalidSpec reports an internally inconsistent cut specification.
	ErrInvalidSpec = errors.New("invalid cut specification")
)

// Direction selects the forward or backward portion of a stage's work.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Suffix returns the name suffix used by synthesized event inputs and sync
// nodes: "fw" or "bw".
func (d Direction) Suffix() string {
	if d == Backward {
		return "bw"
	}
	return "fw"
}

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// DirectionSpec describes one direction of one stage.
type DirectionSpec struct {
	// Nodes of the main graph belonging to this stage/direction, in main
	// graph order. Only membership and the first/last element matter: the
	// first node marks where the stage's wait nodes are inserted, the last
	// where its record nodes are.
	Nodes []graph.NodeID

	// SyncInputs are cross-stage tensors consumed here. The wait nodes
	// materialize them from their "_sync"-renamed artifact inputs.
	SyncInputs []string

	// SyncOutputs are cross-stage tensors produced here. The record nodes
	// materialize them as "_sync"-renamed artifact outputs.
	SyncOutputs []string

	// WaitDepends and RecordDepends are tensors attached to the wait/record
	// nodes purely to keep them ordered relative to other nodes; they carry
	// no data across stages.
	WaitDepends   []string
	RecordDepends []string
}

// IsEmpty returns whether the direction has no work at all.
func (d *DirectionSpec) IsEmpty() bool { return len(d.Nodes) == 0 }

// StageSpec pairs the forward and backward direction of one stage.
type StageSpec struct {
	Forward  DirectionSpec
	Backward DirectionSpec
}

// CutSpec declares how to cut a main graph into pipeline stages.
type CutSpec struct {
	Stages []StageSpec
}

// NumStages returns the number of stages in the cut.
func (spec *CutSpec) NumStages() int { return len(spec.Stages) }

// placement locates one direction of one stage.
type placement struct {
	stage int
	dir   Direction
}

// directionOrder returns all (stage, direction) pairs in pipeline traversal
// order: forward stage 0..N-1, then backward stage N-1..0.
func (spec *CutSpec) directionOrder() []placement {
	n := spec.NumStages()
	order := make([]placement, 0, 2*n)
	for s := 0; s < n; s++ {
		order = append(order, placement{s, Forward})
	}
	for s := n - 1; s >= 0; s-- {
		order = append(order, placement{s, Backward})
	}
	return order
}

func (spec *CutSpec) direction(p placement) *DirectionSpec {
	if p.dir == Backward {
		return &spec.Stages[p.stage].Backward
	}
	return &spec.Stages[p.stage].Forward
}

// firstDirection returns the pipeline's entry point: the first non-empty
// direction in traversal order. It performs no data-wait.
func (spec *CutSpec) firstDirection() (placement, bool) {
	for _, p := range spec.directionOrder() {
		if !spec.direction(p).IsEmpty() {
			return p, true
		}
	}
	return placement{}, false
}

// terminalDirection returns the pipeline's exit point: the last non-empty
// direction in traversal order. It performs no data-record.
func (spec *CutSpec) terminalDirection() (placement, bool) {
	order := spec.directionOrder()
	for ii := len(order) - 1; ii >= 0; ii-- {
		if !spec.direction(order[ii]).IsEmpty() {
			return order[ii], true
		}
	}
	return placement{}, false
}

// ResolveNodeIDs maps node names to their stable NodeIDs in g. It is a
// convenience for building a CutSpec from names, as cut files do.
func ResolveNodeIDs(g *graph.Graph, names []string) ([]graph.NodeID, error) {
	ids := make([]graph.NodeID, 0, len(names))
	for _, name := range names {
		n, found := g.NodeByName(name)
		if !found {
			return nil, errors.Wrapf(ErrUnresolvableReference, "no node named %q", name)
		}
		ids = append(ids, n.ID())
	}
	return ids, nil
}

// syncSuffixes are the renames applied at stage boundaries. A dependency name
// may refer to a renamed boundary tensor (e.g. "T3_sync") that only exists
// inside an artifact; it resolves if its base name is a declared sync tensor.
var syncSuffixes = []string{"_sync", "_send", "_recv"}

func (spec *CutSpec) isDeclaredSyncTensor(name string) bool {
	for _, stage := range spec.Stages {
		for _, d := range []*DirectionSpec{&stage.Forward, &stage.Backward} {
			if slices.Contains(d.SyncInputs, name) || slices.Contains(d.SyncOutputs, name) {
				return true
			}
		}
	}
	return false
}

func (spec *CutSpec) resolvesName(main *graph.Graph, name string) bool {
	if _, found := main.ValueShape(name); found {
		return true
	}
	// A produced tensor without registered metadata still resolves.
	for _, n := range main.Nodes() {
		if slices.Contains(n.Outputs(), name) {
			return true
		}
	}
	for _, suffix := range syncSuffixes {
		if base, found := strings.CutSuffix(name, suffix); found && spec.isDeclaredSyncTensor(base) {
			return true
		}
	}
	return false
}

// Validate checks the cut specification against the main graph. It reports
// (in this order of precedence) invalid-specification, unresolvable-reference
// and unclassified-node errors. A nil return guarantees every main-graph node
// is assigned to exactly one (stage, direction).
func (spec *CutSpec) Validate(main *graph.Graph) error {
	_, err := spec.assign(main)
	return err
}

// assign resolves the spec into a NodeID -> placement map, validating as it
// goes.
func (spec *CutSpec) assign(main *graph.Graph) (map[graph.NodeID]placement, error) {
	if spec.NumStages() == 0 {
		return nil, errors.Wrap(ErrInvalidSpec, "cut specification has no stages")
	}
	assignment := make(map[graph.NodeID]placement, main.NumNodes())
	for _, p := range spec.directionOrder() {
		d := spec.direction(p)
		if err := spec.validateDirection(main, d, p); err != nil {
			return nil, err
		}
		for _, id := range d.Nodes {
			node := main.NodeByID(id)
			if node == nil {
				return nil, errors.Wrapf(ErrUnresolvableReference,
					"stage %d %s lists node id %d, which does not exist in graph %q",
					p.stage, p.dir, id, main.Name())
			}
			if prev, seen := assignment[id]; seen {
				return nil, errors.Wrapf(ErrInvalidSpec,
					"node %q (id %d) listed by both stage %d %s and stage %d %s",
					node.Name(), id, prev.stage, prev.dir, p.stage, p.dir)
			}
			assignment[id] = p
		}
	}
	for _, node := range main.Nodes() {
		if _, found := assignment[node.ID()]; !found {
			return nil, errors.Wrapf(ErrUnclassifiedNode,
				"node %q (id %d, op %s) of graph %q", node.Name(), node.ID(), node.OpType(), main.Name())
		}
	}
	return assignment, nil
}

func (spec *CutSpec) validateDirection(main *graph.Graph, d *DirectionSpec, p placement) error {
	lists := []struct {
		what  string
		names []string
	}{
		{"sync inputs", d.SyncInputs},
		{"sync outputs", d.SyncOutputs},
		{"wait dependencies", d.WaitDepends},
		{"record dependencies", d.RecordDepends},
	}
	for _, l := range lists {
		seen := make(map[string]bool, len(l.names))
		for _, name := range l.names {
			if seen[name] {
				return errors.Wrapf(ErrInvalidSpec,
					"stage %d %s lists %q twice in its %s", p.stage, p.dir, name, l.what)
			}
			seen[name] = true
			if !spec.resolvesName(main, name) {
				return errors.Wrapf(ErrUnresolvableReference,
					"stage %d %s %s: %q is not a tensor known to graph %q",
					p.stage, p.dir, l.what, name, main.Name())
			}
		}
	}
	for _, name := range d.SyncInputs {
		if slices.Contains(d.SyncOutputs, name) {
			return errors.Wrapf(ErrInvalidSpec,
				"stage %d %s lists %q as both sync input and sync output", p.stage, p.dir, name)
		}
	}
	return nil
}
