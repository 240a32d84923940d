// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"slices"

	"github.com/ashbhandare/onnxruntime/graph"
	"github.com/ashbhandare/onnxruntime/types/tensor"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Operator names and namespace of the synthesized synchronization nodes.
//
// A WaitEvent node blocks its invocation until the event token fed to its
// first input has been recorded; a RecordEvent node signals its token.
// Both pass their remaining data inputs through to their outputs unchanged.
const (
	WaitEventOp   = "WaitEvent"
	RecordEventOp = "RecordEvent"
	SyncDomain    = "com.microsoft"
)

// Split partitions the main graph into one self-contained Artifact per stage
// of the cut specification.
//
// Nodes are copied in main-graph order into their assigned stage, so every
// sub-graph remains topologically valid without re-sorting. Initializers
// referenced by a stage are copied into it (each artifact owns its copies).
// Wait and record sync nodes are inserted at each stage's entry and exit as
// described by the cut specification's sync sets.
//
// Split is all-or-nothing: on any error no artifact is returned. The main
// graph is never modified.
func Split(main *graph.Graph, spec *CutSpec) (artifacts []*Artifact, err error) {
	err = exceptions.TryCatch[error](func() {
		artifacts, err = split(main, spec)
	})
	if err != nil {
		artifacts = nil
	}
	return
}

func split(main *graph.Graph, spec *CutSpec) ([]*Artifact, error) {
	assignment, err := spec.assign(main)
	if err != nil {
		return nil, err
	}
	first, _ := spec.firstDirection()
	terminal, _ := spec.terminalDirection()

	builders := make([]*stageBuilder, spec.NumStages())
	for s := range builders {
		builders[s] = &stageBuilder{
			stage:    s,
			sub:      graph.New(fmt.Sprintf("%s_stage%d", main.Name(), s)),
			produced: make(map[string]bool),
		}
		// The forward entry boundary is synthesized up front; the backward
		// one waits until its first node is reached mid-scan.
		err = builders[s].fillInputWait(main, &spec.Stages[s].Forward, Forward,
			first == placement{s, Forward})
		if err != nil {
			return nil, err
		}
	}

	for _, n := range main.Nodes() {
		p := assignment[n.ID()]
		b := builders[p.stage]
		stageSpec := &spec.Stages[p.stage]
		d := spec.direction(p)

		if p.dir == Backward && n.ID() == d.Nodes[0] {
			err = b.fillInputWait(main, d, Backward, first == p)
			if err != nil {
				return nil, err
			}
		}

		b.addNode(n.Name(), n.OpType(), n.Domain(),
			slices.Clone(n.Inputs()), slices.Clone(n.Outputs()), n.Attributes()...)
		if err = b.carryOverInputs(main, stageSpec, n); err != nil {
			return nil, err
		}
		b.registerOutputs(main, stageSpec, n)

		if n.ID() == d.Nodes[len(d.Nodes)-1] {
			err = b.fillOutputRecord(main, d, p.dir, terminal == p)
			if err != nil {
				return nil, err
			}
		}
	}

	artifacts := make([]*Artifact, len(builders))
	for s, b := range builders {
		if err = b.sub.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "stage %d sub-graph failed assembly check", s)
		}
		artifacts[s] = &Artifact{Stage: s, Graph: b.sub, Events: b.events}
		klog.V(1).Infof("pipeline stage %d: %d nodes, %d initializers, %d event inputs",
			s, b.sub.NumNodes(), len(b.sub.Initializers()), len(b.events))
	}
	return artifacts, nil
}

// stageBuilder accumulates one stage's sub-graph during the linear scan.
type stageBuilder struct {
	stage    int
	sub      *graph.Graph
	produced map[string]bool // tensor names produced by nodes already copied
	events   []EventSlot
}

func (b *stageBuilder) addNode(name, opType, domain string, inputs, outputs []string, attrs ...graph.Attribute) {
	b.sub.AddNode(name, opType, domain, inputs, outputs, attrs...)
	for _, out := range outputs {
		b.produced[out] = true
	}
}

// declareEventInput adds the scalar int64 artifact input for an event token
// and records its slot.
func (b *stageBuilder) declareEventInput(name string, role EventRole, channel EventChannel, dir Direction) {
	b.sub.AddInput(graph.ValueInfo{Name: name, Shape: tensor.Scalar(tensor.Int64)})
	b.events = append(b.events, EventSlot{
		Name:      name,
		Role:      role,
		Channel:   channel,
		Stage:     b.stage,
		Direction: dir,
	})
}

// carryOverInputs resolves the inputs of a node copied from the main graph:
// initializers are duplicated into the stage, sync inputs are left to the
// wait nodes, anything not yet produced inside the stage becomes an artifact
// input.
func (b *stageBuilder) carryOverInputs(main *graph.Graph, stageSpec *StageSpec, n *graph.Node) error {
	for _, in := range n.Inputs() {
		if value, isInit := main.Initializer(in); isInit {
			b.sub.AddInitializer(in, value.Clone())
			continue
		}
		if slices.Contains(stageSpec.Forward.SyncInputs, in) ||
			slices.Contains(stageSpec.Backward.SyncInputs, in) {
			continue
		}
		if b.produced[in] {
			continue
		}
		if v, isGraphInput := main.Input(in); isGraphInput {
			b.sub.AddInput(v)
			continue
		}
		// An external dependency from the middle of the main graph, crossing
		// the stage boundary without a declared sync set.
		shape, found := main.ValueShape(in)
		if !found {
			return errors.Wrapf(ErrUnresolvableReference,
				"input %q of node %q has no metadata to carry into stage %d", in, n.Name(), b.stage)
		}
		b.sub.AddInput(graph.ValueInfo{Name: in, Shape: shape})
	}
	return nil
}

// registerOutputs declares the copied node's outputs on the sub-graph: sync
// outputs are handled by the record nodes, main-graph outputs stay outputs,
// and anything else keeps its value metadata when the main graph has it.
func (b *stageBuilder) registerOutputs(main *graph.Graph, stageSpec *StageSpec, n *graph.Node) {
	for _, out := range n.Outputs() {
		if slices.Contains(stageSpec.Forward.SyncOutputs, out) ||
			slices.Contains(stageSpec.Backward.SyncOutputs, out) {
			continue
		}
		if v, isGraphOutput := main.Output(out); isGraphOutput {
			b.sub.AddOutput(v)
			continue
		}
		if v, found := main.ValueInfoByName(out); found {
			b.sub.AddValueInfo(v)
		}
	}
}

// fillInputWait synthesizes the stage-entry boundary of one direction: an
// optional data-wait node followed by a pipeline-wait node.
//
// The data-wait consumes the "_sync"-renamed cross-stage inputs and produces
// "_recv"-renamed tensors; the pipeline-wait consumes those (or the "_sync"
// names directly when there is no data-wait, as in the pipeline's first
// direction) and produces the original tensor names the stage's compute nodes
// consume. Data readiness and execution order stay separate concerns so a
// transport node can later slot in between the two waits.
func (b *stageBuilder) fillInputWait(main *graph.Graph, d *DirectionSpec, dir Direction, isFirst bool) error {
	if len(d.SyncInputs)+len(d.WaitDepends) == 0 {
		return nil
	}
	waitDataName := eventInputName(EventWait, ChannelData, b.stage, dir)
	waitPipelineName := eventInputName(EventWait, ChannelPipeline, b.stage, dir)
	hasDataWait := !isFirst

	var dataInputs, dataOutputs []string
	pipeInputs := []string{waitPipelineName}
	var pipeOutputs []string
	if hasDataWait {
		dataInputs = []string{waitDataName}
	}

	for _, name := range d.SyncInputs {
		syncName := name + "_sync"
		recvName := name + "_recv"
		if hasDataWait {
			dataInputs = append(dataInputs, syncName)
			dataOutputs = append(dataOutputs, recvName)
			pipeInputs = append(pipeInputs, recvName)
		} else {
			pipeInputs = append(pipeInputs, syncName)
		}
		pipeOutputs = append(pipeOutputs, name)

		if v, isGraphInput := main.Input(name); isGraphInput {
			// A true main-graph input arriving through the sync boundary is
			// only meaningful at the pipeline's entry point.
			if !isFirst {
				return errors.Wrapf(ErrInvalidSpec,
					"stage %d %s: sync input %q is a main graph input; only the pipeline's first direction may receive it",
					b.stage, dir, name)
			}
			b.sub.AddInput(graph.ValueInfo{Name: syncName, Shape: v.Shape})
			b.sub.AddValueInfo(graph.ValueInfo{Name: name, Shape: v.Shape})
			continue
		}
		shape, found := main.ValueShape(name)
		if !found {
			return errors.Wrapf(ErrUnresolvableReference,
				"stage %d %s: no metadata for sync input %q", b.stage, dir, name)
		}
		b.sub.AddInput(graph.ValueInfo{Name: syncName, Shape: shape})
		if hasDataWait {
			b.sub.AddValueInfo(graph.ValueInfo{Name: recvName, Shape: shape})
		}
		b.sub.AddValueInfo(graph.ValueInfo{Name: name, Shape: shape})
	}

	// Ordering-only dependencies gate the first wait of the chain.
	if hasDataWait {
		dataInputs = append(dataInputs, d.WaitDepends...)
	} else {
		pipeInputs = append(pipeInputs, d.WaitDepends...)
	}

	if hasDataWait {
		b.addNode(waitDataName, WaitEventOp, SyncDomain, dataInputs, dataOutputs)
		b.declareEventInput(waitDataName, EventWait, ChannelData, dir)
	}
	b.addNode(waitPipelineName, WaitEventOp, SyncDomain, pipeInputs, pipeOutputs)
	b.declareEventInput(waitPipelineName, EventWait, ChannelPipeline, dir)
	return nil
}

// fillOutputRecord synthesizes the stage-exit boundary of one direction: a
// pipeline-record node, chained into a data-record node except at the
// pipeline's terminal direction.
//
// The pipeline-record consumes the sync outputs under their original names
// (plus the ordering-only record dependencies) and produces "_send"-renamed
// tensors; the data-record turns those into the final "_sync" names the next
// stage's wait consumes. At the terminal direction the pipeline-record
// produces the "_sync" names directly.
func (b *stageBuilder) fillOutputRecord(main *graph.Graph, d *DirectionSpec, dir Direction, isTerminal bool) error {
	if len(d.SyncOutputs)+len(d.RecordDepends) == 0 {
		return nil
	}
	recordPipelineName := eventInputName(EventRecord, ChannelPipeline, b.stage, dir)
	recordDataName := eventInputName(EventRecord, ChannelData, b.stage, dir)
	hasDataRecord := !isTerminal

	pipeInputs := []string{recordPipelineName}
	var pipeOutputs []string
	dataInputs := []string{recordDataName}
	var dataOutputs []string

	for _, name := range d.SyncOutputs {
		pipeInputs = append(pipeInputs, name)
		if hasDataRecord {
			pipeOutputs = append(pipeOutputs, name+"_send")
			dataInputs = append(dataInputs, name+"_send")
			dataOutputs = append(dataOutputs, name+"_sync")
		} else {
			pipeOutputs = append(pipeOutputs, name+"_sync")
		}
	}
	pipeInputs = append(pipeInputs, d.RecordDepends...)

	b.addNode(recordPipelineName, RecordEventOp, SyncDomain, pipeInputs, pipeOutputs)
	b.declareEventInput(recordPipelineName, EventRecord, ChannelPipeline, dir)
	if hasDataRecord {
		b.addNode(recordDataName, RecordEventOp, SyncDomain, dataInputs, dataOutputs)
		b.declareEventInput(recordDataName, EventRecord, ChannelData, dir)
	}

	for _, name := range d.SyncOutputs {
		shape, found := main.ValueShape(name)
		if !found {
			return errors.Wrapf(ErrUnresolvableReference,
				"stage %d %s: no metadata for sync output %q", b.stage, dir, name)
		}
		b.sub.AddOutput(graph.ValueInfo{Name: name + "_sync", Shape: shape})
		if hasDataRecord {
			b.sub.AddValueInfo(graph.ValueInfo{Name: name + "_send", Shape: shape})
		}
		b.sub.AddValueInfo(graph.ValueInfo{Name: name, Shape: shape})
	}
	return nil
}
