// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

// Package engine executes computation graphs node by node, in graph order.
//
// It is a reference executor, not an optimizing runtime: its purpose is to run
// the stage graphs a pipeline split produces, honoring their WaitEvent and
// RecordEvent synchronization, so split and unsplit executions can be compared
// numerically. Engines of different stages share an EventHub (the token
// rendezvous) and a per-microbatch Store (the cross-stage tensor exchange).
package engine

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/ashbhandare/onnxruntime/graph"
	"github.com/ashbhandare/onnxruntime/types/tensor"
)

// Sync node identification. The engine treats these by operation type and
// domain, it does not depend on the pipeline package.
const (
	waitEventOp   = "WaitEvent"
	recordEventOp = "RecordEvent"
	syncDomain    = "com.microsoft"
)

// Engine runs one graph. A single Engine is not safe for concurrent Run
// calls; create one Engine per concurrent invocation instead (they are
// cheap, all heavy state lives in the shared hub and store).
type Engine struct {
	g     *graph.Graph
	hub   *EventHub
	store *Store
}

// New returns an engine for the graph. Without WithEvents the graph must not
// contain sync nodes; without WithStore all inputs must arrive via feeds.
func New(g *graph.Graph) *Engine {
	return &Engine{g: g}
}

// WithEvents attaches the shared event hub and returns the engine.
func (e *Engine) WithEvents(hub *EventHub) *Engine {
	e.hub = hub
	return e
}

// WithStore attaches the shared tensor store and returns the engine.
func (e *Engine) WithStore(store *Store) *Engine {
	e.store = store
	return e
}

// Run executes the graph with the given feeds and returns the requested
// fetches. Feeds take event token inputs (scalar int64) and graph inputs;
// values neither fed nor produced locally are read from the store, where the
// upstream stage published them.
//
// Declared graph outputs are published to the store the moment they are
// produced, before any trailing RecordEvent fires, so a released downstream
// stage observes them even while this invocation is still running.
func (e *Engine) Run(ctx context.Context, feeds map[string]*tensor.Tensor, fetches []string) (map[string]*tensor.Tensor, error) {
	env := make(map[string]*tensor.Tensor, e.g.NumNodes())
	for _, n := range e.g.Nodes() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "running graph %q", e.g.Name())
		}
		var err error
		if n.Domain() == syncDomain && (n.OpType() == waitEventOp || n.OpType() == recordEventOp) {
			err = e.runSyncNode(ctx, n, feeds, env)
		} else {
			err = e.runComputeNode(n, feeds, env)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "running graph %q", e.g.Name())
		}
	}

	results := make(map[string]*tensor.Tensor, len(fetches))
	for _, name := range fetches {
		t, found := e.resolve(name, feeds, env)
		if !found {
			return nil, errors.Errorf("graph %q: fetch %q was not produced", e.g.Name(), name)
		}
		results[name] = t
	}
	return results, nil
}

// resolve looks a value up: locally produced values first, then feeds, then
// graph initializers, and finally the shared store.
func (e *Engine) resolve(name string, feeds, env map[string]*tensor.Tensor) (*tensor.Tensor, bool) {
	if t, found := env[name]; found {
		return t, true
	}
	if t, found := feeds[name]; found {
		return t, true
	}
	if t, found := e.g.Initializer(name); found {
		return t, true
	}
	if e.store != nil {
		if t, found := e.store.Get(name); found {
			return t, true
		}
	}
	return nil, false
}

func (e *Engine) runComputeNode(n *graph.Node, feeds, env map[string]*tensor.Tensor) error {
	op, found := opRegistry[n.OpType()]
	if !found {
		return errors.Errorf("node %q: unsupported op type %q", n.Name(), n.OpType())
	}
	inputs := make([]*tensor.Tensor, len(n.Inputs()))
	for ii, name := range n.Inputs() {
		t, ok := e.resolve(name, feeds, env)
		if !ok {
			return errors.Errorf("node %q: input %q is not available", n.Name(), name)
		}
		inputs[ii] = t
	}
	outputs, err := op(n, inputs)
	if err != nil {
		return err
	}
	if len(outputs) != len(n.Outputs()) {
		return errors.Errorf("node %q: op %s produced %d outputs, node declares %d",
			n.Name(), n.OpType(), len(outputs), len(n.Outputs()))
	}
	for ii, name := range n.Outputs() {
		e.publish(name, outputs[ii], env)
	}
	klog.V(2).Infof("graph %q: node %s done", e.g.Name(), n)
	return nil
}

// runSyncNode handles WaitEvent and RecordEvent.
//
// Both have the layout [event, value...] -> [value...]: input 0 is the scalar
// int64 event token, inputs 1..len(outputs) pass through to the outputs under
// their renamed names, and any further inputs are ordering-only dependencies
// the engine's sequential execution already satisfies.
//
// A wait blocks on the hub before resolving its value inputs, which an
// upstream stage publishes to the store; a record passes its values through
// first and signals the hub last.
func (e *Engine) runSyncNode(ctx context.Context, n *graph.Node, feeds, env map[string]*tensor.Tensor) error {
	if e.hub == nil {
		return errors.Errorf("node %q: graph contains sync nodes but the engine has no event hub", n.Name())
	}
	inputs := n.Inputs()
	if len(inputs) < 1+len(n.Outputs()) {
		return errors.Errorf("node %q: %s needs an event input and one input per output, got %d inputs for %d outputs",
			n.Name(), n.OpType(), len(inputs), len(n.Outputs()))
	}
	eventT, found := e.resolve(inputs[0], feeds, env)
	if !found {
		return errors.Errorf("node %q: event input %q was not fed", n.Name(), inputs[0])
	}
	if eventT.DType() != tensor.Int64 || !eventT.Shape().IsScalar() {
		return errors.Errorf("node %q: event input %q must be a scalar int64, got %s",
			n.Name(), inputs[0], eventT.Shape())
	}
	token := eventT.ScalarInt64()

	if n.OpType() == waitEventOp {
		klog.V(2).Infof("graph %q: node %q waiting on token %d", e.g.Name(), n.Name(), token)
		if err := e.hub.Wait(ctx, token); err != nil {
			return errors.WithMessagef(err, "node %q", n.Name())
		}
	}
	for ii, name := range n.Outputs() {
		t, ok := e.resolve(inputs[1+ii], feeds, env)
		if !ok {
			return errors.Errorf("node %q: value %q is not available after wait", n.Name(), inputs[1+ii])
		}
		e.publish(name, t, env)
	}
	if n.OpType() == recordEventOp && token != NoEvent {
		klog.V(2).Infof("graph %q: node %q recording token %d", e.g.Name(), n.Name(), token)
		if err := e.hub.Record(token); err != nil {
			return errors.WithMessagef(err, "node %q", n.Name())
		}
	}
	return nil
}

// publish stores a produced value in the local environment and, when it is a
// declared graph output, in the shared store.
func (e *Engine) publish(name string, t *tensor.Tensor, env map[string]*tensor.Tensor) {
	env[name] = t
	if e.store == nil {
		return
	}
	if _, isOutput := e.g.Output(name); isOutput {
		e.store.Put(name, t)
	}
}
