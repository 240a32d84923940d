// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

// Package graph models a computation graph: an ordered sequence of nodes plus
// the initializers (named constant tensors), declared graph inputs/outputs and
// value metadata the nodes refer to.
//
// The invariant maintained throughout is topological validity: every node
// input resolves to an initializer, a declared graph input, or the output of
// an earlier node in the same graph. Graph.Validate checks it.
//
// Nodes carry a stable NodeID assigned at construction time; external
// references to nodes (for example a pipeline cut specification) should use
// the node name or its NodeID, never a derived surrogate such as "the name of
// the first output".
//
// A Graph is built once and then treated as immutable; the pipeline package
// builds new graphs from existing ones instead of mutating them in place.
package graph

import (
	"encoding/gob"
	"os"

	"github.com/ashbhandare/onnxruntime/types/tensor"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ValueInfo declares the shape metadata of a named value: a graph input,
// a graph output or an intermediate tensor.
type ValueInfo struct {
	Name  string
	Shape tensor.Shape
}

// Initializer is a named constant tensor owned by the graph.
type Initializer struct {
	Name  string
	Value *tensor.Tensor
}

// Graph holds an ordered sequence of nodes and the values they refer to.
type Graph struct {
	name  string
	nodes []*Node

	initializers []Initializer
	inputs       []ValueInfo
	outputs      []ValueInfo
	valueInfos   []ValueInfo

	nodesByName      map[string]*Node
	initializerIndex map[string]int
	inputIndex       map[string]int
	outputIndex      map[string]int
	valueInfoIndex   map[string]int
}

// New creates an empty Graph with the given name.
func New(name string) *Graph {
	return &Graph{
		name:             name,
		nodesByName:      make(map[string]*Node),
		initializerIndex: make(map[string]int),
		inputIndex:       make(map[string]int),
		outputIndex:      make(map[string]int),
		valueInfoIndex:   make(map[string]int),
	}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Nodes returns the graph's nodes in order. The slice is owned by the graph.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NodeByID returns the node with the given id, or nil if out of range.
func (g *Graph) NodeByID(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// NodeByName returns the node with the given name.
func (g *Graph) NodeByName(name string) (*Node, bool) {
	n, found := g.nodesByName[name]
	return n, found
}

// AddNode appends a node to the graph, assigning it the next NodeID.
//
// The node name must be non-empty and unique within the graph: it is the
// stable key external references use. It panics (with a throwable error, see
// github.com/gomlx/exceptions) on an invalid or duplicate name.
func (g *Graph) AddNode(name, opType, domain string, inputs, outputs []string, attributes ...Attribute) *Node {
	if name == "" {
		exceptions.Panicf("graph %q: node of type %q needs a non-empty name", g.name, opType)
	}
	if _, found := g.nodesByName[name]; found {
		exceptions.Panicf("graph %q: duplicate node name %q", g.name, name)
	}
	n := &Node{
		id:         NodeID(len(g.nodes)),
		name:       name,
		opType:     opType,
		domain:     domain,
		inputs:     inputs,
		outputs:    outputs,
		attributes: attributes,
	}
	g.nodes = append(g.nodes, n)
	g.nodesByName[name] = n
	return n
}

// AddInitializer registers a named constant tensor. Adding the same name
// twice is a no-op (the first value wins), matching the deduplication
// performed when stages copy initializers from the main graph.
func (g *Graph) AddInitializer(name string, value *tensor.Tensor) {
	if _, found := g.initializerIndex[name]; found {
		return
	}
	g.initializerIndex[name] = len(g.initializers)
	g.initializers = append(g.initializers, Initializer{Name: name, Value: value})
}

// Initializer returns the constant tensor registered under name.
func (g *Graph) Initializer(name string) (*tensor.Tensor, bool) {
	idx, found := g.initializerIndex[name]
	if !found {
		return nil, false
	}
	return g.initializers[idx].Value, true
}

// Initializers returns the registered initializers in insertion order.
func (g *Graph) Initializers() []Initializer { return g.initializers }

// AddInput declares a graph input. Duplicate names are ignored.
// It reports whether the input was already declared.
func (g *Graph) AddInput(v ValueInfo) (existed bool) {
	if _, found := g.inputIndex[v.Name]; found {
		return true
	}
	g.inputIndex[v.Name] = len(g.inputs)
	g.inputs = append(g.inputs, v)
	return false
}

// Input returns the declared graph input with the given name.
func (g *Graph) Input(name string) (ValueInfo, bool) {
	idx, found := g.inputIndex[name]
	if !found {
		return ValueInfo{}, false
	}
	return g.inputs[idx], true
}

// Inputs returns the declared graph inputs in declaration order.
func (g *Graph) Inputs() []ValueInfo { return g.inputs }

// AddOutput declares a graph output. Duplicate names are ignored.
func (g *Graph) AddOutput(v ValueInfo) (existed bool) {
	if _, found := g.outputIndex[v.Name]; found {
		return true
	}
	g.outputIndex[v.Name] = len(g.outputs)
	g.outputs = append(g.outputs, v)
	return false
}

// Output returns the declared graph output with the given name.
func (g *Graph) Output(name string) (ValueInfo, bool) {
	idx, found := g.outputIndex[name]
	if !found {
		return ValueInfo{}, false
	}
	return g.outputs[idx], true
}

// Outputs returns the declared graph outputs in declaration order.
func (g *Graph) Outputs() []ValueInfo { return g.outputs }

// AddValueInfo registers shape metadata for an intermediate value.
// Duplicate names are ignored.
func (g *Graph) AddValueInfo(v ValueInfo) (existed bool) {
	if _, found := g.valueInfoIndex[v.Name]; found {
		return true
	}
	g.valueInfoIndex[v.Name] = len(g.valueInfos)
	g.valueInfos = append(g.valueInfos, v)
	return false
}

// ValueInfoByName returns the registered metadata for an intermediate value.
func (g *Graph) ValueInfoByName(name string) (ValueInfo, bool) {
	idx, found := g.valueInfoIndex[name]
	if !found {
		return ValueInfo{}, false
	}
	return g.valueInfos[idx], true
}

// ValueInfos returns the intermediate value metadata in registration order.
func (g *Graph) ValueInfos() []ValueInfo { return g.valueInfos }

// ValueShape looks up the shape of a named value anywhere in the graph:
// intermediate metadata, declared inputs, declared outputs, and finally
// initializers.
func (g *Graph) ValueShape(name string) (tensor.Shape, bool) {
	if v, found := g.ValueInfoByName(name); found {
		return v.Shape, true
	}
	if v, found := g.Input(name); found {
		return v.Shape, true
	}
	if v, found := g.Output(name); found {
		return v.Shape, true
	}
	if t, found := g.Initializer(name); found {
		return t.Shape(), true
	}
	return tensor.Shape{}, false
}

// Validate checks self-containment and topological validity: every node input
// must resolve to an initializer, a declared graph input, or the output of an
// earlier node; and every declared graph output must be produced.
func (g *Graph) Validate() error {
	known := make(map[string]bool, len(g.initializers)+len(g.inputs)+len(g.nodes))
	for _, init := range g.initializers {
		known[init.Name] = true
	}
	for _, in := range g.inputs {
		known[in.Name] = true
	}
	for _, n := range g.nodes {
		for _, in := range n.Inputs() {
			if !known[in] {
				return errors.Errorf(
					"graph %q is not self-contained: input %q of node %q (%s) is not an initializer, graph input or earlier node output",
					g.name, in, n.Name(), n.OpType())
			}
		}
		for _, out := range n.Outputs() {
			known[out] = true
		}
	}
	for _, out := range g.outputs {
		if !known[out.Name] {
			return errors.Errorf("graph %q declares output %q which no node produces", g.name, out.Name)
		}
	}
	return nil
}

// GobSerialize the graph in binary format.
//
// The encoding is deterministic: all components are written in their
// insertion order, so serializing the same graph twice yields identical
// bytes.
func (g *Graph) GobSerialize(encoder *gob.Encoder) (err error) {
	enc := func(e any) {
		if err != nil {
			return
		}
		err = encoder.Encode(e)
		if err != nil {
			err = errors.Wrapf(err, "failed to serialize graph %q", g.name)
		}
	}
	enc(g.name)
	enc(len(g.nodes))
	if err != nil {
		return
	}
	for _, n := range g.nodes {
		enc(n.name)
		enc(n.opType)
		enc(n.domain)
		enc(n.inputs)
		enc(n.outputs)
		enc(n.attributes)
	}
	enc(g.inputs)
	enc(g.outputs)
	enc(g.valueInfos)
	enc(len(g.initializers))
	if err != nil {
		return
	}
	for _, init := range g.initializers {
		enc(init.Name)
		if err != nil {
			return
		}
		err = init.Value.GobSerialize(encoder)
		if err != nil {
			return
		}
	}
	return
}

// GobDeserialize a Graph from the decoder.
func GobDeserialize(decoder *gob.Decoder) (g *Graph, err error) {
	dec := func(data any) {
		if err != nil {
			return
		}
		err = decoder.Decode(data)
		if err != nil {
			err = errors.Wrapf(err, "failed to deserialize graph")
		}
	}
	var name string
	dec(&name)
	if err != nil {
		return
	}
	g = New(name)
	var numNodes int
	dec(&numNodes)
	for ii := 0; ii < numNodes && err == nil; ii++ {
		var nodeName, opType, domain string
		var inputs, outputs []string
		var attributes []Attribute
		dec(&nodeName)
		dec(&opType)
		dec(&domain)
		dec(&inputs)
		dec(&outputs)
		dec(&attributes)
		if err != nil {
			break
		}
		g.AddNode(nodeName, opType, domain, inputs, outputs, attributes...)
	}
	var inputs, outputs, valueInfos []ValueInfo
	dec(&inputs)
	dec(&outputs)
	dec(&valueInfos)
	var numInitializers int
	dec(&numInitializers)
	if err != nil {
		g = nil
		return
	}
	for _, v := range inputs {
		g.AddInput(v)
	}
	for _, v := range outputs {
		g.AddOutput(v)
	}
	for _, v := range valueInfos {
		g.AddValueInfo(v)
	}
	for ii := 0; ii < numInitializers; ii++ {
		var initName string
		dec(&initName)
		if err != nil {
			g = nil
			return
		}
		var value *tensor.Tensor
		value, err = tensor.GobDeserialize(decoder)
		if err != nil {
			g = nil
			return
		}
		g.AddInitializer(initName, value)
	}
	return
}

// Save the graph to the given file path.
func (g *Graph) Save(filePath string) (err error) {
	var f *os.File
	f, err = os.Create(filePath)
	if err != nil {
		err = errors.Wrapf(err, "creating %q to save graph", filePath)
		return
	}
	enc := gob.NewEncoder(f)
	err = g.GobSerialize(enc)
	if err != nil {
		err = errors.WithMessagef(err, "saving graph to %q", filePath)
		_ = f.Close()
		return
	}
	err = f.Close()
	if err != nil {
		err = errors.Wrapf(err, "closing %q, where graph was saved", filePath)
	}
	return
}

// Load a graph from the file path given.
func Load(filePath string) (g *Graph, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		err = errors.Wrapf(err, "opening %q to load graph", filePath)
		return
	}
	dec := gob.NewDecoder(f)
	g, err = GobDeserialize(dec)
	if err != nil {
		err = errors.WithMessagef(err, "loading graph from %q", filePath)
		_ = f.Close()
		return
	}
	_ = f.Close()
	return
}
