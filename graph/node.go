// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"
)

// NodeID is the stable identifier of a node within its Graph, assigned at
// construction time. It is the index of the node in the graph's node order.
type NodeID int

// InvalidNodeID represents a missing node.
const InvalidNodeID = NodeID(-1)

// Attribute is a static (non-tensor) parameter of a node, e.g. the transA
// flag of a MatMul. Which of the value fields is meaningful is a convention
// of the operation.
type Attribute struct {
	Name  string
	Int   int64
	Float float32
	Str   string
}

// IntAttr returns an integer-valued attribute.
func IntAttr(name string, value int64) Attribute {
	return Attribute{Name: name, Int: value}
}

// FloatAttr returns a float-valued attribute.
func FloatAttr(name string, value float32) Attribute {
	return Attribute{Name: name, Float: value}
}

// Node is one operation of a computation graph: an operation type within a
// domain (operator namespace), ordered input tensor names and ordered output
// tensor names.
type Node struct {
	id         NodeID
	name       string
	opType     string
	domain     string
	inputs     []string
	outputs    []string
	attributes []Attribute
}

// ID of the node within its graph.
func (n *Node) ID() NodeID { return n.id }

// Name of the node, unique within its graph.
func (n *Node) Name() string { return n.name }

// OpType is the operation performed by the node.
func (n *Node) OpType() string { return n.opType }

// Domain is the operator namespace of the node. The empty string is the
// default domain.
func (n *Node) Domain() string { return n.domain }

// Inputs returns the ordered input tensor names. The slice is owned by the
// node.
func (n *Node) Inputs() []string { return n.inputs }

// Outputs returns the ordered output tensor names. The slice is owned by the
// node.
func (n *Node) Outputs() []string { return n.outputs }

// Attributes returns the node's static attributes.
func (n *Node) Attributes() []Attribute { return n.attributes }

// IntAttrOr returns the integer attribute with the given name, or
// defaultValue when absent.
func (n *Node) IntAttrOr(name string, defaultValue int64) int64 {
	for _, attr := range n.attributes {
		if attr.Name == name {
			return attr.Int
		}
	}
	return defaultValue
}

// FloatAttrOr returns the float attribute with the given name, or
// defaultValue when absent.
func (n *Node) FloatAttrOr(name string, defaultValue float32) float32 {
	for _, attr := range n.attributes {
		if attr.Name == name {
			return attr.Float
		}
	}
	return defaultValue
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("#%d %s(%s) [%s] -> [%s]",
		n.id, n.name, n.opType,
		strings.Join(n.inputs, ", "), strings.Join(n.outputs, ", "))
}
