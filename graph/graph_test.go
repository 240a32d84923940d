// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"bytes"
	"encoding/gob"
	"path/filepath"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashbhandare/onnxruntime/types/tensor"
)

func buildSmallGraph() *Graph {
	g := New("small")
	shape := tensor.Make(tensor.Float32, 1, 4)
	g.AddInput(ValueInfo{Name: "X", Shape: shape})
	g.AddInitializer("W", tensor.FromFlatFloat32([]float32{1, 0, 0, 1, 1, 0, 0, 1, 1, 0, 0, 1, 1, 0, 0, 1}, 4, 4))
	g.AddNode("matmul", "MatMul", "", []string{"X", "W"}, []string{"Y"})
	g.AddNode("relu", "Relu", "", []string{"Y"}, []string{"Z"})
	g.AddOutput(ValueInfo{Name: "Z", Shape: shape})
	g.AddValueInfo(ValueInfo{Name: "Y", Shape: shape})
	return g
}

func TestGraphBuild(t *testing.T) {
	g := buildSmallGraph()
	assert.Equal(t, 2, g.NumNodes())

	n, found := g.NodeByName("relu")
	require.True(t, found)
	assert.Equal(t, NodeID(1), n.ID())
	assert.Same(t, n, g.NodeByID(n.ID()))
	assert.Nil(t, g.NodeByID(NodeID(99)))

	// The node name is the stable external key: duplicates are rejected.
	err := exceptions.TryCatch[error](func() {
		g.AddNode("relu", "Relu", "", []string{"Z"}, []string{"ZZ"})
	})
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() {
		g.AddNode("", "Relu", "", []string{"Z"}, []string{"ZZ"})
	})
	require.Error(t, err)

	// Duplicate value declarations are no-ops.
	assert.True(t, g.AddInput(ValueInfo{Name: "X"}))
	assert.True(t, g.AddOutput(ValueInfo{Name: "Z"}))
	assert.True(t, g.AddValueInfo(ValueInfo{Name: "Y"}))
}

func TestGraphValueShape(t *testing.T) {
	g := buildSmallGraph()
	for _, name := range []string{"X", "Y", "Z", "W"} {
		shape, found := g.ValueShape(name)
		assert.True(t, found, "value %q", name)
		assert.True(t, shape.Ok(), "value %q", name)
	}
	_, found := g.ValueShape("nope")
	assert.False(t, found)
}

func TestGraphValidate(t *testing.T) {
	require.NoError(t, buildSmallGraph().Validate())

	// A node consuming a tensor produced only later is not topologically
	// valid.
	g := New("out_of_order")
	g.AddNode("second", "Relu", "", []string{"first_out"}, []string{"second_out"})
	g.AddNode("first", "Relu", "", []string{"X"}, []string{"first_out"})
	g.AddInput(ValueInfo{Name: "X", Shape: tensor.Make(tensor.Float32, 1)})
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not self-contained")

	// A declared output nothing produces.
	g = New("missing_output")
	g.AddInput(ValueInfo{Name: "X", Shape: tensor.Make(tensor.Float32, 1)})
	g.AddOutput(ValueInfo{Name: "Y", Shape: tensor.Make(tensor.Float32, 1)})
	err = g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no node produces")
}

func TestGraphGobRoundTrip(t *testing.T) {
	original := buildSmallGraph()
	var buf bytes.Buffer
	require.NoError(t, original.GobSerialize(gob.NewEncoder(&buf)))

	recovered, err := GobDeserialize(gob.NewDecoder(&buf))
	require.NoError(t, err)
	require.NoError(t, recovered.Validate())
	assert.Equal(t, original.Name(), recovered.Name())
	assert.Equal(t, original.NumNodes(), recovered.NumNodes())
	for ii, n := range original.Nodes() {
		r := recovered.Nodes()[ii]
		assert.Equal(t, n.Name(), r.Name())
		assert.Equal(t, n.OpType(), r.OpType())
		assert.Equal(t, n.Inputs(), r.Inputs())
		assert.Equal(t, n.Outputs(), r.Outputs())
	}
	assert.Equal(t, original.Inputs(), recovered.Inputs())
	assert.Equal(t, original.Outputs(), recovered.Outputs())
	assert.Equal(t, original.ValueInfos(), recovered.ValueInfos())
	require.Len(t, recovered.Initializers(), 1)
	w, found := recovered.Initializer("W")
	require.True(t, found)
	wOrig, _ := original.Initializer("W")
	assert.True(t, wOrig.Equal(w))

	// Serialization is deterministic.
	var buf2 bytes.Buffer
	require.NoError(t, original.GobSerialize(gob.NewEncoder(&buf2)))
	var buf3 bytes.Buffer
	require.NoError(t, recovered.GobSerialize(gob.NewEncoder(&buf3)))
	assert.Equal(t, buf2.Bytes(), buf3.Bytes())
}

func TestGraphSaveLoad(t *testing.T) {
	g := buildSmallGraph()
	path := filepath.Join(t.TempDir(), "small.bin")
	require.NoError(t, g.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())
	assert.Equal(t, g.NumNodes(), loaded.NumNodes())

	_, err = Load(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
}
