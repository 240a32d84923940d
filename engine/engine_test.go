// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashbhandare/onnxruntime/graph"
	"github.com/ashbhandare/onnxruntime/graph/graphtest"
	"github.com/ashbhandare/onnxruntime/types/tensor"
)

func TestEventHub(t *testing.T) {
	hub := NewEventHub()
	ctx := context.Background()

	// A wait after the record returns immediately.
	require.NoError(t, hub.Record(7))
	require.NoError(t, hub.Wait(ctx, 7))

	// NoEvent never blocks.
	require.NoError(t, hub.Wait(ctx, NoEvent))

	// A wait before the record blocks until the record arrives.
	released := make(chan error, 1)
	go func() {
		released <- hub.Wait(ctx, 8)
	}()
	select {
	case <-released:
		t.Fatal("wait on an unrecorded token returned early")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, hub.Record(8))
	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not release after record")
	}

	// Double record is a scheduling error.
	require.Error(t, hub.Record(7))

	// A canceled context aborts the wait.
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, hub.Wait(canceled, 9))
}

func TestStore(t *testing.T) {
	store := NewStore()
	_, found := store.Get("x")
	assert.False(t, found)
	value := tensor.FromFlatFloat32([]float32{1, 2}, 1, 2)
	store.Put("x", value)
	got, found := store.Get("x")
	require.True(t, found)
	assert.True(t, value.Equal(got))
}

func TestOps(t *testing.T) {
	g := graph.New("ops")
	run := func(n *graph.Node, inputs ...*tensor.Tensor) *tensor.Tensor {
		op, found := opRegistry[n.OpType()]
		require.True(t, found, "op %q", n.OpType())
		outputs, err := op(n, inputs)
		require.NoError(t, err)
		require.Len(t, outputs, 1)
		return outputs[0]
	}

	a := tensor.FromFlatFloat32([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := tensor.FromFlatFloat32([]float32{1, 0, 0, 1, 1, 1}, 3, 2)

	matmul := g.AddNode("matmul", "MatMul", "", []string{"a", "b"}, []string{"y"})
	y := run(matmul, a, b)
	assert.Equal(t, []float32{4, 5, 10, 11}, y.Float32s())
	assert.Equal(t, tensor.Make(tensor.Float32, 2, 2), y.Shape())

	// dW = Xᵀ·dY via transA.
	matmulTA := g.AddNode("matmul_ta", "MatMul", "", []string{"a", "dy"}, []string{"dw"},
		graph.IntAttr("transA", 1))
	dy := tensor.FromFlatFloat32([]float32{1, 0, 0, 1}, 2, 2)
	dw := run(matmulTA, a, dy)
	assert.Equal(t, tensor.Make(tensor.Float32, 3, 2), dw.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, dw.Float32s())

	// dX = dY·Wᵀ via transB.
	matmulTB := g.AddNode("matmul_tb", "MatMul", "", []string{"dy", "b"}, []string{"dx"},
		graph.IntAttr("transB", 1))
	dx := run(matmulTB, dy, b)
	assert.Equal(t, tensor.Make(tensor.Float32, 2, 3), dx.Shape())
	assert.Equal(t, []float32{1, 0, 1, 0, 1, 1}, dx.Float32s())

	add := g.AddNode("add", "Add", "", []string{"a", "b"}, []string{"y2"})
	c := tensor.FromFlatFloat32([]float32{10, 20, 30, 40, 50, 60}, 2, 3)
	assert.Equal(t, []float32{11, 22, 33, 44, 55, 66}, run(add, a, c).Float32s())

	sub := g.AddNode("sub", "Sub", "", []string{"a", "b"}, []string{"y3"})
	assert.Equal(t, []float32{9, 18, 27, 36, 45, 54}, run(sub, c, a).Float32s())

	mul := g.AddNode("mul", "Mul", "", []string{"a", "a"}, []string{"y4"})
	assert.Equal(t, []float32{1, 4, 9, 16, 25, 36}, run(mul, a, a).Float32s())

	relu := g.AddNode("relu", "Relu", "", []string{"x"}, []string{"y5"})
	x := tensor.FromFlatFloat32([]float32{-1, 0, 2, -3}, 2, 2)
	assert.Equal(t, []float32{0, 0, 2, 0}, run(relu, x).Float32s())

	reluGrad := g.AddNode("relu_grad", "ReluGrad", "", []string{"dy", "x"}, []string{"y6"})
	grad := tensor.FromFlatFloat32([]float32{5, 6, 7, 8}, 2, 2)
	assert.Equal(t, []float32{0, 0, 7, 0}, run(reluGrad, grad, x).Float32s())

	mean := g.AddNode("mean", "ReduceMean", "", []string{"x"}, []string{"y7"})
	m := run(mean, tensor.FromFlatFloat32([]float32{1, 2, 3, 4}, 2, 2))
	require.True(t, m.Shape().IsScalar())
	assert.InDelta(t, 2.5, m.Float32s()[0], 1e-6)

	scale := g.AddNode("scale", "Scale", "", []string{"x"}, []string{"y8"},
		graph.FloatAttr("scale", 0.5))
	assert.Equal(t, []float32{0.5, 1, 1.5, 2}, run(scale, tensor.FromFlatFloat32([]float32{1, 2, 3, 4}, 2, 2)).Float32s())

	identity := g.AddNode("identity", "Identity", "", []string{"x"}, []string{"y9"})
	assert.Same(t, x, run(identity, x))
}

func TestOpErrors(t *testing.T) {
	g := graph.New("op_errors")
	a := tensor.FromFlatFloat32([]float32{1, 2}, 1, 2)
	b := tensor.FromFlatFloat32([]float32{1, 2, 3}, 1, 3)

	add := g.AddNode("add", "Add", "", []string{"a", "b"}, []string{"y"})
	_, err := opRegistry["Add"](add, []*tensor.Tensor{a, b})
	require.Error(t, err)

	matmul := g.AddNode("matmul", "MatMul", "", []string{"a", "b"}, []string{"y2"})
	_, err = opRegistry["MatMul"](matmul, []*tensor.Tensor{a, a})
	require.Error(t, err)
	_, err = opRegistry["MatMul"](matmul, []*tensor.Tensor{a})
	require.Error(t, err)
}

func TestEngineRun(t *testing.T) {
	g := graphtest.BuildMLPTraining(17)
	e := New(g)
	x, labels := graphtest.RandomInput(0)
	results, err := e.Run(context.Background(),
		map[string]*tensor.Tensor{"X": x, "labels": labels},
		[]string{"loss", "predictions", "W1_grad"})
	require.NoError(t, err)

	loss := results["loss"]
	require.True(t, loss.Shape().IsScalar())
	assert.Greater(t, loss.Float32s()[0], float32(0))
	assert.Equal(t, tensor.Make(tensor.Float32, 1, graphtest.MLPOutputDim), results["predictions"].Shape())
	assert.Equal(t, tensor.Make(tensor.Float32, graphtest.MLPInputDim, graphtest.MLPHidden1), results["W1_grad"].Shape())

	// Determinism: the same feeds produce the same results.
	again, err := New(g).Run(context.Background(),
		map[string]*tensor.Tensor{"X": x, "labels": labels}, []string{"loss"})
	require.NoError(t, err)
	assert.True(t, loss.Equal(again["loss"]))
}

func TestEngineRunErrors(t *testing.T) {
	g := graphtest.BuildMLPTraining(17)
	x, labels := graphtest.RandomInput(0)
	feeds := map[string]*tensor.Tensor{"X": x, "labels": labels}

	// Missing feed.
	_, err := New(g).Run(context.Background(), map[string]*tensor.Tensor{"X": x}, []string{"loss"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")

	// Unknown fetch.
	_, err = New(g).Run(context.Background(), feeds, []string{"nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not produced")

	// Unsupported op.
	bad := graph.New("bad")
	bad.AddInput(graph.ValueInfo{Name: "X", Shape: tensor.Make(tensor.Float32, 1, 2)})
	bad.AddNode("conv", "Conv", "", []string{"X"}, []string{"Y"})
	_, err = New(bad).Run(context.Background(), map[string]*tensor.Tensor{"X": tensor.FromFlatFloat32([]float32{1, 2}, 1, 2)}, []string{"Y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported op")
}
