// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest builds small training graphs used by tests in several
// packages.
//
// BuildMLPTraining returns a 3-layer MLP with a mean-squared-error loss and
// its hand-built gradient nodes, the shape of graph the pipeline splitter is
// designed for: a forward section (T1..T7, predictions, loss) followed by a
// backward section (*_grad nodes) in one graph, with value metadata
// registered for every intermediate tensor.
package graphtest

import (
	"math/rand"

	"github.com/ashbhandare/onnxruntime/graph"
	"github.com/ashbhandare/onnxruntime/types/tensor"
)

// MLP layer sizes used by BuildMLPTraining. Kept small so tests run fast.
const (
	MLPInputDim  = 8
	MLPHidden1   = 6
	MLPHidden2   = 4
	MLPOutputDim = 2
)

func randomTensor(rng *rand.Rand, dimensions ...int) *tensor.Tensor {
	t := tensor.FromShape(tensor.Make(tensor.Float32, dimensions...))
	flat := t.Float32s()
	for ii := range flat {
		flat[ii] = float32(rng.NormFloat64()) * 0.3
	}
	return t
}

// BuildMLPTraining returns the reference training graph: a 3-layer MLP
// (batch size 1) with MSE loss and gradient nodes for every weight.
//
// Inputs: X (1 x MLPInputDim), labels (1 x MLPOutputDim).
// Outputs: loss (scalar), predictions, and all weight gradients.
// Initializers W1,B1,W2,B2,W3,B3 are seeded deterministically from seed.
func BuildMLPTraining(seed int64) *graph.Graph {
	rng := rand.New(rand.NewSource(seed))
	g := graph.New("mlp_training")

	g.AddInput(graph.ValueInfo{Name: "X", Shape: tensor.Make(tensor.Float32, 1, MLPInputDim)})
	g.AddInput(graph.ValueInfo{Name: "labels", Shape: tensor.Make(tensor.Float32, 1, MLPOutputDim)})

	g.AddInitializer("W1", randomTensor(rng, MLPInputDim, MLPHidden1))
	g.AddInitializer("B1", randomTensor(rng, 1, MLPHidden1))
	g.AddInitializer("W2", randomTensor(rng, MLPHidden1, MLPHidden2))
	g.AddInitializer("B2", randomTensor(rng, 1, MLPHidden2))
	g.AddInitializer("W3", randomTensor(rng, MLPHidden2, MLPOutputDim))
	g.AddInitializer("B3", randomTensor(rng, 1, MLPOutputDim))

	// Forward section.
	g.AddNode("T1", "MatMul", "", []string{"X", "W1"}, []string{"T1"})
	g.AddNode("T2", "Add", "", []string{"T1", "B1"}, []string{"T2"})
	g.AddNode("T3", "Relu", "", []string{"T2"}, []string{"T3"})
	g.AddNode("T4", "MatMul", "", []string{"T3", "W2"}, []string{"T4"})
	g.AddNode("T5", "Add", "", []string{"T4", "B2"}, []string{"T5"})
	g.AddNode("T6", "Relu", "", []string{"T5"}, []string{"T6"})
	g.AddNode("T7", "MatMul", "", []string{"T6", "W3"}, []string{"T7"})
	g.AddNode("predictions", "Add", "", []string{"T7", "B3"}, []string{"predictions"})
	g.AddNode("MeanSquaredError_diff", "Sub", "",
		[]string{"predictions", "labels"}, []string{"MeanSquaredError_diff"})
	g.AddNode("MeanSquaredError_diff_square", "Mul", "",
		[]string{"MeanSquaredError_diff", "MeanSquaredError_diff"},
		[]string{"MeanSquaredError_diff_square"})
	g.AddNode("loss", "ReduceMean", "", []string{"MeanSquaredError_diff_square"}, []string{"loss"})

	// Backward section: d(loss)/d(predictions) = 2*diff/n, then chain rule
	// back through the layers. Batch size is 1, so bias gradients are plain
	// copies of the activation gradients.
	gradScale := 2.0 / float32(MLPOutputDim)
	g.AddNode("predictions_grad", "Scale", "",
		[]string{"MeanSquaredError_diff"}, []string{"predictions_grad"},
		graph.FloatAttr("scale", gradScale))
	g.AddNode("B3_grad", "Identity", "", []string{"predictions_grad"}, []string{"B3_grad"})
	g.AddNode("T7_grad", "Identity", "", []string{"predictions_grad"}, []string{"T7_grad"})
	g.AddNode("W3_grad", "MatMul", "", []string{"T6", "T7_grad"}, []string{"W3_grad"},
		graph.IntAttr("transA", 1))
	g.AddNode("T6_grad", "MatMul", "", []string{"T7_grad", "W3"}, []string{"T6_grad"},
		graph.IntAttr("transB", 1))

	g.AddNode("T5_grad", "ReluGrad", "", []string{"T6_grad", "T5"}, []string{"T5_grad"})
	g.AddNode("B2_grad", "Identity", "", []string{"T5_grad"}, []string{"B2_grad"})
	g.AddNode("T4_grad", "Identity", "", []string{"T5_grad"}, []string{"T4_grad"})
	g.AddNode("W2_grad", "MatMul", "", []string{"T3", "T4_grad"}, []string{"W2_grad"},
		graph.IntAttr("transA", 1))
	g.AddNode("T3_grad", "MatMul", "", []string{"T4_grad", "W2"}, []string{"T3_grad"},
		graph.IntAttr("transB", 1))

	g.AddNode("T2_grad", "ReluGrad", "", []string{"T3_grad", "T2"}, []string{"T2_grad"})
	g.AddNode("B1_grad", "Identity", "", []string{"T2_grad"}, []string{"B1_grad"})
	g.AddNode("T1_grad", "Identity", "", []string{"T2_grad"}, []string{"T1_grad"})
	g.AddNode("W1_grad", "MatMul", "", []string{"X", "T1_grad"}, []string{"W1_grad"},
		graph.IntAttr("transA", 1))

	g.AddOutput(graph.ValueInfo{Name: "loss", Shape: tensor.Scalar(tensor.Float32)})
	g.AddOutput(graph.ValueInfo{Name: "predictions", Shape: tensor.Make(tensor.Float32, 1, MLPOutputDim)})
	g.AddOutput(graph.ValueInfo{Name: "W1_grad", Shape: tensor.Make(tensor.Float32, MLPInputDim, MLPHidden1)})
	g.AddOutput(graph.ValueInfo{Name: "B1_grad", Shape: tensor.Make(tensor.Float32, 1, MLPHidden1)})
	g.AddOutput(graph.ValueInfo{Name: "W2_grad", Shape: tensor.Make(tensor.Float32, MLPHidden1, MLPHidden2)})
	g.AddOutput(graph.ValueInfo{Name: "B2_grad", Shape: tensor.Make(tensor.Float32, 1, MLPHidden2)})
	g.AddOutput(graph.ValueInfo{Name: "W3_grad", Shape: tensor.Make(tensor.Float32, MLPHidden2, MLPOutputDim)})
	g.AddOutput(graph.ValueInfo{Name: "B3_grad", Shape: tensor.Make(tensor.Float32, 1, MLPOutputDim)})

	registerIntermediateValueInfos(g)
	return g
}

// registerIntermediateValueInfos declares shape metadata for every node output
// that is not already a declared graph output, the way shape inference would.
func registerIntermediateValueInfos(g *graph.Graph) {
	shapeOf := map[string]tensor.Shape{
		"T1": tensor.Make(tensor.Float32, 1, MLPHidden1),
		"T2": tensor.Make(tensor.Float32, 1, MLPHidden1),
		"T3": tensor.Make(tensor.Float32, 1, MLPHidden1),
		"T4": tensor.Make(tensor.Float32, 1, MLPHidden2),
		"T5": tensor.Make(tensor.Float32, 1, MLPHidden2),
		"T6": tensor.Make(tensor.Float32, 1, MLPHidden2),
		"T7": tensor.Make(tensor.Float32, 1, MLPOutputDim),

		"MeanSquaredError_diff":        tensor.Make(tensor.Float32, 1, MLPOutputDim),
		"MeanSquaredError_diff_square": tensor.Make(tensor.Float32, 1, MLPOutputDim),

		"predictions_grad": tensor.Make(tensor.Float32, 1, MLPOutputDim),
		"T7_grad":          tensor.Make(tensor.Float32, 1, MLPOutputDim),
		"T6_grad":          tensor.Make(tensor.Float32, 1, MLPHidden2),
		"T5_grad":          tensor.Make(tensor.Float32, 1, MLPHidden2),
		"T4_grad":          tensor.Make(tensor.Float32, 1, MLPHidden2),
		"T3_grad":          tensor.Make(tensor.Float32, 1, MLPHidden1),
		"T2_grad":          tensor.Make(tensor.Float32, 1, MLPHidden1),
		"T1_grad":          tensor.Make(tensor.Float32, 1, MLPHidden1),
	}
	for _, n := range g.Nodes() {
		for _, out := range n.Outputs() {
			if _, isOutput := g.Output(out); isOutput {
				continue
			}
			if shape, found := shapeOf[out]; found {
				g.AddValueInfo(graph.ValueInfo{Name: out, Shape: shape})
			}
		}
	}
}

// BuildChain returns a minimal three-node chain X_in -> A -> B -> C used by
// the two-stage split tests: node A produces A_out, node B produces B_out and
// node C produces the graph output C_out.
func BuildChain() *graph.Graph {
	g := graph.New("chain")
	shape := tensor.Make(tensor.Float32, 1, 4)
	g.AddInput(graph.ValueInfo{Name: "X_in", Shape: shape})
	g.AddNode("A", "Relu", "", []string{"X_in"}, []string{"A_out"})
	g.AddNode("B", "Relu", "", []string{"A_out"}, []string{"B_out"})
	g.AddNode("C", "Relu", "", []string{"B_out"}, []string{"C_out"})
	g.AddOutput(graph.ValueInfo{Name: "C_out", Shape: shape})
	g.AddValueInfo(graph.ValueInfo{Name: "A_out", Shape: shape})
	g.AddValueInfo(graph.ValueInfo{Name: "B_out", Shape: shape})
	return g
}

// RandomInput returns a deterministic pseudo-random input tensor for the MLP
// graph, varying with microbatch so different microbatches see different
// data.
func RandomInput(microbatch int) (x, labels *tensor.Tensor) {
	rng := rand.New(rand.NewSource(1000 + int64(microbatch)))
	x = randomTensor(rng, 1, MLPInputDim)
	labels = randomTensor(rng, 1, MLPOutputDim)
	return
}
