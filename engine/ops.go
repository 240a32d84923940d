// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/pkg/errors"

	"github.com/ashbhandare/onnxruntime/graph"
	"github.com/ashbhandare/onnxruntime/types/tensor"
)

// opFunc computes the outputs of one node from its resolved inputs.
type opFunc func(n *graph.Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)

// opRegistry holds the compute operators the reference engine supports: the
// small set needed to run MLP-style training graphs. WaitEvent/RecordEvent
// are handled by the engine loop itself, not here.
var opRegistry = map[string]opFunc{
	"MatMul":     opMatMul,
	"Add":        opElementwise(func(a, b float32) float32 { return a + b }),
	"Sub":        opElementwise(func(a, b float32) float32 { return a - b }),
	"Mul":        opElementwise(func(a, b float32) float32 { return a * b }),
	"Relu":       opRelu,
	"ReluGrad":   opReluGrad,
	"ReduceMean": opReduceMean,
	"Scale":      opScale,
	"Identity":   opIdentity,
}

func wantInputs(n *graph.Node, inputs []*tensor.Tensor, count int) error {
	if len(inputs) != count {
		return errors.Errorf("op %s (node %q) wants %d inputs, got %d",
			n.OpType(), n.Name(), count, len(inputs))
	}
	return nil
}

// opMatMul multiplies two rank-2 float32 tensors. The ONNX-Gemm-style
// integer attributes transA/transB transpose an operand logically, which is
// how the gradient nodes express dX = dY·Wᵀ and dW = Xᵀ·dY.
func opMatMul(n *graph.Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(n, inputs, 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if a.Shape().Rank() != 2 || b.Shape().Rank() != 2 {
		return nil, errors.Errorf("MatMul node %q needs rank-2 inputs, got %s x %s",
			n.Name(), a.Shape(), b.Shape())
	}
	transA := n.IntAttrOr("transA", 0) != 0
	transB := n.IntAttrOr("transB", 0) != 0
	aDims, bDims := a.Shape().Dimensions, b.Shape().Dimensions

	m, kA := aDims[0], aDims[1]
	if transA {
		m, kA = kA, m
	}
	kB, nCols := bDims[0], bDims[1]
	if transB {
		kB, nCols = nCols, kB
	}
	if kA != kB {
		return nil, errors.Errorf("MatMul node %q: inner dimensions mismatch (%d vs %d)",
			n.Name(), kA, kB)
	}

	af, bf := a.Float32s(), b.Float32s()
	at := func(i, k int) float32 {
		if transA {
			return af[k*aDims[1]+i]
		}
		return af[i*aDims[1]+k]
	}
	bt := func(k, j int) float32 {
		if transB {
			return bf[j*bDims[1]+k]
		}
		return bf[k*bDims[1]+j]
	}

	out := tensor.FromShape(tensor.Make(tensor.Float32, m, nCols))
	of := out.Float32s()
	for i := 0; i < m; i++ {
		for j := 0; j < nCols; j++ {
			var sum float32
			for k := 0; k < kA; k++ {
				sum += at(i, k) * bt(k, j)
			}
			of[i*nCols+j] = sum
		}
	}
	return []*tensor.Tensor{out}, nil
}

func opElementwise(f func(a, b float32) float32) opFunc {
	return func(n *graph.Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if err := wantInputs(n, inputs, 2); err != nil {
			return nil, err
		}
		a, b := inputs[0], inputs[1]
		if !a.Shape().Equal(b.Shape()) {
			return nil, errors.Errorf("op %s (node %q): shape mismatch %s vs %s",
				n.OpType(), n.Name(), a.Shape(), b.Shape())
		}
		out := tensor.FromShape(a.Shape())
		of, af, bf := out.Float32s(), a.Float32s(), b.Float32s()
		for ii := range of {
			of[ii] = f(af[ii], bf[ii])
		}
		return []*tensor.Tensor{out}, nil
	}
}

func opRelu(n *graph.Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(n, inputs, 1); err != nil {
		return nil, err
	}
	out := tensor.FromShape(inputs[0].Shape())
	of, af := out.Float32s(), inputs[0].Float32s()
	for ii := range of {
		if af[ii] > 0 {
			of[ii] = af[ii]
		}
	}
	return []*tensor.Tensor{out}, nil
}

// opReluGrad computes dX from (dY, X): the gradient passes where the original
// input was positive.
func opReluGrad(n *graph.Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(n, inputs, 2); err != nil {
		return nil, err
	}
	dy, x := inputs[0], inputs[1]
	if !dy.Shape().Equal(x.Shape()) {
		return nil, errors.Errorf("ReluGrad node %q: shape mismatch %s vs %s",
			n.Name(), dy.Shape(), x.Shape())
	}
	out := tensor.FromShape(dy.Shape())
	of, dyf, xf := out.Float32s(), dy.Float32s(), x.Float32s()
	for ii := range of {
		if xf[ii] > 0 {
			of[ii] = dyf[ii]
		}
	}
	return []*tensor.Tensor{out}, nil
}

func opReduceMean(n *graph.Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(n, inputs, 1); err != nil {
		return nil, err
	}
	af := inputs[0].Float32s()
	var sum float64
	for _, v := range af {
		sum += float64(v)
	}
	out := tensor.FromShape(tensor.Scalar(tensor.Float32))
	out.Float32s()[0] = float32(sum / float64(len(af)))
	return []*tensor.Tensor{out}, nil
}

func opScale(n *graph.Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(n, inputs, 1); err != nil {
		return nil, err
	}
	scale := n.FloatAttrOr("scale", 1)
	out := tensor.FromShape(inputs[0].Shape())
	of, af := out.Float32s(), inputs[0].Float32s()
	for ii := range of {
		of[ii] = af[ii] * scale
	}
	return []*tensor.Tensor{out}, nil
}

func opIdentity(n *graph.Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(n, inputs, 1); err != nil {
		return nil, err
	}
	return []*tensor.Tensor{inputs[0]}, nil
}
