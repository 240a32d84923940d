// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"encoding/gob"
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// Tensor is a concrete value: a Shape plus the flat data for it.
//
// The flat data is stored row-major ("C order"). Even a scalar has a flat
// representation of one element.
type Tensor struct {
	shape  Shape
	floats []float32 // Set iff shape.DType == Float32.
	ints   []int64   // Set iff shape.DType == Int64.
}

// FromShape returns a Tensor of the given shape initialized with zeros.
func FromShape(shape Shape) *Tensor {
	if !shape.Ok() {
		panic(errors.Errorf("tensor.FromShape: invalid shape %s", shape))
	}
	t := &Tensor{shape: shape}
	switch shape.DType {
	case Float32:
		t.floats = make([]float32, shape.Size())
	case Int64:
		t.ints = make([]int64, shape.Size())
	}
	return t
}

// FromFlatFloat32 returns a Float32 tensor with the given dimensions, using
// flat as its data (not copied). The length of flat must match the shape size.
func FromFlatFloat32(flat []float32, dimensions ...int) *Tensor {
	shape := Make(Float32, dimensions...)
	if len(flat) != shape.Size() {
		panic(errors.Errorf("tensor.FromFlatFloat32: %d values given for shape %s (size %d)",
			len(flat), shape, shape.Size()))
	}
	return &Tensor{shape: shape, floats: flat}
}

// FromScalarInt64 returns a scalar Int64 tensor holding value. Event tokens
// are fed to stage artifacts as these.
func FromScalarInt64(value int64) *Tensor {
	return &Tensor{shape: Scalar(Int64), ints: []int64{value}}
}

// Shape of the tensor.
func (t *Tensor) Shape() Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() DType { return t.shape.DType }

// Size returns the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Float32s returns the flat data of a Float32 tensor. The slice is owned by
// the tensor; it is not a copy.
func (t *Tensor) Float32s() []float32 {
	if t.shape.DType != Float32 {
		panic(errors.Errorf("tensor is %s, not float32", t.shape.DType))
	}
	return t.floats
}

// Int64s returns the flat data of an Int64 tensor. The slice is owned by the
// tensor; it is not a copy.
func (t *Tensor) Int64s() []int64 {
	if t.shape.DType != Int64 {
		panic(errors.Errorf("tensor is %s, not int64", t.shape.DType))
	}
	return t.ints
}

// ScalarInt64 returns the value of a scalar Int64 tensor.
func (t *Tensor) ScalarInt64() int64 {
	if !t.shape.IsScalar() {
		panic(errors.Errorf("tensor %s is not a scalar", t.shape))
	}
	return t.Int64s()[0]
}

// Clone makes a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape:  t.shape.Clone(),
		floats: slices.Clone(t.floats),
		ints:   slices.Clone(t.ints),
	}
}

// Equal compares shape and data for exact equality.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.shape.Equal(other.shape) &&
		slices.Equal(t.floats, other.floats) &&
		slices.Equal(t.ints, other.ints)
}

// String prints the shape and, for small tensors, the data.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	const maxSizeToPrint = 8
	if t.Size() > maxSizeToPrint {
		return fmt.Sprintf("Tensor%s", t.shape)
	}
	switch t.shape.DType {
	case Float32:
		return fmt.Sprintf("Tensor%s: %v", t.shape, t.floats)
	case Int64:
		return fmt.Sprintf("Tensor%s: %v", t.shape, t.ints)
	}
	return fmt.Sprintf("Tensor%s", t.shape)
}

// GobSerialize the tensor in binary format.
func (t *Tensor) GobSerialize(encoder *gob.Encoder) (err error) {
	if t == nil {
		return errors.New("cannot serialize a nil Tensor")
	}
	err = t.shape.GobSerialize(encoder)
	if err != nil {
		return
	}
	switch t.shape.DType {
	case Float32:
		err = encoder.Encode(t.floats)
	case Int64:
		err = encoder.Encode(t.ints)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to serialize Tensor data")
	}
	return
}

// GobDeserialize a Tensor from the decoder.
func GobDeserialize(decoder *gob.Decoder) (t *Tensor, err error) {
	shape, err := GobDeserializeShape(decoder)
	if err != nil {
		err = errors.WithMessagef(err, "failed to deserialize Tensor shape")
		return
	}
	t = &Tensor{shape: shape}
	switch shape.DType {
	case Float32:
		err = decoder.Decode(&t.floats)
	case Int64:
		err = decoder.Decode(&t.ints)
	default:
		err = errors.Errorf("deserialized Tensor has invalid dtype %d", shape.DType)
	}
	if err != nil {
		t = nil
		err = errors.Wrapf(err, "failed to deserialize Tensor data")
	}
	return
}
