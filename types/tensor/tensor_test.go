// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(Float32, 2, 3)
	assert.True(t, s.Ok())
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, 24, s.Memory())
	assert.False(t, s.IsScalar())
	assert.Equal(t, "(float32)[2 3]", s.String())

	scalar := Scalar(Int64)
	assert.True(t, scalar.Ok())
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())

	assert.True(t, s.Equal(Make(Float32, 2, 3)))
	assert.False(t, s.Equal(Make(Float32, 3, 2)))
	assert.False(t, s.Equal(Make(Int64, 2, 3)))

	assert.False(t, Shape{}.Ok())
	assert.False(t, Make(Float32, 2, -1).Ok())

	clone := s.Clone()
	clone.Dimensions[0] = 7
	assert.Equal(t, 2, s.Dimensions[0])
}

func TestTensor(t *testing.T) {
	a := FromFlatFloat32([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, Make(Float32, 2, 3), a.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, a.Float32s())

	b := a.Clone()
	b.Float32s()[0] = -1
	assert.Equal(t, float32(1), a.Float32s()[0])
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(a.Clone()))

	scalar := FromScalarInt64(42)
	assert.Equal(t, int64(42), scalar.ScalarInt64())
	assert.Equal(t, Int64, scalar.DType())
}

func TestTensorGobRoundTrip(t *testing.T) {
	original := FromFlatFloat32([]float32{0.5, -1.5, 3.25, 0}, 2, 2)
	var buf bytes.Buffer
	require.NoError(t, original.GobSerialize(gob.NewEncoder(&buf)))

	recovered, err := GobDeserialize(gob.NewDecoder(&buf))
	require.NoError(t, err)
	assert.True(t, original.Equal(recovered))

	// Same tensor serializes to the same bytes.
	var buf2 bytes.Buffer
	require.NoError(t, original.GobSerialize(gob.NewEncoder(&buf2)))
	assert.Equal(t, buf.Bytes(), buf2.Bytes())
}
