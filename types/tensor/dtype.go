// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

// Package tensor defines DType, Shape and Tensor, the concrete values flowing
// through computation graphs.
//
// Shape represents the element type and dimensions of either a Tensor or the
// declared metadata of a value in a computation graph (see the graph package).
// Tensor holds flat data for a Shape.
//
// Only the dtypes needed by training graphs and event tokens are supported:
// Float32 for regular tensor data and Int64 for event tokens and indices.
package tensor

import "github.com/pkg/errors"

// DType is the data type of the unit element of a Tensor.
type DType int

const (
	// InvalidDType is the zero value of DType, and not usable as data.
	InvalidDType DType = iota

	// Float32 element type.
	Float32

	// Int64 element type, also used for event tokens.
	Int64
)

// String implements fmt.Stringer.
func (dt DType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	default:
		return "invalid_dtype"
	}
}

// Ok returns whether the DType is a valid data type.
func (dt DType) Ok() bool {
	return dt == Float32 || dt == Int64
}

// SizeOf returns the size in bytes of one element of the DType.
func (dt DType) SizeOf() int {
	switch dt {
	case Float32:
		return 4
	case Int64:
		return 8
	}
	return 0
}

// DTypeFromString converts the string representation back to a DType.
// It is the inverse of DType.String.
func DTypeFromString(s string) (DType, error) {
	switch s {
	case "float32":
		return Float32, nil
	case "int64":
		return Int64, nil
	}
	return InvalidDType, errors.Errorf("unknown dtype %q", s)
}
