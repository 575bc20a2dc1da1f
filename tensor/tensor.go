// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/sensim/internal/tensor"
)

// Dense is a column-major float64 matrix.
type Dense = tensor.Dense

// Shape is the number of rows and columns of a matrix.
type Shape = tensor.Shape

// ShapeError reports incompatible operand shapes.
type ShapeError = tensor.ShapeError

var (
	// ErrShape is matched by every ShapeError.
	ErrShape = tensor.ErrShape

	// ErrSingular is returned by Solve for singular matrices.
	ErrSingular = tensor.ErrSingular
)

// NewShape returns a rows x cols shape.
func NewShape(rows, cols int) Shape { return tensor.NewShape(rows, cols) }

// New wraps column-major data as a rows x cols matrix without copying.
func New(rows, cols int, data []float64) (*Dense, error) { return tensor.New(rows, cols, data) }

// Zeros returns a zero matrix.
func Zeros(s Shape) *Dense { return tensor.Zeros(s) }

// Scalar returns a 1x1 matrix.
func Scalar(v float64) *Dense { return tensor.Scalar(v) }

// Column returns an n x 1 matrix.
func Column(values ...float64) *Dense { return tensor.Column(values...) }

// FromRows builds a matrix from row slices.
func FromRows(rows [][]float64) (*Dense, error) { return tensor.FromRows(rows) }

// Identity returns the n x n identity.
func Identity(n int) *Dense { return tensor.Identity(n) }

// MatMul returns the matrix product a * b.
func MatMul(a, b *Dense) (*Dense, error) { return tensor.MatMul(a, b) }

// Solve returns x with a * x = b.
func Solve(a, b *Dense) (*Dense, error) { return tensor.Solve(a, b) }

// AllClose reports whether |a - b| <= atol + rtol |b| elementwise.
func AllClose(a, b *Dense, rtol, atol float64) bool { return tensor.AllClose(a, b, rtol, atol) }
