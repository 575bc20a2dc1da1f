// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense matrices that symbolic functions are
// evaluated on.
//
// # Overview
//
// Every value is a 2-D float64 matrix stored in column-major order:
//   - Scalars are 1x1 matrices
//   - Vectors are n x 1 columns
//   - Elementwise operations accept equal shapes or a 1x1 operand
//
// # Basic Usage
//
//	x := tensor.Column(1, 0.1)
//	a, err := tensor.FromRows([][]float64{{3, 1}, {0.74, 4}})
//	y, err := tensor.MatMul(a, x)
//
// Shape errors match ErrShape with errors.Is.
package tensor
