// Package tensor implements the dense numeric matrices that expression graphs
// evaluate to.
//
// Every value is a 2-D float64 matrix in column-major order. Scalars are 1x1
// matrices and vectors are n x 1 columns. Elementwise binary operations accept
// equal shapes or a 1x1 operand, which is expanded; nothing else broadcasts.
//
// Shape errors are reported as *ShapeError and match ErrShape with errors.Is.
package tensor
