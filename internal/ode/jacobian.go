package ode

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// FiniteDifferenceJacobian approximates df/dx at (t, x) by forward
// differences. f0 must hold f(t, x). It returns the number of RHS evaluations.
func FiniteDifferenceJacobian(sys System, t float64, x, f0 []float64, jac *mat.Dense) (int, error) {
	n := sys.Dim
	xp := make([]float64, n)
	fp := make([]float64, n)
	copy(xp, x)
	for j := 0; j < n; j++ {
		h := math.Sqrt(epsilon) * math.Max(math.Abs(x[j]), 1)
		xp[j] = x[j] + h
		if err := sys.RHS(t, xp, fp); err != nil {
			return j + 1, err
		}
		for i := 0; i < n; i++ {
			jac.Set(i, j, (fp[i]-f0[i])/h)
		}
		xp[j] = x[j]
	}
	return n, nil
}

// Finite reports whether every element of v is finite.
func Finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
