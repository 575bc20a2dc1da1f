package bdf

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// asCondition reports whether err is only a finite ill-conditioning warning.
func asCondition(err error, cond *mat.Condition) bool {
	return errors.As(err, cond) && !math.IsInf(float64(*cond), 1)
}
