// Package fit estimates integrator parameters by least squares, using one
// forward pass and one adjoint pass per iteration.
//
// The objective is
//
//	L(p) = 1/2 ||xf(x0, p, z0) - target||²
//
// whose gradient with respect to p is the adjoint sensitivity of xf seeded
// with the residual xf - target.
package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/born-ml/sensim/internal/integrator"
	"github.com/born-ml/sensim/internal/optim"
	"github.com/born-ml/sensim/internal/tensor"
)

// ErrDiverged is returned when the objective stops being finite.
var ErrDiverged = errors.New("fit: objective is not finite")

// Config controls the iteration.
type Config struct {
	// MaxIterations bounds the number of optimizer steps (default 200).
	MaxIterations int
	// Tolerance stops the iteration once the objective is at or below it.
	Tolerance float64
	// Logger receives one Debug entry per iteration. Nil disables logging.
	Logger *zap.Logger
}

// Result is the outcome of Parameters.
type Result struct {
	P          *tensor.Dense
	XF         *tensor.Dense
	Loss       float64
	Iterations int
	Converged  bool
	History    []float64 // objective before each step, then the final value
}

// Parameters fits p so that the final state of ig from (x0, p, z0) matches
// target. p0 is the starting point and is not modified. z0 may be nil.
//
// The integrator's checkpoint trail is replaced by the last evaluated
// point; Adjoint and Sensitivity calls on ig afterwards refer to Result.P.
func Parameters(ctx context.Context, ig *integrator.Integrator, x0, z0, target, p0 *tensor.Dense, opt optim.Optimizer, cfg Config) (*Result, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 200
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if want := ig.OutputShape(0); !target.Shape().Equal(want) {
		return nil, &tensor.ShapeError{Op: "fit", Shapes: []tensor.Shape{want, target.Shape()}, Msg: "target does not match the final state"}
	}

	p := p0.Clone()
	res := &Result{P: p}
	for {
		xf, _, err := ig.Run(ctx, x0, p, z0)
		if err != nil {
			return res, fmt.Errorf("fit iteration %d: %w", res.Iterations, err)
		}
		r, err := tensor.Sub(xf, target)
		if err != nil {
			return res, err
		}
		loss := 0.5 * squaredNorm(r)
		res.XF, res.Loss = xf, loss
		res.History = append(res.History, loss)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return res, fmt.Errorf("iteration %d: %w", res.Iterations, ErrDiverged)
		}
		if loss <= cfg.Tolerance {
			res.Converged = true
			break
		}
		if res.Iterations == cfg.MaxIterations {
			break
		}

		_, grad, err := ig.Adjoint(ctx, r, nil)
		if err != nil {
			return res, fmt.Errorf("fit iteration %d: %w", res.Iterations, err)
		}
		log.Debug("Fit iteration",
			zap.Int("iteration", res.Iterations),
			zap.Float64("loss", loss),
			zap.Float64("grad_norm", math.Sqrt(squaredNorm(grad))),
		)
		if err := opt.Step([]*tensor.Dense{p}, []*tensor.Dense{grad}); err != nil {
			return res, err
		}
		res.Iterations++
	}

	log.Info("Fit done",
		zap.Int("iterations", res.Iterations),
		zap.Float64("loss", res.Loss),
		zap.Bool("converged", res.Converged),
	)
	return res, nil
}

func squaredNorm(d *tensor.Dense) float64 {
	var s float64
	for _, v := range d.Data() {
		s += v * v
	}
	return s
}
