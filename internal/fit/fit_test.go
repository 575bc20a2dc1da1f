package fit_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/fit"
	"github.com/born-ml/sensim/internal/integrator"
	"github.com/born-ml/sensim/internal/optim"
	"github.com/born-ml/sensim/internal/tensor"
)

// exponential is q' = p q on [0, 1], so xf = x0 exp(p).
func exponential(t *testing.T) *integrator.Integrator {
	t.Helper()
	q := expr.Column("q", 1)
	p := expr.Column("p", 1)
	opts := integrator.DefaultOptions()
	opts.RelTol, opts.AbsTol = 1e-10, 1e-10
	ig, err := integrator.New("exponential", integrator.DAE{X: q, P: p, ODE: expr.Must(expr.Mul(p, q))}, opts)
	require.NoError(t, err)
	return ig
}

func TestParametersRecoversRate(t *testing.T) {
	ctx := context.Background()
	ig := exponential(t)
	target := tensor.Scalar(math.Exp(0.8))

	for name, opt := range map[string]optim.Optimizer{
		"adam": optim.NewAdam(optim.AdamConfig{LR: 0.05}),
		"sgd":  optim.NewSGD(optim.SGDConfig{LR: 0.1, Momentum: 0.5}),
	} {
		t.Run(name, func(t *testing.T) {
			p0 := tensor.Scalar(0.3)
			res, err := fit.Parameters(ctx, ig, tensor.Scalar(1), nil, target, p0, opt, fit.Config{MaxIterations: 300, Tolerance: 1e-16})
			require.NoError(t, err)
			assert.InDelta(t, 0.8, res.P.Value(), 1e-4)
			assert.Equal(t, 0.3, p0.Value(), "starting point must not be modified")
			assert.Less(t, res.Loss, res.History[0])
			assert.Len(t, res.History, res.Iterations+1)
		})
	}
}

func TestParametersLogs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ig := exponential(t)
	res, err := fit.Parameters(context.Background(), ig, tensor.Scalar(1), nil, tensor.Scalar(3), tensor.Scalar(1),
		optim.NewSGD(optim.SGDConfig{LR: 0.01}), fit.Config{MaxIterations: 3, Logger: zap.New(core)})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, logs.FilterMessage("Fit iteration").Len())
	done := logs.FilterMessage("Fit done").All()
	require.Len(t, done, 1)
	assert.Equal(t, int64(3), done[0].ContextMap()["iterations"])
}

func TestParametersConvergedAtStart(t *testing.T) {
	ig := exponential(t)
	res, err := fit.Parameters(context.Background(), ig, tensor.Scalar(2), nil, tensor.Scalar(2), tensor.Scalar(0),
		optim.NewAdam(optim.AdamConfig{}), fit.Config{Tolerance: 1e-12})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Zero(t, res.Iterations)
}

func TestParametersErrors(t *testing.T) {
	ig := exponential(t)
	opt := optim.NewAdam(optim.AdamConfig{})

	_, err := fit.Parameters(context.Background(), ig, tensor.Scalar(1), nil, tensor.Column(1, 2), tensor.Scalar(0), opt, fit.Config{})
	assert.True(t, errors.Is(err, tensor.ErrShape), "got %v", err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fit.Parameters(ctx, ig, tensor.Scalar(1), nil, tensor.Scalar(1), tensor.Scalar(0), opt, fit.Config{})
	assert.ErrorIs(t, err, context.Canceled)
}
