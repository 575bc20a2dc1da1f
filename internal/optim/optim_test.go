package optim_test

import (
	"errors"
	"math"
	"testing"

	"github.com/born-ml/sensim/internal/optim"
	"github.com/born-ml/sensim/internal/tensor"
)

// Helper to check float equality with tolerance.
func floatEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	x := tensor.Scalar(2.0)
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1})

	if err := opt.Step([]*tensor.Dense{x}, []*tensor.Dense{tensor.Scalar(1.0)}); err != nil {
		t.Fatal(err)
	}

	// x_new = x_old - lr * grad = 2.0 - 0.1 * 1.0 = 1.9
	if got := x.Value(); !floatEqual(got, 1.9, 1e-12) {
		t.Errorf("SGD update: got %f, want 1.9", got)
	}
}

// TestSGD_WithMomentum tests SGD with momentum.
func TestSGD_WithMomentum(t *testing.T) {
	x := tensor.Scalar(1.0)
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1, Momentum: 0.9})
	params := []*tensor.Dense{x}

	// v_1 = 0.9 * 0 + 1.0 = 1.0, x_1 = 1.0 - 0.1 * 1.0 = 0.9
	if err := opt.Step(params, []*tensor.Dense{tensor.Scalar(1)}); err != nil {
		t.Fatal(err)
	}
	if got := x.Value(); !floatEqual(got, 0.9, 1e-12) {
		t.Errorf("SGD momentum step 1: got %f, want 0.9", got)
	}

	// v_2 = 0.9 * 1.0 + 1.0 = 1.9, x_2 = 0.9 - 0.1 * 1.9 = 0.71
	if err := opt.Step(params, []*tensor.Dense{tensor.Scalar(1)}); err != nil {
		t.Fatal(err)
	}
	if got := x.Value(); !floatEqual(got, 0.71, 1e-12) {
		t.Errorf("SGD momentum step 2: got %f, want 0.71", got)
	}

	// After Reset the velocity starts from zero again.
	opt.Reset()
	if err := opt.Step(params, []*tensor.Dense{tensor.Scalar(1)}); err != nil {
		t.Fatal(err)
	}
	if got := x.Value(); !floatEqual(got, 0.61, 1e-12) {
		t.Errorf("SGD after reset: got %f, want 0.61", got)
	}
}

func TestSGD_GetSetLR(t *testing.T) {
	opt := optim.NewSGD(optim.SGDConfig{})
	if opt.LR() != 0.01 {
		t.Errorf("default LR = %g, want 0.01", opt.LR())
	}
	opt.SetLR(0.5)
	if opt.LR() != 0.5 {
		t.Errorf("LR after SetLR = %g, want 0.5", opt.LR())
	}
}

// TestAdam_SimpleUpdate checks the first step, where bias correction makes
// the update exactly lr * sign(grad) up to eps.
func TestAdam_SimpleUpdate(t *testing.T) {
	x := tensor.Column(1.0, -2.0)
	opt := optim.NewAdam(optim.AdamConfig{LR: 0.1})

	if err := opt.Step([]*tensor.Dense{x}, []*tensor.Dense{tensor.Column(0.5, -3)}); err != nil {
		t.Fatal(err)
	}
	if got := x.Data(); !floatEqual(got[0], 0.9, 1e-6) || !floatEqual(got[1], -1.9, 1e-6) {
		t.Errorf("Adam step 1: got %v, want [0.9 -1.9]", got)
	}
	if opt.Timestep() != 1 {
		t.Errorf("Timestep = %d, want 1", opt.Timestep())
	}
}

// TestAdam_BiasCorrection runs two steps by hand.
func TestAdam_BiasCorrection(t *testing.T) {
	x := tensor.Scalar(0)
	opt := optim.NewAdam(optim.AdamConfig{LR: 0.01, Betas: [2]float64{0.9, 0.999}, Eps: 1e-8})
	params := []*tensor.Dense{x}
	grads := []float64{1, 3}

	var m, v, want float64
	for i, g := range grads {
		if err := opt.Step(params, []*tensor.Dense{tensor.Scalar(g)}); err != nil {
			t.Fatal(err)
		}
		step := float64(i + 1)
		m = 0.9*m + 0.1*g
		v = 0.999*v + 0.001*g*g
		mHat := m / (1 - math.Pow(0.9, step))
		vHat := v / (1 - math.Pow(0.999, step))
		want -= 0.01 * mHat / (math.Sqrt(vHat) + 1e-8)
	}
	if got := x.Value(); !floatEqual(got, want, 1e-12) {
		t.Errorf("Adam after 2 steps: got %.12f, want %.12f", got, want)
	}

	opt.Reset()
	if opt.Timestep() != 0 {
		t.Errorf("Timestep after Reset = %d", opt.Timestep())
	}
}

func TestNilGradientSkipped(t *testing.T) {
	for _, opt := range []optim.Optimizer{
		optim.NewSGD(optim.SGDConfig{LR: 0.1, Momentum: 0.5}),
		optim.NewAdam(optim.AdamConfig{LR: 0.1}),
	} {
		a, b := tensor.Scalar(1), tensor.Scalar(1)
		if err := opt.Step([]*tensor.Dense{a, b}, []*tensor.Dense{tensor.Scalar(1), nil}); err != nil {
			t.Fatal(err)
		}
		if a.Value() >= 1 {
			t.Errorf("%T: parameter with gradient did not move: %g", opt, a.Value())
		}
		if b.Value() != 1 {
			t.Errorf("%T: parameter without gradient moved to %g", opt, b.Value())
		}
	}
}

func TestStepErrors(t *testing.T) {
	for _, opt := range []optim.Optimizer{
		optim.NewSGD(optim.SGDConfig{}),
		optim.NewSGD(optim.SGDConfig{Momentum: 0.9}),
		optim.NewAdam(optim.AdamConfig{}),
	} {
		x := tensor.Column(1, 2)
		if err := opt.Step([]*tensor.Dense{x}, nil); err == nil {
			t.Errorf("%T: expected error for missing gradients", opt)
		}
		err := opt.Step([]*tensor.Dense{x}, []*tensor.Dense{tensor.Scalar(1)})
		if !errors.Is(err, tensor.ErrShape) {
			t.Errorf("%T: shape mismatch error = %v, want ErrShape", opt, err)
		}
	}

	// Stateful optimizers reject a changed parameter list.
	opt := optim.NewAdam(optim.AdamConfig{})
	if err := opt.Step([]*tensor.Dense{tensor.Scalar(1)}, []*tensor.Dense{tensor.Scalar(1)}); err != nil {
		t.Fatal(err)
	}
	if err := opt.Step([]*tensor.Dense{tensor.Column(1, 2)}, []*tensor.Dense{tensor.Column(1, 2)}); err == nil {
		t.Error("expected error after parameter size change")
	}
}

// TestConvergence_SimpleQuadratic minimizes f(x) = x² with df/dx = 2x.
func TestConvergence_SimpleQuadratic(t *testing.T) {
	for name, opt := range map[string]optim.Optimizer{
		"SGD":  optim.NewSGD(optim.SGDConfig{LR: 0.1, Momentum: 0.9}),
		"Adam": optim.NewAdam(optim.AdamConfig{LR: 0.1}),
	} {
		t.Run(name, func(t *testing.T) {
			x := tensor.Scalar(3.0)
			for range 100 {
				if err := opt.Step([]*tensor.Dense{x}, []*tensor.Dense{tensor.Scalar(2 * x.Value())}); err != nil {
					t.Fatal(err)
				}
			}
			if math.Abs(x.Value()) > 0.1 {
				t.Errorf("%s convergence: x = %f, expected close to 0", name, x.Value())
			}
		})
	}
}
