package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/born-ml/sensim/internal/fit"
	"github.com/born-ml/sensim/internal/optim"
	"github.com/born-ml/sensim/internal/tensor"
)

var (
	optimizerName string
	learningRate  float64
	momentum      float64
	iterations    int
	perturb       float64
	fitTolerance  float64

	fitCmd = &cobra.Command{
		Use:   "fit",
		Short: "Recover the parameters of a built-in problem from its final state",
		Long: `Integrate a built-in problem at its nominal parameters, scale the
parameters by --perturb and fit them back to the nominal final state by least
squares. Each iteration is one forward pass and one adjoint pass.`,
		RunE: runFit,
	}
)

func initFitFlags() {
	f := fitCmd.Flags()
	f.StringVarP(&problemName, "problem", "p", "growth", "problem: "+strings.Join(problemNames(), ", "))
	f.StringVar(&backendName, "backend", "", "override the configured backend")
	f.Float64Var(&tfFlag, "tf", 0, "override the configured final time")
	f.StringVar(&optimizerName, "optimizer", "adam", "optimizer: adam, sgd")
	f.Float64Var(&learningRate, "lr", 0.05, "learning rate")
	f.Float64Var(&momentum, "momentum", 0, "sgd momentum")
	f.IntVar(&iterations, "iterations", 300, "maximum optimizer steps")
	f.Float64Var(&perturb, "perturb", 0.5, "factor applied to the nominal parameters for the starting point")
	f.Float64Var(&fitTolerance, "tol", 1e-14, "stop once the objective is at or below this value")
}

func newOptimizer() (optim.Optimizer, error) {
	switch optimizerName {
	case "adam":
		return optim.NewAdam(optim.AdamConfig{LR: learningRate}), nil
	case "sgd":
		return optim.NewSGD(optim.SGDConfig{LR: learningRate, Momentum: momentum}), nil
	}
	return nil, fmt.Errorf("unknown optimizer %q, want adam or sgd", optimizerName)
}

func runFit(cmd *cobra.Command, _ []string) error {
	pr, err := lookupProblem()
	if err != nil {
		return err
	}
	opt, err := newOptimizer()
	if err != nil {
		return err
	}
	ig, log, err := newProblemIntegrator(cmd, pr)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := commandContext(cmd)
	x0, nominal := tensor.Column(pr.x0...), tensor.Column(pr.p...)
	var z0 *tensor.Dense
	if len(pr.z0) > 0 {
		z0 = tensor.Column(pr.z0...)
	}
	target, _, err := ig.Run(ctx, x0, nominal, z0)
	if err != nil {
		return err
	}
	start := tensor.Apply(nominal, func(v float64) float64 { return v * perturb })

	res, err := fit.Parameters(ctx, ig, x0, z0, target, start, opt, fit.Config{
		MaxIterations: iterations,
		Tolerance:     fitTolerance,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "problem     %s (%s)\n", problemName, pr.remark)
	fmt.Fprintf(w, "optimizer   %s lr=%g\n", optimizerName, opt.LR())
	fmt.Fprintf(w, "start p     %s\n", values(start))
	fmt.Fprintf(w, "fitted p    %s\n", values(res.P))
	fmt.Fprintf(w, "nominal p   %s\n", values(nominal))
	fmt.Fprintf(w, "objective   %.3e -> %.3e in %d iterations (converged: %t)\n",
		res.History[0], res.Loss, res.Iterations, res.Converged)
	return nil
}
