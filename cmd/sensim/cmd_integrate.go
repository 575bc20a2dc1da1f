package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/born-ml/sensim/internal/expr"
	"github.com/born-ml/sensim/internal/function"
	"github.com/born-ml/sensim/internal/integrator"
	"github.com/born-ml/sensim/internal/serialization"
	"github.com/born-ml/sensim/internal/tensor"
)

var (
	problemName string
	backendName string
	tfFlag      float64
	withAdjoint bool
	withForward bool
	savePath    string

	integrateCmd = &cobra.Command{
		Use:   "integrate",
		Short: "Integrate a built-in problem and report sensitivities",
		Long: `Integrate one of the built-in problems over [t0, tf] and print the
final state. --adjoint adds the gradient of sum(xf) from one backward pass;
--fwd adds the forward-mode Jacobian of xf with respect to the parameters.`,
		RunE: runIntegrate,
	}
)

func initIntegrateFlags() {
	f := integrateCmd.Flags()
	f.StringVarP(&problemName, "problem", "p", "growth", "problem: "+strings.Join(problemNames(), ", "))
	f.StringVar(&backendName, "backend", "", "override the configured backend")
	f.Float64Var(&tfFlag, "tf", 0, "override the configured final time")
	f.BoolVar(&withAdjoint, "adjoint", false, "report adjoint sensitivities")
	f.BoolVar(&withForward, "fwd", false, "report the forward parameter Jacobian")
	f.StringVar(&savePath, "save", "", "write the reported matrices to a safetensors file")
}

// problem is a built-in test system with nominal inputs.
type problem struct {
	dae    func() integrator.DAE
	x0, p  []float64
	z0     []float64
	tf     float64
	remark string
}

var problems = map[string]problem{
	"growth": {
		dae: func() integrator.DAE {
			t := expr.Scalar("t")
			q := expr.Column("q", 1)
			p := expr.Column("p", 1)
			rate := expr.Must(expr.Div(expr.Must(expr.Mul(t, t)), p))
			return integrator.DAE{T: t, X: q, P: p, ODE: expr.Must(expr.Mul(rate, q))}
		},
		x0: []float64{7.1}, p: []float64{2}, tf: 2.3,
		remark: "dq/dt = t^2/p q",
	},
	"linear": {
		dae: func() integrator.DAE {
			x := expr.Column("x", 2)
			p := expr.Column("p", 4)
			a := expr.Must(expr.Reshape(p, tensor.NewShape(2, 2)))
			return integrator.DAE{X: x, P: p, ODE: expr.Must(expr.MatMul(a, x))}
		},
		x0: []float64{1, 0.1}, p: []float64{3, 0.74, 1, 4}, tf: 1,
		remark: "dx/dt = A x, p = vec(A)",
	},
	"decay": {
		dae: func() integrator.DAE {
			x := expr.Column("x", 1)
			z := expr.Column("z", 1)
			p := expr.Column("p", 1)
			return integrator.DAE{
				X: x, Z: z, P: p,
				ODE: expr.Neg(z),
				Alg: expr.Must(expr.Sub(z, expr.Must(expr.Mul(p, x)))),
			}
		},
		x0: []float64{2}, p: []float64{0.5}, z0: []float64{0}, tf: 1,
		remark: "dx/dt = -z, 0 = z - p x",
	},
}

func problemNames() []string {
	names := make([]string, 0, len(problems))
	for name := range problems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupProblem() (problem, error) {
	pr, ok := problems[problemName]
	if !ok {
		return problem{}, fmt.Errorf("unknown problem %q, want one of %s", problemName, strings.Join(problemNames(), ", "))
	}
	return pr, nil
}

// newProblemIntegrator builds the integrator of pr from --config, --tf and
// --backend. The caller syncs the returned logger.
func newProblemIntegrator(cmd *cobra.Command, pr problem) (*integrator.Integrator, *zap.Logger, error) {
	opts, err := loadOptions()
	if err != nil {
		return nil, nil, err
	}
	opts.TF = pr.tf
	if cmd.Flags().Changed("tf") {
		opts.TF = tfFlag
	}
	if backendName != "" {
		opts.Backend = backendName
	}
	log, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	opts.Logger = log

	ig, err := integrator.New(problemName, pr.dae(), opts)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return ig, log, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runIntegrate(cmd *cobra.Command, _ []string) error {
	pr, err := lookupProblem()
	if err != nil {
		return err
	}
	ig, log, err := newProblemIntegrator(cmd, pr)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	results, err := report(commandContext(cmd), cmd.OutOrStdout(), ig, pr)
	if err != nil {
		return err
	}
	if savePath == "" {
		return nil
	}
	opts := ig.Options()
	meta := map[string]string{
		"problem": problemName,
		"backend": opts.Backend,
		"t0":      fmt.Sprint(opts.T0),
		"tf":      fmt.Sprint(opts.TF),
	}
	if err := serialization.WriteFile(savePath, results, meta); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved    %s\n", savePath)
	return nil
}

// report prints the requested quantities and returns them by name.
func report(ctx context.Context, w io.Writer, ig *integrator.Integrator, pr problem) (map[string]*tensor.Dense, error) {
	x0, p := tensor.Column(pr.x0...), tensor.Column(pr.p...)
	var z0 *tensor.Dense
	if len(pr.z0) > 0 {
		z0 = tensor.Column(pr.z0...)
	}
	xf, zf, err := ig.Run(ctx, x0, p, z0)
	if err != nil {
		return nil, err
	}
	results := map[string]*tensor.Dense{"x0": x0, "p": p, "xf": xf}
	opts := ig.Options()
	fmt.Fprintf(w, "problem  %s (%s)\n", ig.Name(), pr.remark)
	fmt.Fprintf(w, "backend  %s on [%g, %g]\n", opts.Backend, opts.T0, opts.TF)
	fmt.Fprintf(w, "xf       %s\n", values(xf))
	if zf.Len() > 0 {
		fmt.Fprintf(w, "zf       %s\n", values(zf))
		results["zf"] = zf
	}

	if withAdjoint {
		x0bar, pbar, err := ig.Adjoint(ctx, tensor.Full(xf.Shape(), 1), nil)
		if err != nil {
			return nil, err
		}
		cs := ig.Checkpoints()
		fmt.Fprintf(w, "d sum(xf)/d x0  %s\n", values(x0bar))
		fmt.Fprintf(w, "d sum(xf)/d p   %s\n", values(pbar))
		fmt.Fprintf(w, "checkpoints     %d kept, %d evicted\n", cs.Recorded-cs.Evicted, cs.Evicted)
		results["adj_x0"], results["adj_p"] = x0bar, pbar
	}

	if withForward {
		xs := expr.SymLike("x0", ig.InputShape(0))
		ps := expr.SymLike("p", ig.InputShape(1))
		zs := expr.SymLike("z0", ig.InputShape(2))
		out, err := expr.Call(ig, xs, ps, zs)
		if err != nil {
			return nil, err
		}
		f, err := function.New("final", []*expr.Node{xs, ps, zs}, out[:1])
		if err != nil {
			return nil, err
		}
		jac, err := function.Jacobian(f, 1, 0, function.ModeForward)
		if err != nil {
			return nil, err
		}
		if z0 == nil {
			z0 = tensor.Zeros(ig.InputShape(2))
		}
		res, err := jac.Eval(ctx, []*tensor.Dense{x0, p, z0})
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "d xf/d p\n%v\n", res[0])
		results["jac_xf_p"] = res[0]
	}
	return results, nil
}

func values(d *tensor.Dense) string {
	parts := make([]string, d.Len())
	for i, v := range d.Data() {
		parts[i] = fmt.Sprintf("%.10g", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
