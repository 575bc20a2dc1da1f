package integrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/born-ml/sensim/internal/checkpoint"
	"github.com/born-ml/sensim/internal/ode"
)

var (
	tracer = otel.Tracer("sensim.integrator")
	meter  = otel.Meter("sensim.integrator")
)

var (
	passDuration metric.Float64Histogram
	stepsTotal   metric.Int64Counter
	rhsTotal     metric.Int64Counter
	evictedTotal metric.Int64Counter
	failureTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		passDuration, err = meter.Float64Histogram(
			"integrator_pass_duration_seconds",
			metric.WithDescription("Duration of integration passes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stepsTotal, err = meter.Int64Counter(
			"integrator_steps_total",
			metric.WithDescription("Accepted backend steps"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rhsTotal, err = meter.Int64Counter(
			"integrator_rhs_evaluations_total",
			metric.WithDescription("Right-hand side evaluations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evictedTotal, err = meter.Int64Counter(
			"integrator_checkpoints_evicted_total",
			metric.WithDescription("Checkpoints dropped by thinning"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		failureTotal, err = meter.Int64Counter(
			"integrator_failures_total",
			metric.WithDescription("Failed integration passes"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// pass traces, measures and logs one integration pass.
type pass struct {
	id    string
	kind  string
	name  string
	back  string
	start time.Time
	span  trace.Span
	log   *zap.Logger
	stats ode.Stats
}

func (in *Integrator) begin(ctx context.Context, kind string) (context.Context, *pass) {
	p := &pass{
		id:    uuid.NewString(),
		kind:  kind,
		name:  in.name,
		back:  in.opts.Backend,
		start: time.Now(),
		log:   in.log,
	}
	ctx, p.span = tracer.Start(ctx, "integrator."+kind,
		trace.WithAttributes(
			attribute.String("integrator.name", in.name),
			attribute.String("integrator.backend", in.opts.Backend),
			attribute.String("integrator.run_id", p.id),
			attribute.Int("integrator.nx", in.m.nx),
			attribute.Int("integrator.nz", in.m.nz),
			attribute.Int("integrator.np", in.m.np),
			attribute.Float64("integrator.t0", in.opts.T0),
			attribute.Float64("integrator.tf", in.opts.TF),
		),
	)
	return ctx, p
}

// end closes the pass. cps may be nil.
func (p *pass) end(ctx context.Context, cps *checkpoint.Controller, err error) {
	defer p.span.End()
	elapsed := time.Since(p.start)

	var cs checkpoint.Stats
	if cps != nil {
		cs = cps.Stats()
	}
	p.span.SetAttributes(
		attribute.Int("integrator.steps", p.stats.Steps),
		attribute.Int("integrator.rejected_steps", p.stats.RejectedSteps),
		attribute.Int("integrator.rhs_evaluations", p.stats.RHSEvals),
		attribute.Int("integrator.checkpoints", cs.Recorded-cs.Evicted),
	)

	if merr := initMetrics(); merr == nil {
		attrs := metric.WithAttributes(
			attribute.String("backend", p.back),
			attribute.String("pass", p.kind),
		)
		passDuration.Record(ctx, elapsed.Seconds(), attrs)
		stepsTotal.Add(ctx, int64(p.stats.Steps), attrs)
		rhsTotal.Add(ctx, int64(p.stats.RHSEvals), attrs)
		if cs.Evicted > 0 {
			evictedTotal.Add(ctx, int64(cs.Evicted), attrs)
		}
		if err != nil {
			failureTotal.Add(ctx, 1, attrs)
		}
	} else {
		p.log.Debug("Integrator metrics unavailable", zap.Error(merr))
	}

	fields := []zap.Field{
		zap.String("integrator", p.name),
		zap.String("run_id", p.id),
		zap.String("pass", p.kind),
		zap.Int("steps", p.stats.Steps),
		zap.Int("rejected", p.stats.RejectedSteps),
		zap.Int("rhs_evals", p.stats.RHSEvals),
		zap.Int("checkpoints", cs.Recorded-cs.Evicted),
		zap.Int("evicted", cs.Evicted),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		p.span.RecordError(err)
		p.span.SetStatus(codes.Error, err.Error())
		p.log.Warn("Integration pass failed", append(fields, zap.Error(err))...)
		return
	}
	p.span.SetStatus(codes.Ok, "")
	p.log.Debug("Integration pass done", fields...)
}
