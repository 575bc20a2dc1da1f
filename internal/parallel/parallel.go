// Package parallel runs independent evaluations on a bounded set of workers.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Maximum number of concurrent workers; <= 0 means runtime.NumCPU().
	MinChunkSize int  // Minimum items per worker to avoid overhead.
}

// DefaultConfig returns defaults based on CPU count. Items are assumed to be
// whole function evaluations, so a single item is worth a worker.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 1,
	}
}

// Serial returns a configuration that never spawns goroutines.
func Serial() Config {
	return Config{Enabled: false}
}

// For executes f(ctx, i) for i in [0, n). It stops at the first error and
// cancels the context passed to the remaining calls.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(ctx context.Context, n int, f func(ctx context.Context, i int) error, cfg Config) error {
	chunk := max(cfg.MinChunkSize, 1)
	if !cfg.Enabled || n <= chunk {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	workers := cfg.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	chunk = max((n+workers-1)/workers, chunk)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := f(gctx, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Collect runs f for i in [0, n) like For and returns the results in index order.
func Collect[T any](ctx context.Context, n int, f func(ctx context.Context, i int) (T, error), cfg Config) ([]T, error) {
	out := make([]T, n)
	err := For(ctx, n, func(ctx context.Context, i int) error {
		v, err := f(ctx, i)
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	}, cfg)
	if err != nil {
		return nil, err
	}
	return out, nil
}
