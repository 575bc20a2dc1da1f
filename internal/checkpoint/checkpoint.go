// Package checkpoint stores trajectory snapshots taken during a forward
// integration so that a backward pass can reconstruct states on demand.
//
// The number of stored snapshots is bounded. When the bound is reached the
// controller thins the stored set uniformly: every second checkpoint after
// the first is dropped and the recording stride doubles. The initial
// checkpoint is never evicted, so any time inside the recorded interval can
// still be reconstructed, at the cost of longer local re-integration.
package checkpoint

import (
	"errors"
	"fmt"
	"sort"

	"github.com/born-ml/sensim/internal/ode"
)

var (
	// ErrNoCheckpoint is returned by Retrieve for times before the first checkpoint.
	ErrNoCheckpoint = errors.New("no checkpoint at or before time")

	// ErrNonMonotonic is returned by Record when time does not increase.
	ErrNonMonotonic = errors.New("checkpoint times must increase strictly")
)

// Checkpoint is an immutable snapshot of the forward trajectory.
type Checkpoint struct {
	Time      float64
	State     []float64  // differential state
	Algebraic []float64  // algebraic state, used as the initial guess on restart
	Memory    ode.Memory // backend snapshot to resume stepping from Time
}

// Config controls recording.
type Config struct {
	// MaxCheckpoints bounds the number of stored checkpoints (at least 2).
	MaxCheckpoints int
	// StepsPerCheckpoint records one checkpoint every this many accepted steps.
	StepsPerCheckpoint int
}

// DefaultConfig returns the default recording configuration.
func DefaultConfig() Config {
	return Config{MaxCheckpoints: 1000, StepsPerCheckpoint: 1}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxCheckpoints < 2 {
		return fmt.Errorf("checkpoint: MaxCheckpoints must be at least 2, got %d", c.MaxCheckpoints)
	}
	if c.StepsPerCheckpoint < 1 {
		return fmt.Errorf("checkpoint: StepsPerCheckpoint must be at least 1, got %d", c.StepsPerCheckpoint)
	}
	return nil
}

// Stats reports controller activity.
type Stats struct {
	Offered  int // calls to Record
	Recorded int // checkpoints ever stored
	Evicted  int // checkpoints dropped by thinning
	Stride   int // current recording stride in offered snapshots
}

// Controller records and retrieves checkpoints for one forward trajectory.
// It is not safe for concurrent use.
type Controller struct {
	cfg     Config
	points  []Checkpoint
	offered int
	stride  int
	last    float64
	stats   Stats
}

// New creates a controller.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg, stride: cfg.StepsPerCheckpoint}, nil
}

// Record offers the state at time t. The first offer is always stored; later
// ones are stored every stride offers. Arguments are copied.
func (c *Controller) Record(t float64, x, z []float64, mem ode.Memory) error {
	if c.offered > 0 && !(t > c.last) {
		return fmt.Errorf("record at %g after %g: %w", t, c.last, ErrNonMonotonic)
	}
	k := c.offered
	c.offered++
	c.last = t
	if k%c.stride != 0 {
		return nil
	}
	if len(c.points) == c.cfg.MaxCheckpoints {
		c.thin()
		if k%c.stride != 0 {
			return nil
		}
	}
	c.points = append(c.points, Checkpoint{
		Time:      t,
		State:     append([]float64(nil), x...),
		Algebraic: append([]float64(nil), z...),
		Memory:    mem,
	})
	c.stats.Recorded++
	return nil
}

// thin keeps checkpoints 0, 2, 4, ... and doubles the stride.
func (c *Controller) thin() {
	kept := c.points[:0]
	for i, p := range c.points {
		if i%2 == 0 {
			kept = append(kept, p)
		}
	}
	c.stats.Evicted += len(c.points) - len(kept)
	for i := len(kept); i < len(c.points); i++ {
		c.points[i] = Checkpoint{}
	}
	c.points = kept
	c.stride *= 2
}

// Retrieve returns the checkpoint with the largest time at or before t.
func (c *Controller) Retrieve(t float64) (Checkpoint, error) {
	i := sort.Search(len(c.points), func(i int) bool { return c.points[i].Time > t })
	if i == 0 {
		return Checkpoint{}, fmt.Errorf("retrieve at %g: %w", t, ErrNoCheckpoint)
	}
	return c.points[i-1], nil
}

// First returns the initial checkpoint.
func (c *Controller) First() (Checkpoint, bool) {
	if len(c.points) == 0 {
		return Checkpoint{}, false
	}
	return c.points[0], true
}

// Len returns the number of stored checkpoints.
func (c *Controller) Len() int { return len(c.points) }

// Times returns the stored checkpoint times in increasing order.
func (c *Controller) Times() []float64 {
	out := make([]float64, len(c.points))
	for i, p := range c.points {
		out[i] = p.Time
	}
	return out
}

// Stats returns activity counters.
func (c *Controller) Stats() Stats {
	s := c.stats
	s.Offered = c.offered
	s.Stride = c.stride
	return s
}

// Reset discards all checkpoints.
func (c *Controller) Reset() {
	c.points = nil
	c.offered = 0
	c.stride = c.cfg.StepsPerCheckpoint
	c.stats = Stats{}
}
