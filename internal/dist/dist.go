// Package dist holds the process-group view of a run: rank, world size and
// the all-reduce used to combine per-worker metrics.
package dist

import (
	"context"
	"os"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Env describes this process's place in the worker group.
type Env struct {
	Rank      int
	WorldSize int
}

// FromEnviron reads RANK and WORLD_SIZE; missing or malformed values give a
// single-process group.
func FromEnviron() Env {
	e := Env{Rank: 0, WorldSize: 1}
	if v, err := strconv.Atoi(os.Getenv("WORLD_SIZE")); err == nil && v > 0 {
		e.WorldSize = v
	}
	if v, err := strconv.Atoi(os.Getenv("RANK")); err == nil && v >= 0 && v < e.WorldSize {
		e.Rank = v
	}
	return e
}

// IsMainProcess reports whether this worker owns checkpoint and log writes.
func (e Env) IsMainProcess() bool { return e.Rank == 0 }

// Distributed reports whether more than one worker participates.
func (e Env) Distributed() bool { return e.WorldSize > 1 }

// Reducer sums a vector element-wise across all workers. Every worker must
// call AllReduce with a vector of the same length; each receives the sum.
type Reducer interface {
	AllReduce(ctx context.Context, v []float64) ([]float64, error)
	WorldSize() int
}

// Single is the Reducer of a one-worker group.
type Single struct{}

func (Single) AllReduce(_ context.Context, v []float64) ([]float64, error) {
	out := make([]float64, len(v))
	copy(out, v)
	return out, nil
}

func (Single) WorldSize() int { return 1 }

// LocalGroup all-reduces between goroutines of one process. A round completes
// when every member has contributed; members then observe the same sum.
type LocalGroup struct {
	size int

	mu      sync.Mutex
	round   *reduceRound
	pending int
}

type reduceRound struct {
	sum  []float64
	err  error
	done chan struct{}
}

// NewLocalGroup returns a group of n members.
func NewLocalGroup(n int) *LocalGroup {
	if n < 1 {
		n = 1
	}
	return &LocalGroup{size: n}
}

func (g *LocalGroup) WorldSize() int { return g.size }

func (g *LocalGroup) AllReduce(ctx context.Context, v []float64) ([]float64, error) {
	g.mu.Lock()
	if g.round == nil {
		g.round = &reduceRound{sum: make([]float64, len(v)), done: make(chan struct{})}
	}
	r := g.round
	switch {
	case r.err != nil:
	case len(r.sum) != len(v):
		r.err = errors.Errorf("all-reduce length mismatch: %d vs %d", len(r.sum), len(v))
	default:
		for i, x := range v {
			r.sum[i] += x
		}
	}
	g.pending++
	if g.pending == g.size {
		g.round = nil
		g.pending = 0
		close(r.done)
	}
	g.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "all-reduce interrupted")
	}
	if r.err != nil {
		return nil, r.err
	}
	out := make([]float64, len(r.sum))
	copy(out, r.sum)
	return out, nil
}
