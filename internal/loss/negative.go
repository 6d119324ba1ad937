package loss

import (
	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"

	"github.com/gulzainali98/LGCL/internal/data"
)

// ErrNoNegativeClass means no acceptable negative class could be drawn for
// an example, which only happens with overlapping or malformed class masks.
var ErrNoNegativeClass = errors.New("no negative class available")

// DefaultMaxDraws caps rejection sampling per example.
const DefaultMaxDraws = 1000

// NegativeSampler draws, for every example, a class introduced by an earlier
// task that is neither the example's label nor a class of the current task.
type NegativeSampler struct {
	gen      *rng.UniformGenerator
	maxDraws int
}

// NewNegativeSampler seeds a sampler; maxDraws < 1 uses DefaultMaxDraws.
func NewNegativeSampler(seed int64, maxDraws int) *NegativeSampler {
	if maxDraws < 1 {
		maxDraws = DefaultMaxDraws
	}
	return &NegativeSampler{gen: rng.NewUniformGenerator(seed), maxDraws: maxDraws}
}

// Sample returns one negative class id per target. For task 0 there are no
// earlier classes and every entry is 0 without drawing.
func (s *NegativeSampler) Sample(targets []int, mask data.ClassMask, taskID int) ([]int, error) {
	out := make([]int, len(targets))
	if taskID <= 0 {
		return out, nil
	}
	prior := mask.PriorClasses(taskID)
	if len(prior) == 0 {
		return nil, errors.Wrapf(ErrNoNegativeClass, "task %d has no earlier classes", taskID)
	}
	n := int64(len(prior))
	for b, y := range targets {
		found := false
		for draw := 0; draw < s.maxDraws; draw++ {
			c := prior[s.gen.Int64n(n)]
			if c != y && !mask.Contains(taskID, c) {
				out[b] = c
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Wrapf(ErrNoNegativeClass, "example %d (label %d) after %d draws", b, y, s.maxDraws)
		}
	}
	return out, nil
}
