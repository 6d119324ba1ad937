package data

import (
	"fmt"

	rng "github.com/leesper/go_rng"
)

// SyntheticOptions shapes a generated dataset.
type SyntheticOptions struct {
	NbClasses     int
	SeqLen        int
	Dim           int
	TrainPerClass int
	ValPerClass   int
	Noise         float64
	Seed          int64
}

// Synthetic draws one Gaussian centroid per class over the whole token block
// and scatters samples around it. Every class is linearly separable from the
// others at low noise, so each task is learnable in a few epochs.
func Synthetic(opts SyntheticOptions) *Dataset {
	if opts.Noise <= 0 {
		opts.Noise = 0.3
	}
	g := rng.NewGaussianGenerator(opts.Seed)
	tokens := opts.SeqLen * opts.Dim

	centroids := make([][]float32, opts.NbClasses)
	names := make([]string, opts.NbClasses)
	for c := range centroids {
		centroids[c] = make([]float32, tokens)
		for i := range centroids[c] {
			centroids[c][i] = float32(g.Gaussian(0, 1))
		}
		names[c] = fmt.Sprintf("class_%d", c)
	}

	draw := func(perClass int) []Sample {
		out := make([]Sample, 0, perClass*opts.NbClasses)
		for c, centre := range centroids {
			for k := 0; k < perClass; k++ {
				x := make([]float32, tokens)
				for i := range x {
					x[i] = centre[i] + float32(g.Gaussian(0, opts.Noise))
				}
				out = append(out, Sample{Input: x, Label: c})
			}
		}
		return out
	}

	return &Dataset{
		Train:      draw(opts.TrainPerClass),
		Val:        draw(opts.ValPerClass),
		ClassNames: names,
		SeqLen:     opts.SeqLen,
		Dim:        opts.Dim,
	}
}
