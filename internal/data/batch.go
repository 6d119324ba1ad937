// Package data produces the per-task batch streams of a continual-learning
// run and the class mask table that ties classes to tasks.
package data

import (
	"math/rand"

	"gorgonia.org/tensor"
)

// Sample is one example: a flattened (SeqLen, Dim) token block and its label.
type Sample struct {
	Input []float32
	Label int
}

// Batch is a stack of samples: Input is (B, SeqLen, Dim), Target has B labels.
type Batch struct {
	Input  *tensor.Dense
	Target []int
}

// Size is the number of examples in the batch.
func (b Batch) Size() int { return len(b.Target) }

// Loader yields the finite batch sequence of one pass. Implementations may
// reorder per epoch.
type Loader interface {
	Batches(epoch int) []Batch
	Len() int
}

// SliceLoader batches an in-memory sample slice.
type SliceLoader struct {
	Samples   []Sample
	BatchSize int
	SeqLen    int
	Dim       int
	Shuffle   bool
	Seed      int64

	rank  int
	world int
}

// NewSliceLoader returns an unsharded loader.
func NewSliceLoader(samples []Sample, batchSize, seqLen, dim int, shuffle bool, seed int64) *SliceLoader {
	return &SliceLoader{
		Samples:   samples,
		BatchSize: batchSize,
		SeqLen:    seqLen,
		Dim:       dim,
		Shuffle:   shuffle,
		Seed:      seed,
		world:     1,
	}
}

// Shard returns a loader over every world-th sample starting at rank.
func (l *SliceLoader) Shard(rank, world int) *SliceLoader {
	cp := *l
	if world < 1 {
		world = 1
	}
	cp.rank, cp.world = rank, world
	return &cp
}

func (l *SliceLoader) indices(epoch int) []int {
	idx := make([]int, len(l.Samples))
	for i := range idx {
		idx[i] = i
	}
	if l.Shuffle {
		r := rand.New(rand.NewSource(l.Seed + int64(epoch)))
		r.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	world := l.world
	if world <= 1 {
		return idx
	}
	var mine []int
	for i := l.rank; i < len(idx); i += world {
		mine = append(mine, idx[i])
	}
	return mine
}

// Len is the number of batches per pass.
func (l *SliceLoader) Len() int {
	n := len(l.indices(0))
	if l.BatchSize <= 0 {
		return 0
	}
	return (n + l.BatchSize - 1) / l.BatchSize
}

// Batches materialises one pass. The last batch may be short.
func (l *SliceLoader) Batches(epoch int) []Batch {
	idx := l.indices(epoch)
	if l.BatchSize <= 0 {
		return nil
	}
	tokens := l.SeqLen * l.Dim
	out := make([]Batch, 0, (len(idx)+l.BatchSize-1)/l.BatchSize)
	for start := 0; start < len(idx); start += l.BatchSize {
		end := start + l.BatchSize
		if end > len(idx) {
			end = len(idx)
		}
		n := end - start
		backing := make([]float32, n*tokens)
		target := make([]int, n)
		for b, i := range idx[start:end] {
			s := l.Samples[i]
			copy(backing[b*tokens:(b+1)*tokens], s.Input)
			target[b] = s.Label
		}
		out = append(out, Batch{
			Input:  tensor.New(tensor.WithShape(n, l.SeqLen, l.Dim), tensor.WithBacking(backing)),
			Target: target,
		})
	}
	return out
}
