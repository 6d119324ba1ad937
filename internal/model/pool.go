package model

import (
	"sort"

	rng "github.com/leesper/go_rng"
	"gorgonia.org/tensor"

	"github.com/gulzainali98/LGCL/internal/loss"
)

// PromptPool holds Size prompt slots. Each slot is Length tokens of Dim
// values plus a Dim-wide retrieval key. Task t trains the slot range
// [t*topK, (t+1)*topK).
type PromptPool struct {
	Size   int
	Length int
	Dim    int
	Values *Param // (Size, Length*Dim)
	Keys   *Param // (Size, Dim)
}

// NewPromptPool initialises values and keys uniformly in [-1, 1).
func NewPromptPool(size, length, dim int, seed int64) *PromptPool {
	gen := rng.NewUniformGenerator(seed)
	uniform := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = gen.Float32Range(-1, 1)
		}
		return out
	}
	return &PromptPool{
		Size:   size,
		Length: length,
		Dim:    dim,
		Values: NewParam("prompt/values",
			tensor.New(tensor.WithShape(size, length*dim), tensor.WithBacking(uniform(size*length*dim))), false),
		Keys: NewParam("prompt/keys",
			tensor.New(tensor.WithShape(size, dim), tensor.WithBacking(uniform(size*dim))), false),
	}
}

// Params lists values and keys.
func (p *PromptPool) Params() []*Param { return []*Param{p.Values, p.Keys} }

// SlotRange is the half-open slot range owned by task t.
func SlotRange(t, topK int) (lo, hi int) {
	return t * topK, (t + 1) * topK
}

// TaskSlots returns task t's slots, wrapping modulo Size when the pool is
// smaller than num_tasks*topK.
func (p *PromptPool) TaskSlots(t, topK int) []int {
	lo, _ := SlotRange(t, topK)
	out := make([]int, topK)
	for j := range out {
		out[j] = (lo + j) % p.Size
	}
	return out
}

// Select picks, for each of the batch query rows, the topK keys with the
// highest cosine similarity. Ties keep the lower slot first.
func (p *PromptPool) Select(query []float32, batch, topK int) [][]int {
	keys := p.Keys.Data()
	out := make([][]int, batch)
	sims := make([]float32, p.Size)
	order := make([]int, p.Size)
	for b := 0; b < batch; b++ {
		q := query[b*p.Dim : (b+1)*p.Dim]
		for s := 0; s < p.Size; s++ {
			sims[s] = loss.CosineValues(q, keys[s*p.Dim:(s+1)*p.Dim])
			order[s] = s
		}
		sort.SliceStable(order, func(i, j int) bool { return sims[order[i]] > sims[order[j]] })
		out[b] = append([]int(nil), order[:topK]...)
	}
	return out
}

// SelectionMatrix one-hot encodes per-example slot ids into a
// (batch*topK, Size) matrix, row b*topK+j selecting ids[b][j].
func (p *PromptPool) SelectionMatrix(ids [][]int) *tensor.Dense {
	topK := 0
	if len(ids) > 0 {
		topK = len(ids[0])
	}
	data := make([]float32, len(ids)*topK*p.Size)
	for b, row := range ids {
		for j, s := range row {
			data[(b*topK+j)*p.Size+s] = 1
		}
	}
	return tensor.New(tensor.WithShape(len(ids)*topK, p.Size), tensor.WithBacking(data))
}

// CarryOver initialises task t's slots from task t-1's slots. It zeroes
// the gradient buffers of the copied parameters and reports whether a copy
// happened: t == 0, nothing enabled, or a range past Size is a no-op.
func (p *PromptPool) CarryOver(t, topK int, values, keys bool) bool {
	if t <= 0 || topK <= 0 || (!values && !keys) {
		return false
	}
	prevLo, prevHi := SlotRange(t-1, topK)
	curLo, curHi := SlotRange(t, topK)
	if curHi > p.Size {
		return false
	}
	if values {
		copyRows(p.Values, p.Length*p.Dim, prevLo, prevHi, curLo)
	}
	if keys {
		copyRows(p.Keys, p.Dim, prevLo, prevHi, curLo)
	}
	return true
}

func copyRows(param *Param, width, lo, hi, dst int) {
	param.ZeroGrad()
	d := param.Data()
	copy(d[dst*width:(dst+hi-lo)*width], d[lo*width:hi*width])
}
