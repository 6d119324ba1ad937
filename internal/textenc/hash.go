package textenc

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"math/rand"

	"gorgonia.org/tensor"
)

// Hash is a deterministic stand-in for a pre-trained text encoder: each text
// seeds a generator from its md5 digest, so equal texts map to equal vectors
// and different texts to unrelated ones.
type Hash struct {
	EmbDim int
}

// NewHash returns a Hash encoder producing vectors of dimension dim.
func NewHash(dim int) *Hash {
	return &Hash{EmbDim: dim}
}

func (h *Hash) Dim() int { return h.EmbDim }

// Encode returns an (N, Dim) tensor with values in [-1, 1).
func (h *Hash) Encode(_ context.Context, texts []string) (*tensor.Dense, error) {
	data := make([]float32, len(texts)*h.EmbDim)

	for b, text := range texts {
		hash := md5.Sum([]byte(text))
		seed := int64(binary.BigEndian.Uint64(hash[:8]))
		r := rand.New(rand.NewSource(seed))

		for d := 0; d < h.EmbDim; d++ {
			data[b*h.EmbDim+d] = r.Float32()*2 - 1
		}
	}

	return tensor.New(tensor.WithShape(len(texts), h.EmbDim), tensor.WithBacking(data)), nil
}
