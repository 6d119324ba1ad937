package loss

import (
	"github.com/chewxy/math32"
	"gorgonia.org/gorgonia"
)

// cosEps bounds the norm product away from zero.
const cosEps = float32(1e-8)

// Cosine builds the row-wise cosine similarity of two (N, D) nodes,
// returning an (N,) node.
func Cosine(a, b *gorgonia.Node) (*gorgonia.Node, error) {
	ab, err := gorgonia.HadamardProd(a, b)
	if err != nil {
		return nil, err
	}
	dot, err := gorgonia.Sum(ab, 1)
	if err != nil {
		return nil, err
	}
	na, err := rowNorm(a)
	if err != nil {
		return nil, err
	}
	nb, err := rowNorm(b)
	if err != nil {
		return nil, err
	}
	den, err := gorgonia.HadamardProd(na, nb)
	if err != nil {
		return nil, err
	}
	den, err = gorgonia.Add(den, scalar(a.Graph(), "cos_eps", cosEps))
	if err != nil {
		return nil, err
	}
	return gorgonia.HadamardDiv(dot, den)
}

func rowNorm(x *gorgonia.Node) (*gorgonia.Node, error) {
	sq, err := gorgonia.Square(x)
	if err != nil {
		return nil, err
	}
	ss, err := gorgonia.Sum(sq, 1)
	if err != nil {
		return nil, err
	}
	// keeps the Sqrt gradient finite on all-zero rows
	ss, err = gorgonia.Add(ss, scalar(x.Graph(), "norm_eps", cosEps*cosEps))
	if err != nil {
		return nil, err
	}
	return gorgonia.Sqrt(ss)
}

// CosineValues is the cosine similarity of two equal-length vectors.
func CosineValues(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	return dot / (math32.Sqrt(na)*math32.Sqrt(nb) + cosEps)
}
