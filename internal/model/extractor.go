package model

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Backbone runs the frozen attention block without prompts and mean-pools
// the tokens into (B, D) query features. It never produces gradients and
// is safe to call from several goroutines.
type Backbone struct {
	Attn *AttentionBlock
}

// NewBackbone wraps a frozen attention block.
func NewBackbone(attn *AttentionBlock) *Backbone { return &Backbone{Attn: attn} }

// Extract maps a (B, T, D) batch to (B, D) features.
func (bb *Backbone) Extract(x *tensor.Dense) (*tensor.Dense, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, errors.Errorf("backbone input must be (batch, tokens, dim), got %v", shape)
	}

	g := gorgonia.NewGraph()
	b := NewIsolatedBinder(g)
	input := b.Const("backbone_input", x)
	hidden, err := bb.Attn.Forward(b, input, nil)
	if err != nil {
		return nil, errors.Wrap(err, "backbone attention")
	}
	sum, err := gorgonia.Sum(hidden, 1)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.HadamardProd(sum, b.Scalar("inv_tokens", 1/float32(shape[1])))
	if err != nil {
		return nil, err
	}

	m := gorgonia.NewTapeMachine(g)
	defer m.Close()
	if err := m.RunAll(); err != nil {
		return nil, errors.Wrap(err, "run backbone")
	}
	out, ok := mean.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("unexpected backbone output %T", mean.Value())
	}
	return out.Clone().(*tensor.Dense), nil
}
