package model

import (
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Head is the final linear prediction layer over pre-logits.
type Head struct {
	W *Param // (dim, classes)
	B *Param // (1, classes)
}

// NewHead initialises W with Glorot-uniform weights and b with zeros.
func NewHead(inputDim, numClasses int) *Head {
	w := gorgonia.GlorotU(1.0)(tensor.Float32, inputDim, numClasses).([]float32)
	return &Head{
		W: NewParam("head/W", tensor.New(tensor.WithShape(inputDim, numClasses), tensor.WithBacking(w)), false),
		B: NewParam("head/b", tensor.New(tensor.WithShape(1, numClasses), tensor.Of(tensor.Float32)), false),
	}
}

// NumClasses is the width of the logit row.
func (h *Head) NumClasses() int { return h.W.Shape()[1] }

// Params lists W and b.
func (h *Head) Params() []*Param { return []*Param{h.W, h.B} }

// Forward maps (B, dim) pre-logits to (B, classes) logits.
func (h *Head) Forward(b *Binder, input *gorgonia.Node) (*gorgonia.Node, error) {
	logits, err := gorgonia.Mul(input, b.Node(h.W))
	if err != nil {
		return nil, err
	}
	// bias (1, C) broadcast over the batch
	return gorgonia.BroadcastAdd(logits, b.Node(h.B), nil, []byte{0})
}
