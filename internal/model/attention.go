package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// AttentionBlock is a single-head self-attention layer with frozen Q/K/V
// projections. It stands in for the pretrained backbone: prompts are trained
// around it, never through its weights.
type AttentionBlock struct {
	Dim int
	WQ  *Param
	WK  *Param
	WV  *Param
}

// NewAttentionBlock initialises the projections with Glorot-uniform weights.
func NewAttentionBlock(name string, dim int) *AttentionBlock {
	edge := func(suffix string) *Param {
		w := gorgonia.GlorotU(1.0)(tensor.Float32, dim, dim).([]float32)
		t := tensor.New(tensor.WithShape(dim, dim), tensor.WithBacking(w))
		return NewParam(fmt.Sprintf("%s/%s", name, suffix), t, true)
	}
	return &AttentionBlock{
		Dim: dim,
		WQ:  edge("W_Q"),
		WK:  edge("W_K"),
		WV:  edge("W_V"),
	}
}

// Params lists the projection weights.
func (a *AttentionBlock) Params() []*Param { return []*Param{a.WQ, a.WK, a.WV} }

// Forward maps (B, T, E) tokens to (B, T, E) with a residual connection.
// mask, when non-nil, is a (1, T, T) additive mask holding 0 or -Inf.
func (a *AttentionBlock) Forward(b *Binder, input *gorgonia.Node, mask *tensor.Dense) (*gorgonia.Node, error) {
	if input.Dims() != 3 {
		return nil, errors.Errorf("attention input must be (batch, tokens, dim), got %v", input.Shape())
	}
	batch, tokens := input.Shape()[0], input.Shape()[1]

	q, err := a.project(b, input, a.WQ)
	if err != nil {
		return nil, errors.Wrap(err, "project Q")
	}
	k, err := a.project(b, input, a.WK)
	if err != nil {
		return nil, errors.Wrap(err, "project K")
	}
	v, err := a.project(b, input, a.WV)
	if err != nil {
		return nil, errors.Wrap(err, "project V")
	}

	kT, err := gorgonia.Transpose(k, 0, 2, 1)
	if err != nil {
		return nil, err
	}
	scores, err := gorgonia.BatchedMatMul(q, kT)
	if err != nil {
		return nil, err
	}
	scale := b.Scalar("attn_scale", float32(1.0/math.Sqrt(float64(a.Dim))))
	if scores, err = gorgonia.HadamardProd(scores, scale); err != nil {
		return nil, err
	}

	if mask != nil {
		m := b.Const("attn_mask", mask)
		if scores, err = gorgonia.BroadcastAdd(scores, m, nil, []byte{0}); err != nil {
			return nil, err
		}
	}

	// softmax over the last axis on the flattened (B*T, T) view
	flat, err := gorgonia.Reshape(scores, tensor.Shape{batch * tokens, tokens})
	if err != nil {
		return nil, err
	}
	probsFlat, err := gorgonia.SoftMax(flat)
	if err != nil {
		return nil, err
	}
	probs, err := gorgonia.Reshape(probsFlat, tensor.Shape{batch, tokens, tokens})
	if err != nil {
		return nil, err
	}

	out, err := gorgonia.BatchedMatMul(probs, v)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(out, input)
}

func (a *AttentionBlock) project(b *Binder, input *gorgonia.Node, w *Param) (*gorgonia.Node, error) {
	batch, tokens, dim := input.Shape()[0], input.Shape()[1], input.Shape()[2]
	flat, err := gorgonia.Reshape(input, tensor.Shape{batch * tokens, dim})
	if err != nil {
		return nil, err
	}
	proj, err := gorgonia.Mul(flat, b.Node(w))
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(proj, tensor.Shape{batch, tokens, a.Dim})
}

// PromptMask builds a (1, P+T, P+T) additive mask for a sequence that
// starts with P prompt tokens: input rows only attend to input columns, so
// the input tokens keep their backbone representation, while prompt rows
// attend everywhere.
func PromptMask(prompts, tokens int) *tensor.Dense {
	n := prompts + tokens
	data := make([]float32, n*n)
	for i := prompts; i < n; i++ {
		for j := 0; j < prompts; j++ {
			data[i*n+j] = float32(math.Inf(-1))
		}
	}
	return tensor.New(tensor.WithShape(1, n, n), tensor.WithBacking(data))
}
