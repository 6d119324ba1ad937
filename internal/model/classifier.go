package model

import (
	"math"

	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gulzainali98/LGCL/internal/loss"
)

// ClassifierOptions sizes a PromptClassifier.
type ClassifierOptions struct {
	NumClasses int
	SeqLen     int
	EmbedDim   int
	TextDim    int
	PromptPool bool
	Size       int
	Length     int
	TopK       int
	Seed       int64
}

// PromptClassifier prepends retrieved prompts to the token sequence, runs
// the frozen attention block, mean-pools the prompt positions into
// pre-logits and classifies them with a linear head. With text embeddings
// attached it also exposes the projected class-name embeddings and a
// key-to-task-description loss.
type PromptClassifier struct {
	opts ClassifierOptions

	Attn *AttentionBlock
	Head *Head
	pool *PromptPool

	ClassProj *Param // (TextDim, EmbedDim)
	TaskProj  *Param // (TextDim, EmbedDim)
	classText *tensor.Dense
	taskText  *tensor.Dense
}

// NewPromptClassifier builds a classifier around a (shared, frozen)
// attention block.
func NewPromptClassifier(opts ClassifierOptions, attn *AttentionBlock) (*PromptClassifier, error) {
	if attn == nil || attn.Dim != opts.EmbedDim {
		return nil, errors.Errorf("attention block must have dim %d", opts.EmbedDim)
	}
	if opts.NumClasses <= 0 || opts.SeqLen <= 0 {
		return nil, errors.Errorf("classifier needs positive classes and sequence length, got %d and %d", opts.NumClasses, opts.SeqLen)
	}
	m := &PromptClassifier{
		opts: opts,
		Attn: attn,
		Head: NewHead(opts.EmbedDim, opts.NumClasses),
	}
	if opts.PromptPool {
		if opts.Size <= 0 || opts.Length <= 0 || opts.TopK <= 0 || opts.TopK > opts.Size {
			return nil, errors.Errorf("invalid prompt pool: size %d, length %d, top_k %d", opts.Size, opts.Length, opts.TopK)
		}
		m.pool = NewPromptPool(opts.Size, opts.Length, opts.EmbedDim, opts.Seed)
	}
	return m, nil
}

// SetTextEmbeddings attaches (NumClasses, TextDim) class-name and
// (num_tasks, TextDim) task-description embeddings and creates the
// trainable projections into the model dimension. taskText may be nil.
func (m *PromptClassifier) SetTextEmbeddings(classText, taskText *tensor.Dense) error {
	if classText == nil {
		return errors.New("class text embeddings are required")
	}
	cs := classText.Shape()
	if len(cs) != 2 || cs[0] != m.opts.NumClasses {
		return errors.Errorf("class text embeddings must be (%d, dim), got %v", m.opts.NumClasses, cs)
	}
	textDim := cs[1]
	if taskText != nil {
		ts := taskText.Shape()
		if len(ts) != 2 || ts[1] != textDim {
			return errors.Errorf("task text embeddings must be (tasks, %d), got %v", textDim, ts)
		}
	}
	m.opts.TextDim = textDim
	m.classText = classText
	m.taskText = taskText
	m.ClassProj = newProjection("text/class_proj", textDim, m.opts.EmbedDim, m.opts.Seed+1)
	m.TaskProj = newProjection("text/task_proj", textDim, m.opts.EmbedDim, m.opts.Seed+2)
	return nil
}

func newProjection(name string, in, out int, seed int64) *Param {
	gen := rng.NewGaussianGenerator(seed)
	std := 1 / math.Sqrt(float64(in))
	data := make([]float32, in*out)
	for i := range data {
		data[i] = float32(gen.Gaussian(0, std))
	}
	return NewParam(name, tensor.New(tensor.WithShape(in, out), tensor.WithBacking(data)), false)
}

// NumClasses is the logit width.
func (m *PromptClassifier) NumClasses() int { return m.opts.NumClasses }

// Pool is the prompt pool, or nil when prompts are disabled.
func (m *PromptClassifier) Pool() *PromptPool { return m.pool }

// Params lists every parameter, frozen ones included, in a stable order.
func (m *PromptClassifier) Params() []*Param {
	ps := append([]*Param(nil), m.Attn.Params()...)
	if m.pool != nil {
		ps = append(ps, m.pool.Params()...)
	}
	ps = append(ps, m.Head.Params()...)
	if m.ClassProj != nil {
		ps = append(ps, m.ClassProj, m.TaskProj)
	}
	return ps
}

// Forward builds the model expression for the (B, SeqLen, EmbedDim) input
// node x. Training uses task TaskID's own slots; evaluation retrieves slots
// by key similarity to the query features.
func (m *PromptClassifier) Forward(b *Binder, x *gorgonia.Node, opts ForwardOptions) (*Output, error) {
	if x.Dims() != 3 || x.Shape()[1] != m.opts.SeqLen || x.Shape()[2] != m.opts.EmbedDim {
		return nil, errors.Errorf("input must be (batch, %d, %d), got %v", m.opts.SeqLen, m.opts.EmbedDim, x.Shape())
	}
	batch := x.Shape()[0]
	out := &Output{}

	tokens := x
	prompts := 0
	var sel *gorgonia.Node
	var query []float32
	if m.pool != nil {
		var err error
		if query, err = m.query(x, opts.ClsFeatures, batch); err != nil {
			return nil, err
		}
		k := m.opts.TopK
		ids := make([][]int, batch)
		if opts.Train {
			slots := m.pool.TaskSlots(opts.TaskID, k)
			for i := range ids {
				ids[i] = slots
			}
		} else {
			ids = m.pool.Select(query, batch, k)
		}
		sel = b.Const("prompt_select", m.pool.SelectionMatrix(ids))

		vals, err := gorgonia.Mul(sel, b.Node(m.pool.Values))
		if err != nil {
			return nil, errors.Wrap(err, "select prompts")
		}
		prompts = k * m.opts.Length
		if vals, err = gorgonia.Reshape(vals, tensor.Shape{batch, prompts, m.opts.EmbedDim}); err != nil {
			return nil, err
		}
		if tokens, err = gorgonia.Concat(1, vals, x); err != nil {
			return nil, errors.Wrap(err, "prepend prompts")
		}
	}

	var mask *tensor.Dense
	if prompts > 0 {
		mask = PromptMask(prompts, m.opts.SeqLen)
	}
	hidden, err := m.Attn.Forward(b, tokens, mask)
	if err != nil {
		return nil, errors.Wrap(err, "attention")
	}
	pre, err := meanPool(b, hidden, prompts)
	if err != nil {
		return nil, errors.Wrap(err, "pool")
	}
	if out.Logits, err = m.Head.Forward(b, pre); err != nil {
		return nil, errors.Wrap(err, "head")
	}
	out.PreLogits = pre
	out.set(CapPreLogits)

	if m.pool != nil && opts.wants(CapReduceSim) {
		if out.ReduceSim, err = m.reduceSim(b, sel, query, batch, opts); err != nil {
			return nil, errors.Wrap(err, "reduce_sim")
		}
		out.set(CapReduceSim)
	}

	if m.classText != nil && opts.wants(CapNaturalCls) {
		text := b.Const("class_text", m.classText)
		if out.NaturalCls, err = gorgonia.Mul(text, paramNode(b, m.ClassProj, CapNaturalCls, opts)); err != nil {
			return nil, errors.Wrap(err, "natural_cls")
		}
		out.set(CapNaturalCls)
	}

	if m.pool != nil && m.taskText != nil && opts.Train && opts.wants(CapTaskMap) &&
		opts.TaskID >= 0 && opts.TaskID < m.taskText.Shape()[0] {
		if out.TaskMapLoss, err = m.taskMap(b, sel, batch, opts); err != nil {
			return nil, errors.Wrap(err, "task_map_loss")
		}
		out.set(CapTaskMap)
	}
	return out, nil
}

// query is the (B*EmbedDim) retrieval query: the extractor's features, or
// the token mean of x when no extractor is configured.
func (m *PromptClassifier) query(x *gorgonia.Node, cls *tensor.Dense, batch int) ([]float32, error) {
	dim := m.opts.EmbedDim
	if cls != nil {
		q, ok := cls.Data().([]float32)
		if !ok || len(q) != batch*dim {
			return nil, errors.Errorf("cls features must be (%d, %d) float32, got %v", batch, dim, cls.Shape())
		}
		return q, nil
	}
	if x.Value() == nil {
		return nil, errors.New("input node has no value to build a query from")
	}
	xs := x.Value().Data().([]float32)
	seq := m.opts.SeqLen
	q := make([]float32, batch*dim)
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			row := xs[(b*seq+s)*dim : (b*seq+s+1)*dim]
			for d, v := range row {
				q[b*dim+d] += v / float32(seq)
			}
		}
	}
	return q, nil
}

// reduceSim is sum over selected (example, key) pairs of cos(query, key)
// divided by the batch size.
func (m *PromptClassifier) reduceSim(b *Binder, sel *gorgonia.Node, query []float32, batch int, opts ForwardOptions) (*gorgonia.Node, error) {
	k, dim := m.opts.TopK, m.opts.EmbedDim
	keys, err := gorgonia.Mul(sel, paramNode(b, m.pool.Keys, CapReduceSim, opts))
	if err != nil {
		return nil, err
	}
	rep := make([]float32, 0, batch*k*dim)
	for i := 0; i < batch; i++ {
		for j := 0; j < k; j++ {
			rep = append(rep, query[i*dim:(i+1)*dim]...)
		}
	}
	q := b.Const("query", tensor.New(tensor.WithShape(batch*k, dim), tensor.WithBacking(rep)))
	sim, err := loss.Cosine(q, keys)
	if err != nil {
		return nil, err
	}
	total, err := gorgonia.Sum(sim)
	if err != nil {
		return nil, err
	}
	return gorgonia.HadamardProd(total, b.Scalar("inv_batch", 1/float32(batch)))
}

// taskMap is 1 - mean cos(selected key, projected task description).
func (m *PromptClassifier) taskMap(b *Binder, sel *gorgonia.Node, batch int, opts ForwardOptions) (*gorgonia.Node, error) {
	rows := batch * m.opts.TopK
	keys, err := gorgonia.Mul(sel, paramNode(b, m.pool.Keys, CapTaskMap, opts))
	if err != nil {
		return nil, err
	}

	textDim := m.taskText.Shape()[1]
	all := m.taskText.Data().([]float32)
	row := append([]float32(nil), all[opts.TaskID*textDim:(opts.TaskID+1)*textDim]...)
	text := b.Const("task_text", tensor.New(tensor.WithShape(1, textDim), tensor.WithBacking(row)))
	target, err := gorgonia.Mul(text, paramNode(b, m.TaskProj, CapTaskMap, opts))
	if err != nil {
		return nil, err
	}
	ones := make([]float32, rows)
	for i := range ones {
		ones[i] = 1
	}
	onesN := b.Const("task_repeat", tensor.New(tensor.WithShape(rows, 1), tensor.WithBacking(ones)))
	repeated, err := gorgonia.Mul(onesN, target)
	if err != nil {
		return nil, err
	}

	sim, err := loss.Cosine(keys, repeated)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Mean(sim)
	if err != nil {
		return nil, err
	}
	return gorgonia.Sub(b.Scalar("one", 1), mean)
}

// paramNode binds p for gradient flow when c is wanted attached, and as a
// detached copy otherwise.
func paramNode(b *Binder, p *Param, c Capability, opts ForwardOptions) *gorgonia.Node {
	if opts.Want&c != 0 {
		return b.Node(p)
	}
	return b.Detached(p)
}

// meanPool averages the first n token positions of (B, T, D) into (B, D);
// n == 0 averages every position.
func meanPool(b *Binder, h *gorgonia.Node, n int) (*gorgonia.Node, error) {
	batch, tokens, dim := h.Shape()[0], h.Shape()[1], h.Shape()[2]
	if n <= 0 || n > tokens {
		n = tokens
	}
	weights := make([]float32, batch*tokens)
	for i := 0; i < batch; i++ {
		for t := 0; t < n; t++ {
			weights[i*tokens+t] = 1 / float32(n)
		}
	}
	pm := b.Const("mean_pool", tensor.New(tensor.WithShape(batch, 1, tokens), tensor.WithBacking(weights)))
	pooled, err := gorgonia.BatchedMatMul(pm, h)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(pooled, tensor.Shape{batch, dim})
}
