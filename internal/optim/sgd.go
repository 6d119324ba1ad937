package optim

import (
	"github.com/pkg/errors"

	"github.com/gulzainali98/LGCL/internal/model"
)

// SGD is stochastic gradient descent with optional heavy-ball momentum and
// L2 weight decay folded into the gradient.
type SGD struct {
	Momentum float32
	WD       float32

	lr     float64
	t      int
	params []*model.Param
	buf    map[string][]float32
}

// NewSGD creates an SGD optimizer; momentum 0 is plain SGD.
func NewSGD(params []*model.Param, lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		Momentum: float32(momentum),
		WD:       float32(weightDecay),
		lr:       lr,
		params:   trainable(params),
		buf:      make(map[string][]float32),
	}
}

func (o *SGD) ZeroGrad() { zeroGrads(o.params) }
func (o *SGD) LR() float64 { return o.lr }
func (o *SGD) SetLR(lr float64) { o.lr = lr }
func (o *SGD) SetParams(ps []*model.Param) { o.params = trainable(ps) }

func (o *SGD) Step() error {
	o.t++
	lr := float32(o.lr)
	for _, p := range o.params {
		if p.Idle() {
			continue
		}
		w, g := p.Data(), p.GradData()
		var b []float32
		if o.Momentum != 0 {
			b = o.buf[p.Name]
			if len(b) != len(w) {
				b = make([]float32, len(w))
				o.buf[p.Name] = b
			}
		}
		for i := range w {
			d := g[i] + o.WD*w[i]
			if b != nil {
				b[i] = o.Momentum*b[i] + d
				d = b[i]
			}
			w[i] -= lr * d
		}
	}
	return nil
}

func (o *SGD) State() State {
	return State{Kind: "sgd", LR: o.lr, Step: o.t, Moment: copyState(o.buf)}
}

func (o *SGD) Load(s State) error {
	if s.Kind != "sgd" {
		return errors.Errorf("cannot load %q state into sgd", s.Kind)
	}
	o.lr, o.t = s.LR, s.Step
	o.buf = copyState(s.Moment)
	if o.buf == nil {
		o.buf = make(map[string][]float32)
	}
	return nil
}
