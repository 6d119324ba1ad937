package optim

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/gulzainali98/LGCL/internal/model"
)

// AdamW is Adam with decoupled weight decay and bias correction.
type AdamW struct {
	Beta1 float32
	Beta2 float32
	Eps   float32
	WD    float32

	lr     float64
	t      int
	params []*model.Param
	m      map[string][]float32
	v      map[string][]float32
}

// NewAdamW creates an AdamW optimizer with the usual betas (0.9, 0.999).
func NewAdamW(params []*model.Param, lr, weightDecay float64) *AdamW {
	return &AdamW{
		Beta1:  0.9,
		Beta2:  0.999,
		Eps:    1e-8,
		WD:     float32(weightDecay),
		lr:     lr,
		params: trainable(params),
		m:      make(map[string][]float32),
		v:      make(map[string][]float32),
	}
}

func (o *AdamW) ZeroGrad() { zeroGrads(o.params) }
func (o *AdamW) LR() float64 { return o.lr }
func (o *AdamW) SetLR(lr float64) { o.lr = lr }
func (o *AdamW) SetParams(ps []*model.Param) { o.params = trainable(ps) }

// Step applies one bias-corrected update to every parameter that is not
// idle. Idle parameters keep their weights and moments.
func (o *AdamW) Step() error {
	o.t++
	t := float32(o.t)
	bc1 := 1 - math32.Pow(o.Beta1, t)
	bc2 := 1 - math32.Pow(o.Beta2, t)
	lr := float32(o.lr)

	for _, p := range o.params {
		if p.Idle() {
			continue
		}
		w, g := p.Data(), p.GradData()
		m, ok := o.m[p.Name]
		if !ok || len(m) != len(w) {
			m = make([]float32, len(w))
			o.m[p.Name] = m
		}
		v, ok := o.v[p.Name]
		if !ok || len(v) != len(w) {
			v = make([]float32, len(w))
			o.v[p.Name] = v
		}
		for i := range w {
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*g[i]
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*g[i]*g[i]
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			w[i] -= lr * o.WD * w[i]
			w[i] -= lr * mHat / (math32.Sqrt(vHat) + o.Eps)
		}
	}
	return nil
}

func (o *AdamW) State() State {
	return State{Kind: "adamw", LR: o.lr, Step: o.t, Moment: copyState(o.m), Velocity: copyState(o.v)}
}

func (o *AdamW) Load(s State) error {
	if s.Kind != "adamw" {
		return errors.Errorf("cannot load %q state into adamw", s.Kind)
	}
	o.lr, o.t = s.LR, s.Step
	o.m, o.v = copyState(s.Moment), copyState(s.Velocity)
	if o.m == nil {
		o.m = make(map[string][]float32)
	}
	if o.v == nil {
		o.v = make(map[string][]float32)
	}
	return nil
}
