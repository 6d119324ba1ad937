package optim

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"

	"github.com/gulzainali98/LGCL/internal/model"
)

// paramValueGrad exposes a Param to gorgonia solvers.
type paramValueGrad struct{ p *model.Param }

func (v paramValueGrad) Value() gorgonia.Value { return v.p.Value }
func (v paramValueGrad) Grad() (gorgonia.Value, error) { return v.p.Grad, nil }

// SolverOptimizer drives one of gorgonia's built-in solvers. The solvers
// have a fixed learning rate, so SetLR rebuilds the solver and their
// internal moment caches start over.
type SolverOptimizer struct {
	kind     string
	lr       float64
	momentum float64
	l2       float64
	t        int

	params []*model.Param
	solver gorgonia.Solver
}

// NewSolverOptimizer creates a solver optimizer of kind adam, rmsprop,
// momentum or vanilla.
func NewSolverOptimizer(kind string, params []*model.Param, lr, momentum, l2 float64) (*SolverOptimizer, error) {
	o := &SolverOptimizer{kind: kind, lr: lr, momentum: momentum, l2: l2, params: trainable(params)}
	if err := o.build(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *SolverOptimizer) build() error {
	opts := []gorgonia.SolverOpt{gorgonia.WithLearnRate(o.lr)}
	if o.l2 > 0 {
		opts = append(opts, gorgonia.WithL2Reg(o.l2))
	}
	switch o.kind {
	case "adam":
		o.solver = gorgonia.NewAdamSolver(opts...)
	case "rmsprop":
		o.solver = gorgonia.NewRMSPropSolver(opts...)
	case "momentum":
		o.solver = gorgonia.NewMomentum(append(opts, gorgonia.WithMomentum(o.momentum))...)
	case "vanilla":
		o.solver = gorgonia.NewVanillaSolver(opts...)
	default:
		return errors.Errorf("unknown solver %q", o.kind)
	}
	return nil
}

func (o *SolverOptimizer) ZeroGrad() { zeroGrads(o.params) }
func (o *SolverOptimizer) LR() float64 { return o.lr }

// SetLR rebuilds the solver at the new rate.
func (o *SolverOptimizer) SetLR(lr float64) {
	if lr == o.lr {
		return
	}
	o.lr = lr
	_ = o.build()
}

// SetParams rebinds the parameters. Solver caches are positional, so the
// solver is rebuilt.
func (o *SolverOptimizer) SetParams(ps []*model.Param) {
	o.params = trainable(ps)
	_ = o.build()
}

// Step runs the solver over every parameter. The solver caches are
// positional, so idle parameters still take part and have their weights
// restored afterwards.
func (o *SolverOptimizer) Step() error {
	o.t++
	vgs := make([]gorgonia.ValueGrad, len(o.params))
	kept := make(map[*model.Param][]float32)
	for i, p := range o.params {
		vgs[i] = paramValueGrad{p}
		if p.Idle() {
			kept[p] = append([]float32(nil), p.Data()...)
		}
	}
	if err := o.solver.Step(vgs); err != nil {
		return errors.Wrapf(err, "%s step", o.kind)
	}
	for p, w := range kept {
		copy(p.Data(), w)
	}
	return nil
}

// State records the rate and step count; solver caches are not exported.
func (o *SolverOptimizer) State() State {
	return State{Kind: o.kind, LR: o.lr, Step: o.t}
}

func (o *SolverOptimizer) Load(s State) error {
	if s.Kind != o.kind {
		return errors.Errorf("cannot load %q state into %s", s.Kind, o.kind)
	}
	o.t = s.Step
	o.lr = s.LR
	return o.build()
}
