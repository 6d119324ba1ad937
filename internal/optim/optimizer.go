// Package optim updates model parameters from their accumulated gradients
// and schedules the learning rate across epochs.
package optim

import (
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/gulzainali98/LGCL/internal/config"
	"github.com/gulzainali98/LGCL/internal/model"
)

// Optimizer applies one update per Step to every non-frozen parameter that
// is not idle (see model.Param.Idle).
type Optimizer interface {
	ZeroGrad()
	Step() error
	// SetParams rebinds the optimizer after the parameter set changed
	// (for example after prompt carry-over). Existing per-parameter state
	// is kept for names that survive.
	SetParams(params []*model.Param)
	LR() float64
	SetLR(lr float64)
	State() State
	Load(State) error
}

// State is the serialisable optimizer state.
type State struct {
	Kind     string
	LR       float64
	Step     int
	Moment   map[string][]float32
	Velocity map[string][]float32
}

// New builds the optimizer named by cfg.Opt over params.
func New(cfg *config.Config, params []*model.Param) (Optimizer, error) {
	switch kind := strings.ToLower(cfg.Opt); kind {
	case "", "adamw":
		return NewAdamW(params, cfg.LR, cfg.WeightDecay), nil
	case "sgd":
		return NewSGD(params, cfg.LR, cfg.Momentum, cfg.WeightDecay), nil
	case "adam", "rmsprop", "momentum", "vanilla":
		return NewSolverOptimizer(kind, params, cfg.LR, cfg.Momentum, cfg.WeightDecay)
	default:
		return nil, errors.Errorf("unknown optimizer %q", cfg.Opt)
	}
}

// trainable filters out frozen parameters.
func trainable(params []*model.Param) []*model.Param {
	out := make([]*model.Param, 0, len(params))
	for _, p := range params {
		if !p.Frozen {
			out = append(out, p)
		}
	}
	return out
}

func zeroGrads(params []*model.Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// GradNorm is the global L2 norm of the gradients of params.
func GradNorm(params []*model.Param) float32 {
	var ss float32
	for _, p := range params {
		if p.Frozen {
			continue
		}
		for _, g := range p.GradData() {
			ss += g * g
		}
	}
	return math32.Sqrt(ss)
}

// ClipGradNorm rescales every gradient so that the global L2 norm is at
// most maxNorm and returns the norm before clipping. maxNorm <= 0 disables
// clipping.
func ClipGradNorm(params []*model.Param, maxNorm float64) float32 {
	norm := GradNorm(params)
	if maxNorm <= 0 || norm <= float32(maxNorm) || norm == 0 {
		return norm
	}
	scale := float32(maxNorm) / (norm + 1e-6)
	for _, p := range params {
		if p.Frozen {
			continue
		}
		g := p.GradData()
		for i := range g {
			g[i] *= scale
		}
	}
	return norm
}

func copyState(src map[string][]float32) map[string][]float32 {
	if src == nil {
		return nil
	}
	out := make(map[string][]float32, len(src))
	for k, v := range src {
		out[k] = append([]float32(nil), v...)
	}
	return out
}
