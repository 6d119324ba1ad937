package optim

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/gulzainali98/LGCL/internal/config"
)

// Scheduler sets the optimizer's learning rate per epoch.
type Scheduler interface {
	// Step is called after epoch finished and sets the rate for the next one.
	Step(epoch int)
	// Attach points the scheduler at a (re-created) optimizer.
	Attach(opt Optimizer)
	// Constant reports whether Step never changes the rate.
	Constant() bool
	// Reset restarts the schedule at epoch 0.
	Reset()
	State() SchedulerState
	Load(SchedulerState)
}

// SchedulerState is the serialisable scheduler state.
type SchedulerState struct {
	Kind      string
	BaseLR    float64
	LastEpoch int
}

// EpochScheduler implements constant, step and cosine schedules with an
// optional linear warmup.
type EpochScheduler struct {
	Kind        string
	BaseLR      float64
	MinLR       float64
	Warmup      int
	Total       int
	DecayEpochs int
	DecayRate   float64

	opt  Optimizer
	last int
}

// NewScheduler builds the schedule named by cfg.Sched and applies its
// epoch-0 rate.
func NewScheduler(cfg *config.Config, opt Optimizer) (*EpochScheduler, error) {
	kind := strings.ToLower(cfg.Sched)
	switch kind {
	case "":
		kind = "constant"
	case "constant", "step", "cosine":
	default:
		return nil, errors.Errorf("unknown scheduler %q", cfg.Sched)
	}
	s := &EpochScheduler{
		Kind:        kind,
		BaseLR:      cfg.LR,
		MinLR:       cfg.MinLR,
		Warmup:      cfg.WarmupEpochs,
		Total:       cfg.Epochs,
		DecayEpochs: cfg.DecayEpochs,
		DecayRate:   cfg.DecayRate,
		last:        -1,
	}
	s.Attach(opt)
	return s, nil
}

// Attach binds opt and sets its rate for the current epoch.
func (s *EpochScheduler) Attach(opt Optimizer) {
	s.opt = opt
	if opt != nil {
		opt.SetLR(s.LRAt(s.last + 1))
	}
}

func (s *EpochScheduler) Constant() bool { return s.Kind == "constant" && s.Warmup <= 0 }

func (s *EpochScheduler) Step(epoch int) {
	s.last = epoch
	if s.opt != nil {
		s.opt.SetLR(s.LRAt(epoch + 1))
	}
}

// LRAt is the rate used while training epoch.
func (s *EpochScheduler) LRAt(epoch int) float64 {
	if s.Warmup > 0 && epoch < s.Warmup {
		return s.MinLR + (s.BaseLR-s.MinLR)*float64(epoch+1)/float64(s.Warmup+1)
	}
	switch s.Kind {
	case "step":
		if s.DecayEpochs <= 0 {
			return s.BaseLR
		}
		return s.BaseLR * math.Pow(s.DecayRate, float64(epoch/s.DecayEpochs))
	case "cosine":
		span := s.Total - s.Warmup
		if span <= 0 {
			return s.BaseLR
		}
		progress := math.Min(float64(epoch-s.Warmup)/float64(span), 1)
		return s.MinLR + 0.5*(s.BaseLR-s.MinLR)*(1+math.Cos(math.Pi*progress))
	}
	return s.BaseLR
}

func (s *EpochScheduler) State() SchedulerState {
	return SchedulerState{Kind: s.Kind, BaseLR: s.BaseLR, LastEpoch: s.last}
}

func (s *EpochScheduler) Load(st SchedulerState) {
	s.Kind, s.BaseLR, s.last = st.Kind, st.BaseLR, st.LastEpoch
	if s.opt != nil {
		s.opt.SetLR(s.LRAt(s.last + 1))
	}
}

// Reset restarts the schedule at epoch 0, used at the start of each task.
func (s *EpochScheduler) Reset() {
	s.last = -1
	if s.opt != nil {
		s.opt.SetLR(s.LRAt(0))
	}
}
