// Package engine runs continual-learning experiments: per-epoch training
// with the combined LGCL objective, per-task evaluation, and the cross-task
// accuracy bookkeeping.
package engine

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gulzainali98/LGCL/internal/config"
	"github.com/gulzainali98/LGCL/internal/model"
)

// ErrNonFiniteLoss aborts training when the total loss is NaN or Inf.
var ErrNonFiniteLoss = errors.New("non-finite loss")

// Model is a prompt-based classifier trained by the engine.
type Model interface {
	Forward(b *model.Binder, x *gorgonia.Node, opts model.ForwardOptions) (*model.Output, error)
	Params() []*model.Param
	// Pool is the prompt pool, or nil for models without one.
	Pool() *model.PromptPool
	NumClasses() int
}

// FeatureExtractor is the frozen model producing query features. Engines
// accept a nil extractor.
type FeatureExtractor interface {
	Extract(x *tensor.Dense) (*tensor.Dense, error)
}

// LossPlan states which optional terms enter the training loss and which
// are only reported.
type LossPlan struct {
	// ClassMapInLoss adds class_weight × class-map loss to the objective
	// (tasks after the first). Otherwise the class-map loss is reported only.
	ClassMapInLoss bool
	// TaskMapInLoss adds task_weight × task-map loss when the model offers it.
	TaskMapInLoss  bool
	ClassWeight    float64
	TaskWeight     float64

	PullConstraint      bool
	PullConstraintCoeff float64
}

// PlanLoss maps the use_lgcl / use_task flags to a LossPlan:
//
//	use_lgcl=false            class map reported only, task map ignored
//	use_lgcl=true use_task=f  class map in loss
//	use_lgcl=true use_task=t  class map and task map in loss
func PlanLoss(cfg *config.Config) LossPlan {
	return LossPlan{
		ClassMapInLoss:      cfg.UseLGCL,
		TaskMapInLoss:       cfg.UseLGCL && cfg.UseTask,
		ClassWeight:         cfg.ClassWeight,
		TaskWeight:          cfg.TaskWeight,
		PullConstraint:      cfg.PullConstraint,
		PullConstraintCoeff: cfg.PullConstraintCoeff,
	}
}

// wants lists the capabilities a training forward pass must build for
// task taskID, split into attached and detached.
func (p LossPlan) wants(taskID int) (want, detached model.Capability) {
	if p.PullConstraint {
		want |= model.CapReduceSim
	}
	if p.TaskMapInLoss {
		want |= model.CapTaskMap
	}
	if taskID > 0 {
		if p.ClassMapInLoss {
			want |= model.CapNaturalCls
		} else {
			detached |= model.CapNaturalCls
		}
	}
	return want, detached
}
