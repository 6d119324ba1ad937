package model

import (
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Capability marks an optional model output.
type Capability uint8

const (
	CapPreLogits Capability = 1 << iota
	CapReduceSim
	CapNaturalCls
	CapTaskMap
)

func (c Capability) String() string {
	switch c {
	case CapPreLogits:
		return "pre_logits"
	case CapReduceSim:
		return "reduce_sim"
	case CapNaturalCls:
		return "natural_cls"
	case CapTaskMap:
		return "task_map_loss"
	}
	return "capabilities"
}

// Output is the result of one forward pass. Logits is always set; every
// other node is present only when its capability bit is set.
type Output struct {
	Logits      *gorgonia.Node // (B, C)
	PreLogits   *gorgonia.Node // (B, D)
	ReduceSim   *gorgonia.Node // scalar
	NaturalCls  *gorgonia.Node // (C, D) or (B, C, D)
	TaskMapLoss *gorgonia.Node // scalar

	caps Capability
}

// Has reports whether every capability in c is present.
func (o *Output) Has(c Capability) bool { return o.caps&c == c }

// Caps returns the capability set.
func (o *Output) Caps() Capability { return o.caps }

func (o *Output) set(c Capability) { o.caps |= c }

// TaskMap returns the task-map loss node when the model computed one.
func (o *Output) TaskMap() (*gorgonia.Node, bool) {
	if !o.Has(CapTaskMap) {
		return nil, false
	}
	return o.TaskMapLoss, true
}

// ForwardOptions configures one forward pass.
type ForwardOptions struct {
	TaskID int
	Train  bool
	// ClsFeatures is the frozen extractor's (B, D) query, or nil.
	ClsFeatures *tensor.Dense
	// Want lists the optional outputs to build.
	Want Capability
	// Detached lists outputs to build from parameter values only, so they
	// can be read without joining the gradient.
	Detached Capability
}

// wants reports whether c is requested, attached or detached.
func (o ForwardOptions) wants(c Capability) bool {
	return (o.Want|o.Detached)&c != 0
}
