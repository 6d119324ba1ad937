// Package model is the prompt-pool classifier trained by the engine: a frozen
// attention backbone, a growing pool of task prompts with retrieval keys, and
// a linear head, all expressed as gorgonia graphs.
package model

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Param is a persistent weight tensor and its gradient buffer. Graph nodes
// are rebuilt per forward pass and bound to Value, so optimizer updates to
// Value are seen by the next pass.
type Param struct {
	Name   string
	Value  *tensor.Dense
	Grad   *tensor.Dense
	Frozen bool

	idle bool
}

// NewParam wraps value with a zeroed gradient of the same shape.
func NewParam(name string, value *tensor.Dense, frozen bool) *Param {
	shape := append([]int(nil), value.Shape()...)
	return &Param{
		Name:   name,
		Value:  value,
		Grad:   tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float32)),
		Frozen: frozen,
	}
}

// Data is the float32 backing of Value.
func (p *Param) Data() []float32 { return p.Value.Data().([]float32) }

// GradData is the float32 backing of Grad.
func (p *Param) GradData() []float32 { return p.Grad.Data().([]float32) }

// Shape returns a copy of Value's shape.
func (p *Param) Shape() []int { return append([]int(nil), p.Value.Shape()...) }

// ZeroGrad clears the gradient buffer and marks p idle until a graph
// hands it a gradient again.
func (p *Param) ZeroGrad() {
	g := p.GradData()
	for i := range g {
		g[i] = 0
	}
	p.idle = true
}

// Idle reports whether p received no gradient since its last ZeroGrad,
// that is, the last step's graph did not bind it. Optimizers leave idle
// parameters alone.
func (p *Param) Idle() bool { return p.idle }

// Clone deep-copies value and gradient.
func (p *Param) Clone() *Param {
	return &Param{
		Name:   p.Name,
		Value:  p.Value.Clone().(*tensor.Dense),
		Grad:   p.Grad.Clone().(*tensor.Dense),
		Frozen: p.Frozen,
	}
}

// Binder binds parameters and constants into one expression graph and
// remembers which trainable parameters the graph uses.
type Binder struct {
	g        *gorgonia.ExprGraph
	nodes    map[*Param]*gorgonia.Node
	order    []*Param
	consts   int
	isolated bool
}

// NewBinder starts binding into g.
func NewBinder(g *gorgonia.ExprGraph) *Binder {
	return &Binder{g: g, nodes: make(map[*Param]*gorgonia.Node)}
}

// NewIsolatedBinder binds copies of every parameter and constant, so the
// graph's machine never touches a tensor shared with another goroutine.
// Use it for forward-only passes that may run concurrently on one model.
func NewIsolatedBinder(g *gorgonia.ExprGraph) *Binder {
	b := NewBinder(g)
	b.isolated = true
	return b
}

func (b *Binder) value(t *tensor.Dense) *tensor.Dense {
	if b.isolated {
		return t.Clone().(*tensor.Dense)
	}
	return t
}

// Graph is the graph being built.
func (b *Binder) Graph() *gorgonia.ExprGraph { return b.g }

// Node returns p's node in the graph, creating it on first use.
func (b *Binder) Node(p *Param) *gorgonia.Node {
	if n, ok := b.nodes[p]; ok {
		return n
	}
	shape := p.Value.Shape()
	n := gorgonia.NewTensor(b.g, tensor.Float32, len(shape),
		gorgonia.WithShape(shape...),
		gorgonia.WithName(p.Name),
		gorgonia.WithValue(b.value(p.Value)))
	b.nodes[p] = n
	b.order = append(b.order, p)
	return n
}

// Const adds a non-trainable tensor. Names are made unique per binder.
func (b *Binder) Const(name string, t *tensor.Dense) *gorgonia.Node {
	b.consts++
	shape := t.Shape()
	return gorgonia.NewTensor(b.g, tensor.Float32, len(shape),
		gorgonia.WithShape(shape...),
		gorgonia.WithName(fmt.Sprintf("%s_%d", name, b.consts)),
		gorgonia.WithValue(b.value(t)))
}

// Detached adds a copy of p's current value as a constant, so the graph can
// read p without p joining the gradient.
func (b *Binder) Detached(p *Param) *gorgonia.Node {
	if b.isolated {
		return b.Const(p.Name+"_detached", p.Value)
	}
	return b.Const(p.Name+"_detached", p.Value.Clone().(*tensor.Dense))
}

// Scalar adds a float32 constant.
func (b *Binder) Scalar(name string, v float32) *gorgonia.Node {
	b.consts++
	return gorgonia.NodeFromAny(b.g, v, gorgonia.WithName(fmt.Sprintf("%s_%d", name, b.consts)))
}

// Trainable returns the bound parameters that are not frozen, with their
// nodes in the same order.
func (b *Binder) Trainable() ([]*Param, gorgonia.Nodes) {
	var ps []*Param
	var ns gorgonia.Nodes
	for _, p := range b.order {
		if p.Frozen {
			continue
		}
		ps = append(ps, p)
		ns = append(ns, b.nodes[p])
	}
	return ps, ns
}

// CollectGrads copies each trainable node's gradient into its Param.Grad.
// Run after the machine has executed the backward pass.
func (b *Binder) CollectGrads() error {
	ps, ns := b.Trainable()
	for i, p := range ps {
		gv, err := ns[i].Grad()
		if err != nil {
			return err
		}
		src := gv.Data().([]float32)
		dst := p.GradData()
		if len(src) != len(dst) {
			return fmt.Errorf("gradient of %s has %d values, want %d", p.Name, len(src), len(dst))
		}
		for j, v := range src {
			dst[j] += v
		}
		p.idle = false
	}
	return nil
}

// ValueOf reads a node's float32 data after the graph has run.
func ValueOf(n *gorgonia.Node) []float32 {
	if n == nil || n.Value() == nil {
		return nil
	}
	switch d := n.Value().Data().(type) {
	case []float32:
		return d
	case float32:
		return []float32{d}
	}
	return nil
}

// ScalarOf reads a scalar node's value after the graph has run.
func ScalarOf(n *gorgonia.Node) float32 {
	v := ValueOf(n)
	if len(v) == 0 {
		return 0
	}
	return v[0]
}
