// Package metric accumulates per-step scalar statistics and reduces them
// across workers.
package metric

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/gulzainali98/LGCL/internal/dist"
)

// Meter is a running (sum, count) pair with the most recent value.
type Meter struct {
	Sum   float64
	Count float64
	Last  float64
	Fmt   string
}

// Update adds value observed n times.
func (m *Meter) Update(value float64, n int) {
	m.Last = value
	m.Sum += value * float64(n)
	m.Count += float64(n)
}

// GlobalAvg is Sum/Count, or 0 before the first update.
func (m *Meter) GlobalAvg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / m.Count
}

func (m *Meter) String() string {
	f := m.Fmt
	if f == "" {
		f = "%.4f (%.4f)"
	}
	return fmt.Sprintf(f, m.Last, m.GlobalAvg())
}

// Aggregator is a named set of meters. Meters are created on first use.
type Aggregator struct {
	meters map[string]*Meter
	order  []string
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{meters: make(map[string]*Meter)}
}

// AddMeter registers a meter with a display format, e.g. "%.6f".
func (a *Aggregator) AddMeter(name, format string) {
	m := a.meter(name)
	m.Fmt = format + " (" + format + ")"
}

// Update accumulates value with weight n (n < 1 counts as 1).
func (a *Aggregator) Update(name string, value float64, n int) {
	if n < 1 {
		n = 1
	}
	a.meter(name).Update(value, n)
}

// GlobalAvg returns the running average of name; unseen names average to 0.
func (a *Aggregator) GlobalAvg(name string) float64 {
	m, ok := a.meters[name]
	if !ok {
		return 0
	}
	return m.GlobalAvg()
}

// Meter returns the named meter, or nil.
func (a *Aggregator) Meter(name string) *Meter { return a.meters[name] }

// Names lists meters in registration order.
func (a *Aggregator) Names() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Merge folds other's sums and counts into a. The result does not depend on
// merge order.
func (a *Aggregator) Merge(other *Aggregator) {
	for _, name := range other.order {
		src := other.meters[name]
		dst := a.meter(name)
		dst.Sum += src.Sum
		dst.Count += src.Count
		if dst.Fmt == "" {
			dst.Fmt = src.Fmt
		}
	}
}

// Synchronize replaces every meter's sum and count with the group-wide
// totals. All workers must hold the same meter names.
func (a *Aggregator) Synchronize(ctx context.Context, r dist.Reducer) error {
	if r == nil || r.WorldSize() <= 1 {
		return nil
	}
	names := make([]string, len(a.order))
	copy(names, a.order)
	sort.Strings(names)

	buf := make([]float64, 0, 2*len(names))
	for _, name := range names {
		m := a.meters[name]
		buf = append(buf, m.Sum, m.Count)
	}
	total, err := r.AllReduce(ctx, buf)
	if err != nil {
		return errors.Wrap(err, "synchronize metrics")
	}
	for i, name := range names {
		m := a.meters[name]
		m.Sum, m.Count = total[2*i], total[2*i+1]
	}
	return nil
}

// Stats returns the global average of every meter.
func (a *Aggregator) Stats() map[string]float64 {
	out := make(map[string]float64, len(a.meters))
	for name, m := range a.meters {
		out[name] = m.GlobalAvg()
	}
	return out
}

// String renders "name: last (avg)" pairs separated by two spaces.
func (a *Aggregator) String() string {
	parts := make([]string, 0, len(a.order))
	for _, name := range a.order {
		parts = append(parts, name+": "+a.meters[name].String())
	}
	return strings.Join(parts, "  ")
}

// Summary renders "name: avg" pairs.
func (a *Aggregator) Summary() string {
	parts := make([]string, 0, len(a.order))
	for _, name := range a.order {
		parts = append(parts, fmt.Sprintf("%s: %.4f", name, a.meters[name].GlobalAvg()))
	}
	return strings.Join(parts, "  ")
}

func (a *Aggregator) meter(name string) *Meter {
	m, ok := a.meters[name]
	if !ok {
		m = &Meter{}
		a.meters[name] = m
		a.order = append(a.order, name)
	}
	return m
}
