package data

import (
	"math/rand"

	"github.com/pkg/errors"
)

// ClassMask maps a task index to the labels that task introduces. Task
// label sets are disjoint.
type ClassMask [][]int

// Classes returns the labels of task t.
func (m ClassMask) Classes(t int) []int {
	if t < 0 || t >= len(m) {
		return nil
	}
	return m[t]
}

// Contains reports whether label c belongs to task t.
func (m ClassMask) Contains(t, c int) bool {
	for _, x := range m.Classes(t) {
		if x == c {
			return true
		}
	}
	return false
}

// PriorClasses is the union of the labels of tasks strictly before t.
func (m ClassMask) PriorClasses(t int) []int {
	var out []int
	for i := 0; i < t && i < len(m); i++ {
		out = append(out, m[i]...)
	}
	return out
}

// TaskOf returns the task a label belongs to, or -1.
func (m ClassMask) TaskOf(c int) int {
	for t := range m {
		if m.Contains(t, c) {
			return t
		}
	}
	return -1
}

// Dataset is a labelled train/validation pair over NbClasses() classes.
type Dataset struct {
	Train      []Sample
	Val        []Sample
	ClassNames []string
	SeqLen     int
	Dim        int
}

// NbClasses is the size of the label space.
func (d *Dataset) NbClasses() int { return len(d.ClassNames) }

// Task bundles one task's class set and batch streams.
type Task struct {
	ID      int
	Classes []int
	Train   Loader
	Val     Loader
}

// SplitOptions controls Split.
type SplitOptions struct {
	NumTasks       int
	BatchSize      int
	ShuffleClasses bool
	Seed           int64
	Rank           int
	WorldSize      int
}

// Split partitions the label space into NumTasks disjoint groups of
// NbClasses()/NumTasks labels each (after an optional seeded permutation)
// and builds per-task loaders. Labels left over by the division are unused.
func Split(ds *Dataset, opts SplitOptions) ([]Task, ClassMask, error) {
	nb := ds.NbClasses()
	if opts.NumTasks <= 0 || nb < opts.NumTasks {
		return nil, nil, errors.Errorf("cannot split %d classes into %d tasks", nb, opts.NumTasks)
	}
	labels := make([]int, nb)
	for i := range labels {
		labels[i] = i
	}
	if opts.ShuffleClasses {
		r := rand.New(rand.NewSource(opts.Seed))
		r.Shuffle(len(labels), func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })
	}

	perTask := nb / opts.NumTasks
	mask := make(ClassMask, opts.NumTasks)
	owner := make(map[int]int, nb)
	for t := 0; t < opts.NumTasks; t++ {
		group := append([]int(nil), labels[t*perTask:(t+1)*perTask]...)
		mask[t] = group
		for _, c := range group {
			owner[c] = t
		}
	}

	byTask := func(samples []Sample) [][]Sample {
		out := make([][]Sample, opts.NumTasks)
		for _, s := range samples {
			if t, ok := owner[s.Label]; ok {
				out[t] = append(out[t], s)
			}
		}
		return out
	}
	train, val := byTask(ds.Train), byTask(ds.Val)

	tasks := make([]Task, opts.NumTasks)
	for t := range tasks {
		tr := NewSliceLoader(train[t], opts.BatchSize, ds.SeqLen, ds.Dim, true, opts.Seed+int64(t))
		va := NewSliceLoader(val[t], opts.BatchSize, ds.SeqLen, ds.Dim, false, 0)
		if opts.WorldSize > 1 {
			tr = tr.Shard(opts.Rank, opts.WorldSize)
			va = va.Shard(opts.Rank, opts.WorldSize)
		}
		tasks[t] = Task{ID: t, Classes: mask[t], Train: tr, Val: va}
	}
	return tasks, mask, nil
}
