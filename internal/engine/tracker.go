package engine

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/gulzainali98/LGCL/internal/data"
)

// AccuracyMatrix holds top-1 accuracy of task i measured after training
// task t at (i, t). Only i <= t is ever written; the rest stays 0.
type AccuracyMatrix struct {
	m *mat.Dense
}

// NewAccuracyMatrix returns a zeroed numTasks × numTasks matrix.
func NewAccuracyMatrix(numTasks int) *AccuracyMatrix {
	return &AccuracyMatrix{m: mat.NewDense(numTasks, numTasks, nil)}
}

// NumTasks is the matrix order.
func (a *AccuracyMatrix) NumTasks() int {
	r, _ := a.m.Dims()
	return r
}

// Set records acc for task i after training task t.
func (a *AccuracyMatrix) Set(i, t int, acc float64) error {
	n := a.NumTasks()
	if t < 0 || t >= n || i < 0 || i > t {
		return errors.Errorf("accuracy cell (%d, %d) outside the lower triangle of a %d-task matrix", i, t, n)
	}
	a.m.Set(i, t, acc)
	return nil
}

// At returns cell (i, t).
func (a *AccuracyMatrix) At(i, t int) float64 { return a.m.At(i, t) }

// Rows returns a copy of the matrix as row slices.
func (a *AccuracyMatrix) Rows() [][]float64 {
	n := a.NumTasks()
	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, a.m)
	}
	return out
}

// Forgetting is the mean over i < t of (max of row i) - acc(i, t).
// It is 0 for t == 0.
func (a *AccuracyMatrix) Forgetting(t int) float64 {
	if t <= 0 {
		return 0
	}
	drops := make([]float64, t)
	for i := 0; i < t; i++ {
		row := mat.Row(nil, i, a.m)
		drops[i] = floats.Max(row) - a.m.At(i, t)
	}
	return stat.Mean(drops, nil)
}

// Backward is the mean over i < t of acc(i, t) - acc(i, i). It is 0 for
// t == 0.
func (a *AccuracyMatrix) Backward(t int) float64 {
	if t <= 0 {
		return 0
	}
	diffs := make([]float64, t)
	for i := 0; i < t; i++ {
		diffs[i] = a.m.At(i, t) - a.m.At(i, i)
	}
	return stat.Mean(diffs, nil)
}

// Summary is the average over every task seen so far.
type Summary struct {
	TaskID     int
	Acc1       float64
	Acc5       float64
	Loss       float64
	Forgetting float64
	Backward   float64

	// HasForgetting is false for the first task, where neither forgetting
	// nor backward transfer is defined.
	HasForgetting bool
}

func (s Summary) String() string {
	out := fmt.Sprintf("[Average accuracy till task%d]\tAcc@1: %.4f\tAcc@5: %.4f\tLoss: %.4f", s.TaskID+1, s.Acc1, s.Acc5, s.Loss)
	if s.HasForgetting {
		out += fmt.Sprintf("\tForgetting: %.4f\tBackward: %.4f", s.Forgetting, s.Backward)
	}
	return out
}

// EvaluateTillNow evaluates every task 0..taskID, records each task's
// Acc@1 in column taskID of acc and returns the stats of the last evaluated
// task with the running summary.
func EvaluateTillNow(ctx context.Context, m Model, fx FeatureExtractor, tasks []data.Task, taskID int, acc *AccuracyMatrix, opts EvalOptions) (map[string]float64, Summary, error) {
	if taskID < 0 || taskID >= len(tasks) || taskID >= acc.NumTasks() {
		return nil, Summary{}, errors.Errorf("task %d outside %d tasks", taskID, len(tasks))
	}

	// rows: Acc@1, Acc@5, Loss
	stats := mat.NewDense(3, acc.NumTasks(), nil)
	var last map[string]float64
	for i := 0; i <= taskID; i++ {
		o := opts
		o.TaskID = i
		s, err := Evaluate(ctx, m, fx, tasks[i].Val, o)
		if err != nil {
			return nil, Summary{}, err
		}
		stats.Set(0, i, s["Acc@1"])
		stats.Set(1, i, s["Acc@5"])
		stats.Set(2, i, s["Loss"])
		if err := acc.Set(i, taskID, s["Acc@1"]); err != nil {
			return nil, Summary{}, err
		}
		last = s
	}

	seen := float64(taskID + 1)
	sum := Summary{
		TaskID: taskID,
		Acc1:   floats.Sum(mat.Row(nil, 0, stats)[:taskID+1]) / seen,
		Acc5:   floats.Sum(mat.Row(nil, 1, stats)[:taskID+1]) / seen,
		Loss:   floats.Sum(mat.Row(nil, 2, stats)[:taskID+1]) / seen,
	}
	if taskID > 0 {
		sum.Forgetting = acc.Forgetting(taskID)
		sum.Backward = acc.Backward(taskID)
		sum.HasForgetting = true
	}
	opts.Log.Info().
		Int("task", taskID+1).
		Float64("acc1", sum.Acc1).
		Float64("acc5", sum.Acc5).
		Float64("loss", sum.Loss).
		Msg(sum.String())
	return last, sum, nil
}
