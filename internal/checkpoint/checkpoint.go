// Package checkpoint persists per-task training state and the run's
// line-delimited stats log.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gulzainali98/LGCL/internal/config"
	"github.com/gulzainali98/LGCL/internal/model"
	"github.com/gulzainali98/LGCL/internal/optim"
)

// ErrNotFound is returned by Load for a missing checkpoint file.
var ErrNotFound = errors.New("checkpoint not found")

// TensorState is a plain, gob-friendly copy of a parameter tensor.
type TensorState struct {
	Shape []int
	Data  []float32
}

// State is everything written after a task completes.
type State struct {
	RunID       string
	Task        int
	Epoch       int
	Model       map[string]TensorState
	Optimizer   optim.State
	LRScheduler optim.SchedulerState
	Args        config.Config
	// Accuracy is the accuracy matrix so far, row i being task i.
	Accuracy [][]float64
}

// Path is the checkpoint file for the 0-based task index: tasks are
// numbered from 1 on disk.
func Path(outputDir string, task int) string {
	return filepath.Join(outputDir, "checkpoint", fmt.Sprintf("task%d_checkpoint.pth", task+1))
}

// Latest loads the checkpoint of the last completed task under outputDir,
// looking at tasks numTasks-1 down to 0. It returns ErrNotFound when no
// task has been saved.
func Latest(outputDir string, numTasks int) (*State, error) {
	for t := numTasks - 1; t >= 0; t-- {
		st, err := Load(Path(outputDir, t))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return st, err
	}
	return nil, errors.Wrap(ErrNotFound, outputDir)
}

// FromParams copies parameter values into a model state map.
func FromParams(params []*model.Param) map[string]TensorState {
	out := make(map[string]TensorState, len(params))
	for _, p := range params {
		out[p.Name] = TensorState{
			Shape: p.Shape(),
			Data:  append([]float32(nil), p.Data()...),
		}
	}
	return out
}

// Apply writes a saved model state back into params. Every parameter must
// be present with a matching shape.
func Apply(state map[string]TensorState, params []*model.Param) error {
	for _, p := range params {
		ts, ok := state[p.Name]
		if !ok {
			return errors.Errorf("checkpoint has no parameter %q", p.Name)
		}
		if !tensor.Shape(ts.Shape).Eq(p.Value.Shape()) {
			return errors.Errorf("parameter %q has shape %v in checkpoint, %v in model", p.Name, ts.Shape, p.Shape())
		}
		copy(p.Data(), ts.Data)
	}
	return nil
}

// Save writes st to path atomically through a temporary file.
func Save(path string, st *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create checkpoint directory")
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	if err := gob.NewEncoder(f).Encode(st); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to close checkpoint file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to rename checkpoint file")
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint")
	}
	defer f.Close()

	var st State
	if err := gob.NewDecoder(f).Decode(&st); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return &st, nil
}
