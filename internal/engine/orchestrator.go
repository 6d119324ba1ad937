package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/gulzainali98/LGCL/internal/checkpoint"
	"github.com/gulzainali98/LGCL/internal/config"
	"github.com/gulzainali98/LGCL/internal/data"
	"github.com/gulzainali98/LGCL/internal/dist"
	"github.com/gulzainali98/LGCL/internal/loss"
	"github.com/gulzainali98/LGCL/internal/model"
	"github.com/gulzainali98/LGCL/internal/optim"
)

// OptimizerFactory builds a fresh optimizer over params, used when
// reinit_optimizer is set.
type OptimizerFactory func(params []*model.Param) (optim.Optimizer, error)

// Run bundles everything TrainAndEvaluate needs. Scheduler may be nil for a
// constant rate. Started names the stats log file; zero means time.Now().
// Resume, when set, restores a task checkpoint and continues with the task
// after it.
type Run struct {
	Config    *config.Config
	Model     Model
	Extractor FeatureExtractor
	Tasks     []data.Task
	ClassMask data.ClassMask

	Optimizer    optim.Optimizer
	NewOptimizer OptimizerFactory
	Scheduler    optim.Scheduler

	Env     dist.Env
	Reducer dist.Reducer
	Log     zerolog.Logger
	RunID   string
	Started time.Time
	Resume  *checkpoint.State
}

// Result is the outcome of a full run. Summaries holds one entry per task
// trained by this call.
type Result struct {
	Matrix    *AccuracyMatrix
	Snapshots *model.SnapshotStore
	Summaries []Summary
	LastTrain map[string]float64
	LastTest  map[string]float64
}

// TrainAndEvaluate learns the tasks in order. Before task t > 0 it carries
// prompts over from task t-1, optionally re-creates the optimizer, trains
// for the configured epochs, snapshots the model, evaluates every task seen
// so far and, on the main process with an output directory, writes the
// task checkpoint and a stats line.
func TrainAndEvaluate(ctx context.Context, r Run) (*Result, error) {
	cfg := r.Config
	if cfg == nil || r.Model == nil || r.Optimizer == nil {
		return nil, errors.New("run needs a config, a model and an optimizer")
	}
	if len(r.Tasks) < cfg.NumTasks {
		return nil, errors.Errorf("have %d tasks, num_tasks is %d", len(r.Tasks), cfg.NumTasks)
	}
	if cfg.ReinitOptimizer && r.NewOptimizer == nil {
		return nil, errors.New("reinit_optimizer needs an optimizer factory")
	}

	started := r.Started
	if started.IsZero() {
		started = time.Now()
	}
	var stats *checkpoint.StatsLog
	if cfg.OutputDir != "" && r.Env.IsMainProcess() {
		stats = checkpoint.NewStatsLog(cfg.OutputDir, started)
	}

	plan := PlanLoss(cfg)
	sampler := loss.NewNegativeSampler(cfg.Seed, cfg.MaxNegativeDraws)
	opt := r.Optimizer
	res := &Result{Matrix: NewAccuracyMatrix(cfg.NumTasks)}
	if cfg.SnapshotModels {
		res.Snapshots = model.NewSnapshotStore(cfg.MaxSnapshots)
	}
	evalOpts := EvalOptions{
		ClassMask: r.ClassMask,
		TaskInc:   cfg.TaskInc,
		Reducer:   r.Reducer,
		Log:       r.Log,
		PrintFreq: cfg.PrintFreq,
	}

	start := 0
	if r.Resume != nil {
		if err := resume(r, opt, res.Matrix); err != nil {
			return nil, err
		}
		start = r.Resume.Task + 1
		r.Log.Info().Int("task", r.Resume.Task+1).Msg("resumed from checkpoint")
	}

	for t := start; t < cfg.NumTasks; t++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := r.Log.With().Int("task", t+1).Logger()

		if pool := r.Model.Pool(); t > 0 && pool != nil && cfg.PromptPool &&
			(cfg.SharedPromptPool || cfg.SharedPromptKey) {
			if pool.CarryOver(t, cfg.TopK, cfg.SharedPromptPool, cfg.SharedPromptKey) {
				opt.SetParams(r.Model.Params())
				log.Debug().Msg("carried prompts over from previous task")
			} else {
				log.Debug().Int("size", pool.Size).Int("top_k", cfg.TopK).Msg("prompt pool exhausted, carry-over skipped")
			}
		}

		if cfg.ReinitOptimizer && t > 0 {
			var err error
			if opt, err = r.NewOptimizer(r.Model.Params()); err != nil {
				return res, errors.Wrap(err, "reinit optimizer")
			}
			if r.Scheduler != nil {
				r.Scheduler.Attach(opt)
			}
		}
		if r.Scheduler != nil {
			r.Scheduler.Reset()
		}

		var train map[string]float64
		for epoch := 0; epoch < cfg.Epochs; epoch++ {
			var err error
			train, err = TrainOneEpoch(ctx, r.Model, r.Extractor, r.Tasks[t].Train, opt, TrainOptions{
				TaskID:    t,
				Epoch:     epoch,
				Epochs:    cfg.Epochs,
				ClassMask: r.ClassMask,
				Plan:      plan,
				TrainMask: cfg.TrainMask,
				ClipGrad:  cfg.ClipGrad,
				Sampler:   sampler,
				Reducer:   r.Reducer,
				Log:       log,
				PrintFreq: cfg.PrintFreq,
			})
			if err != nil {
				return res, err
			}
			if r.Scheduler != nil && !r.Scheduler.Constant() {
				r.Scheduler.Step(epoch)
			}
		}
		res.LastTrain = train

		if res.Snapshots != nil {
			res.Snapshots.Add(t, r.Model.Params())
		}

		test, summary, err := EvaluateTillNow(ctx, r.Model, r.Extractor, r.Tasks, t, res.Matrix, evalOpts)
		if err != nil {
			return res, errors.Wrapf(err, "evaluate after task %d", t+1)
		}
		res.LastTest = test
		res.Summaries = append(res.Summaries, summary)

		if stats != nil {
			if err := saveTask(r, opt, res.Matrix, t, stats, train, test); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func saveTask(r Run, opt optim.Optimizer, acc *AccuracyMatrix, t int, stats *checkpoint.StatsLog, train, test map[string]float64) error {
	cfg := r.Config
	st := &checkpoint.State{
		RunID:     r.RunID,
		Task:      t,
		Epoch:     cfg.Epochs - 1,
		Model:     checkpoint.FromParams(r.Model.Params()),
		Optimizer: opt.State(),
		Args:      *cfg,
		Accuracy:  acc.Rows(),
	}
	if r.Scheduler != nil && !r.Scheduler.Constant() {
		st.LRScheduler = r.Scheduler.State()
	}
	path := checkpoint.Path(cfg.OutputDir, t)
	if err := checkpoint.Save(path, st); err != nil {
		return errors.Wrapf(err, "save checkpoint for task %d", t+1)
	}
	if err := stats.Append(train, test, cfg.Epochs-1); err != nil {
		return errors.Wrap(err, "append stats")
	}
	r.Log.Info().Str("checkpoint", path).Str("stats", stats.Path()).Msg("saved task state")
	return nil
}

// resume loads r.Resume into the model, the optimizer, the scheduler and
// acc.
func resume(r Run, opt optim.Optimizer, acc *AccuracyMatrix) error {
	st := r.Resume
	if st.Task < 0 || st.Task >= r.Config.NumTasks {
		return errors.Errorf("checkpoint is for task %d, run has %d tasks", st.Task+1, r.Config.NumTasks)
	}
	if err := checkpoint.Apply(st.Model, r.Model.Params()); err != nil {
		return errors.Wrap(err, "restore model")
	}
	if err := opt.Load(st.Optimizer); err != nil {
		return errors.Wrap(err, "restore optimizer")
	}
	if r.Scheduler != nil && st.LRScheduler.Kind != "" {
		r.Scheduler.Load(st.LRScheduler)
	}
	for i, row := range st.Accuracy {
		for t, v := range row {
			if i > t || t > st.Task {
				continue
			}
			if err := acc.Set(i, t, v); err != nil {
				return errors.Wrap(err, "restore accuracy matrix")
			}
		}
	}
	return nil
}
