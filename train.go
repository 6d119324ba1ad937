package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gulzainali98/LGCL/internal/checkpoint"
	"github.com/gulzainali98/LGCL/internal/config"
	"github.com/gulzainali98/LGCL/internal/dist"
	"github.com/gulzainali98/LGCL/internal/engine"
	"github.com/gulzainali98/LGCL/internal/model"
	"github.com/gulzainali98/LGCL/internal/optim"
)

func newTrainCmd(root *rootFlags) *cobra.Command {
	rf := &runFlags{}
	var resume bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train on every task in order and evaluate after each one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd, root, rf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			env, err := trainEnv(dist.FromEnviron())
			if err != nil {
				return err
			}
			from, err := resumeState(cfg, resume, log)
			if err != nil {
				return err
			}
			runID := uuid.NewString()
			if from != nil {
				runID = from.RunID
			}
			log = log.With().Str("run_id", runID).Logger()

			exp, err := newExperiment(ctx, cfg, log, env)
			if err != nil {
				return errors.Wrap(err, "build experiment")
			}
			opt, err := optim.New(cfg, exp.clf.Params())
			if err != nil {
				return err
			}
			sched, err := optim.NewScheduler(cfg, opt)
			if err != nil {
				return err
			}

			if cfg.OutputDir != "" && env.IsMainProcess() {
				if err := cfg.Save(filepath.Join(cfg.OutputDir, "config.yaml")); err != nil {
					return err
				}
			}

			log.Info().
				Int("num_tasks", cfg.NumTasks).
				Int("nb_classes", cfg.NbClasses).
				Int("epochs", cfg.Epochs).
				Bool("use_lgcl", cfg.UseLGCL).
				Bool("use_task", cfg.UseTask).
				Msg("starting training")
			start := time.Now()

			res, err := engine.TrainAndEvaluate(ctx, engine.Run{
				Config:    cfg,
				Model:     exp.clf,
				Extractor: exp.fx,
				Tasks:     exp.tasks,
				ClassMask: exp.mask,
				Optimizer: opt,
				NewOptimizer: func(ps []*model.Param) (optim.Optimizer, error) {
					return optim.New(cfg, ps)
				},
				Scheduler: sched,
				Env:       env,
				Reducer:   dist.Single{},
				Log:       log,
				RunID:     runID,
				Started:   start,
				Resume:    from,
			})
			if errors.Is(err, engine.ErrNonFiniteLoss) {
				log.Fatal().Err(err).Msg("training diverged")
			}
			if err != nil {
				return err
			}

			printMatrix(cmd.OutOrStdout(), res.Matrix)
			if n := len(res.Summaries); n > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), res.Summaries[n-1])
			}
			log.Info().Dur("elapsed", time.Since(start)).Msg("training finished")
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().BoolVar(&resume, "resume", false, "continue after the last task checkpoint in --output-dir")
	return cmd
}

// trainEnv rejects multi-process layouts. Training has no cross-process
// reducer, so each rank would train and report on its own shard only.
func trainEnv(env dist.Env) (dist.Env, error) {
	if env.Distributed() {
		return env, errors.Errorf("train runs as a single process, got WORLD_SIZE=%d", env.WorldSize)
	}
	return env, nil
}

// resumeState loads the last task checkpoint when resume is set. A run
// with nothing saved yet starts from the first task.
func resumeState(cfg *config.Config, resume bool, log zerolog.Logger) (*checkpoint.State, error) {
	if !resume {
		return nil, nil
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("--resume needs an output directory")
	}
	st, err := checkpoint.Latest(cfg.OutputDir, cfg.NumTasks)
	if errors.Is(err, checkpoint.ErrNotFound) {
		log.Warn().Str("output_dir", cfg.OutputDir).Msg("no checkpoint to resume from, starting at task 1")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// printMatrix writes the accuracy matrix with one row per evaluated task.
func printMatrix(w io.Writer, m *engine.AccuracyMatrix) {
	fmt.Fprintln(w, "Accuracy matrix (row: task, column: after training task)")
	for i, row := range m.Rows() {
		line := ""
		for t, v := range row {
			if t < i {
				line += "      -"
				continue
			}
			line += fmt.Sprintf(" %6.2f", v)
		}
		fmt.Fprintf(w, "task%-3d%s\n", i+1, line)
	}
}
