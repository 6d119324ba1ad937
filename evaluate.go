package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gulzainali98/LGCL/internal/checkpoint"
	"github.com/gulzainali98/LGCL/internal/data"
	"github.com/gulzainali98/LGCL/internal/dist"
	"github.com/gulzainali98/LGCL/internal/engine"
	"github.com/gulzainali98/LGCL/internal/logging"
)

type evalFlags struct {
	checkpoint string
	outputDir  string
	task       int
	workers    int
	embeddings string
}

func newEvaluateCmd(root *rootFlags) *cobra.Command {
	f := &evalFlags{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a task checkpoint on every task learned so far",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := f.checkpoint
			if path == "" {
				if f.outputDir == "" || f.task < 1 {
					return errors.New("pass --checkpoint, or --output-dir with --task")
				}
				path = checkpoint.Path(f.outputDir, f.task-1)
			}
			st, err := checkpoint.Load(path)
			if err != nil {
				return err
			}

			cfg := st.Args
			if root.logLevel != "" {
				cfg.LogLevel = root.logLevel
			}
			log := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("run_id", st.RunID).Logger()
			ctx := cmd.Context()

			exp, err := newExperiment(ctx, &cfg, log, dist.Env{WorldSize: 1})
			if err != nil {
				return errors.Wrap(err, "build experiment")
			}
			if err := checkpoint.Apply(st.Model, exp.clf.Params()); err != nil {
				return err
			}
			log.Info().Str("checkpoint", path).Int("task", st.Task+1).Int("workers", f.workers).Msg("loaded checkpoint")

			summary, collectors, err := evaluateSharded(cmd, exp, st.Task, f.workers, f.embeddings != "", log, cfg.TaskInc, cfg.PrintFreq)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)

			if f.embeddings != "" {
				if err := writeEmbeddings(f.embeddings, collectors); err != nil {
					return err
				}
				log.Info().Str("path", f.embeddings).Msg("wrote pre-logit embeddings")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.checkpoint, "checkpoint", "", "checkpoint file to evaluate")
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "run output directory holding checkpoint/")
	cmd.Flags().IntVar(&f.task, "task", 0, "1-based task whose checkpoint to load with --output-dir")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 1, "evaluation workers; metrics are all-reduced between them")
	cmd.Flags().StringVar(&f.embeddings, "embeddings", "", "write L2-normalised pre-logits to this CSV file")
	return cmd
}

// evaluateSharded splits every validation stream across workers, each of
// which evaluates its shard and all-reduces the metrics. Worker 0 reports
// the summary.
func evaluateSharded(cmd *cobra.Command, exp *experiment, taskID, workers int, collect bool, log zerolog.Logger, taskInc bool, printFreq int) (engine.Summary, []*engine.EmbeddingCollector, error) {
	if workers < 1 {
		workers = 1
	}
	group := dist.NewLocalGroup(workers)
	summaries := make([]engine.Summary, workers)
	collectors := make([]*engine.EmbeddingCollector, workers)

	g, ctx := errgroup.WithContext(cmd.Context())
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			tasks := shardTasks(exp.tasks, w, workers)
			wlog := zerolog.Nop()
			if w == 0 {
				wlog = log
			}
			opts := engine.EvalOptions{
				ClassMask: exp.mask,
				TaskInc:   taskInc,
				Reducer:   group,
				Log:       wlog,
				PrintFreq: printFreq,
			}
			if collect {
				collectors[w] = &engine.EmbeddingCollector{}
				opts.Collector = collectors[w]
			}
			acc := engine.NewAccuracyMatrix(len(tasks))
			var err error
			_, summaries[w], err = engine.EvaluateTillNow(ctx, exp.clf, exp.fx, tasks, taskID, acc, opts)
			return errors.Wrapf(err, "worker %d", w)
		})
	}
	if err := g.Wait(); err != nil {
		return engine.Summary{}, nil, err
	}
	return summaries[0], collectors, nil
}

func shardTasks(tasks []data.Task, rank, world int) []data.Task {
	if world <= 1 {
		return tasks
	}
	out := make([]data.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t
		if l, ok := t.Val.(*data.SliceLoader); ok {
			out[i].Val = l.Shard(rank, world)
		}
	}
	return out
}

// writeEmbeddings writes task,label,v0..vN rows.
func writeEmbeddings(path string, collectors []*engine.EmbeddingCollector) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create embeddings file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, c := range collectors {
		if c == nil {
			continue
		}
		for i, row := range c.Rows {
			rec := make([]string, 0, len(row)+2)
			rec = append(rec, strconv.Itoa(c.Tasks[i]), strconv.Itoa(c.Labels[i]))
			for _, v := range row {
				rec = append(rec, strconv.FormatFloat(float64(v), 'g', 6, 32))
			}
			if err := w.Write(rec); err != nil {
				return errors.Wrap(err, "write embeddings")
			}
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flush embeddings")
}
