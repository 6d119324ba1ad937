package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/gulzainali98/LGCL/internal/config"
	"github.com/gulzainali98/LGCL/internal/dist"
	"github.com/gulzainali98/LGCL/internal/engine"
	"github.com/gulzainali98/LGCL/internal/model"
	"github.com/gulzainali98/LGCL/internal/optim"
)

// demoRun is the outcome of one seeded run of one variant.
type demoRun struct {
	firstBefore float64
	firstAfter  float64
	finalAcc    float64
	forgetting  float64
}

func newDemoCmd(root *rootFlags) *cobra.Command {
	rf := &runFlags{}
	var runs int
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Compare plain prompt training with LGCL over several seeds",
		Long: "Trains the same task stream twice per seed, once without and once with the\n" +
			"language-guided losses, and reports how well the first task survives.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd, root, rf)
			if err != nil {
				return err
			}
			cfg.OutputDir = ""
			if runs < 1 {
				runs = 1
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tasks: %d  classes: %d  epochs: %d  lr: %.6f\n", cfg.NumTasks, cfg.NbClasses, cfg.Epochs, cfg.LR)
			fmt.Fprintf(out, "Repro: runs=%d seedBase=%d\n", runs, cfg.Seed)
			start := time.Now()

			var baseline, lgcl []demoRun
			for r := 0; r < runs; r++ {
				seed := cfg.Seed + int64(r)
				fmt.Fprintf(out, "\n--- Run %d/%d (seed=%d) ---\n", r+1, runs, seed)

				b, err := demoVariant(cmd.Context(), *cfg, seed, false, log)
				if err != nil {
					return errors.Wrap(err, "baseline run")
				}
				l, err := demoVariant(cmd.Context(), *cfg, seed, true, log)
				if err != nil {
					return errors.Wrap(err, "lgcl run")
				}
				printDemoRun(out, "Baseline", b)
				printDemoRun(out, "LGCL    ", l)
				baseline = append(baseline, b)
				lgcl = append(lgcl, l)
			}

			fmt.Fprintln(out, "\n=== Summary (mean over runs) ===")
			printDemoRun(out, "Baseline", meanRun(baseline))
			printDemoRun(out, "LGCL    ", meanRun(lgcl))
			fmt.Fprintf(out, "Done in %v\n", time.Since(start))
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().IntVar(&runs, "runs", 3, "number of seeds to compare")
	return cmd
}

func demoVariant(ctx context.Context, cfg config.Config, seed int64, useLGCL bool, log zerolog.Logger) (demoRun, error) {
	cfg.Seed = seed
	cfg.UseLGCL = useLGCL
	cfg.UseTask = useLGCL
	log = log.With().Bool("use_lgcl", useLGCL).Int64("seed", seed).Logger()
	if log.GetLevel() < zerolog.WarnLevel {
		// per-epoch progress would drown the comparison table
		log = log.Level(zerolog.WarnLevel)
	}

	exp, err := newExperiment(ctx, &cfg, log, dist.Env{WorldSize: 1})
	if err != nil {
		return demoRun{}, err
	}
	opt, err := optim.New(&cfg, exp.clf.Params())
	if err != nil {
		return demoRun{}, err
	}
	res, err := engine.TrainAndEvaluate(ctx, engine.Run{
		Config:    &cfg,
		Model:     exp.clf,
		Extractor: exp.fx,
		Tasks:     exp.tasks,
		ClassMask: exp.mask,
		Optimizer: opt,
		NewOptimizer: func(ps []*model.Param) (optim.Optimizer, error) {
			return optim.New(&cfg, ps)
		},
		Log: log,
	})
	if err != nil {
		return demoRun{}, err
	}

	last := cfg.NumTasks - 1
	return demoRun{
		firstBefore: res.Matrix.At(0, 0),
		firstAfter:  res.Matrix.At(0, last),
		finalAcc:    res.Summaries[last].Acc1,
		forgetting:  res.Matrix.Forgetting(last),
	}, nil
}

func printDemoRun(w io.Writer, name string, r demoRun) {
	fmt.Fprintf(w, "%s  Task1 acc: %.3f -> %.3f | Avg acc: %.3f | Forgetting: %.3f\n",
		name, r.firstBefore, r.firstAfter, r.finalAcc, r.forgetting)
}

func meanRun(runs []demoRun) demoRun {
	col := func(get func(demoRun) float64) float64 {
		xs := make([]float64, len(runs))
		for i, r := range runs {
			xs[i] = get(r)
		}
		return stat.Mean(xs, nil)
	}
	return demoRun{
		firstBefore: col(func(r demoRun) float64 { return r.firstBefore }),
		firstAfter:  col(func(r demoRun) float64 { return r.firstAfter }),
		finalAcc:    col(func(r demoRun) float64 { return r.finalAcc }),
		forgetting:  col(func(r demoRun) float64 { return r.forgetting }),
	}
}
