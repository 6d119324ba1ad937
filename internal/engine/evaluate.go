package engine

import (
	"context"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorgonia.org/gorgonia"

	"github.com/gulzainali98/LGCL/internal/data"
	"github.com/gulzainali98/LGCL/internal/dist"
	"github.com/gulzainali98/LGCL/internal/loss"
	"github.com/gulzainali98/LGCL/internal/metric"
	"github.com/gulzainali98/LGCL/internal/model"
)

// Collector receives each evaluated batch's pre-logit rows. It is scoped to
// a single Evaluate call.
type Collector interface {
	Collect(taskID int, preLogits []float32, dim int, targets []int)
}

// EmbeddingCollector keeps L2-normalised pre-logit rows and their labels.
type EmbeddingCollector struct {
	Rows   [][]float32
	Labels []int
	Tasks  []int
}

func (c *EmbeddingCollector) Collect(taskID int, preLogits []float32, dim int, targets []int) {
	for i, y := range targets {
		row := append([]float32(nil), preLogits[i*dim:(i+1)*dim]...)
		var ss float32
		for _, v := range row {
			ss += v * v
		}
		if n := math32.Sqrt(ss); n > 0 {
			for j := range row {
				row[j] /= n
			}
		}
		c.Rows = append(c.Rows, row)
		c.Labels = append(c.Labels, y)
		c.Tasks = append(c.Tasks, taskID)
	}
}

// EvalOptions configures Evaluate. TaskInc restricts predictions to the
// evaluated task's classes.
type EvalOptions struct {
	TaskID    int
	ClassMask data.ClassMask
	TaskInc   bool
	Reducer   dist.Reducer
	Collector Collector
	Log       zerolog.Logger
	PrintFreq int
}

// Evaluate runs the model over loader without gradients and returns the
// global averages of Loss, Acc@1 and Acc@5. It only reads the model, so
// several workers may evaluate one model concurrently.
func Evaluate(ctx context.Context, m Model, fx FeatureExtractor, loader data.Loader, opts EvalOptions) (map[string]float64, error) {
	agg := metric.NewAggregator()
	// registered up front so an empty shard still reduces the same meters
	for _, name := range []string{"Loss", "Acc@1", "Acc@5"} {
		agg.AddMeter(name, "%.4f")
	}
	batches := loader.Batches(0)
	progress := metric.NewProgress(opts.Log, "Test: ", len(batches), opts.PrintFreq)
	numClasses := m.NumClasses()

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, pre, dim, err := evalBatch(m, fx, batch, opts.TaskID)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate task %d batch %d", opts.TaskID, i)
		}
		if opts.TaskInc {
			loss.ApplyAdditiveMask(logits, numClasses, opts.ClassMask.Classes(opts.TaskID))
		}
		if opts.Collector != nil && pre != nil {
			opts.Collector.Collect(opts.TaskID, pre, dim, batch.Target)
		}

		ce := loss.CrossEntropyValues(logits, numClasses, batch.Target)
		acc := loss.TopK(logits, numClasses, batch.Target, 1, 5)
		n := batch.Size()
		agg.Update("Loss", float64(ce), 1)
		agg.Update("Acc@1", acc[0], n)
		agg.Update("Acc@5", acc[1], n)
		progress.Step(i, agg)
	}

	reducer := opts.Reducer
	if reducer == nil {
		reducer = dist.Single{}
	}
	if err := agg.Synchronize(ctx, reducer); err != nil {
		return nil, errors.Wrap(err, "synchronize eval metrics")
	}
	opts.Log.Info().
		Int("task", opts.TaskID+1).
		Float64("acc1", agg.GlobalAvg("Acc@1")).
		Float64("acc5", agg.GlobalAvg("Acc@5")).
		Float64("loss", agg.GlobalAvg("Loss")).
		Msg("* " + agg.Summary())
	return agg.Stats(), nil
}

// evalBatch runs one forward pass on copies of the model's tensors and
// returns copies of the logits and pre-logits.
func evalBatch(m Model, fx FeatureExtractor, batch data.Batch, taskID int) (logits, pre []float32, dim int, err error) {
	fo := model.ForwardOptions{TaskID: taskID}
	if fx != nil {
		if fo.ClsFeatures, err = fx.Extract(batch.Input); err != nil {
			return nil, nil, 0, errors.Wrap(err, "extract features")
		}
	}

	g := gorgonia.NewGraph()
	b := model.NewIsolatedBinder(g)
	out, err := m.Forward(b, b.Const("input", batch.Input), fo)
	if err != nil {
		return nil, nil, 0, err
	}
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, nil, 0, errors.Wrap(err, "run forward")
	}

	logits = append([]float32(nil), model.ValueOf(out.Logits)...)
	if out.Has(model.CapPreLogits) {
		pre = append([]float32(nil), model.ValueOf(out.PreLogits)...)
		dim = out.PreLogits.Shape()[1]
	}
	return logits, pre, dim, nil
}
