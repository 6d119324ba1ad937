package engine

import (
	"context"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorgonia.org/gorgonia"

	"github.com/gulzainali98/LGCL/internal/data"
	"github.com/gulzainali98/LGCL/internal/dist"
	"github.com/gulzainali98/LGCL/internal/loss"
	"github.com/gulzainali98/LGCL/internal/metric"
	"github.com/gulzainali98/LGCL/internal/model"
	"github.com/gulzainali98/LGCL/internal/optim"
)

// TrainOptions configures TrainOneEpoch.
type TrainOptions struct {
	TaskID    int
	Epoch     int
	Epochs    int
	ClassMask data.ClassMask
	Plan      LossPlan
	TrainMask bool
	ClipGrad  float64
	Sampler   *loss.NegativeSampler
	Reducer   dist.Reducer
	Log       zerolog.Logger
	PrintFreq int
}

// stepResult is the outcome of one optimisation step.
type stepResult struct {
	loss   float32
	lgcl   float32
	logits []float32
}

// TrainOneEpoch makes one pass over loader and returns the global
// averages of Loss, Lr, LGCL, Acc@1 and Acc@5. A NaN or Inf loss stops the
// epoch with ErrNonFiniteLoss.
func TrainOneEpoch(ctx context.Context, m Model, fx FeatureExtractor, loader data.Loader, opt optim.Optimizer, o TrainOptions) (map[string]float64, error) {
	agg := metric.NewAggregator()
	for _, name := range []string{"Loss", "LGCL", "Acc@1", "Acc@5"} {
		agg.AddMeter(name, "%.4f")
	}
	agg.AddMeter("Lr", "%.6f")
	batches := loader.Batches(o.Epoch)
	header := fmt.Sprintf("Train: Epoch[%d/%d]", o.Epoch+1, o.Epochs)
	progress := metric.NewProgress(o.Log, header, len(batches), o.PrintFreq)
	numClasses := m.NumClasses()

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := trainStep(m, fx, batch, opt, o)
		if err != nil {
			return nil, errors.Wrapf(err, "task %d epoch %d batch %d", o.TaskID, o.Epoch, i)
		}

		acc := loss.TopK(res.logits, numClasses, batch.Target, 1, 5)
		n := batch.Size()
		agg.Update("Loss", float64(res.loss), 1)
		agg.Update("Lr", opt.LR(), 1)
		agg.Update("LGCL", float64(res.lgcl), 1)
		agg.Update("Acc@1", acc[0], n)
		agg.Update("Acc@5", acc[1], n)
		progress.Step(i, agg)
	}
	progress.Done()

	reducer := o.Reducer
	if reducer == nil {
		reducer = dist.Single{}
	}
	if err := agg.Synchronize(ctx, reducer); err != nil {
		return nil, errors.Wrap(err, "synchronize train metrics")
	}
	o.Log.Info().Int("task", o.TaskID+1).Int("epoch", o.Epoch).Msg("Averaged stats: " + agg.Summary())
	return agg.Stats(), nil
}

func trainStep(m Model, fx FeatureExtractor, batch data.Batch, opt optim.Optimizer, o TrainOptions) (*stepResult, error) {
	fo := model.ForwardOptions{TaskID: o.TaskID, Train: true}
	fo.Want, fo.Detached = o.Plan.wants(o.TaskID)
	if fx != nil {
		cls, err := fx.Extract(batch.Input)
		if err != nil {
			return nil, errors.Wrap(err, "extract features")
		}
		fo.ClsFeatures = cls
	}

	g := gorgonia.NewGraph()
	b := model.NewBinder(g)
	out, err := m.Forward(b, b.Const("input", batch.Input), fo)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}

	numClasses := m.NumClasses()
	logits := out.Logits
	if o.TrainMask {
		if logits, err = loss.MaskLogits(logits, o.ClassMask.Classes(o.TaskID)); err != nil {
			return nil, errors.Wrap(err, "mask logits")
		}
	}

	cost, err := loss.CrossEntropy(logits, b.Const("target", loss.OneHot(batch.Target, numClasses)))
	if err != nil {
		return nil, errors.Wrap(err, "cross entropy")
	}

	if o.Plan.PullConstraint && out.Has(model.CapReduceSim) {
		pull, err := gorgonia.HadamardProd(b.Scalar("pull_coeff", float32(o.Plan.PullConstraintCoeff)), out.ReduceSim)
		if err != nil {
			return nil, err
		}
		if cost, err = gorgonia.Sub(cost, pull); err != nil {
			return nil, err
		}
	}

	var lgclTerms []*gorgonia.Node
	if o.Plan.TaskMapInLoss {
		if tm, ok := out.TaskMap(); ok {
			term, err := gorgonia.HadamardProd(b.Scalar("task_weight", float32(o.Plan.TaskWeight)), tm)
			if err != nil {
				return nil, err
			}
			if cost, err = gorgonia.Add(cost, term); err != nil {
				return nil, err
			}
			lgclTerms = append(lgclTerms, term)
		} else {
			o.Log.Debug().Int("task", o.TaskID).Msg("model has no task map loss, contributing 0")
		}
	}

	if o.TaskID > 0 && out.Has(model.CapNaturalCls|model.CapPreLogits) {
		if o.Sampler == nil {
			return nil, errors.New("class map loss needs a negative sampler")
		}
		negatives, err := o.Sampler.Sample(batch.Target, o.ClassMask, o.TaskID)
		if err != nil {
			return nil, err
		}
		cm, err := loss.ClassMapLoss(out.PreLogits, out.NaturalCls, batch.Target, negatives)
		if err != nil {
			return nil, errors.Wrap(err, "class map loss")
		}
		term, err := gorgonia.HadamardProd(b.Scalar("class_weight", float32(o.Plan.ClassWeight)), cm)
		if err != nil {
			return nil, err
		}
		if o.Plan.ClassMapInLoss {
			if cost, err = gorgonia.Add(cost, term); err != nil {
				return nil, err
			}
		}
		lgclTerms = append(lgclTerms, term)
	}

	_, nodes := b.Trainable()
	if _, err := gorgonia.Grad(cost, nodes...); err != nil {
		return nil, errors.Wrap(err, "backward")
	}
	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(nodes...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "run graph")
	}

	res := &stepResult{
		loss:   model.ScalarOf(cost),
		logits: append([]float32(nil), model.ValueOf(logits)...),
	}
	for _, t := range lgclTerms {
		res.lgcl += model.ScalarOf(t)
	}
	if math32.IsNaN(res.loss) || math32.IsInf(res.loss, 0) {
		o.Log.Error().Float32("loss", res.loss).Msg("Loss is not finite, stopping training")
		return nil, errors.Wrapf(ErrNonFiniteLoss, "loss is %v", res.loss)
	}

	opt.ZeroGrad()
	if err := b.CollectGrads(); err != nil {
		return nil, errors.Wrap(err, "collect gradients")
	}
	optim.ClipGradNorm(m.Params(), o.ClipGrad)
	if err := opt.Step(); err != nil {
		return nil, errors.Wrap(err, "optimizer step")
	}
	return res, nil
}
