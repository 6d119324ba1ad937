package loss

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ClassMapLoss builds mean((1 - cos(pre, own)) + cos(pre, neg)) where own
// and neg are the natural class representations of each example's label and
// of its sampled negative class.
//
// natural is either batch-shared (classes, dim) or per-example
// (batch, classes, dim); preLogits is (batch, dim).
func ClassMapLoss(preLogits, natural *gorgonia.Node, targets, negatives []int) (*gorgonia.Node, error) {
	if len(targets) != len(negatives) {
		return nil, errors.Errorf("class map loss: %d targets, %d negatives", len(targets), len(negatives))
	}
	var numClasses int
	switch natural.Dims() {
	case 2:
		numClasses = natural.Shape()[0]
	case 3:
		numClasses = natural.Shape()[1]
	default:
		return nil, errors.Errorf("class map loss: natural class tensor must be 2-D or 3-D, got %v", natural.Shape())
	}

	own, err := gatherClasses(natural, targets, numClasses, "OwnClass")
	if err != nil {
		return nil, errors.Wrap(err, "gather own class")
	}
	neg, err := gatherClasses(natural, negatives, numClasses, "NegClass")
	if err != nil {
		return nil, errors.Wrap(err, "gather negative class")
	}

	pos, err := Cosine(preLogits, own)
	if err != nil {
		return nil, err
	}
	negSim, err := Cosine(preLogits, neg)
	if err != nil {
		return nil, err
	}
	// mean(1 - pos + neg) == 1 - mean(pos) + mean(neg)
	meanPos, err := gorgonia.Mean(pos)
	if err != nil {
		return nil, err
	}
	meanNeg, err := gorgonia.Mean(negSim)
	if err != nil {
		return nil, err
	}
	diff, err := gorgonia.Sub(meanNeg, meanPos)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(scalar(preLogits.Graph(), "one", 1), diff)
}

// gatherClasses selects natural[b, ids[b], :] (or natural[ids[b], :]) with a
// one-hot matrix product, returning (batch, dim).
func gatherClasses(natural *gorgonia.Node, ids []int, numClasses int, name string) (*gorgonia.Node, error) {
	g := natural.Graph()
	batch := len(ids)
	sel := OneHot(ids, numClasses)

	if natural.Dims() == 2 {
		selN := gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(batch, numClasses),
			gorgonia.WithName(uniqueName(name)),
			gorgonia.WithValue(sel))
		return gorgonia.Mul(selN, natural)
	}

	if err := sel.Reshape(batch, 1, numClasses); err != nil {
		return nil, err
	}
	selN := gorgonia.NewTensor(g, tensor.Float32, 3,
		gorgonia.WithShape(batch, 1, numClasses),
		gorgonia.WithName(uniqueName(name)),
		gorgonia.WithValue(sel))
	picked, err := gorgonia.BatchedMatMul(selN, natural)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(picked, tensor.Shape{batch, natural.Shape()[2]})
}
