package loss

import (
	"github.com/chewxy/math32"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// probEps keeps Log finite on masked (zero-probability) columns.
const probEps = float32(1e-7)

// OneHot encodes targets as a (len(targets), numClasses) float32 tensor.
func OneHot(targets []int, numClasses int) *tensor.Dense {
	data := make([]float32, len(targets)*numClasses)
	for i, y := range targets {
		if y >= 0 && y < numClasses {
			data[i*numClasses+y] = 1
		}
	}
	return tensor.New(tensor.WithShape(len(targets), numClasses), tensor.WithBacking(data))
}

// CrossEntropy builds mean(-log softmax(logits)[target]) for a
// (batch, classes) logit node and a one-hot target node.
func CrossEntropy(logits, yOneHot *gorgonia.Node) (*gorgonia.Node, error) {
	probs, err := gorgonia.SoftMax(logits)
	if err != nil {
		return nil, err
	}
	return crossEntropyFromProbs(probs, yOneHot)
}

func crossEntropyFromProbs(probs, yOneHot *gorgonia.Node) (*gorgonia.Node, error) {
	epsN := scalar(probs.Graph(), "eps", probEps)
	pSafe, err := gorgonia.Add(probs, epsN)
	if err != nil {
		return nil, err
	}
	logP, err := gorgonia.Log(pSafe)
	if err != nil {
		return nil, err
	}
	mul, err := gorgonia.HadamardProd(yOneHot, logP)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(mul, 1)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Mean(sum)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(mean)
}

// CrossEntropyValues is the numerically stable cross-entropy of already
// computed logits. Columns at -Inf contribute nothing; a target at -Inf
// yields +Inf.
func CrossEntropyValues(logits []float32, numClasses int, targets []int) float32 {
	if len(targets) == 0 {
		return 0
	}
	var total float32
	for b, y := range targets {
		row := logits[b*numClasses : (b+1)*numClasses]
		maxVal := negInf
		for _, v := range row {
			if v > maxVal {
				maxVal = v
			}
		}
		if math32.IsInf(maxVal, -1) {
			return math32.Inf(1)
		}
		var sumExp float32
		for _, v := range row {
			sumExp += math32.Exp(v - maxVal)
		}
		total -= row[y] - maxVal - math32.Log(sumExp)
	}
	return total / float32(len(targets))
}
