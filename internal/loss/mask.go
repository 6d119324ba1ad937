// Package loss holds the pieces of the combined training objective: logit
// masking, cross-entropy, cosine similarity and the negative-sampled
// class-map loss.
package loss

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var negInf = math32.Inf(-1)

// MaskLogits returns a (batch, numClasses) node that equals logits on the
// columns in classes and is exactly -Inf on every other column. The kept
// columns are sliced out of logits and the rest are constants, so a masked
// column never reaches the result or its gradient, whatever value it held.
func MaskLogits(logits *gorgonia.Node, classes []int) (*gorgonia.Node, error) {
	shape := logits.Shape()
	if len(shape) != 2 {
		return nil, errors.Errorf("logits must be (batch, classes), got %v", shape)
	}
	batch, numClasses := shape[0], shape[1]
	in := inSet(numClasses, classes)
	kept := 0
	for _, ok := range in {
		if ok {
			kept++
		}
	}
	switch kept {
	case 0:
		return nil, errors.Errorf("class mask %v keeps none of %d logits", classes, numClasses)
	case numClasses:
		return logits, nil
	}

	var parts []*gorgonia.Node
	for start := 0; start < numClasses; {
		end := start + 1
		for end < numClasses && in[end] == in[start] {
			end++
		}
		part, err := maskRun(logits, batch, start, end, in[start])
		if err != nil {
			return nil, errors.Wrapf(err, "mask columns %d:%d", start, end)
		}
		parts = append(parts, part)
		start = end
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return gorgonia.Concat(1, parts...)
}

// maskRun is columns [start, end) of logits, or a -Inf block of that width.
func maskRun(logits *gorgonia.Node, batch, start, end int, keep bool) (*gorgonia.Node, error) {
	width := end - start
	if !keep {
		fill := make([]float32, batch*width)
		for i := range fill {
			fill[i] = negInf
		}
		return gorgonia.NewTensor(logits.Graph(), tensor.Float32, 2,
			gorgonia.WithShape(batch, width),
			gorgonia.WithName(fmt.Sprintf("mask_fill_%d_%d", start, end)),
			gorgonia.WithValue(tensor.New(tensor.WithShape(batch, width), tensor.WithBacking(fill)))), nil
	}
	cols, err := gorgonia.Slice(logits, nil, gorgonia.S(start, end))
	if err != nil {
		return nil, err
	}
	// single-column slices drop the column axis
	return gorgonia.Reshape(cols, tensor.Shape{batch, width})
}

// ApplyAdditiveMask adds -Inf to every position outside classes in place.
// Positions inside the mask are left untouched.
func ApplyAdditiveMask(logits []float32, numClasses int, classes []int) {
	in := inSet(numClasses, classes)
	for i := range logits {
		if !in[i%numClasses] {
			logits[i] += negInf
		}
	}
}

func inSet(n int, classes []int) []bool {
	in := make([]bool, n)
	for _, c := range classes {
		if c >= 0 && c < n {
			in[c] = true
		}
	}
	return in
}
