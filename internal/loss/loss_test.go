package loss

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gulzainali98/LGCL/internal/data"
)

func TestApplyAdditiveMask(t *testing.T) {
	logits := []float32{0.5, -1, 2, 3}
	ApplyAdditiveMask(logits, 2, []int{0})
	if logits[0] != 0.5 || logits[2] != 2 {
		t.Errorf("in-mask logits changed: %v", logits)
	}
	if !math32.IsInf(logits[1], -1) || !math32.IsInf(logits[3], -1) {
		t.Errorf("out-of-mask logits not -Inf: %v", logits)
	}
}

func TestMaskLogits(t *testing.T) {
	inf := math32.Inf(1)
	nan := math32.NaN()
	g := gorgonia.NewGraph()
	logits := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 5), gorgonia.WithName("logits"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(2, 5), tensor.WithBacking([]float32{
			inf, 1, 2, nan, 3,
			math32.Inf(-1), -1, 5, inf, 4,
		}))))
	masked, err := MaskLogits(logits, []int{1, 2, 4})
	if err != nil {
		t.Fatal(err)
	}
	target := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 5), gorgonia.WithName("target"),
		gorgonia.WithValue(OneHot([]int{2, 4}, 5)))
	cost, err := CrossEntropy(masked, target)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gorgonia.Grad(cost, logits); err != nil {
		t.Fatal(err)
	}
	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(logits))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}

	got := masked.Value().Data().([]float32)
	want := []float32{negInf, 1, 2, negInf, 3, negInf, -1, 5, negInf, 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("masked logits (-want +got):\n%s", diff)
	}
	if c := cost.Value().Data().(float32); math32.IsNaN(c) || math32.IsInf(c, 0) {
		t.Errorf("cost = %v, want a finite value", c)
	}

	gv, err := logits.Grad()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range gv.Data().([]float32) {
		col := i % 5
		if (col == 0 || col == 3) && v != 0 {
			t.Errorf("gradient reached masked logit %d: %v", i, v)
		}
		if math32.IsNaN(v) {
			t.Errorf("gradient %d is NaN", i)
		}
	}
}

func TestMaskLogitsEdges(t *testing.T) {
	g := gorgonia.NewGraph()
	logits := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(1, 3), gorgonia.WithName("logits"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{1, 2, 3}))))
	all, err := MaskLogits(logits, []int{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if all != logits {
		t.Error("a mask over every class should return logits unchanged")
	}
	if _, err := MaskLogits(logits, []int{7}); err == nil {
		t.Error("a mask keeping no class was accepted")
	}
}

func TestCrossEntropyValues(t *testing.T) {
	// uniform logits over 4 classes: loss = ln 4
	got := CrossEntropyValues([]float32{1, 1, 1, 1}, 4, []int{2})
	if want := math32.Log(4); math32.Abs(got-want) > 1e-5 {
		t.Errorf("CE = %v, want %v", got, want)
	}

	// masked columns are ignored
	masked := []float32{1, 1, 0, 0}
	ApplyAdditiveMask(masked, 4, []int{0, 1})
	got = CrossEntropyValues(masked, 4, []int{0})
	if want := math32.Log(2); math32.Abs(got-want) > 1e-5 {
		t.Errorf("masked CE = %v, want %v", got, want)
	}

	// target outside the mask is infinitely wrong
	if got := CrossEntropyValues(masked, 4, []int{3}); !math32.IsInf(got, 1) {
		t.Errorf("CE with masked target = %v, want +Inf", got)
	}
}

func TestTopK(t *testing.T) {
	logits := []float32{
		0.1, 0.9, 0.0, 0.0, 0.0, 0.0, // target 1: top1
		0.5, 0.4, 0.3, 0.2, 0.1, 0.0, // target 4: top5 only
		0.5, 0.4, 0.3, 0.2, 0.1, 0.0, // target 5: miss
		0.0, 0.0, 0.0, 0.0, 0.0, 1.0, // target 5: top1
	}
	got := TopK(logits, 6, []int{1, 4, 5, 5}, 1, 5)
	if diff := cmp.Diff([]float64{50, 75}, got); diff != "" {
		t.Errorf("TopK (-want +got):\n%s", diff)
	}
}

func TestTopKClipsToClassCount(t *testing.T) {
	got := TopK([]float32{0.2, 0.8}, 2, []int{0}, 1, 5)
	if diff := cmp.Diff([]float64{0, 100}, got); diff != "" {
		t.Errorf("TopK (-want +got):\n%s", diff)
	}
}

func TestNegativeSamplerTaskZero(t *testing.T) {
	s := NewNegativeSampler(1, 0)
	mask := data.ClassMask{{0, 1}, {2, 3}}
	got, err := s.Sample([]int{0, 1, 1}, mask, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 0, 0}, got); diff != "" {
		t.Errorf("task 0 negatives (-want +got):\n%s", diff)
	}
}

func TestNegativeSamplerExcludesTargetAndCurrentTask(t *testing.T) {
	s := NewNegativeSampler(7, 0)
	mask := data.ClassMask{{0, 1}, {2, 3}, {4, 5}}
	targets := []int{4, 5, 4, 5, 4, 5, 4, 5}
	seen := map[int]bool{}
	for round := 0; round < 50; round++ {
		got, err := s.Sample(targets, mask, 2)
		if err != nil {
			t.Fatal(err)
		}
		for b, c := range got {
			if c == targets[b] {
				t.Fatalf("negative equals target %d", c)
			}
			if mask.Contains(2, c) {
				t.Fatalf("negative %d belongs to the current task", c)
			}
			if mask.TaskOf(c) >= 2 {
				t.Fatalf("negative %d was not introduced earlier", c)
			}
			seen[c] = true
		}
	}
	if len(seen) != 4 {
		t.Errorf("sampled classes %v, want all of 0..3", seen)
	}
}

func TestNegativeSamplerCapped(t *testing.T) {
	// malformed mask: the only earlier class is also in the current task
	mask := data.ClassMask{{0}, {0, 1}}
	s := NewNegativeSampler(1, 10)
	_, err := s.Sample([]int{1}, mask, 1)
	if !errors.Is(err, ErrNoNegativeClass) {
		t.Fatalf("Sample() error = %v, want ErrNoNegativeClass", err)
	}
}

func TestOneHot(t *testing.T) {
	got := OneHot([]int{2, 0}, 3).Data().([]float32)
	if diff := cmp.Diff([]float32{0, 0, 1, 1, 0, 0}, got); diff != "" {
		t.Errorf("OneHot (-want +got):\n%s", diff)
	}
}

func TestCosineValues(t *testing.T) {
	if got := CosineValues([]float32{1, 0}, []float32{2, 0}); math32.Abs(got-1) > 1e-6 {
		t.Errorf("parallel cosine = %v", got)
	}
	if got := CosineValues([]float32{1, 0}, []float32{0, 3}); math32.Abs(got) > 1e-6 {
		t.Errorf("orthogonal cosine = %v", got)
	}
}

func runScalar(t *testing.T, g *gorgonia.ExprGraph, n *gorgonia.Node) float32 {
	t.Helper()
	m := gorgonia.NewTapeMachine(g)
	defer m.Close()
	if err := m.RunAll(); err != nil {
		t.Fatal(err)
	}
	return n.Value().Data().(float32)
}

func TestClassMapLossMatchesDefinition(t *testing.T) {
	pre := []float32{
		1, 0,
		0, 1,
	}
	natural := []float32{
		1, 0, // class 0
		1, 1, // class 1
		0, 1, // class 2
	}
	targets := []int{0, 2}
	negatives := []int{1, 0}

	g := gorgonia.NewGraph()
	preN := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 2), gorgonia.WithName("pre"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(2, 2), tensor.WithBacking(pre))))
	natN := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(3, 2), gorgonia.WithName("natural"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(3, 2), tensor.WithBacking(natural))))

	l, err := ClassMapLoss(preN, natN, targets, negatives)
	if err != nil {
		t.Fatal(err)
	}
	got := runScalar(t, g, l)

	var want float32
	for b := range targets {
		row := pre[b*2 : b*2+2]
		own := natural[targets[b]*2 : targets[b]*2+2]
		neg := natural[negatives[b]*2 : negatives[b]*2+2]
		want += (1 - CosineValues(row, own)) + CosineValues(row, neg)
	}
	want /= 2

	if !cmp.Equal(float64(want), float64(got), cmpopts.EquateApprox(0, 1e-4)) {
		t.Errorf("ClassMapLoss = %v, want %v", got, want)
	}
}

func TestClassMapLossPerExampleNatural(t *testing.T) {
	// (batch=1, classes=2, dim=2)
	g := gorgonia.NewGraph()
	preN := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(1, 2), gorgonia.WithName("pre3"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{1, 0}))))
	natN := gorgonia.NewTensor(g, tensor.Float32, 3, gorgonia.WithShape(1, 2, 2), gorgonia.WithName("natural3"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, 2, 2), tensor.WithBacking([]float32{1, 0, 0, 1}))))

	l, err := ClassMapLoss(preN, natN, []int{0}, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	// own is parallel (1 - 1 = 0), negative orthogonal (0)
	if got := runScalar(t, g, l); math32.Abs(got) > 1e-4 {
		t.Errorf("ClassMapLoss = %v, want 0", got)
	}
}

func TestCrossEntropyGraphMatchesValues(t *testing.T) {
	logits := []float32{2, 1, 0, 0, 1, 3}
	targets := []int{0, 2}

	g := gorgonia.NewGraph()
	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 3), gorgonia.WithName("logits"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(2, 3), tensor.WithBacking(append([]float32(nil), logits...)))))
	y := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 3), gorgonia.WithName("y"),
		gorgonia.WithValue(OneHot(targets, 3)))
	ce, err := CrossEntropy(x, y)
	if err != nil {
		t.Fatal(err)
	}
	got := runScalar(t, g, ce)
	want := CrossEntropyValues(logits, 3, targets)
	if math32.Abs(got-want) > 1e-4 {
		t.Errorf("graph CE = %v, value CE = %v", got, want)
	}
}
