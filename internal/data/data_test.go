package data

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gulzainali98/LGCL/internal/textenc"
)

func TestSliceLoaderBatches(t *testing.T) {
	samples := make([]Sample, 5)
	for i := range samples {
		samples[i] = Sample{Input: []float32{float32(i), float32(i)}, Label: i}
	}
	l := NewSliceLoader(samples, 2, 1, 2, false, 0)

	if got := l.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	batches := l.Batches(0)
	if len(batches) != 3 {
		t.Fatalf("got %d batches", len(batches))
	}
	if got := batches[2].Size(); got != 1 {
		t.Errorf("last batch size = %d, want 1", got)
	}
	if diff := cmp.Diff([]int{0, 1}, batches[0].Target); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
	shape := batches[0].Input.Shape()
	if shape[0] != 2 || shape[1] != 1 || shape[2] != 2 {
		t.Errorf("input shape = %v, want (2, 1, 2)", shape)
	}
	if diff := cmp.Diff([]float32{0, 0, 1, 1}, batches[0].Input.Data().([]float32)); diff != "" {
		t.Errorf("input (-want +got):\n%s", diff)
	}
}

func TestSliceLoaderShuffleIsPerEpochDeterministic(t *testing.T) {
	samples := make([]Sample, 20)
	for i := range samples {
		samples[i] = Sample{Input: []float32{0}, Label: i}
	}
	l := NewSliceLoader(samples, 20, 1, 1, true, 7)
	first := l.Batches(0)[0].Target
	again := l.Batches(0)[0].Target
	next := l.Batches(1)[0].Target
	if !cmp.Equal(first, again) {
		t.Error("same epoch produced different order")
	}
	if cmp.Equal(first, next) {
		t.Error("different epochs produced the same order")
	}
	sorted := append([]int(nil), next...)
	sort.Ints(sorted)
	for i, v := range sorted {
		if v != i {
			t.Fatalf("shuffle lost samples: %v", sorted)
		}
	}
}

func TestShardPartitions(t *testing.T) {
	samples := make([]Sample, 7)
	for i := range samples {
		samples[i] = Sample{Input: []float32{0}, Label: i}
	}
	base := NewSliceLoader(samples, 10, 1, 1, false, 0)
	var all []int
	for rank := 0; rank < 3; rank++ {
		for _, b := range base.Shard(rank, 3).Batches(0) {
			all = append(all, b.Target...)
		}
	}
	sort.Ints(all)
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6}, all); diff != "" {
		t.Errorf("shards do not cover dataset (-want +got):\n%s", diff)
	}
}

func TestSplitDisjointMasks(t *testing.T) {
	ds := Synthetic(SyntheticOptions{NbClasses: 7, SeqLen: 2, Dim: 3, TrainPerClass: 4, ValPerClass: 2, Seed: 1})
	tasks, mask, err := Split(ds, SplitOptions{NumTasks: 3, BatchSize: 4, ShuffleClasses: true, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 || len(mask) != 3 {
		t.Fatalf("got %d tasks, %d masks", len(tasks), len(mask))
	}

	seen := map[int]int{}
	for tid, classes := range mask {
		if len(classes) != 2 {
			t.Errorf("task %d has %d classes, want 2", tid, len(classes))
		}
		for _, c := range classes {
			if prev, dup := seen[c]; dup {
				t.Errorf("class %d in tasks %d and %d", c, prev, tid)
			}
			seen[c] = tid
			if mask.TaskOf(c) != tid {
				t.Errorf("TaskOf(%d) = %d, want %d", c, mask.TaskOf(c), tid)
			}
		}
	}

	for _, task := range tasks {
		for _, b := range task.Train.Batches(0) {
			for _, y := range b.Target {
				if !mask.Contains(task.ID, y) {
					t.Errorf("task %d train batch holds foreign label %d", task.ID, y)
				}
			}
		}
		n := 0
		for _, b := range task.Val.Batches(0) {
			n += b.Size()
		}
		if n != 4 {
			t.Errorf("task %d has %d val samples, want 4", task.ID, n)
		}
	}

	if got := len(mask.PriorClasses(2)); got != 4 {
		t.Errorf("PriorClasses(2) has %d labels, want 4", got)
	}
	if got := mask.PriorClasses(0); len(got) != 0 {
		t.Errorf("PriorClasses(0) = %v, want empty", got)
	}
}

func TestSplitRejectsTooManyTasks(t *testing.T) {
	ds := Synthetic(SyntheticOptions{NbClasses: 2, SeqLen: 1, Dim: 1, TrainPerClass: 1, Seed: 1})
	if _, _, err := Split(ds, SplitOptions{NumTasks: 3, BatchSize: 1}); err == nil {
		t.Fatal("expected error")
	}
}

func TestReadText(t *testing.T) {
	csvBody := strings.Join([]string{
		"split,label,text",
		"train,movies,great film",
		"train,sports,great match",
		"val,movies,bad film",
		"train,movies,boring plot",
	}, "\n")
	ds, err := ReadText(context.Background(), strings.NewReader(csvBody), textenc.NewHash(6))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"movies", "sports"}, ds.ClassNames); diff != "" {
		t.Errorf("class names (-want +got):\n%s", diff)
	}
	if len(ds.Train) != 3 || len(ds.Val) != 1 {
		t.Fatalf("train=%d val=%d", len(ds.Train), len(ds.Val))
	}
	if ds.SeqLen != 1 || ds.Dim != 6 || len(ds.Train[0].Input) != 6 {
		t.Errorf("unexpected sample shape: seq=%d dim=%d len=%d", ds.SeqLen, ds.Dim, len(ds.Train[0].Input))
	}
	if ds.Train[2].Label != 0 {
		t.Errorf("label of third row = %d, want 0", ds.Train[2].Label)
	}
}

func TestReadTextUnknownSplit(t *testing.T) {
	_, err := ReadText(context.Background(), strings.NewReader("holdout,a,b\n"), textenc.NewHash(2))
	if err == nil {
		t.Fatal("expected error for unknown split")
	}
}
