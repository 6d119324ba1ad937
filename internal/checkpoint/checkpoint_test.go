package checkpoint

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gulzainali98/LGCL/internal/config"
	"github.com/gulzainali98/LGCL/internal/model"
	"github.com/gulzainali98/LGCL/internal/optim"
)

func TestPathNumbersTasksFromOne(t *testing.T) {
	got := Path("out", 0)
	if want := filepath.Join("out", "checkpoint", "task1_checkpoint.pth"); got != want {
		t.Errorf("Path = %s, want %s", got, want)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	head := model.NewHead(3, 2)
	params := head.Params()
	st := &State{
		RunID:       uuid.NewString(),
		Task:        1,
		Epoch:       4,
		Model:       FromParams(params),
		Optimizer:   optim.State{Kind: "adamw", LR: 0.01, Step: 3, Moment: map[string][]float32{"head/W": {1, 2}}},
		LRScheduler: optim.SchedulerState{Kind: "cosine", BaseLR: 0.01, LastEpoch: 4},
		Args:        *config.Default(),
	}
	path := Path(t.TempDir(), 1)
	if err := Save(path, st); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(st, got); diff != "" {
		t.Errorf("state (-want +got):\n%s", diff)
	}

	fresh := model.NewHead(3, 2)
	if err := Apply(got.Model, fresh.Params()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(head.W.Data(), fresh.W.Data()); diff != "" {
		t.Errorf("restored weights (-want +got):\n%s", diff)
	}
}

func TestApplyRejectsShapeMismatch(t *testing.T) {
	p := model.NewParam("w", tensor.New(tensor.WithShape(2, 2), tensor.Of(tensor.Float32)), false)
	state := map[string]TensorState{"w": {Shape: []int{4}, Data: make([]float32, 4)}}
	if err := Apply(state, []*model.Param{p}); err == nil {
		t.Error("shape mismatch accepted")
	}
	if err := Apply(map[string]TensorState{}, []*model.Param{p}); err == nil {
		t.Error("missing parameter accepted")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.pth"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestLatestPicksLastSavedTask(t *testing.T) {
	dir := t.TempDir()
	if _, err := Latest(dir, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty dir: err = %v, want ErrNotFound", err)
	}
	for _, task := range []int{0, 1} {
		st := &State{Task: task, Args: *config.Default(), Accuracy: [][]float64{{float64(task)}}}
		if err := Save(Path(dir, task), st); err != nil {
			t.Fatal(err)
		}
	}
	st, err := Latest(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	if st.Task != 1 {
		t.Errorf("Latest task = %d, want 1", st.Task)
	}
	if diff := cmp.Diff([][]float64{{1}}, st.Accuracy); diff != "" {
		t.Errorf("accuracy (-want +got):\n%s", diff)
	}
}

func TestStatsLogAppendsLines(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)
	log := NewStatsLog(dir, started)
	if want := filepath.Join(dir, "log_2024_03_05_14_07_stats.txt"); log.Path() != want {
		t.Fatalf("Path = %s, want %s", log.Path(), want)
	}

	for task := 0; task < 2; task++ {
		train := map[string]float64{"Loss": 1.5, "Lr": 0.01}
		test := map[string]float64{"Acc@1": 50 + float64(task)}
		if err := log.Append(train, test, 9); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(log.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []map[string]float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]float64
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatal(err)
		}
		lines = append(lines, rec)
	}
	want := []map[string]float64{
		{"train_Loss": 1.5, "train_Lr": 0.01, "test_Acc@1": 50, "epoch": 9},
		{"train_Loss": 1.5, "train_Lr": 0.01, "test_Acc@1": 51, "epoch": 9},
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("stats lines (-want +got):\n%s", diff)
	}
}
