package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/gulzainali98/LGCL/internal/checkpoint"
	"github.com/gulzainali98/LGCL/internal/config"
	"github.com/gulzainali98/LGCL/internal/data"
	"github.com/gulzainali98/LGCL/internal/engine"
)

func tinyConfig(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.NumTasks = 2
	cfg.NbClasses = 4
	cfg.Epochs = 1
	cfg.BatchSize = 4
	cfg.SamplesPerCls = 4
	cfg.ValPerCls = 2
	cfg.EmbedDim = 4
	cfg.SeqLen = 2
	cfg.TextDim = 8
	cfg.Size = 2
	cfg.Length = 1
	cfg.TopK = 1
	cfg.LogLevel = "error"
	cfg.LogPretty = false

	path := filepath.Join(t.TempDir(), "lgcl.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestTrainThenEvaluate(t *testing.T) {
	cfgPath := tinyConfig(t)
	outDir := t.TempDir()

	out := execute(t, "train", "--config", cfgPath, "--output-dir", outDir, "--seed", "7")
	if !strings.Contains(out, "Accuracy matrix") || !strings.Contains(out, "[Average accuracy till task2]") {
		t.Fatalf("train output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(outDir, "config.yaml")); err != nil {
		t.Errorf("config copy: %v", err)
	}

	embPath := filepath.Join(t.TempDir(), "emb.csv")
	out = execute(t, "evaluate", "--output-dir", outDir, "--task", "2", "--workers", "2", "--embeddings", embPath)
	if !strings.Contains(out, "[Average accuracy till task2]") {
		t.Errorf("evaluate output:\n%s", out)
	}

	f, err := os.Open(embPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	// two tasks, two classes each, two validation samples per class
	if len(recs) != 8 {
		t.Fatalf("got %d embedding rows, want 8", len(recs))
	}
	for _, r := range recs {
		if len(r) != 2+4 {
			t.Fatalf("row %v has %d fields, want 6", r, len(r))
		}
	}
}

func TestEvaluateNeedsCheckpoint(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"evaluate"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("evaluate without a checkpoint succeeded")
	}
}

func TestTrainRejectsMultipleProcesses(t *testing.T) {
	t.Setenv("WORLD_SIZE", "2")
	t.Setenv("RANK", "0")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"train", "--config", tinyConfig(t), "--output-dir", t.TempDir()})
	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "WORLD_SIZE=2") {
		t.Fatalf("err = %v, want a WORLD_SIZE rejection", err)
	}
}

func TestTrainResume(t *testing.T) {
	cfgPath := tinyConfig(t)
	outDir := t.TempDir()

	// nothing saved yet: starts from the first task
	execute(t, "train", "--config", cfgPath, "--output-dir", outDir, "--resume")
	first, err := checkpoint.Load(checkpoint.Path(outDir, 0))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(checkpoint.Path(outDir, 1)); err != nil {
		t.Fatal(err)
	}

	out := execute(t, "train", "--config", cfgPath, "--output-dir", outDir, "--resume")
	if !strings.Contains(out, "[Average accuracy till task2]") {
		t.Errorf("resumed train output:\n%s", out)
	}
	last, err := checkpoint.Load(checkpoint.Path(outDir, 1))
	if err != nil {
		t.Fatalf("task 2 checkpoint after resume: %v", err)
	}
	if last.RunID != first.RunID {
		t.Errorf("resumed run id %q, want %q", last.RunID, first.RunID)
	}
	if diff := cmp.Diff(first.Accuracy[0][0], last.Accuracy[0][0]); diff != "" {
		t.Errorf("task 1 accuracy after task 1 (-want +got):\n%s", diff)
	}
}

func TestResumeNeedsOutputDir(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = ""
	if _, err := resumeState(cfg, true, zerolog.Nop()); err == nil {
		t.Error("resume without an output directory was accepted")
	}
	if st, err := resumeState(cfg, false, zerolog.Nop()); st != nil || err != nil {
		t.Errorf("resume off: got %v, %v", st, err)
	}
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	cmd := newTrainCmd(&rootFlags{})
	if err := cmd.ParseFlags([]string{"--epochs", "9", "--dataset", "text", "--data-path", "x.csv"}); err != nil {
		t.Fatal(err)
	}
	rf := &runFlags{epochs: 9, dataset: "text", dataPath: "x.csv", numTasks: 4}
	cfg := config.Default()
	rf.apply(cmd, cfg)
	if cfg.Epochs != 9 || cfg.Dataset != "text" || cfg.DataPath != "x.csv" {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.NumTasks != config.Default().NumTasks {
		t.Errorf("unset --num-tasks changed num_tasks to %d", cfg.NumTasks)
	}
}

func TestShardTasks(t *testing.T) {
	samples := make([]data.Sample, 5)
	for i := range samples {
		samples[i] = data.Sample{Input: []float32{float32(i)}, Label: i}
	}
	tasks := []data.Task{{ID: 0, Val: data.NewSliceLoader(samples, 8, 1, 1, false, 0)}}

	var labels []int
	for rank := 0; rank < 2; rank++ {
		for _, b := range shardTasks(tasks, rank, 2)[0].Val.Batches(0) {
			labels = append(labels, b.Target...)
		}
	}
	if diff := cmp.Diff([]int{0, 2, 4, 1, 3}, labels); diff != "" {
		t.Errorf("sharded labels (-want +got):\n%s", diff)
	}
}

func TestPrintMatrix(t *testing.T) {
	m := engine.NewAccuracyMatrix(2)
	_ = m.Set(0, 0, 100)
	_ = m.Set(0, 1, 50)
	_ = m.Set(1, 1, 75)

	var buf bytes.Buffer
	printMatrix(&buf, m)
	want := "Accuracy matrix (row: task, column: after training task)\n" +
		"task1   100.00  50.00\n" +
		"task2        -  75.00\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("printMatrix (-want +got):\n%s", diff)
	}
}
