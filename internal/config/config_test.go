package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := []byte("num_tasks: 3\nepochs: 2\ntop_k: 2\nsize: 10\nuse_task: false\noutput_dir: out\n")
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	want.NumTasks = 3
	want.Epochs = 2
	want.TopK = 2
	want.Size = 10
	want.UseTask = false
	want.OutputDir = "out"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("LoadOrDefault() mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cfg.yaml")
	cfg := Default()
	cfg.ClassWeight = 0.25
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ClassWeight != 0.25 {
		t.Errorf("ClassWeight = %v, want 0.25", got.ClassWeight)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tasks", func(c *Config) { c.NumTasks = 0 }},
		{"fewer classes than tasks", func(c *Config) { c.NbClasses = 2; c.NumTasks = 3 }},
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"pool smaller than top_k", func(c *Config) { c.Size = 1; c.TopK = 2 }},
		{"unknown optimizer", func(c *Config) { c.Opt = "lamb" }},
		{"unknown scheduler", func(c *Config) { c.Sched = "poly" }},
		{"text without path", func(c *Config) { c.Dataset = "text" }},
		{"zero negative draws", func(c *Config) { c.MaxNegativeDraws = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := Default()
	cfg.UseLGCL = false
	cfg.UseTask = true
	cfg.Size = 3
	cfg.NumTasks = 5
	cfg.TopK = 1

	got := cfg.Warnings()
	if len(got) != 2 {
		t.Fatalf("Warnings() = %v, want 2 entries", got)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LGCL_EPOCHS", "7")
	t.Setenv("LGCL_LR", "0.5")
	t.Setenv("LGCL_SEED", "not-a-number")
	t.Setenv("LGCL_OUTPUT_DIR", "/tmp/lgcl")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Epochs != 7 {
		t.Errorf("Epochs = %d, want 7", cfg.Epochs)
	}
	if cfg.LR != 0.5 {
		t.Errorf("LR = %v, want 0.5", cfg.LR)
	}
	if cfg.Seed != Default().Seed {
		t.Errorf("Seed = %d, want default %d", cfg.Seed, Default().Seed)
	}
	if cfg.OutputDir != "/tmp/lgcl" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
}
