// Package config handles LGCL run configuration loading.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for unusable option combinations.
var ErrInvalid = errors.New("invalid configuration")

// Config is the flat run configuration. Field names follow the training
// script options so existing experiment files translate one to one.
type Config struct {
	Seed int64 `yaml:"seed"`

	// Task stream
	NumTasks       int    `yaml:"num_tasks"`
	NbClasses      int    `yaml:"nb_classes"`
	Epochs         int    `yaml:"epochs"`
	BatchSize      int    `yaml:"batch_size"`
	Dataset        string `yaml:"dataset"` // synthetic | text
	DataPath       string `yaml:"data_path"`
	SamplesPerCls  int    `yaml:"samples_per_class"`
	ValPerCls      int    `yaml:"val_samples_per_class"`
	ShuffleClasses bool   `yaml:"shuffle_classes"`

	// Model shape
	EmbedDim int `yaml:"embed_dim"`
	SeqLen   int `yaml:"seq_len"`
	TextDim  int `yaml:"text_dim"`

	// Prompt pool
	PromptPool       bool `yaml:"prompt_pool"`
	Size             int  `yaml:"size"`
	Length           int  `yaml:"length"`
	TopK             int  `yaml:"top_k"`
	SharedPromptPool bool `yaml:"shared_prompt_pool"`
	SharedPromptKey  bool `yaml:"shared_prompt_key"`

	// Loss composition
	TrainMask           bool    `yaml:"train_mask"`
	TaskInc             bool    `yaml:"task_inc"`
	PullConstraint      bool    `yaml:"pull_constraint"`
	PullConstraintCoeff float64 `yaml:"pull_constraint_coeff"`
	UseLGCL             bool    `yaml:"use_lgcl"`
	UseTask             bool    `yaml:"use_task"`
	TaskWeight          float64 `yaml:"task_weight"`
	ClassWeight         float64 `yaml:"class_weight"`
	MaxNegativeDraws    int     `yaml:"max_negative_draws"`

	// Optimisation
	Opt             string  `yaml:"opt"`
	LR              float64 `yaml:"lr"`
	WeightDecay     float64 `yaml:"weight_decay"`
	Momentum        float64 `yaml:"momentum"`
	ClipGrad        float64 `yaml:"clip_grad"`
	ReinitOptimizer bool    `yaml:"reinit_optimizer"`
	Sched           string  `yaml:"sched"`
	WarmupEpochs    int     `yaml:"warmup_epochs"`
	MinLR           float64 `yaml:"min_lr"`
	DecayEpochs     int     `yaml:"decay_epochs"`
	DecayRate       float64 `yaml:"decay_rate"`

	// Text encoder
	EncoderModel string `yaml:"encoder_model"`
	ModelsDir    string `yaml:"models_dir"`

	// Output
	PrintFreq      int    `yaml:"print_freq"`
	OutputDir      string `yaml:"output_dir"`
	SnapshotModels bool   `yaml:"snapshot_models"`
	MaxSnapshots   int    `yaml:"max_snapshots"`
	LogLevel       string `yaml:"log_level"`
	LogPretty      bool   `yaml:"log_pretty"`
}

// Default returns the default configuration: a small synthetic 5-task run
// with LGCL enabled.
func Default() *Config {
	return &Config{
		Seed:           42,
		NumTasks:       5,
		NbClasses:      10,
		Epochs:         5,
		BatchSize:      16,
		Dataset:        "synthetic",
		SamplesPerCls:  32,
		ValPerCls:      8,
		ShuffleClasses: true,

		EmbedDim: 16,
		SeqLen:   4,
		TextDim:  32,

		PromptPool:       true,
		Size:             10,
		Length:           5,
		TopK:             1,
		SharedPromptPool: true,
		SharedPromptKey:  false,

		TrainMask:           true,
		TaskInc:             false,
		PullConstraint:      true,
		PullConstraintCoeff: 1.0,
		UseLGCL:             true,
		UseTask:             true,
		TaskWeight:          0.1,
		ClassWeight:         0.1,
		MaxNegativeDraws:    1000,

		Opt:             "adamw",
		LR:              0.005,
		WeightDecay:     0.0,
		Momentum:        0.9,
		ClipGrad:        1.0,
		ReinitOptimizer: true,
		Sched:           "constant",
		WarmupEpochs:    0,
		MinLR:           1e-5,
		DecayEpochs:     30,
		DecayRate:       0.1,

		ModelsDir: "./models",

		PrintFreq:      10,
		SnapshotModels: true,
		MaxSnapshots:   0,
		LogLevel:       "info",
		LogPretty:      true,
	}
}

// Load loads configuration from a YAML file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	return cfg, nil
}

// LoadOrDefault loads config from path, or returns default if not found.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	return Load(path)
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch {
	case c.NumTasks <= 0:
		return errors.Wrapf(ErrInvalid, "num_tasks must be positive, got %d", c.NumTasks)
	case c.NbClasses < c.NumTasks:
		return errors.Wrapf(ErrInvalid, "nb_classes (%d) must be at least num_tasks (%d)", c.NbClasses, c.NumTasks)
	case c.Epochs <= 0:
		return errors.Wrapf(ErrInvalid, "epochs must be positive, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return errors.Wrapf(ErrInvalid, "batch_size must be positive, got %d", c.BatchSize)
	case c.EmbedDim <= 0 || c.SeqLen <= 0:
		return errors.Wrapf(ErrInvalid, "embed_dim and seq_len must be positive")
	case c.PrintFreq <= 0:
		return errors.Wrapf(ErrInvalid, "print_freq must be positive, got %d", c.PrintFreq)
	case c.MaxNegativeDraws <= 0:
		return errors.Wrapf(ErrInvalid, "max_negative_draws must be positive, got %d", c.MaxNegativeDraws)
	case c.MaxSnapshots < 0:
		return errors.Wrapf(ErrInvalid, "max_snapshots must not be negative")
	}

	if c.PromptPool {
		if c.TopK <= 0 || c.Length <= 0 {
			return errors.Wrapf(ErrInvalid, "top_k and length must be positive with prompt_pool")
		}
		if c.Size < c.TopK {
			return errors.Wrapf(ErrInvalid, "size (%d) must hold at least top_k (%d) prompts", c.Size, c.TopK)
		}
	}

	switch c.Opt {
	case "adamw", "adam", "sgd", "momentum", "rmsprop":
	default:
		return errors.Wrapf(ErrInvalid, "unknown opt %q", c.Opt)
	}
	switch c.Sched {
	case "", "constant", "step", "cosine":
	default:
		return errors.Wrapf(ErrInvalid, "unknown sched %q", c.Sched)
	}
	switch c.Dataset {
	case "synthetic":
	case "text":
		if c.DataPath == "" {
			return errors.Wrapf(ErrInvalid, "dataset text requires data_path")
		}
	default:
		return errors.Wrapf(ErrInvalid, "unknown dataset %q", c.Dataset)
	}
	return nil
}

// Warnings lists option combinations that are accepted but partly ignored.
func (c *Config) Warnings() []string {
	var out []string
	if c.UseTask && !c.UseLGCL {
		out = append(out, "use_task has no effect without use_lgcl")
	}
	if (c.SharedPromptPool || c.SharedPromptKey) && !c.PromptPool {
		out = append(out, "shared_prompt_pool/shared_prompt_key need prompt_pool")
	}
	if c.PromptPool && c.NumTasks*c.TopK > c.Size {
		out = append(out, "prompt pool is smaller than num_tasks*top_k; later tasks skip carry-over")
	}
	return out
}
