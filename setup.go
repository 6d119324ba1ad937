package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorgonia.org/tensor"

	"github.com/gulzainali98/LGCL/internal/config"
	"github.com/gulzainali98/LGCL/internal/data"
	"github.com/gulzainali98/LGCL/internal/dist"
	"github.com/gulzainali98/LGCL/internal/logging"
	"github.com/gulzainali98/LGCL/internal/model"
	"github.com/gulzainali98/LGCL/internal/textenc"
)

// hashEncoder selects the built-in hashing encoder instead of a downloaded
// transformer.
const hashEncoder = "hash"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

// runFlags override config values when set on the command line.
type runFlags struct {
	outputDir string
	dataset   string
	dataPath  string
	encoder   string
	epochs    int
	numTasks  int
	seed      int64
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "directory for checkpoints and stats")
	cmd.Flags().StringVar(&f.dataset, "dataset", "", "dataset kind: synthetic or text")
	cmd.Flags().StringVar(&f.dataPath, "data-path", "", "CSV file for the text dataset")
	cmd.Flags().StringVar(&f.encoder, "encoder", "", "text encoder model, or \"hash\" for the built-in encoder")
	cmd.Flags().IntVar(&f.epochs, "epochs", 0, "epochs per task")
	cmd.Flags().IntVar(&f.numTasks, "num-tasks", 0, "number of tasks")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "random seed")
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.OutputDir = f.outputDir
	}
	if flags.Changed("dataset") {
		cfg.Dataset = f.dataset
	}
	if flags.Changed("data-path") {
		cfg.DataPath = f.dataPath
	}
	if flags.Changed("encoder") {
		cfg.EncoderModel = f.encoder
	}
	if flags.Changed("epochs") {
		cfg.Epochs = f.epochs
	}
	if flags.Changed("num-tasks") {
		cfg.NumTasks = f.numTasks
	}
	if flags.Changed("seed") {
		cfg.Seed = f.seed
	}
}

// loadConfig layers the config file, LGCL_* variables and flags, in that
// order, then validates the result.
func loadConfig(cmd *cobra.Command, root *rootFlags, rf *runFlags) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadOrDefault(root.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg.ApplyEnv()
	if root.logLevel != "" {
		cfg.LogLevel = root.logLevel
	}
	if rf != nil {
		rf.apply(cmd, cfg)
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		return nil, log, err
	}
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}
	return cfg, log, nil
}

// experiment is a ready-to-train model with its task stream.
type experiment struct {
	ds    *data.Dataset
	tasks []data.Task
	mask  data.ClassMask
	clf   *model.PromptClassifier
	fx    *model.Backbone
}

func newEncoder(cfg *config.Config, log zerolog.Logger) (textenc.Encoder, error) {
	if cfg.EncoderModel == "" || cfg.EncoderModel == hashEncoder {
		return textenc.NewHash(cfg.TextDim), nil
	}
	return textenc.NewCybertron(log, cfg.ModelsDir, cfg.EncoderModel)
}

// newExperiment loads the dataset, splits it into tasks for this worker and
// builds the classifier with its class-name and task-description
// embeddings. Text datasets fix the token shape to the encoder's output.
func newExperiment(ctx context.Context, cfg *config.Config, log zerolog.Logger, env dist.Env) (*experiment, error) {
	enc, err := newEncoder(cfg, log)
	if err != nil {
		return nil, err
	}

	var ds *data.Dataset
	switch cfg.Dataset {
	case "text":
		if ds, err = data.LoadText(ctx, cfg.DataPath, enc); err != nil {
			return nil, err
		}
		if cfg.EmbedDim != ds.Dim || cfg.SeqLen != ds.SeqLen {
			log.Warn().Int("embed_dim", ds.Dim).Int("seq_len", ds.SeqLen).Msg("text dataset overrides the token shape")
		}
		cfg.EmbedDim, cfg.SeqLen = ds.Dim, ds.SeqLen
		if cfg.NbClasses != ds.NbClasses() {
			log.Warn().Int("nb_classes", ds.NbClasses()).Msg("text dataset overrides nb_classes")
			cfg.NbClasses = ds.NbClasses()
		}
	default:
		ds = data.Synthetic(data.SyntheticOptions{
			NbClasses:     cfg.NbClasses,
			SeqLen:        cfg.SeqLen,
			Dim:           cfg.EmbedDim,
			TrainPerClass: cfg.SamplesPerCls,
			ValPerClass:   cfg.ValPerCls,
			Seed:          cfg.Seed,
		})
	}

	tasks, mask, err := data.Split(ds, data.SplitOptions{
		NumTasks:       cfg.NumTasks,
		BatchSize:      cfg.BatchSize,
		ShuffleClasses: cfg.ShuffleClasses,
		Seed:           cfg.Seed,
		Rank:           env.Rank,
		WorldSize:      env.WorldSize,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Interface("class_mask", mask).Msg("split classes into tasks")

	attn := model.NewAttentionBlock("backbone", cfg.EmbedDim)
	clf, err := model.NewPromptClassifier(model.ClassifierOptions{
		NumClasses: cfg.NbClasses,
		SeqLen:     cfg.SeqLen,
		EmbedDim:   cfg.EmbedDim,
		TextDim:    enc.Dim(),
		PromptPool: cfg.PromptPool,
		Size:       cfg.Size,
		Length:     cfg.Length,
		TopK:       cfg.TopK,
		Seed:       cfg.Seed,
	}, attn)
	if err != nil {
		return nil, err
	}

	classText, taskText, err := textEmbeddings(ctx, enc, ds.ClassNames, tasks)
	if err != nil {
		return nil, err
	}
	if err := clf.SetTextEmbeddings(classText, taskText); err != nil {
		return nil, err
	}

	return &experiment{ds: ds, tasks: tasks, mask: mask, clf: clf, fx: model.NewBackbone(attn)}, nil
}

// textEmbeddings encodes one prompt per class name and one per task.
func textEmbeddings(ctx context.Context, enc textenc.Encoder, names []string, tasks []data.Task) (classText, taskText *tensor.Dense, err error) {
	prompts := make([]string, len(names))
	for i, n := range names {
		prompts[i] = textenc.ClassPrompt(n)
	}
	if classText, err = enc.Encode(ctx, prompts); err != nil {
		return nil, nil, errors.Wrap(err, "encode class names")
	}

	prompts = make([]string, len(tasks))
	for i, t := range tasks {
		taskNames := make([]string, len(t.Classes))
		for j, c := range t.Classes {
			taskNames[j] = names[c]
		}
		prompts[i] = textenc.TaskPrompt(taskNames)
	}
	if taskText, err = enc.Encode(ctx, prompts); err != nil {
		return nil, nil, errors.Wrap(err, "encode task descriptions")
	}
	return classText, taskText, nil
}
