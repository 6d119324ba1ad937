package textenc

import (
	"context"

	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/textencoding"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorgonia.org/tensor"
)

// DefaultModel is loaded when no encoder model is configured.
const DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"

// Cybertron wraps a cybertron text-encoding model; it returns the pooled
// sentence vector for each text.
type Cybertron struct {
	Interface textencoding.Interface
	dim       int
}

// NewCybertron loads modelName (DefaultModel when empty) from modelsDir,
// downloading it on first use.
func NewCybertron(log zerolog.Logger, modelsDir, modelName string) (*Cybertron, error) {
	if modelName == "" {
		modelName = DefaultModel
	}
	if modelsDir == "" {
		modelsDir = "./models"
	}

	log.Info().Str("model", modelName).Msg("loading text encoder (first run downloads weights)")

	m, err := tasks.Load[textencoding.Interface](&tasks.Config{
		ModelsDir: modelsDir,
		ModelName: modelName,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load model %s", modelName)
	}

	c := &Cybertron{Interface: m}
	warmup, err := c.Encode(context.Background(), []string{"check"})
	if err != nil {
		return nil, errors.Wrap(err, "encoder warm-up")
	}
	c.dim = warmup.Shape()[1]
	return c, nil
}

func (c *Cybertron) Dim() int { return c.dim }

// Encode embeds texts one at a time and stacks the vectors.
func (c *Cybertron) Encode(ctx context.Context, texts []string) (*tensor.Dense, error) {
	var all []float32
	dim := 0

	for _, text := range texts {
		result, err := c.Interface.Encode(ctx, text, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %q", text)
		}

		vec := result.Vector
		data := vec.Data().F64()
		if dim == 0 {
			dim = len(data)
		} else if len(data) != dim {
			return nil, errors.Errorf("encoder returned %d values, expected %d", len(data), dim)
		}
		for _, v := range data {
			all = append(all, float32(v))
		}
	}

	return tensor.New(tensor.WithShape(len(texts), dim), tensor.WithBacking(all)), nil
}
