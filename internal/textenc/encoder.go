// Package textenc turns text into fixed-size embedding rows. It backs the
// natural-language class representations and text datasets.
package textenc

import (
	"context"

	"gorgonia.org/tensor"
)

// Encoder embeds a batch of texts into an (N, Dim) float32 tensor.
type Encoder interface {
	Encode(ctx context.Context, texts []string) (*tensor.Dense, error)
	Dim() int
}

// ClassPrompt is the template used to describe a class by its name.
func ClassPrompt(name string) string {
	return "a photo of a " + name
}

// TaskPrompt describes a whole task by the names of its classes.
func TaskPrompt(names []string) string {
	out := "a photo of a "
	for i, n := range names {
		switch {
		case i == 0:
		case i == len(names)-1:
			out += " or "
		default:
			out += ", "
		}
		out += n
	}
	return out
}
