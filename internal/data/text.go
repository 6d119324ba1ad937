package data

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/gulzainali98/LGCL/internal/textenc"
)

type labeledText struct {
	Text  string
	Label int
}

// LoadText reads a CSV file of "split,label,text" rows (split is train or
// val) and embeds every text with enc. Samples are single-token blocks
// (SeqLen 1) of the encoder's dimension. Class ids follow first appearance.
func LoadText(ctx context.Context, path string, enc textenc.Encoder) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open text dataset")
	}
	defer f.Close()
	return ReadText(ctx, f, enc)
}

// ReadText is LoadText over an open reader.
func ReadText(ctx context.Context, r io.Reader, enc textenc.Encoder) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	ids := map[string]int{}
	var names []string
	var train, val []labeledText

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "parse text dataset line %d", line)
		}
		split, label, text := strings.ToLower(rec[0]), rec[1], rec[2]
		if line == 1 && split == "split" {
			continue
		}
		id, ok := ids[label]
		if !ok {
			id = len(names)
			ids[label] = id
			names = append(names, label)
		}
		switch split {
		case "train":
			train = append(train, labeledText{text, id})
		case "val", "test":
			val = append(val, labeledText{text, id})
		default:
			return nil, errors.Errorf("line %d: unknown split %q", line, rec[0])
		}
	}
	if len(train) == 0 {
		return nil, errors.New("text dataset has no training rows")
	}

	trainS, err := embedDataset(ctx, enc, train)
	if err != nil {
		return nil, err
	}
	valS, err := embedDataset(ctx, enc, val)
	if err != nil {
		return nil, err
	}
	return &Dataset{Train: trainS, Val: valS, ClassNames: names, SeqLen: 1, Dim: enc.Dim()}, nil
}

func embedDataset(ctx context.Context, enc textenc.Encoder, items []labeledText) ([]Sample, error) {
	if len(items) == 0 {
		return nil, nil
	}
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	x, err := enc.Encode(ctx, texts)
	if err != nil {
		return nil, errors.Wrap(err, "embed dataset")
	}
	dim := x.Shape()[1]
	data := x.Data().([]float32)
	out := make([]Sample, len(items))
	for i, it := range items {
		row := make([]float32, dim)
		copy(row, data[i*dim:(i+1)*dim])
		out[i] = Sample{Input: row, Label: it.Label}
	}
	return out, nil
}
