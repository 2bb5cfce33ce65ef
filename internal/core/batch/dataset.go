package batch

import (
	"fmt"
	"log/slog"
	"time"

	"query-classifier/internal/core/dataset"
	"query-classifier/internal/core/utils"
)

type Mode string

const (
	Train Mode = "train"
	Val   Mode = "val"
	Test  Mode = "test"
)

// Tokenizer turns raw text into vocabulary ids including the [CLS]/[SEP] markers.
type Tokenizer interface {
	Encode(text string) ([]int64, error)
}

type Dataset interface {
	Len() int
	Get(i int) Sample
}

// QueryDataset holds the tokenized form of a split. Test mode drops labels.
type QueryDataset struct {
	mode     Mode
	examples []dataset.Example
	samples  []Sample
}

var _ Dataset = (*QueryDataset)(nil)

// NewQueryDataset tokenizes every example up front using up to workers goroutines.
func NewQueryDataset(mode Mode, examples []dataset.Example, tokenizer Tokenizer, workers int) (*QueryDataset, error) {
	switch mode {
	case Train, Val, Test:
	default:
		return nil, fmt.Errorf("invalid dataset mode '%s'", mode)
	}

	start := time.Now()
	ids, err := utils.MapInPool(examples, func(ex dataset.Example) ([]int64, error) {
		return tokenizer.Encode(ex.Text)
	}, workers)
	if err != nil {
		return nil, fmt.Errorf("error tokenizing %s split: %w", mode, err)
	}

	samples := make([]Sample, len(examples))
	for i, ex := range examples {
		segments := make([]int64, len(ids[i]))
		for j := range segments {
			segments[j] = 1
		}
		samples[i] = Sample{
			Position:   i,
			TokenIDs:   ids[i],
			SegmentIDs: segments,
		}
		if mode != Test {
			samples[i].Label = int64(ex.Label)
			samples[i].HasLabel = true
		}
	}

	slog.Debug("tokenized split", "mode", mode, "examples", len(examples), "duration", time.Since(start))

	return &QueryDataset{mode: mode, examples: examples, samples: samples}, nil
}

func (d *QueryDataset) Mode() Mode {
	return d.mode
}

func (d *QueryDataset) Len() int {
	return len(d.samples)
}

func (d *QueryDataset) Get(i int) Sample {
	return d.samples[i]
}

func (d *QueryDataset) Example(i int) dataset.Example {
	return d.examples[i]
}
