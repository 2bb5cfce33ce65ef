package batch

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBatch  = errors.New("cannot collate an empty batch")
	ErrMixedLabels = errors.New("batch mixes labeled and unlabeled samples")
)

// Sample is one tokenized text. TokenIDs starts with [CLS] and ends with [SEP].
type Sample struct {
	Position   int
	TokenIDs   []int64
	SegmentIDs []int64
	Label      int64
	HasLabel   bool
}

// Batch holds samples right-padded with 0 to the longest sequence in the batch.
// All matrices are Size x MaxLen. Labels is nil for unlabeled batches.
type Batch struct {
	TokenIDs   [][]int64
	SegmentIDs [][]int64
	Mask       [][]int64
	Labels     []int64
	Positions  []int
	Lengths    []int
	MaxLen     int
}

func (b Batch) Size() int {
	return len(b.TokenIDs)
}

func (b Batch) HasLabels() bool {
	return b.Labels != nil
}

// Flatten returns a row-major copy of m, suitable for a [rows, cols] tensor.
func Flatten(m [][]int64) []int64 {
	if len(m) == 0 {
		return nil
	}
	out := make([]int64, 0, len(m)*len(m[0]))
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

func pad(seq []int64, length int) []int64 {
	row := make([]int64, length)
	copy(row, seq)
	return row
}

// Collate pads every sample to the batch maximum length and derives the
// attention mask. Labels are stacked when the first sample carries one.
func Collate(samples []Sample) (Batch, error) {
	if len(samples) == 0 {
		return Batch{}, ErrEmptyBatch
	}

	maxLen := 0
	for _, s := range samples {
		maxLen = max(maxLen, len(s.TokenIDs))
	}

	b := Batch{
		TokenIDs:   make([][]int64, len(samples)),
		SegmentIDs: make([][]int64, len(samples)),
		Mask:       make([][]int64, len(samples)),
		Positions:  make([]int, len(samples)),
		Lengths:    make([]int, len(samples)),
		MaxLen:     maxLen,
	}

	withLabels := samples[0].HasLabel
	if withLabels {
		b.Labels = make([]int64, len(samples))
	}

	for i, s := range samples {
		if s.HasLabel != withLabels {
			return Batch{}, fmt.Errorf("sample %d: %w", i, ErrMixedLabels)
		}
		if len(s.SegmentIDs) != len(s.TokenIDs) {
			return Batch{}, fmt.Errorf("sample %d has %d segment ids for %d tokens", i, len(s.SegmentIDs), len(s.TokenIDs))
		}

		b.TokenIDs[i] = pad(s.TokenIDs, maxLen)
		b.SegmentIDs[i] = pad(s.SegmentIDs, maxLen)

		mask := make([]int64, maxLen)
		for j := range s.TokenIDs {
			mask[j] = 1
		}
		b.Mask[i] = mask

		b.Positions[i] = s.Position
		b.Lengths[i] = len(s.TokenIDs)
		if withLabels {
			b.Labels[i] = s.Label
		}
	}

	return b, nil
}
