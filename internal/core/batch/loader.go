package batch

import (
	"fmt"
	"math/rand"
)

// BatchIterator yields collated batches; iteration stops after the first error.
type BatchIterator func(yield func(b Batch, err error) bool)

type Loader struct {
	data      Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader creates a loader over data. rng is only used when shuffle is set.
func NewLoader(data Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*Loader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling loader requires a random source")
	}
	return &Loader{data: data, batchSize: batchSize, shuffle: shuffle, rng: rng}, nil
}

func (l *Loader) Len() int {
	return (l.data.Len() + l.batchSize - 1) / l.batchSize
}

func (l *Loader) Dataset() Dataset {
	return l.data
}

// Batches walks the dataset once. A shuffling loader draws a new order on every call.
func (l *Loader) Batches() BatchIterator {
	order := make([]int, l.data.Len())
	if l.shuffle {
		order = l.rng.Perm(len(order))
	} else {
		for i := range order {
			order[i] = i
		}
	}

	return func(yield func(b Batch, err error) bool) {
		for start := 0; start < len(order); start += l.batchSize {
			end := min(start+l.batchSize, len(order))

			samples := make([]Sample, 0, end-start)
			for _, i := range order[start:end] {
				samples = append(samples, l.data.Get(i))
			}

			b, err := Collate(samples)
			if err != nil {
				yield(Batch{}, fmt.Errorf("error collating batch at offset %d: %w", start, err))
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}
