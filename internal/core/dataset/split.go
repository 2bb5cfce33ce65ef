package dataset

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
)

type Splits struct {
	Train []Example
	Val   []Example
	Test  []Example
}

func sampleSize(fraction float64, n int) int {
	return int(math.RoundToEven(fraction * float64(n)))
}

func validFraction(fraction float64) error {
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return fmt.Errorf("fraction must be within [0, 1], got %v", fraction)
	}
	return nil
}

// bootstrapPositions returns the positions drawn for the training split, grouped
// by label in ascending label order.
func bootstrapPositions(examples []Example, fraction float64, rng *rand.Rand) []int {
	groups := make(map[int][]int)
	for i, ex := range examples {
		groups[ex.Label] = append(groups[ex.Label], i)
	}

	labels := make([]int, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	var picked []int
	for _, l := range labels {
		members := groups[l]
		n := sampleSize(fraction, len(members))
		for _, p := range rng.Perm(len(members))[:n] {
			picked = append(picked, members[p])
		}
	}
	return picked
}

// Bootstrap draws round(fraction * classSize) examples without replacement from
// every label class.
func Bootstrap(examples []Example, fraction float64, rng *rand.Rand) ([]Example, error) {
	if err := validFraction(fraction); err != nil {
		return nil, err
	}
	positions := bootstrapPositions(examples, fraction, rng)
	out := make([]Example, len(positions))
	for i, p := range positions {
		out[i] = examples[p]
	}
	return out, nil
}

// Split assigns a stratified fraction of the examples to training and splits the
// remainder evenly at random into validation and test. Every example lands in
// exactly one split.
func Split(examples []Example, fraction float64, rng *rand.Rand) (Splits, error) {
	if err := validFraction(fraction); err != nil {
		return Splits{}, err
	}

	trainPos := bootstrapPositions(examples, fraction, rng)
	inTrain := make([]bool, len(examples))
	splits := Splits{Train: make([]Example, 0, len(trainPos))}
	for _, p := range trainPos {
		inTrain[p] = true
		splits.Train = append(splits.Train, examples[p])
	}

	remain := make([]int, 0, len(examples)-len(trainPos))
	for i := range examples {
		if !inTrain[i] {
			remain = append(remain, i)
		}
	}

	nVal := sampleSize(0.5, len(remain))
	perm := rng.Perm(len(remain))
	inVal := make(map[int]struct{}, nVal)
	splits.Val = make([]Example, 0, nVal)
	for _, p := range perm[:nVal] {
		inVal[remain[p]] = struct{}{}
		splits.Val = append(splits.Val, examples[remain[p]])
	}

	splits.Test = make([]Example, 0, len(remain)-nVal)
	for _, p := range remain {
		if _, ok := inVal[p]; !ok {
			splits.Test = append(splits.Test, examples[p])
		}
	}

	slog.Info("split dataset", "train", len(splits.Train), "validation", len(splits.Val), "test", len(splits.Test))
	return splits, nil
}
