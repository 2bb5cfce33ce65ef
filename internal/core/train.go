package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"query-classifier/internal/core/batch"

	"github.com/schollz/progressbar/v3"
)

type EpochStats struct {
	Epoch         int
	Loss          float64
	TrainAccuracy float64
	ValAccuracy   float64
	GradNorm      float64
	Duration      time.Duration
}

// EpochObserver is notified after every completed epoch. Returning an error
// aborts training.
type EpochObserver interface {
	OnEpoch(ctx context.Context, stats EpochStats) error
}

type Trainer struct {
	Classifier *TransformerClassifier
	Optimizer  *Adam
	Epochs     int
	ClipNorm   float64
	Observer   EpochObserver
	// ShowProgress renders a progress bar on stderr for every epoch.
	ShowProgress bool
	Rng          *rand.Rand

	// The encoder is frozen, so pooled features only depend on the sample.
	cache map[batch.Dataset][][]float32
}

func NewTrainer(classifier *TransformerClassifier, learningRate float64, epochs int, rng *rand.Rand) *Trainer {
	return &Trainer{
		Classifier: classifier,
		Optimizer:  NewAdam(learningRate),
		Epochs:     epochs,
		ClipNorm:   1.0,
		Rng:        rng,
	}
}

func (t *Trainer) features(data batch.Dataset, b batch.Batch) ([][]float32, error) {
	if t.cache == nil {
		t.cache = make(map[batch.Dataset][][]float32)
	}
	rows, ok := t.cache[data]
	if !ok {
		rows = make([][]float32, data.Len())
		t.cache[data] = rows
	}

	out := make([][]float32, b.Size())
	missing := false
	for i, pos := range b.Positions {
		if rows[pos] == nil {
			missing = true
			break
		}
		out[i] = rows[pos]
	}
	if !missing {
		return out, nil
	}

	computed, err := t.Classifier.Features(b)
	if err != nil {
		return nil, err
	}
	for i, pos := range b.Positions {
		rows[pos] = computed[i]
	}
	return computed, nil
}

func (t *Trainer) predict(loader *batch.Loader, computeAcc bool) ([]int, float64, error) {
	return predictWith(t.Classifier.head, loader, computeAcc, func(b batch.Batch) ([][]float32, error) {
		return t.features(loader.Dataset(), b)
	})
}

func (t *Trainer) newBar(epoch, batches int) *progressbar.ProgressBar {
	if !t.ShowProgress {
		return progressbar.DefaultSilent(int64(batches))
	}
	return progressbar.NewOptions(batches,
		progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", epoch, t.Epochs)),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// Train runs the epoch loop and returns the per-epoch statistics.
func (t *Trainer) Train(ctx context.Context, trainLoader, valLoader *batch.Loader) ([]EpochStats, error) {
	if t.Epochs < 0 {
		return nil, fmt.Errorf("epochs must be non-negative, got %d", t.Epochs)
	}
	if t.Rng == nil {
		t.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	head := t.Classifier.head
	params := head.Params()

	_, acc, err := t.predict(trainLoader, true)
	if err != nil {
		return nil, fmt.Errorf("error computing initial training accuracy: %w", err)
	}
	slog.Info("starting training", "epochs", t.Epochs, "train_batches", trainLoader.Len(), "initial_train_acc", acc)

	history := make([]EpochStats, 0, t.Epochs)

	for epoch := 1; epoch <= t.Epochs; epoch++ {
		start := time.Now()
		bar := t.newBar(epoch, trainLoader.Len())

		var runningLoss, lastNorm float64

		for b, err := range trainLoader.Batches() {
			if err != nil {
				return history, err
			}
			if err := ctx.Err(); err != nil {
				return history, fmt.Errorf("training interrupted at epoch %d: %w", epoch, err)
			}
			if !b.HasLabels() {
				return history, fmt.Errorf("training batch has no labels")
			}

			head.ZeroGrad()

			features, err := t.features(trainLoader.Dataset(), b)
			if err != nil {
				return history, err
			}
			dropped := ApplyDropout(features, head.Dropout, t.Rng)

			logits, err := head.Forward(dropped)
			if err != nil {
				return history, err
			}
			loss, dLogits, err := CrossEntropy(logits, b.Labels)
			if err != nil {
				return history, err
			}

			head.Backward(dropped, dLogits)
			lastNorm = ClipGradNorm(params, t.ClipNorm)
			t.Optimizer.Step(params)

			runningLoss += loss
			bar.Add(1)
		}
		bar.Finish()

		_, trainAcc, err := t.predict(trainLoader, true)
		if err != nil {
			return history, fmt.Errorf("error computing training accuracy: %w", err)
		}

		stats := EpochStats{
			Epoch:         epoch,
			Loss:          runningLoss,
			TrainAccuracy: trainAcc,
			GradNorm:      lastNorm,
		}

		if valLoader != nil && valLoader.Dataset().Len() > 0 {
			_, valAcc, err := t.predict(valLoader, true)
			if err != nil {
				return history, fmt.Errorf("error running validation: %w", err)
			}
			stats.ValAccuracy = valAcc
		}
		stats.Duration = time.Since(start)

		slog.Info("epoch complete", "epoch", epoch, "epochs", t.Epochs, "loss", fmt.Sprintf("%.3f", stats.Loss),
			"train_acc", fmt.Sprintf("%.3f", stats.TrainAccuracy), "val_acc", fmt.Sprintf("%.2f", stats.ValAccuracy),
			"duration", stats.Duration)

		history = append(history, stats)

		if t.Observer != nil {
			if err := t.Observer.OnEpoch(ctx, stats); err != nil {
				return history, fmt.Errorf("epoch observer failed: %w", err)
			}
		}
	}

	return history, nil
}

// GetPredictions returns the argmax label index for every sample of the
// loader's dataset, in dataset order. When computeAcc is set the accuracy
// against the batch labels is returned too, 0 if there is nothing to score.
func GetPredictions(c *TransformerClassifier, loader *batch.Loader, computeAcc bool) ([]int, float64, error) {
	return predictWith(c.head, loader, computeAcc, c.Features)
}

func predictWith(head *LinearHead, loader *batch.Loader, computeAcc bool, features func(batch.Batch) ([][]float32, error)) ([]int, float64, error) {
	predictions := make([]int, loader.Dataset().Len())
	correct, total := 0, 0

	for b, err := range loader.Batches() {
		if err != nil {
			return nil, 0, err
		}

		x, err := features(b)
		if err != nil {
			return nil, 0, err
		}
		logits, err := head.Forward(x)
		if err != nil {
			return nil, 0, err
		}

		for i, row := range logits {
			pred := Argmax(row)
			predictions[b.Positions[i]] = pred

			if computeAcc {
				if !b.HasLabels() {
					return nil, 0, fmt.Errorf("accuracy requested for an unlabeled dataset")
				}
				total++
				if int64(pred) == b.Labels[i] {
					correct++
				}
			}
		}
	}

	if total == 0 {
		return predictions, 0, nil
	}
	return predictions, float64(correct) / float64(total), nil
}

// PlainAccuracy is the fraction of positions where preds equals labels.
func PlainAccuracy[T comparable](labels, preds []T) (float64, error) {
	if len(labels) != len(preds) {
		return 0, fmt.Errorf("got %d predictions for %d labels", len(preds), len(labels))
	}
	if len(labels) == 0 {
		return 0, nil
	}
	correct := 0
	for i := range labels {
		if labels[i] == preds[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}
