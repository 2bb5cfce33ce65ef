package core

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"query-classifier/internal/core/batch"
	"query-classifier/internal/core/dataset"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toyExamples() []dataset.Example {
	var examples []dataset.Example
	for i := 0; i < 12; i++ {
		examples = append(examples,
			dataset.Example{Label: 0, Text: "good good day"},
			dataset.Example{Label: 1, Text: "bad bad day"},
		)
	}
	return examples
}

func toyLabels(t *testing.T) *dataset.LabelIndex {
	labels, err := dataset.LabelIndexFromLabels([]string{"pos", "neg"})
	require.NoError(t, err)
	return labels
}

func newToyClassifier(t *testing.T, encoder *countEncoder) *TransformerClassifier {
	head := NewLinearHead(fakeDim, 2, 0, rand.New(rand.NewSource(1)))
	c, err := NewTransformerClassifier(wordTokenizer{}, encoder, toyLabels(t), head, ModelConfig{Pretrained: "toy"})
	require.NoError(t, err)
	return c
}

func toyLoader(t *testing.T, mode batch.Mode, examples []dataset.Example, shuffle bool) *batch.Loader {
	data, err := batch.NewQueryDataset(mode, examples, wordTokenizer{}, 2)
	require.NoError(t, err)
	loader, err := batch.NewLoader(data, 5, shuffle, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	return loader
}

type recordingObserver struct {
	stats []EpochStats
}

func (o *recordingObserver) OnEpoch(ctx context.Context, stats EpochStats) error {
	o.stats = append(o.stats, stats)
	return nil
}

func TestNewTransformerClassifierValidatesShapes(t *testing.T) {
	head := NewLinearHead(fakeDim+1, 2, 0, rand.New(rand.NewSource(1)))
	_, err := NewTransformerClassifier(wordTokenizer{}, &countEncoder{}, toyLabels(t), head, ModelConfig{})
	assert.Error(t, err)

	head = NewLinearHead(fakeDim, 3, 0, rand.New(rand.NewSource(1)))
	_, err = NewTransformerClassifier(wordTokenizer{}, &countEncoder{}, toyLabels(t), head, ModelConfig{})
	assert.Error(t, err)
}

func TestTrainerLearnsSeparableProblem(t *testing.T) {
	encoder := &countEncoder{}
	c := newToyClassifier(t, encoder)

	trainLoader := toyLoader(t, batch.Train, toyExamples(), true)
	valLoader := toyLoader(t, batch.Val, toyExamples()[:6], false)

	observer := &recordingObserver{}
	trainer := NewTrainer(c, 0.05, 15, rand.New(rand.NewSource(3)))
	trainer.Observer = observer

	history, err := trainer.Train(context.Background(), trainLoader, valLoader)
	require.NoError(t, err)
	require.Len(t, history, 15)
	assert.Equal(t, history, observer.stats)

	assert.Less(t, history[len(history)-1].Loss, history[0].Loss)
	assert.Equal(t, 1.0, history[len(history)-1].TrainAccuracy)
	assert.Equal(t, 1.0, history[len(history)-1].ValAccuracy)
	for i, s := range history {
		assert.Equal(t, i+1, s.Epoch)
	}

	// Features of both splits are computed once and then served from the cache.
	assert.Equal(t, trainLoader.Len()+valLoader.Len(), encoder.calls)

	preds, err := c.Predict([]string{"good good", "bad"})
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "pos", preds[0].Label)
	assert.Equal(t, "neg", preds[1].Label)
	assert.Greater(t, preds[0].Score, float32(0.5))
}

func TestTrainerStopsOnCancelledContext(t *testing.T) {
	c := newToyClassifier(t, &countEncoder{})
	trainer := NewTrainer(c, 0.05, 3, rand.New(rand.NewSource(3)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := trainer.Train(ctx, toyLoader(t, batch.Train, toyExamples(), true), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetPredictionsKeepsDatasetOrder(t *testing.T) {
	c := newToyClassifier(t, &countEncoder{})
	trainer := NewTrainer(c, 0.05, 10, rand.New(rand.NewSource(3)))
	_, err := trainer.Train(context.Background(), toyLoader(t, batch.Train, toyExamples(), true), nil)
	require.NoError(t, err)

	examples := []dataset.Example{
		{Label: 1, Text: "bad"},
		{Label: 0, Text: "good"},
		{Label: 0, Text: "good good"},
	}

	preds, acc, err := GetPredictions(c, toyLoader(t, batch.Val, examples, true), true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 0}, preds)
	assert.Equal(t, 1.0, acc)

	preds, acc, err = GetPredictions(c, toyLoader(t, batch.Test, examples, false), false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 0}, preds)
	assert.Zero(t, acc)

	_, _, err = GetPredictions(c, toyLoader(t, batch.Test, examples, false), true)
	assert.Error(t, err)
}

func TestPlainAccuracy(t *testing.T) {
	acc, err := PlainAccuracy([]int{1, 2, 3, 4}, []int{1, 2, 0, 4})
	require.NoError(t, err)
	assert.Equal(t, 0.75, acc)

	acc, err = PlainAccuracy([]string{"a", "b"}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)

	_, err = PlainAccuracy([]int{1}, []int{})
	assert.Error(t, err)
}

func TestSaveAndLoadClassifier(t *testing.T) {
	root := t.TempDir()
	pretrained := pretrainedDir(root)

	c, err := LoadClassifier(pretrained, fakeLoaders(), LoadOptions{
		Labels:    toyLabels(t),
		MaxSeqLen: 16,
		Rng:       rand.New(rand.NewSource(4)),
	})
	require.NoError(t, err)
	assert.Equal(t, pretrained, c.Config().Pretrained)

	_, err = NewTrainer(c, 0.05, 2, rand.New(rand.NewSource(5))).
		Train(context.Background(), toyLoader(t, batch.Train, toyExamples(), true), nil)
	require.NoError(t, err)

	out := filepath.Join(root, "finetuned")
	require.NoError(t, c.Save(out))
	for _, name := range []string{ConfigFile, HeadFile, TokenizerFile, EncoderFile} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	loaded, err := LoadClassifier(out, fakeLoaders(), LoadOptions{})
	require.NoError(t, err)
	assert.True(t, loaded.Labels().Equal(c.Labels()))
	assert.Equal(t, c.Head().Weight.Data, loaded.Head().Weight.Data)
	assert.Equal(t, c.Head().Bias.Data, loaded.Head().Bias.Data)
	assert.Equal(t, pretrained, loaded.Config().Pretrained)
	assert.Equal(t, 16, loaded.Config().MaxSeqLen)

	// A different label set starts from a fresh head.
	other, err := dataset.LabelIndexFromLabels([]string{"a", "b", "c"})
	require.NoError(t, err)
	fresh, err := LoadClassifier(out, fakeLoaders(), LoadOptions{Labels: other, Rng: rand.New(rand.NewSource(6))})
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.Head().OutDim)
}

func TestLoadClassifierChecksEncoderOutput(t *testing.T) {
	root := t.TempDir()

	c, err := LoadClassifier(pretrainedDir(root), fakeLoaders(), LoadOptions{
		Labels:        toyLabels(t),
		EncoderOutput: "pooler_output",
		Rng:           rand.New(rand.NewSource(4)),
	})
	require.NoError(t, err)

	out := filepath.Join(root, "finetuned")
	require.NoError(t, c.Save(out))

	_, err = LoadClassifier(out, fakeLoaders(), LoadOptions{EncoderOutput: "last_hidden_state"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pooler_output")

	loaded, err := LoadClassifier(out, fakeLoaders(), LoadOptions{EncoderOutput: "pooler_output"})
	require.NoError(t, err)
	assert.Equal(t, "pooler_output", loaded.Config().EncoderOutput)

	loaded, err = LoadClassifier(out, fakeLoaders(), LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "pooler_output", loaded.Config().EncoderOutput)

	// A new label set gets a fresh head, so the saved features do not matter.
	other, err := dataset.LabelIndexFromLabels([]string{"x", "y", "z"})
	require.NoError(t, err)
	_, err = LoadClassifier(out, fakeLoaders(), LoadOptions{Labels: other, EncoderOutput: "last_hidden_state"})
	require.NoError(t, err)
}

func TestLoadClassifierRequiresLabelsForPretrainedDir(t *testing.T) {
	pretrained := pretrainedDir(t.TempDir())
	_, err := LoadClassifier(pretrained, fakeLoaders(), LoadOptions{})
	assert.Error(t, err)
}

func TestWritePredictions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prediction", "test.csv")
	rows := []PredictionRow{
		{Question: "how are you", PredictedIndex: 0, PredictedLabel: "greeting", Label: "greeting"},
		{Question: "bye", PredictedIndex: 1, PredictedLabel: "farewell"},
	}
	require.NoError(t, WritePredictions(path, rows))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var read []PredictionRow
	require.NoError(t, gocsv.UnmarshalFile(file, &read))
	assert.Equal(t, rows, read)
}
