package core

import (
	"fmt"

	"query-classifier/internal/core/batch"
	"query-classifier/internal/core/dataset"
)

const predictBatchSize = 32

// TransformerClassifier is a pretrained encoder with a trainable linear head.
type TransformerClassifier struct {
	tokenizer Tokenizer
	encoder   Encoder
	head      *LinearHead
	labels    *dataset.LabelIndex
	config    ModelConfig
}

var _ Classifier = (*TransformerClassifier)(nil)

func NewTransformerClassifier(tokenizer Tokenizer, encoder Encoder, labels *dataset.LabelIndex, head *LinearHead, cfg ModelConfig) (*TransformerClassifier, error) {
	if labels.Len() < 1 {
		return nil, fmt.Errorf("classifier needs at least one label")
	}
	if head.InDim != encoder.HiddenSize() {
		return nil, fmt.Errorf("head input size %d does not match encoder hidden size %d", head.InDim, encoder.HiddenSize())
	}
	if head.OutDim != labels.Len() {
		return nil, fmt.Errorf("head output size %d does not match %d labels", head.OutDim, labels.Len())
	}

	cfg.Architecture = architecture
	cfg.HiddenSize = head.InDim
	cfg.NumLabels = labels.Len()
	cfg.Dropout = head.Dropout

	return &TransformerClassifier{
		tokenizer: tokenizer,
		encoder:   encoder,
		head:      head,
		labels:    labels,
		config:    cfg,
	}, nil
}

func (c *TransformerClassifier) Tokenizer() batch.Tokenizer {
	return c.tokenizer
}

func (c *TransformerClassifier) Head() *LinearHead {
	return c.head
}

func (c *TransformerClassifier) Labels() *dataset.LabelIndex {
	return c.labels
}

func (c *TransformerClassifier) Config() ModelConfig {
	return c.config
}

// Features runs the frozen encoder over a batch.
func (c *TransformerClassifier) Features(b batch.Batch) ([][]float32, error) {
	features, err := c.encoder.Encode(b)
	if err != nil {
		return nil, fmt.Errorf("encoder forward failed: %w", err)
	}
	if len(features) != b.Size() {
		return nil, fmt.Errorf("encoder returned %d rows for a batch of %d", len(features), b.Size())
	}
	return features, nil
}

func (c *TransformerClassifier) Predict(texts []string) ([]Prediction, error) {
	predictions := make([]Prediction, 0, len(texts))

	for start := 0; start < len(texts); start += predictBatchSize {
		end := min(start+predictBatchSize, len(texts))

		samples := make([]batch.Sample, 0, end-start)
		for i, text := range texts[start:end] {
			ids, err := c.tokenizer.Encode(text)
			if err != nil {
				return nil, fmt.Errorf("error tokenizing text %d: %w", start+i, err)
			}
			segments := make([]int64, len(ids))
			for j := range segments {
				segments[j] = 1
			}
			samples = append(samples, batch.Sample{Position: start + i, TokenIDs: ids, SegmentIDs: segments})
		}

		b, err := batch.Collate(samples)
		if err != nil {
			return nil, err
		}

		features, err := c.Features(b)
		if err != nil {
			return nil, err
		}
		logits, err := c.head.Forward(features)
		if err != nil {
			return nil, err
		}

		for _, row := range logits {
			probs := Softmax(row)
			idx := Argmax(probs)
			label, err := c.labels.Label(idx)
			if err != nil {
				return nil, err
			}
			predictions = append(predictions, Prediction{Index: idx, Label: label, Score: probs[idx]})
		}
	}

	return predictions, nil
}

func (c *TransformerClassifier) Release() {
	if c.tokenizer != nil {
		c.tokenizer.Close()
	}
	if c.encoder != nil {
		c.encoder.Release()
	}
}
