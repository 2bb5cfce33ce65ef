package core

import (
	"query-classifier/internal/core/batch"
	"query-classifier/internal/core/dataset"
)

// Model directory layout.
const (
	TokenizerFile = "tokenizer.json"
	EncoderFile   = "model.onnx"
	ConfigFile    = "config.json"
	HeadFile      = "head.msgpack"
)

type Prediction struct {
	Index int     `json:"index"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

type Classifier interface {
	Predict(texts []string) ([]Prediction, error)

	Labels() *dataset.LabelIndex

	Save(dir string) error

	Release()
}

type Tokenizer interface {
	batch.Tokenizer

	// Save copies the tokenizer definition into dir.
	Save(dir string) error

	Close()
}

// Encoder runs the pretrained transformer and returns one pooled feature
// vector per batch row.
type Encoder interface {
	HiddenSize() int

	Encode(b batch.Batch) ([][]float32, error)

	// Save copies the encoder graph into dir.
	Save(dir string) error

	Release()
}

type TokenizerLoader func(dir string, maxSeqLen int) (Tokenizer, error)

type EncoderLoader func(dir string) (Encoder, error)

// Loaders builds the pretrained components found in a model directory.
type Loaders struct {
	Tokenizer TokenizerLoader
	Encoder   EncoderLoader
}

func NewLoaders(encoderOutput string) Loaders {
	return Loaders{
		Tokenizer: func(dir string, maxSeqLen int) (Tokenizer, error) {
			tk, err := LoadHFTokenizer(dir, maxSeqLen)
			if err != nil {
				return nil, err
			}
			return tk, nil
		},
		Encoder: func(dir string) (Encoder, error) {
			enc, err := LoadOnnxEncoder(dir, encoderOutput)
			if err != nil {
				return nil, err
			}
			return enc, nil
		},
	}
}
