package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"query-classifier/internal/core/dataset"

	"github.com/vmihailenco/msgpack/v5"
)

const architecture = "onnx-encoder+linear-head"

// ModelConfig is written to config.json next to the weights.
type ModelConfig struct {
	Architecture  string         `json:"architecture"`
	Pretrained    string         `json:"pretrained"`
	HiddenSize    int            `json:"hidden_size"`
	NumLabels     int            `json:"num_labels"`
	Labels        []string       `json:"labels"`
	Label2ID      map[string]int `json:"label2id"`
	MaxSeqLen     int            `json:"max_seq_len"`
	EncoderOutput string         `json:"encoder_output"`
	Dropout       float64        `json:"dropout"`
	SavedAt       time.Time      `json:"saved_at"`
}

type headState struct {
	InDim  int       `msgpack:"in_dim"`
	OutDim int       `msgpack:"out_dim"`
	Weight []float32 `msgpack:"weight"`
	Bias   []float32 `msgpack:"bias"`
}

// Save writes weights, config, tokenizer and encoder into dir so the model can
// be reloaded with LoadClassifier.
func (c *TransformerClassifier) Save(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create model directory %s: %w", dir, err)
	}

	slog.Info("saving model", "dir", dir)

	if err := c.tokenizer.Save(dir); err != nil {
		return fmt.Errorf("save tokenizer: %w", err)
	}
	if err := c.encoder.Save(dir); err != nil {
		return fmt.Errorf("save encoder: %w", err)
	}

	cfg := c.config
	cfg.Labels = c.labels.Labels()
	cfg.Label2ID = make(map[string]int, len(cfg.Labels))
	for i, l := range cfg.Labels {
		cfg.Label2ID[l] = i
	}
	cfg.SavedAt = time.Now().UTC()

	cfgData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), cfgData, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	headData, err := msgpack.Marshal(headState{
		InDim:  c.head.InDim,
		OutDim: c.head.OutDim,
		Weight: c.head.Weight.Data,
		Bias:   c.head.Bias.Data,
	})
	if err != nil {
		return fmt.Errorf("encode head weights: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, HeadFile), headData, 0o644); err != nil {
		return fmt.Errorf("write head weights: %w", err)
	}

	return nil
}

func readModelConfig(dir string) (ModelConfig, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return ModelConfig{}, false, nil
	}
	if err != nil {
		return ModelConfig{}, false, fmt.Errorf("read config: %w", err)
	}

	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ModelConfig{}, false, fmt.Errorf("decode config: %w", err)
	}
	// A pretrained-only directory may ship a foreign config.json.
	if cfg.Architecture != architecture {
		return ModelConfig{}, false, nil
	}
	return cfg, true, nil
}

func readHead(dir string, dropout float64) (*LinearHead, error) {
	data, err := os.ReadFile(filepath.Join(dir, HeadFile))
	if err != nil {
		return nil, fmt.Errorf("read head weights: %w", err)
	}

	var state headState
	if err := msgpack.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode head weights: %w", err)
	}
	if len(state.Weight) != state.InDim*state.OutDim || len(state.Bias) != state.OutDim {
		return nil, fmt.Errorf("head weights have inconsistent shapes")
	}

	return &LinearHead{
		InDim:   state.InDim,
		OutDim:  state.OutDim,
		Weight:  &Param{Data: state.Weight, Grad: make([]float32, len(state.Weight))},
		Bias:    &Param{Data: state.Bias, Grad: make([]float32, len(state.Bias))},
		Dropout: dropout,
	}, nil
}

type LoadOptions struct {
	// Labels fixes the label set to train on. Nil loads the saved label set,
	// which requires a fine-tuned model directory.
	Labels        *dataset.LabelIndex
	MaxSeqLen     int
	EncoderOutput string
	Dropout       float64
	Rng           *rand.Rand
}

// LoadClassifier builds a classifier from a pretrained encoder directory or a
// previously fine-tuned model directory. A saved head is reused when its label
// set matches the requested one, otherwise a fresh head is initialized.
func LoadClassifier(dir string, loaders Loaders, opts LoadOptions) (*TransformerClassifier, error) {
	saved, found, err := readModelConfig(dir)
	if err != nil {
		return nil, fmt.Errorf("error loading model config from %s: %w", dir, err)
	}

	labels := opts.Labels
	if labels == nil {
		if !found {
			return nil, fmt.Errorf("%s is not a fine-tuned model directory (no %s)", dir, ConfigFile)
		}
		if labels, err = dataset.LabelIndexFromLabels(saved.Labels); err != nil {
			return nil, fmt.Errorf("invalid labels in %s: %w", ConfigFile, err)
		}
	}

	maxSeqLen := opts.MaxSeqLen
	if maxSeqLen == 0 {
		maxSeqLen = saved.MaxSeqLen
	}

	tokenizer, err := loaders.Tokenizer(dir, maxSeqLen)
	if err != nil {
		return nil, err
	}

	encoder, err := loaders.Encoder(dir)
	if err != nil {
		tokenizer.Close()
		return nil, err
	}

	head, err := chooseHead(dir, saved, found, labels, encoder.HiddenSize(), opts)
	if err != nil {
		tokenizer.Close()
		encoder.Release()
		return nil, err
	}

	pretrained := dir
	if found && saved.Pretrained != "" {
		pretrained = saved.Pretrained
	}
	encoderOutput := opts.EncoderOutput
	if encoderOutput == "" {
		encoderOutput = saved.EncoderOutput
	}

	classifier, err := NewTransformerClassifier(tokenizer, encoder, labels, head, ModelConfig{
		Pretrained:    pretrained,
		MaxSeqLen:     maxSeqLen,
		EncoderOutput: encoderOutput,
	})
	if err != nil {
		tokenizer.Close()
		encoder.Release()
		return nil, err
	}
	return classifier, nil
}

func chooseHead(dir string, saved ModelConfig, found bool, labels *dataset.LabelIndex, hidden int, opts LoadOptions) (*LinearHead, error) {
	if found {
		savedLabels, err := dataset.LabelIndexFromLabels(saved.Labels)
		if err == nil && savedLabels.Equal(labels) {
			if saved.EncoderOutput != "" && opts.EncoderOutput != "" && saved.EncoderOutput != opts.EncoderOutput {
				return nil, fmt.Errorf("saved head was trained on encoder output %q, encoder is configured for %q",
					saved.EncoderOutput, opts.EncoderOutput)
			}
			head, err := readHead(dir, opts.Dropout)
			if err != nil {
				return nil, err
			}
			if head.InDim != hidden {
				return nil, fmt.Errorf("saved head expects hidden size %d, encoder has %d", head.InDim, hidden)
			}
			slog.Info("resuming from saved classification head", "dir", dir, "labels", labels.Len())
			return head, nil
		}
		slog.Warn("saved head label set differs from the training labels, initializing a new head",
			"dir", dir, "saved_labels", len(saved.Labels), "labels", labels.Len())
	}

	rng := opts.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return NewLinearHead(hidden, labels.Len(), opts.Dropout, rng), nil
}
