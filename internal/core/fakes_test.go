package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"query-classifier/internal/core/batch"
)

const (
	goodID  = 10
	badID   = 20
	otherID = 30
	fakeDim = 4
)

type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) ([]int64, error) {
	ids := []int64{101}
	for _, w := range strings.Fields(text) {
		switch w {
		case "good":
			ids = append(ids, goodID)
		case "bad":
			ids = append(ids, badID)
		default:
			ids = append(ids, otherID)
		}
	}
	return append(ids, 102), nil
}

func (wordTokenizer) Save(dir string) error {
	return os.WriteFile(filepath.Join(dir, TokenizerFile), []byte("{}"), 0o644)
}

func (wordTokenizer) Close() {}

// countEncoder pools a batch row into word counts, which makes good/bad
// texts linearly separable.
type countEncoder struct {
	calls int
}

func (e *countEncoder) HiddenSize() int {
	return fakeDim
}

func (e *countEncoder) Encode(b batch.Batch) ([][]float32, error) {
	e.calls++
	out := make([][]float32, b.Size())
	for i, row := range b.TokenIDs {
		f := make([]float32, fakeDim)
		for j, id := range row {
			if b.Mask[i][j] == 0 {
				continue
			}
			switch id {
			case goodID:
				f[0]++
			case badID:
				f[1]++
			case otherID:
				f[2]++
			}
		}
		f[3] = 1
		out[i] = f
	}
	return out, nil
}

func (e *countEncoder) Save(dir string) error {
	return os.WriteFile(filepath.Join(dir, EncoderFile), []byte("onnx"), 0o644)
}

func (e *countEncoder) Release() {}

func fakeLoaders() Loaders {
	return Loaders{
		Tokenizer: func(dir string, maxSeqLen int) (Tokenizer, error) {
			return wordTokenizer{}, nil
		},
		Encoder: func(dir string) (Encoder, error) {
			if _, err := os.Stat(filepath.Join(dir, EncoderFile)); err != nil {
				return nil, fmt.Errorf("no encoder in %s: %w", dir, err)
			}
			return &countEncoder{}, nil
		},
	}
}

// pretrainedDir creates a directory that looks like an exported encoder.
func pretrainedDir(root string) string {
	dir := filepath.Join(root, "pretrained")
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		panic(err)
	}
	if err := (&countEncoder{}).Save(dir); err != nil {
		panic(err)
	}
	if err := (wordTokenizer{}).Save(dir); err != nil {
		panic(err)
	}
	return dir
}
