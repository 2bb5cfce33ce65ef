package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/daulet/tokenizers"
)

type HFTokenizer struct {
	tokenizer *tokenizers.Tokenizer
	path      string
	maxSeqLen int
}

var _ Tokenizer = (*HFTokenizer)(nil)

// LoadHFTokenizer loads dir/tokenizer.json. Encoded sequences are truncated to
// maxSeqLen tokens, keeping the final [SEP].
func LoadHFTokenizer(dir string, maxSeqLen int) (*HFTokenizer, error) {
	path := filepath.Join(dir, TokenizerFile)
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer load: %w", err)
	}
	return &HFTokenizer{tokenizer: tk, path: path, maxSeqLen: maxSeqLen}, nil
}

func (t *HFTokenizer) Encode(text string) ([]int64, error) {
	raw, _ := t.tokenizer.Encode(text, true)
	if len(raw) == 0 {
		return nil, fmt.Errorf("tokenizer produced no tokens for %q", text)
	}

	ids := make([]int64, len(raw))
	for i, v := range raw {
		ids[i] = int64(v)
	}
	return truncate(ids, t.maxSeqLen), nil
}

// truncate keeps the first maxLen-1 ids and the final [SEP]. The result never
// shares memory with ids.
func truncate(ids []int64, maxLen int) []int64 {
	if maxLen < 2 || len(ids) <= maxLen {
		return slices.Clone(ids)
	}
	out := make([]int64, 0, maxLen)
	out = append(out, ids[:maxLen-1]...)
	return append(out, ids[len(ids)-1])
}

func (t *HFTokenizer) Save(dir string) error {
	return copyFile(t.path, filepath.Join(dir, TokenizerFile))
}

func (t *HFTokenizer) Close() {
	t.tokenizer.Close()
}

func copyFile(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}
