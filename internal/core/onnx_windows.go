//go:build windows

package core

import (
	"errors"

	"query-classifier/internal/core/batch"
)

var ErrOnnxNotSupportedOnWindows = errors.New("ONNX models are not supported on Windows")

type OnnxEncoder struct{}

func LoadOnnxEncoder(dir, outputName string) (*OnnxEncoder, error) {
	return nil, ErrOnnxNotSupportedOnWindows
}

func (e *OnnxEncoder) HiddenSize() int {
	return 0
}

func (e *OnnxEncoder) Encode(b batch.Batch) ([][]float32, error) {
	return nil, ErrOnnxNotSupportedOnWindows
}

func (e *OnnxEncoder) Save(dir string) error {
	return ErrOnnxNotSupportedOnWindows
}

func (e *OnnxEncoder) Release() {
	// no-op
}

func InitOnnxRuntime(dylib string) (func(), error) {
	return nil, ErrOnnxNotSupportedOnWindows
}
