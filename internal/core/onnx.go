//go:build !windows

package core

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"query-classifier/internal/core/batch"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	inputIDsName      = "input_ids"
	attentionMaskName = "attention_mask"
	tokenTypeIDsName  = "token_type_ids"
)

// OnnxEncoder runs an exported transformer encoder. The ONNX Runtime
// environment must already be initialized by the caller.
type OnnxEncoder struct {
	session       *ort.DynamicAdvancedSession
	path          string
	useTokenTypes bool
	outputName    string
	outputRank    int
	hiddenSize    int
}

var _ Encoder = (*OnnxEncoder)(nil)

// LoadOnnxEncoder opens dir/model.onnx. outputName selects either a
// [batch, seq, hidden] output, of which the [CLS] row is used, or an already
// pooled [batch, hidden] output. An empty outputName picks the first output.
func LoadOnnxEncoder(dir, outputName string) (*OnnxEncoder, error) {
	path := filepath.Join(dir, EncoderFile)

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoder graph info: %w", err)
	}

	inputNames := map[string]bool{}
	for _, in := range inputs {
		inputNames[in.Name] = true
	}
	for _, required := range []string{inputIDsName, attentionMaskName} {
		if !inputNames[required] {
			return nil, fmt.Errorf("encoder graph %s has no '%s' input", path, required)
		}
	}

	var output *ort.InputOutputInfo
	for i := range outputs {
		if outputName == "" || outputs[i].Name == outputName {
			output = &outputs[i]
			break
		}
	}
	if output == nil {
		return nil, fmt.Errorf("encoder graph %s has no output named '%s'", path, outputName)
	}

	rank := len(output.Dimensions)
	if rank != 2 && rank != 3 {
		return nil, fmt.Errorf("encoder output '%s' has unsupported rank %d", output.Name, rank)
	}
	hidden := output.Dimensions[rank-1]
	if hidden <= 0 {
		return nil, fmt.Errorf("encoder output '%s' has dynamic hidden size", output.Name)
	}

	enc := &OnnxEncoder{
		path:          path,
		useTokenTypes: inputNames[tokenTypeIDsName],
		outputName:    output.Name,
		outputRank:    rank,
		hiddenSize:    int(hidden),
	}

	names := []string{inputIDsName, attentionMaskName}
	if enc.useTokenTypes {
		names = append(names, tokenTypeIDsName)
	}

	enc.session, err = ort.NewDynamicAdvancedSession(path, names, []string{enc.outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder session: %w", err)
	}

	return enc, nil
}

func (e *OnnxEncoder) HiddenSize() int {
	return e.hiddenSize
}

func (e *OnnxEncoder) Encode(b batch.Batch) ([][]float32, error) {
	B, L, H := int64(b.Size()), int64(b.MaxLen), int64(e.hiddenSize)
	shape := ort.NewShape(B, L)

	idsT, err := ort.NewTensor(shape, batch.Flatten(b.TokenIDs))
	if err != nil {
		return nil, err
	}
	defer idsT.Destroy()

	maskT, err := ort.NewTensor(shape, batch.Flatten(b.Mask))
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()

	inputs := []ort.Value{idsT, maskT}
	if e.useTokenTypes {
		segT, err := ort.NewTensor(shape, batch.Flatten(b.SegmentIDs))
		if err != nil {
			return nil, err
		}
		defer segT.Destroy()
		inputs = append(inputs, segT)
	}

	outShape := ort.NewShape(B, H)
	if e.outputRank == 3 {
		outShape = ort.NewShape(B, L, H)
	}
	outT, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, err
	}
	defer outT.Destroy()

	if err := e.session.Run(inputs, []ort.Value{outT}); err != nil {
		return nil, fmt.Errorf("session run error: %w", err)
	}

	flat := outT.GetData()
	stride := H
	if e.outputRank == 3 {
		stride = L * H
	}

	features := make([][]float32, B)
	for i := int64(0); i < B; i++ {
		start := i * stride
		features[i] = append([]float32(nil), flat[start:start+H]...)
	}
	return features, nil
}

func (e *OnnxEncoder) Save(dir string) error {
	return copyFile(e.path, filepath.Join(dir, EncoderFile))
}

func (e *OnnxEncoder) Release() {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
}

// InitOnnxRuntime loads the shared library and creates the process-wide
// environment. The returned function tears it down again.
func InitOnnxRuntime(dylib string) (func(), error) {
	if dylib == "" {
		return nil, fmt.Errorf("ONNX_RUNTIME_DYLIB must be set")
	}
	ort.SetSharedLibraryPath(dylib)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("could not init ONNX Runtime: %w", err)
	}
	return func() {
		if err := ort.DestroyEnvironment(); err != nil {
			slog.Error("error destroying onnx env", "error", err)
		}
	}, nil
}
