// Package onnx scores feature batches with an ONNX regression model through
// ONNX Runtime.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// DefaultLibraryName is the runtime library looked up next to the model
// when no explicit path is configured.
const DefaultLibraryName = "libonnxruntime.so"

// Model is a loaded regression model. Predict calls are serialised; the
// runtime session is not documented as safe for concurrent Run calls.
type Model struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	outputRank int
}

// Load opens the model once for the life of the process. A missing model
// file is reported before touching the runtime.
func Load(modelPath, libPath string) (*Model, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx: model artifact: %w", err)
	}
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(modelPath), DefaultLibraryName)
	}

	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}
	inputName, err := validateInput(inputs)
	if err != nil {
		return nil, err
	}
	outputName, rank, err := validateOutput(outputs)
	if err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(2)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &Model{
		session:    session,
		inputName:  inputName,
		outputName: outputName,
		outputRank: rank,
	}, nil
}

// validateInput expects a single [batch, features] float input whose
// feature dimension is either dynamic or the domain's feature count.
func validateInput(inputs []ort.InputOutputInfo) (string, error) {
	if len(inputs) != 1 {
		return "", fmt.Errorf("onnx: expected 1 model input, got %d", len(inputs))
	}
	dims := inputs[0].Dimensions
	if len(dims) != 2 {
		return "", fmt.Errorf("onnx: expected 2D input tensor, got %v", dims)
	}
	if dims[1] != -1 && dims[1] != domain.FeatureCount {
		return "", fmt.Errorf("onnx: model expects %d features, have %d", dims[1], domain.FeatureCount)
	}
	if dt := inputs[0].DataType; dt != ort.TensorElementDataTypeFloat {
		return "", fmt.Errorf("onnx: expected float32 input, got %v", dt)
	}
	return inputs[0].Name, nil
}

// validateOutput accepts [batch] or [batch, 1] float32 regression outputs,
// matching the tensor Predict allocates.
func validateOutput(outputs []ort.InputOutputInfo) (string, int, error) {
	if len(outputs) == 0 {
		return "", 0, errors.New("onnx: model has no outputs")
	}
	dims := outputs[0].Dimensions
	switch {
	case len(dims) == 1:
	case len(dims) == 2 && (dims[1] == 1 || dims[1] == -1):
	default:
		return "", 0, fmt.Errorf("onnx: expected [batch] or [batch, 1] output, got %v", dims)
	}
	if dt := outputs[0].DataType; dt != ort.TensorElementDataTypeFloat {
		return "", 0, fmt.Errorf("onnx: expected float32 output, got %v", dt)
	}
	return outputs[0].Name, len(dims), nil
}

// Predict runs one batched inference and returns one AQI per row.
func (m *Model) Predict(ctx context.Context, rows domain.FeatureMatrix) ([]float64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	flat, err := rows.Flatten(domain.FeatureCount)
	if err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	batch := int64(len(rows))

	in, err := ort.NewTensor(ort.NewShape(batch, domain.FeatureCount), flat)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	outShape := ort.NewShape(batch)
	if m.outputRank == 2 {
		outShape = ort.NewShape(batch, 1)
	}
	out, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	m.mu.Lock()
	err = m.session.Run([]ort.Value{in}, []ort.Value{out})
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	return widen(out.GetData(), len(rows))
}

func widen(data []float32, rows int) ([]float64, error) {
	if len(data) != rows {
		return nil, fmt.Errorf("onnx: model returned %d values for %d rows", len(data), rows)
	}
	values := make([]float64, rows)
	for i, v := range data {
		values[i] = float64(v)
	}
	return values, nil
}

// Close releases the session.
func (m *Model) Close() error {
	if m == nil || m.session == nil {
		return nil
	}
	return m.session.Destroy()
}
