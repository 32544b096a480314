package onnx

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
)

const testModelPath = "../../../models/aqi_predictor.onnx"

func skipIfNoModel(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(testModelPath); os.IsNotExist(err) {
		t.Skip("model artifact not found; place aqi_predictor.onnx and libonnxruntime.so under models/")
	}
}

func TestLoad_MissingModel(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.onnx"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model artifact")
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name    string
		inputs  []ort.InputOutputInfo
		wantErr string
	}{
		{"dynamic features", []ort.InputOutputInfo{{Name: "float_input", Dimensions: ort.NewShape(-1, -1), DataType: ort.TensorElementDataTypeFloat}}, ""},
		{"exact features", []ort.InputOutputInfo{{Name: "float_input", Dimensions: ort.NewShape(-1, domain.FeatureCount), DataType: ort.TensorElementDataTypeFloat}}, ""},
		{"double input", []ort.InputOutputInfo{{Name: "x", Dimensions: ort.NewShape(-1, domain.FeatureCount), DataType: ort.TensorElementDataTypeDouble}}, "expected float32 input"},
		{"wrong width", []ort.InputOutputInfo{{Name: "x", Dimensions: ort.NewShape(-1, 12)}}, "expects 12 features"},
		{"wrong rank", []ort.InputOutputInfo{{Name: "x", Dimensions: ort.NewShape(10)}}, "2D input"},
		{"two inputs", []ort.InputOutputInfo{{Name: "a"}, {Name: "b"}}, "expected 1 model input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, err := validateInput(tt.inputs)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.inputs[0].Name, name)
		})
	}
}

func TestValidateOutput(t *testing.T) {
	_, rank, err := validateOutput([]ort.InputOutputInfo{{Name: "variable", Dimensions: ort.NewShape(-1, 1), DataType: ort.TensorElementDataTypeFloat}})
	require.NoError(t, err)
	assert.Equal(t, 2, rank)

	_, rank, err = validateOutput([]ort.InputOutputInfo{{Name: "variable", Dimensions: ort.NewShape(-1), DataType: ort.TensorElementDataTypeFloat}})
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	_, _, err = validateOutput([]ort.InputOutputInfo{{Name: "probs", Dimensions: ort.NewShape(-1, 6)}})
	assert.Error(t, err)

	_, _, err = validateOutput([]ort.InputOutputInfo{{Name: "variable", Dimensions: ort.NewShape(-1, 1), DataType: ort.TensorElementDataTypeDouble}})
	assert.ErrorContains(t, err, "expected float32 output")

	_, _, err = validateOutput(nil)
	assert.ErrorContains(t, err, "no outputs")
}

func TestWiden(t *testing.T) {
	got, err := widen([]float32{12.5, 301}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{12.5, 301}, got)

	_, err = widen([]float32{1}, 2)
	assert.ErrorContains(t, err, "1 values for 2 rows")
}

func TestModelPredict(t *testing.T) {
	skipIfNoModel(t)

	m, err := Load(testModelPath, "")
	require.NoError(t, err)
	defer m.Close()

	rows := domain.FeatureMatrix{
		{48.2, 20.1, 1016.4, 6.2, 5.1, 9.9, 59, 35.6, 0, 3},
		{80.1, 65.3, 1008.2, 3.1, 2.0, 4.1, 88, 72.5, 0.2, 7},
	}
	got, err := m.Predict(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, got, len(rows))
	for _, v := range got {
		assert.False(t, math.IsNaN(v))
	}

	// The same input always scores the same.
	again, err := m.Predict(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}
