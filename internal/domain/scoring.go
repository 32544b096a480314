package domain

import (
	"context"
	"fmt"
)

// FeatureMatrix is a rectangular batch of feature rows, one per observation.
type FeatureMatrix [][]float32

// Predictor scores a feature batch with a regression model.
type Predictor interface {
	// Predict returns one AQI per input row, in input order.
	Predict(ctx context.Context, rows FeatureMatrix) ([]float64, error)
}

// BuildFeatures converts observations into a feature batch.
func BuildFeatures(observations []Observation) FeatureMatrix {
	rows := make(FeatureMatrix, len(observations))
	for i := range observations {
		rows[i] = observations[i].Features()
	}
	return rows
}

// Flatten returns the matrix as one row-major slice, checking every row has
// the expected width.
func (m FeatureMatrix) Flatten(width int) ([]float32, error) {
	flat := make([]float32, 0, len(m)*width)
	for i, row := range m {
		if len(row) != width {
			return nil, fmt.Errorf("feature row %d has %d columns, expected %d", i, len(row), width)
		}
		flat = append(flat, row...)
	}
	return flat, nil
}

// Score runs one batched prediction for the observations and checks the
// model returned exactly one value per row.
func Score(ctx context.Context, p Predictor, observations []Observation) ([]float64, error) {
	if len(observations) == 0 {
		return nil, nil
	}
	predictions, err := p.Predict(ctx, BuildFeatures(observations))
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(predictions) != len(observations) {
		return nil, fmt.Errorf("model returned %d predictions for %d rows", len(predictions), len(observations))
	}
	return predictions, nil
}
