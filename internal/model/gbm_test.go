package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

func nan() float64 { return math.NaN() }

func stepData() ([][]float64, []float64) {
	rows := make([][]float64, 20)
	target := make([]float64, 20)
	for i := range rows {
		rows[i] = []float64{float64(i)}
		if i < 10 {
			target[i] = 5
		} else {
			target[i] = 25
		}
	}
	return rows, target
}

func TestFitGBMLearnsStepFunction(t *testing.T) {
	rows, target := stepData()

	m, err := FitGBM(rows, target, GBMConfig{NEstimators: 50, LearningRate: 0.3, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, 1, m.FeatureCount())

	pred, err := m.Predict(rows)
	require.NoError(t, err)
	assert.Less(t, MAE(target, pred), 0.1)

	score, err := m.Score(rows, target)
	require.NoError(t, err)
	assert.Greater(t, score, 0.99)
}

func TestFitGBMDeterministic(t *testing.T) {
	rows := make([][]float64, 40)
	target := make([]float64, 40)
	for i := range rows {
		x := float64(i) / 4
		rows[i] = []float64{x, -x}
		target[i] = 3*x + 1
	}
	cfg := GBMConfig{NEstimators: 30, LearningRate: 0.2, Subsample: 0.8, Seed: 7}

	first, err := FitGBM(rows, target, cfg)
	require.NoError(t, err)
	second, err := FitGBM(rows, target, cfg)
	require.NoError(t, err)

	p1, err := first.Predict(rows)
	require.NoError(t, err)
	p2, err := second.Predict(rows)
	require.NoError(t, err)
	assert.Equal(t, p1, p2, "identical seed and inputs must reproduce predictions exactly")
}

func TestFitGBMConstantTarget(t *testing.T) {
	rows := [][]float64{{1}, {2}, {3}}
	target := []float64{4, 4, 4}

	m, err := FitGBM(rows, target, GBMConfig{NEstimators: 5, Seed: 1})
	require.NoError(t, err)
	pred, err := m.Predict(rows)
	require.NoError(t, err)
	for _, p := range pred {
		assert.InDelta(t, 4.0, p, 1e-9)
	}

	score, err := m.Score(rows, target)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestFitGBMValidation(t *testing.T) {
	tests := []struct {
		name   string
		rows   [][]float64
		target []float64
	}{
		{"empty", nil, nil},
		{"length mismatch", [][]float64{{1}, {2}}, []float64{1}},
		{"ragged rows", [][]float64{{1, 2}, {3}}, []float64{1, 2}},
		{"nan target", [][]float64{{1}, {2}}, []float64{1, nan()}},
		{"no columns", [][]float64{{}, {}}, []float64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FitGBM(tt.rows, tt.target, GBMConfig{})
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestGBMPredictWidthMismatch(t *testing.T) {
	rows, target := stepData()
	m, err := FitGBM(rows, target, GBMConfig{NEstimators: 5, Seed: 1})
	require.NoError(t, err)

	_, err = m.Predict([][]float64{{1, 2}})
	assert.True(t, errs.IsValidation(err))
}

func TestSplitCandidatesThinning(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}
	got := splitCandidates(values)
	assert.Len(t, got, maxSplitCandidates)

	assert.Empty(t, splitCandidates([]float64{3, 3, 3}), "constant feature has no split")
	assert.Equal(t, []float64{1.5}, splitCandidates([]float64{2, 1, 2}))
}
