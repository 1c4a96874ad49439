// Package model defines the capability surface of trained models and two
// deterministic implementations: a gradient-boosted stump regressor for load
// forecasting and an isolation forest for anomaly detection. Trained models
// serialize through a tagged binary envelope so the registry can store and
// reload them without knowing concrete types.
package model

import "math"

// Platform model kinds. Jobs, studies and validation thresholds branch on
// these.
const (
	Forecast = "forecast"
	Anomaly  = "anomaly"
)

// ValidKind reports whether kind names a trainable model family.
func ValidKind(kind string) bool {
	return kind == Forecast || kind == Anomaly
}

// Model is the capability interface the pipeline and validator program
// against. Predict returns one value per input row. Score summarizes fit
// quality on labelled data: r-squared for regressors, label accuracy for
// classifiers.
type Model interface {
	Predict(rows [][]float64) ([]float64, error)
	FeatureCount() int
	Score(rows [][]float64, target []float64) (float64, error)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
