// Package validator grades a trained model against its validation data
// before the artifact ships. Five independent checks each contribute to one
// report; the report passes only when every check does.
package validator

import (
	"fmt"
	"math"
	"sort"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/model"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Check names as they appear in the report.
const (
	CheckThresholds = "thresholds"
	CheckBaseline   = "baseline"
	CheckDrift      = "drift"
	CheckStability  = "stability"
	CheckRange      = "range"
)

const (
	defaultBaselineTolerance = 0.05
	driftAlpha               = 0.05
	maxPredictionCV          = 0.5
	residualSigmaLimit       = 3.0
	maxOutlierFraction       = 0.05
	rangeLowFactor           = 0.5
	rangeHighFactor          = 1.5
)

// Default performance gates per model kind. Input.Thresholds overrides
// individual entries.
var (
	forecastThresholds = map[string]float64{"mae": 50, "rmse": 75, "mape": 10, "r2": 0.7}
	anomalyThresholds  = map[string]float64{"precision": 0.8, "recall": 0.75, "f1": 0.77, "auc": 0.85}
)

// higherBetter marks metrics where larger values win. Everything else is an
// error measure.
var higherBetter = map[string]bool{
	"r2":        true,
	"precision": true,
	"recall":    true,
	"f1":        true,
	"auc":       true,
}

// FeatureStats is the training-time summary of one feature column.
type FeatureStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Input carries the model under test and its validation data. Baseline and
// TrainStats are optional; their checks pass vacuously when absent.
type Input struct {
	ModelKind string
	Model     model.Model

	// Features are validation rows in the model's input space; Target is
	// the aligned truth column.
	Features [][]float64
	Target   []float64

	// Columns names the feature columns. RawFeatures are the same rows in
	// the space TrainStats was computed in; nil falls back to Features.
	Columns     []string
	RawFeatures [][]float64
	TrainStats  map[string]FeatureStats

	Baseline   map[string]float64
	Thresholds map[string]float64

	// BaselineTolerance defaults to 0.05.
	BaselineTolerance float64
}

// Check is the verdict of one independent check.
type Check struct {
	Passed  bool               `json:"passed"`
	Skipped bool               `json:"skipped,omitempty"`
	Details map[string]float64 `json:"details,omitempty"`
}

// Report is the full validation verdict. Passed holds exactly when
// Failures is empty.
type Report struct {
	Passed   bool             `json:"passed"`
	Failures []string         `json:"failures"`
	Checks   map[string]Check `json:"checks"`

	// Metrics are the evaluation metrics computed on the validation set.
	Metrics map[string]float64 `json:"metrics"`
}

func (r *Report) add(name string, c Check, failures []string) {
	r.Checks[name] = c
	r.Failures = append(r.Failures, failures...)
}

// Validator runs the five checks.
type Validator struct {
	logger logging.Interface
}

// New creates a validator.
func New(logger logging.Interface) *Validator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Validator{logger: logger}
}

// Validate predicts on the validation rows and evaluates all five checks.
// Quality problems land in the report; the error covers malformed input
// only.
func (v *Validator) Validate(in Input) (*Report, error) {
	const op = "validator.Validate"
	if !model.ValidKind(in.ModelKind) {
		return nil, errs.Validation(op, "unknown model kind %q", in.ModelKind)
	}
	if in.Model == nil {
		return nil, errs.Validation(op, "model is required")
	}
	if len(in.Features) == 0 {
		return nil, errs.Validation(op, "validation dataset is empty")
	}
	if len(in.Features) != len(in.Target) {
		return nil, errs.Validation(op, "%d feature rows but %d targets", len(in.Features), len(in.Target))
	}
	if in.RawFeatures != nil && len(in.RawFeatures) != len(in.Features) {
		return nil, errs.Validation(op, "raw feature rows must align with feature rows")
	}
	driftRows := in.RawFeatures
	if driftRows == nil {
		driftRows = in.Features
	}
	if len(in.Columns) > 0 && len(in.Columns) != len(driftRows[0]) {
		return nil, errs.Validation(op, "%d columns named for %d-wide rows", len(in.Columns), len(driftRows[0]))
	}

	preds, err := in.Model.Predict(in.Features)
	if err != nil {
		return nil, err
	}
	metrics, scores, err := evaluate(in.ModelKind, in.Model, in.Features, in.Target, preds)
	if err != nil {
		return nil, err
	}

	tolerance := in.BaselineTolerance
	if tolerance <= 0 {
		tolerance = defaultBaselineTolerance
	}

	// Stability and range read the continuous series: predictions for
	// regressors, anomaly scores for classifiers.
	series := preds
	if in.ModelKind == model.Anomaly {
		series = scores
	}

	report := &Report{Failures: []string{}, Checks: map[string]Check{}, Metrics: metrics}
	c, failures := checkThresholds(in.ModelKind, metrics, in.Thresholds)
	report.add(CheckThresholds, c, failures)
	c, failures = checkBaseline(metrics, in.Baseline, tolerance)
	report.add(CheckBaseline, c, failures)
	c, failures = checkDrift(in.Columns, driftRows, in.TrainStats)
	report.add(CheckDrift, c, failures)
	c, failures = checkStability(series)
	report.add(CheckStability, c, failures)
	c, failures = checkRange(series, in.Target)
	report.add(CheckRange, c, failures)
	report.Passed = len(report.Failures) == 0

	log := v.logger.WithField("model_kind", in.ModelKind).WithField("failures", len(report.Failures))
	if report.Passed {
		log.Debug("validation passed")
	} else {
		log.WithField("first_failure", report.Failures[0]).Warn("validation failed")
	}
	return report, nil
}

func evaluate(kind string, m model.Model, features [][]float64, target, preds []float64) (map[string]float64, []float64, error) {
	if kind != model.Anomaly {
		metrics, err := model.Regression(target, preds)
		return metrics, preds, err
	}
	scores := preds
	if forest, ok := m.(*model.IsolationForest); ok {
		s, err := forest.AnomalyScores(features)
		if err != nil {
			return nil, nil, err
		}
		scores = s
	}
	metrics, err := model.Classification(target, preds, scores)
	return metrics, scores, err
}

func checkThresholds(kind string, metrics, overrides map[string]float64) (Check, []string) {
	base := forecastThresholds
	if kind == model.Anomaly {
		base = anomalyThresholds
	}
	limits := make(map[string]float64, len(base)+len(overrides))
	for k, v := range base {
		limits[k] = v
	}
	for k, v := range overrides {
		limits[k] = v
	}

	details := map[string]float64{}
	var failures []string
	for _, name := range sortedKeys(limits) {
		current, ok := metrics[name]
		if !ok {
			continue
		}
		limit := limits[name]
		details[name] = current
		if higherBetter[name] {
			if current < limit {
				failures = append(failures, fmt.Sprintf("%s %.4f below threshold %.4f", name, current, limit))
			}
		} else if current > limit {
			failures = append(failures, fmt.Sprintf("%s %.4f exceeds threshold %.4f", name, current, limit))
		}
	}
	return Check{Passed: len(failures) == 0, Details: details}, failures
}

func checkBaseline(metrics, baseline map[string]float64, tolerance float64) (Check, []string) {
	if len(baseline) == 0 {
		return Check{Passed: true, Skipped: true}, nil
	}
	details := map[string]float64{}
	var failures []string
	for _, name := range sortedKeys(baseline) {
		current, ok := metrics[name]
		if !ok {
			continue
		}
		base := baseline[name]
		details[name] = current - base
		if higherBetter[name] {
			if current < base*(1-tolerance) {
				failures = append(failures, fmt.Sprintf("%s %.4f fell more than %.0f%% below baseline %.4f", name, current, tolerance*100, base))
			}
		} else if current > base*(1+tolerance) {
			failures = append(failures, fmt.Sprintf("%s %.4f degraded more than %.0f%% over baseline %.4f", name, current, tolerance*100, base))
		}
	}
	return Check{Passed: len(failures) == 0, Details: details}, failures
}

// checkDrift runs a two-sided Z-test on each feature mean against its
// training summary. Features without a summary, and degenerate summaries
// with non-positive spread, are left out.
func checkDrift(columns []string, rows [][]float64, stats map[string]FeatureStats) (Check, []string) {
	if len(stats) == 0 || len(columns) == 0 || len(rows) == 0 {
		return Check{Passed: true, Skipped: true}, nil
	}
	n := float64(len(rows))
	details := map[string]float64{}
	var failures []string
	for j, col := range columns {
		s, ok := stats[col]
		if !ok || s.Std <= 0 {
			continue
		}
		sum := 0.0
		for _, row := range rows {
			sum += row[j]
		}
		observed := sum / n
		z := (observed - s.Mean) / (s.Std / math.Sqrt(n))
		p := math.Erfc(math.Abs(z) / math.Sqrt2)
		details[col] = p
		if p < driftAlpha {
			failures = append(failures, fmt.Sprintf("feature %s mean drifted from training (p=%.4f)", col, p))
		}
	}
	if len(details) == 0 {
		return Check{Passed: true, Skipped: true}, nil
	}
	return Check{Passed: len(failures) == 0, Details: details}, failures
}

func checkStability(preds []float64) (Check, []string) {
	m := mean(preds)
	sd := stddev(preds, m)
	if math.Abs(m) < 1e-12 {
		if sd < 1e-12 {
			return Check{Passed: true, Details: map[string]float64{"cv": 0}}, nil
		}
		return Check{Passed: false}, []string{"prediction mean is zero, coefficient of variation unbounded"}
	}
	cv := sd / math.Abs(m)
	details := map[string]float64{"cv": cv}
	if cv > maxPredictionCV {
		return Check{Passed: false, Details: details},
			[]string{fmt.Sprintf("prediction coefficient of variation %.4f exceeds %.2f", cv, maxPredictionCV)}
	}
	return Check{Passed: true, Details: details}, nil
}

func checkRange(preds, target []float64) (Check, []string) {
	residuals := make([]float64, len(preds))
	for i := range preds {
		residuals[i] = preds[i] - target[i]
	}
	rm := mean(residuals)
	rsd := stddev(residuals, rm)
	outliers := 0
	if rsd > 0 {
		for _, r := range residuals {
			if math.Abs(r-rm) > residualSigmaLimit*rsd {
				outliers++
			}
		}
	}
	fraction := float64(outliers) / float64(len(preds))
	minPred, maxPred := bounds(preds)
	minTrue, maxTrue := bounds(target)

	details := map[string]float64{
		"outlier_fraction": fraction,
		"min_prediction":   minPred,
		"max_prediction":   maxPred,
		"min_target":       minTrue,
		"max_target":       maxTrue,
	}
	var failures []string
	if fraction > maxOutlierFraction {
		failures = append(failures, fmt.Sprintf("%.1f%% of residuals exceed %g sigma", fraction*100, residualSigmaLimit))
	}
	if minPred < rangeLowFactor*minTrue {
		failures = append(failures, fmt.Sprintf("min prediction %.4f below %.1fx min target %.4f", minPred, rangeLowFactor, minTrue))
	}
	if maxPred > rangeHighFactor*maxTrue {
		failures = append(failures, fmt.Sprintf("max prediction %.4f above %.1fx max target %.4f", maxPred, rangeHighFactor, maxTrue))
	}
	return Check{Passed: len(failures) == 0, Details: details}, failures
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

func stddev(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func bounds(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
