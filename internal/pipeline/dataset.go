package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// Dataset is a dense feature matrix with its target column and row
// timestamps, ordered chronologically.
type Dataset struct {
	Columns    []string
	Features   [][]float64
	Target     []float64
	Timestamps []time.Time
}

// Split is the three-way chronological partition of a dataset.
type Split struct {
	Train *Dataset
	Val   *Dataset
	Test  *Dataset
}

// buildDataset flattens feature rows into a matrix. Columns are the sorted
// union of feature names minus the target; values a row lacks fill with 0.
// Rows without a finite target are dropped.
func buildDataset(rows []featurestore.FeatureRow, target string) (*Dataset, error) {
	const op = "pipeline.buildDataset"
	nameSet := make(map[string]struct{})
	for _, row := range rows {
		for name := range row.Values {
			if name != target {
				nameSet[name] = struct{}{}
			}
		}
	}
	if len(nameSet) == 0 {
		return nil, errs.Validation(op, "rows carry no feature columns besides target %q", target)
	}
	columns := make([]string, 0, len(nameSet))
	for name := range nameSet {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	d := &Dataset{
		Columns:    columns,
		Features:   make([][]float64, 0, len(rows)),
		Target:     make([]float64, 0, len(rows)),
		Timestamps: make([]time.Time, 0, len(rows)),
	}
	for _, row := range rows {
		y, ok := row.Values[target]
		if !ok || math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		features := make([]float64, len(columns))
		for i, name := range columns {
			if v, ok := row.Values[name]; ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
				features[i] = v
			}
		}
		d.Features = append(d.Features, features)
		d.Target = append(d.Target, y)
		d.Timestamps = append(d.Timestamps, row.Ts)
	}
	if len(d.Target) == 0 {
		return nil, errs.Validation(op, "target column %q is absent from every row", target)
	}
	return d, nil
}

// split carves the tail testFraction of rows off as test, then the tail
// valFraction/(1-testFraction) of the remainder as validation. Rows are
// already chronological, so train timestamps never exceed validation or test
// timestamps.
func (d *Dataset) split(valFraction, testFraction float64) (*Split, error) {
	const op = "pipeline.split"
	n := len(d.Target)
	nTest := int(float64(n) * testFraction)
	remainder := n - nTest
	nVal := 0
	if testFraction < 1 {
		nVal = int(float64(remainder) * valFraction / (1 - testFraction))
	}
	nTrain := remainder - nVal
	if nTrain < 1 {
		return nil, errs.Validation(op, "%d rows leave no training data after splits", n)
	}
	if nTest < 1 {
		return nil, errs.Validation(op, "%d rows leave no test data for evaluation", n)
	}
	return &Split{
		Train: d.slice(0, nTrain),
		Val:   d.slice(nTrain, remainder),
		Test:  d.slice(remainder, n),
	}, nil
}

func (d *Dataset) slice(lo, hi int) *Dataset {
	return &Dataset{
		Columns:    d.Columns,
		Features:   d.Features[lo:hi],
		Target:     d.Target[lo:hi],
		Timestamps: d.Timestamps[lo:hi],
	}
}

// Scaler standardizes features with statistics fitted on the training slice
// only.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// fitScaler computes per-column mean and population standard deviation.
// Constant columns scale by 1 so they pass through centered.
func fitScaler(features [][]float64) *Scaler {
	if len(features) == 0 {
		return &Scaler{}
	}
	width := len(features[0])
	s := &Scaler{Mean: make([]float64, width), Std: make([]float64, width)}
	n := float64(len(features))
	for _, row := range features {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range features {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}
	return s
}

// Transform returns a standardized copy of the rows.
func (s *Scaler) Transform(features [][]float64) [][]float64 {
	out := make([][]float64, len(features))
	for i, row := range features {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Std[j]
		}
		out[i] = scaled
	}
	return out
}
