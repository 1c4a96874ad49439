package model

import (
	"math"
	"math/rand"
	"sort"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// maxSplitCandidates bounds the thresholds evaluated per feature per round.
const maxSplitCandidates = 16

// GBMConfig holds the hyper-parameters of the boosted-stump regressor. Zero
// values fall back to defaults at fit time.
type GBMConfig struct {
	NEstimators  int     `json:"n_estimators"`
	LearningRate float64 `json:"learning_rate"`
	Subsample    float64 `json:"subsample"`
	Seed         int64   `json:"seed"`
}

func (c GBMConfig) withDefaults() GBMConfig {
	if c.NEstimators <= 0 {
		c.NEstimators = 100
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.Subsample <= 0 || c.Subsample > 1 {
		c.Subsample = 1
	}
	return c
}

// Stump is one depth-one regression tree: rows at or below Threshold on
// Feature get Left, the rest get Right.
type Stump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      float64 `json:"left"`
	Right     float64 `json:"right"`
}

func (s Stump) predict(row []float64) float64 {
	if row[s.Feature] <= s.Threshold {
		return s.Left
	}
	return s.Right
}

// GBM is a gradient-boosted ensemble of regression stumps trained with
// squared loss. Fitting and prediction are deterministic under the seed.
type GBM struct {
	Config    GBMConfig `json:"config"`
	Base      float64   `json:"base"`
	Stumps    []Stump   `json:"stumps"`
	NFeatures int       `json:"n_features"`
}

// FitGBM trains a boosted-stump regressor. Each round fits one stump to the
// current residuals over a deterministic subsample and shrinks its
// contribution by the learning rate.
func FitGBM(rows [][]float64, target []float64, cfg GBMConfig) (*GBM, error) {
	return FitGBMValidated(rows, target, nil, nil, cfg, 0)
}

// FitGBMValidated trains like FitGBM but scores the held-out slice after
// every round and stops once patience rounds pass without improving
// validation MAE; the returned model keeps only the stumps up to the best
// round. A patience of 0 or an empty validation slice disables early
// stopping.
func FitGBMValidated(rows [][]float64, target []float64, valRows [][]float64, valTarget []float64, cfg GBMConfig, patience int) (*GBM, error) {
	const op = "model.FitGBM"
	if err := checkRows(op, rows); err != nil {
		return nil, err
	}
	if len(target) != len(rows) {
		return nil, errs.Validation(op, "%d rows but %d targets", len(rows), len(target))
	}
	for i, y := range target {
		if !finite(y) {
			return nil, errs.Validation(op, "target at row %d is not finite", i)
		}
	}
	width := len(rows[0])
	if len(valRows) != len(valTarget) {
		return nil, errs.Validation(op, "%d validation rows but %d targets", len(valRows), len(valTarget))
	}
	for i, row := range valRows {
		if len(row) != width {
			return nil, errs.Validation(op, "validation row %d has %d features, want %d", i, len(row), width)
		}
	}
	cfg = cfg.withDefaults()

	n := len(rows)
	base := mean(target)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}

	earlyStop := patience > 0 && len(valRows) > 0
	valPred := make([]float64, len(valRows))
	for i := range valPred {
		valPred[i] = base
	}
	bestMAE := math.Inf(1)
	bestRound := -1
	sinceBest := 0

	m := &GBM{
		Config:    cfg,
		Base:      base,
		Stumps:    make([]Stump, 0, cfg.NEstimators),
		NFeatures: width,
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	residual := make([]float64, n)
	for round := 0; round < cfg.NEstimators; round++ {
		for i := range residual {
			residual[i] = target[i] - pred[i]
		}
		idx := sampleRows(rng, n, cfg.Subsample)
		st, ok := fitStump(rows, residual, idx)
		if !ok {
			// Every feature is constant on the subsample; later rounds
			// cannot improve either when the subsample is the full set.
			break
		}
		m.Stumps = append(m.Stumps, st)
		for i, row := range rows {
			pred[i] += cfg.LearningRate * st.predict(row)
		}
		if earlyStop {
			for i, row := range valRows {
				valPred[i] += cfg.LearningRate * st.predict(row)
			}
			if mae := MAE(valTarget, valPred); mae < bestMAE {
				bestMAE = mae
				bestRound = round
				sinceBest = 0
			} else {
				sinceBest++
				if sinceBest >= patience {
					break
				}
			}
		}
	}
	if earlyStop && bestRound >= 0 {
		m.Stumps = m.Stumps[:bestRound+1]
	}
	return m, nil
}

// Predict returns one forecast per row.
func (m *GBM) Predict(rows [][]float64) ([]float64, error) {
	const op = "model.GBM.Predict"
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != m.NFeatures {
			return nil, errs.Validation(op, "row %d has %d features, model expects %d", i, len(row), m.NFeatures)
		}
		v := m.Base
		for _, st := range m.Stumps {
			v += m.Config.LearningRate * st.predict(row)
		}
		out[i] = v
	}
	return out, nil
}

// FeatureCount returns the input width the model was trained on.
func (m *GBM) FeatureCount() int { return m.NFeatures }

// Score returns the coefficient of determination on labelled rows.
func (m *GBM) Score(rows [][]float64, target []float64) (float64, error) {
	const op = "model.GBM.Score"
	pred, err := m.Predict(rows)
	if err != nil {
		return 0, err
	}
	if len(target) != len(pred) {
		return 0, errs.Validation(op, "%d rows but %d targets", len(pred), len(target))
	}
	return R2(target, pred), nil
}

// fitStump picks the (feature, threshold) split minimizing squared error of
// the residuals over the sampled rows. Ties keep the earliest candidate so
// the choice is stable.
func fitStump(rows [][]float64, residual []float64, idx []int) (Stump, bool) {
	best := Stump{}
	bestSSE := math.Inf(1)
	found := false

	values := make([]float64, 0, len(idx))
	for f := 0; f < len(rows[0]); f++ {
		values = values[:0]
		for _, i := range idx {
			values = append(values, rows[i][f])
		}
		for _, thr := range splitCandidates(values) {
			var leftSum, rightSum float64
			var leftN, rightN int
			for _, i := range idx {
				if rows[i][f] <= thr {
					leftSum += residual[i]
					leftN++
				} else {
					rightSum += residual[i]
					rightN++
				}
			}
			if leftN == 0 || rightN == 0 {
				continue
			}
			leftMean := leftSum / float64(leftN)
			rightMean := rightSum / float64(rightN)
			sse := 0.0
			for _, i := range idx {
				d := residual[i] - leftMean
				if rows[i][f] > thr {
					d = residual[i] - rightMean
				}
				sse += d * d
			}
			if sse < bestSSE {
				bestSSE = sse
				best = Stump{Feature: f, Threshold: thr, Left: leftMean, Right: rightMean}
				found = true
			}
		}
	}
	return best, found
}

// splitCandidates returns midpoints between consecutive distinct values,
// thinned to at most maxSplitCandidates evenly spaced picks.
func splitCandidates(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	uniq := sorted[:1]
	for _, v := range sorted[1:] {
		if v != uniq[len(uniq)-1] {
			uniq = append(uniq, v)
		}
	}
	if len(uniq) < 2 {
		return nil
	}
	mids := make([]float64, 0, len(uniq)-1)
	for i := 1; i < len(uniq); i++ {
		mids = append(mids, (uniq[i-1]+uniq[i])/2)
	}
	if len(mids) <= maxSplitCandidates {
		return mids
	}
	out := make([]float64, 0, maxSplitCandidates)
	for k := 0; k < maxSplitCandidates; k++ {
		out = append(out, mids[k*len(mids)/maxSplitCandidates])
	}
	return out
}

// sampleRows picks a sorted row subset of size fraction*n without
// replacement. A fraction of 1 keeps all rows and draws nothing from rng.
func sampleRows(rng *rand.Rand, n int, fraction float64) []int {
	if fraction >= 1 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	k := int(math.Round(fraction * float64(n)))
	if k < 1 {
		k = 1
	}
	idx := append([]int(nil), rng.Perm(n)[:k]...)
	sort.Ints(idx)
	return idx
}

func checkRows(op string, rows [][]float64) error {
	if len(rows) == 0 {
		return errs.Validation(op, "training set is empty")
	}
	width := len(rows[0])
	if width == 0 {
		return errs.Validation(op, "rows have no feature columns")
	}
	for i, row := range rows {
		if len(row) != width {
			return errs.Validation(op, "row %d has %d features, want %d", i, len(row), width)
		}
		for j, v := range row {
			if !finite(v) {
				return errs.Validation(op, "feature %d at row %d is not finite", j, i)
			}
		}
	}
	return nil
}
