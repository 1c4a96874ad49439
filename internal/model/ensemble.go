package model

import "github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"

// Ensemble averages the predictions of independently trained members. The
// distributed fit path trains one member per worker chunk and bags them here.
type Ensemble struct {
	Members []Model
}

// NewEnsemble wraps one or more trained members with matching feature
// counts.
func NewEnsemble(members ...Model) (*Ensemble, error) {
	const op = "model.NewEnsemble"
	if len(members) == 0 {
		return nil, errs.Validation(op, "ensemble needs at least one member")
	}
	width := members[0].FeatureCount()
	for i, m := range members[1:] {
		if m.FeatureCount() != width {
			return nil, errs.Validation(op, "member %d expects %d features, member 0 expects %d", i+1, m.FeatureCount(), width)
		}
	}
	return &Ensemble{Members: members}, nil
}

// Predict returns the mean of the members' predictions per row.
func (e *Ensemble) Predict(rows [][]float64) ([]float64, error) {
	sum := make([]float64, len(rows))
	for _, m := range e.Members {
		pred, err := m.Predict(rows)
		if err != nil {
			return nil, err
		}
		for i, v := range pred {
			sum[i] += v
		}
	}
	for i := range sum {
		sum[i] /= float64(len(e.Members))
	}
	return sum, nil
}

// FeatureCount returns the members' shared input width.
func (e *Ensemble) FeatureCount() int { return e.Members[0].FeatureCount() }

// Score returns the coefficient of determination of the averaged
// predictions.
func (e *Ensemble) Score(rows [][]float64, target []float64) (float64, error) {
	const op = "model.Ensemble.Score"
	pred, err := e.Predict(rows)
	if err != nil {
		return 0, err
	}
	if len(target) != len(pred) {
		return 0, errs.Validation(op, "%d rows but %d targets", len(pred), len(target))
	}
	return R2(target, pred), nil
}
