package model

import (
	"math"
	"sort"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// MAE returns the mean absolute error.
func MAE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	sum := 0.0
	for i := range yTrue {
		sum += math.Abs(yTrue[i] - yPred[i])
	}
	return sum / float64(len(yTrue))
}

// RMSE returns the root mean squared error.
func RMSE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	sum := 0.0
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(yTrue)))
}

// MAPE returns the mean absolute percentage error over rows with a nonzero
// true value, expressed in percent. All-zero targets give 0.
func MAPE(yTrue, yPred []float64) float64 {
	sum := 0.0
	n := 0
	for i := range yTrue {
		if yTrue[i] == 0 {
			continue
		}
		sum += math.Abs((yTrue[i] - yPred[i]) / yTrue[i])
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n) * 100
}

// R2 returns the coefficient of determination. A constant target gives 1
// for an exact fit and 0 otherwise.
func R2(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	m := mean(yTrue)
	var sse, sst float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sse += d * d
		t := yTrue[i] - m
		sst += t * t
	}
	if sst == 0 {
		if sse == 0 {
			return 1
		}
		return 0
	}
	return 1 - sse/sst
}

// Regression computes the forecast evaluation bundle: mae, rmse, mape, r2.
func Regression(yTrue, yPred []float64) (map[string]float64, error) {
	const op = "model.Regression"
	if err := checkPaired(op, yTrue, yPred); err != nil {
		return nil, err
	}
	return map[string]float64{
		"mae":  MAE(yTrue, yPred),
		"rmse": RMSE(yTrue, yPred),
		"mape": MAPE(yTrue, yPred),
		"r2":   R2(yTrue, yPred),
	}, nil
}

// PrecisionRecallF1 computes binary classification quality with values above
// 0.5 treated as the positive class. Empty denominators give 0.
func PrecisionRecallF1(yTrue, yPred []float64) (precision, recall, f1 float64) {
	var tp, fp, fn float64
	for i := range yTrue {
		truePos := yTrue[i] > 0.5
		predPos := yPred[i] > 0.5
		switch {
		case truePos && predPos:
			tp++
		case !truePos && predPos:
			fp++
		case truePos && !predPos:
			fn++
		}
	}
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

// AUC returns the area under the ROC curve via the rank-sum formulation with
// average ranks for tied scores. A single-class truth vector gives 0.5.
func AUC(yTrue, scores []float64) float64 {
	type scored struct {
		score float64
		pos   bool
	}
	items := make([]scored, len(yTrue))
	var nPos, nNeg float64
	for i := range yTrue {
		pos := yTrue[i] > 0.5
		items[i] = scored{score: scores[i], pos: pos}
		if pos {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score < items[j].score })

	posRankSum := 0.0
	for i := 0; i < len(items); {
		j := i
		for j < len(items) && items[j].score == items[i].score {
			j++
		}
		// 1-based average rank of the tie group [i, j).
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if items[k].pos {
				posRankSum += avgRank
			}
		}
		i = j
	}
	return (posRankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

// Classification computes the anomaly evaluation bundle: precision, recall,
// f1, auc. Labels are thresholded predictions; scores are the continuous
// anomaly scores backing the AUC.
func Classification(yTrue, labels, scores []float64) (map[string]float64, error) {
	const op = "model.Classification"
	if err := checkPaired(op, yTrue, labels); err != nil {
		return nil, err
	}
	if err := checkPaired(op, yTrue, scores); err != nil {
		return nil, err
	}
	precision, recall, f1 := PrecisionRecallF1(yTrue, labels)
	return map[string]float64{
		"precision": precision,
		"recall":    recall,
		"f1":        f1,
		"auc":       AUC(yTrue, scores),
	}, nil
}

func checkPaired(op string, yTrue, yPred []float64) error {
	if len(yTrue) == 0 {
		return errs.Validation(op, "no samples")
	}
	if len(yTrue) != len(yPred) {
		return errs.Validation(op, "%d truths but %d predictions", len(yTrue), len(yPred))
	}
	return nil
}
