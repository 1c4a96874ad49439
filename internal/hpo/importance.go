package hpo

import (
	"context"
	"sort"
)

const importanceBins = 8

// Importance estimates each parameter's share of objective variance in the
// fANOVA manner: trials are binned per parameter and the between-bin
// variance fraction is normalized across parameters. Fewer than two complete
// trials yield an empty map, never an error.
func (e *Engine) Importance(ctx context.Context, studyName string) (map[string]float64, error) {
	trials, err := e.store.ListTrials(ctx, studyName)
	if err != nil {
		return nil, err
	}
	completed := completedTrials(trials)
	if len(completed) < 2 {
		return map[string]float64{}, nil
	}
	return fanovaImportance(completed), nil
}

func fanovaImportance(completed []*Trial) map[string]float64 {
	names := paramNames(completed)
	values := make([]float64, len(completed))
	var mean float64
	for i, t := range completed {
		values[i] = *t.Value
		mean += values[i]
	}
	mean /= float64(len(values))

	var totalVar float64
	for _, v := range values {
		totalVar += (v - mean) * (v - mean)
	}
	totalVar /= float64(len(values))

	out := make(map[string]float64, len(names))
	if totalVar < 1e-12 {
		// A flat objective carries no signal; every parameter shares evenly.
		for _, name := range names {
			out[name] = 1 / float64(len(names))
		}
		return out
	}

	contributions := make(map[string]float64, len(names))
	var sum float64
	for _, name := range names {
		c := betweenBinVariance(completed, values, name, mean) / totalVar
		contributions[name] = c
		sum += c
	}
	for _, name := range names {
		if sum == 0 {
			out[name] = 1 / float64(len(names))
		} else {
			out[name] = contributions[name] / sum
		}
	}
	return out
}

// betweenBinVariance groups trials by parameter value and measures how far
// the per-bin objective means drift from the grand mean.
func betweenBinVariance(trials []*Trial, values []float64, name string, grandMean float64) float64 {
	bins := map[int][]float64{}
	numeric := true
	lo, hi := 0.0, 0.0
	for i, t := range trials {
		if v, ok := paramFloat(t.Params[name]); ok {
			if i == 0 || v < lo {
				lo = v
			}
			if i == 0 || v > hi {
				hi = v
			}
		} else {
			numeric = false
			break
		}
	}

	if numeric && hi > lo {
		width := (hi - lo) / importanceBins
		for i, t := range trials {
			v, _ := paramFloat(t.Params[name])
			b := int((v - lo) / width)
			if b >= importanceBins {
				b = importanceBins - 1
			}
			bins[b] = append(bins[b], values[i])
		}
	} else if numeric {
		// Constant parameter: a single bin, zero between-bin variance.
		return 0
	} else {
		categories := map[string]int{}
		for i, t := range trials {
			c := paramString(t.Params[name])
			b, ok := categories[c]
			if !ok {
				b = len(categories)
				categories[c] = b
			}
			bins[b] = append(bins[b], values[i])
		}
	}

	n := float64(len(trials))
	var between float64
	for _, members := range bins {
		var binMean float64
		for _, v := range members {
			binMean += v
		}
		binMean /= float64(len(members))
		between += float64(len(members)) / n * (binMean - grandMean) * (binMean - grandMean)
	}
	return between
}

func paramNames(trials []*Trial) []string {
	set := map[string]bool{}
	for _, t := range trials {
		for name := range t.Params {
			set[name] = true
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
