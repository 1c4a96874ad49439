package hpo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

func reportingTrial(number int, steps []int, values []float64) *Trial {
	t := &Trial{Number: number, State: TrialComplete}
	for i, s := range steps {
		t.Reports = append(t.Reports, Report{Step: s, Value: values[i]})
	}
	if len(values) > 0 {
		last := values[len(values)-1]
		t.Value = &last
	}
	return t
}

func TestNewPrunerUnknown(t *testing.T) {
	_, err := newPruner("successive-thirds", Minimize)
	assert.True(t, errs.IsConfig(err))
}

func TestNonePrunerNeverPrunes(t *testing.T) {
	p, err := newPruner("none", Minimize)
	require.NoError(t, err)

	trial := reportingTrial(9, []int{10}, []float64{1e9})
	completed := []*Trial{reportingTrial(0, []int{10}, []float64{0})}
	assert.False(t, p.ShouldPrune(trial, completed))
}

func TestMedianPrunerStartupAndWarmup(t *testing.T) {
	p, err := newPruner("median", Minimize)
	require.NoError(t, err)

	trial := reportingTrial(9, []int{6}, []float64{100})

	t.Run("fewer than five completed trials", func(t *testing.T) {
		completed := []*Trial{
			reportingTrial(0, []int{6}, []float64{1}),
			reportingTrial(1, []int{6}, []float64{1}),
		}
		assert.False(t, p.ShouldPrune(trial, completed))
	})

	t.Run("warmup steps are exempt", func(t *testing.T) {
		var completed []*Trial
		for i := 0; i < 5; i++ {
			completed = append(completed, reportingTrial(i, []int{6}, []float64{1}))
		}
		early := reportingTrial(9, []int{4}, []float64{100})
		assert.False(t, p.ShouldPrune(early, completed))
	})
}

func TestMedianPrunerAgainstPeers(t *testing.T) {
	p, err := newPruner("median", Minimize)
	require.NoError(t, err)

	var completed []*Trial
	for i, v := range []float64{1, 2, 3, 4, 5} {
		completed = append(completed, reportingTrial(i, []int{5}, []float64{v}))
	}

	// Median at step 5 is 3.
	assert.True(t, p.ShouldPrune(reportingTrial(9, []int{5}, []float64{10}), completed))
	assert.False(t, p.ShouldPrune(reportingTrial(9, []int{5}, []float64{2}), completed))
	assert.False(t, p.ShouldPrune(reportingTrial(9, []int{5}, []float64{3}), completed),
		"matching the median survives")
}

func TestMedianPrunerMaximize(t *testing.T) {
	p, err := newPruner("median", Maximize)
	require.NoError(t, err)

	var completed []*Trial
	for i, v := range []float64{0.5, 0.6, 0.7, 0.8, 0.9} {
		completed = append(completed, reportingTrial(i, []int{5}, []float64{v}))
	}
	assert.True(t, p.ShouldPrune(reportingTrial(9, []int{5}, []float64{0.2}), completed))
	assert.False(t, p.ShouldPrune(reportingTrial(9, []int{5}, []float64{0.85}), completed))
}

func TestHyperbandZeroCompletedNeverPrunes(t *testing.T) {
	p, err := newPruner("hyperband", Minimize)
	require.NoError(t, err)

	trial := reportingTrial(0, []int{27}, []float64{1e6})
	assert.False(t, p.ShouldPrune(trial, nil))
}

func TestHyperbandKeepsTopFraction(t *testing.T) {
	p, err := newPruner("hyperband", Minimize)
	require.NoError(t, err)

	var completed []*Trial
	for i, v := range []float64{1, 2, 3, 4, 5, 6} {
		completed = append(completed, reportingTrial(i, []int{3}, []float64{v}))
	}

	// At rung 3 with eta=3, two of six peers survive; the cutoff value is 2.
	assert.True(t, p.ShouldPrune(reportingTrial(9, []int{3}, []float64{5}), completed))
	assert.False(t, p.ShouldPrune(reportingTrial(9, []int{3}, []float64{1.5}), completed))
	assert.False(t, p.ShouldPrune(reportingTrial(9, []int{3}, []float64{2}), completed))
}

func TestHyperbandBelowFirstRung(t *testing.T) {
	p := &hyperbandPruner{minResource: 1, eta: 3, direction: Minimize}
	trial := reportingTrial(9, []int{0}, []float64{100})
	completed := []*Trial{reportingTrial(0, []int{3}, []float64{1})}
	assert.False(t, p.ShouldPrune(trial, completed))
}
