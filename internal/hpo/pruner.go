package hpo

import (
	"sort"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// Pruner decides whether a running trial should stop early given its
// intermediate reports and the study's completed trials.
type Pruner interface {
	ShouldPrune(trial *Trial, completed []*Trial) bool
}

func newPruner(kind string, direction Direction) (Pruner, error) {
	switch kind {
	case "median":
		return &medianPruner{nStartup: 5, nWarmup: 5, direction: direction}, nil
	case "hyperband":
		return &hyperbandPruner{minResource: 1, eta: 3, direction: direction}, nil
	case "none":
		return nonePruner{}, nil
	}
	return nil, errs.Config("hpo.newPruner", "unknown pruner %q", kind)
}

type nonePruner struct{}

func (nonePruner) ShouldPrune(*Trial, []*Trial) bool { return false }

// medianPruner stops a trial whose latest report is worse than the median of
// completed trials' values at the same step. The first nStartup completed
// trials and the first nWarmup steps of every trial are exempt.
type medianPruner struct {
	nStartup  int
	nWarmup   int
	direction Direction
}

func (p *medianPruner) ShouldPrune(trial *Trial, completed []*Trial) bool {
	if len(completed) < p.nStartup || len(trial.Reports) == 0 {
		return false
	}
	last := trial.Reports[len(trial.Reports)-1]
	if last.Step < p.nWarmup {
		return false
	}

	var peers []float64
	for _, t := range completed {
		if v, ok := reportAtOrBefore(t, last.Step); ok {
			peers = append(peers, v)
		}
	}
	if len(peers) == 0 {
		return false
	}

	m := median(peers)
	if p.direction == Maximize {
		return last.Value < m
	}
	return last.Value > m
}

// hyperbandPruner applies successive halving at rungs minResource·eta^k:
// when a trial crosses a rung, it survives only if it ranks within the top
// 1/eta of completed trials' values at that rung. With no completed trials
// it never prunes.
type hyperbandPruner struct {
	minResource int
	eta         int
	direction   Direction
}

func (p *hyperbandPruner) ShouldPrune(trial *Trial, completed []*Trial) bool {
	if len(completed) == 0 || len(trial.Reports) == 0 {
		return false
	}
	last := trial.Reports[len(trial.Reports)-1]
	rung := p.rungAtOrBelow(last.Step)
	if rung < 0 {
		return false
	}

	var peers []float64
	for _, t := range completed {
		if v, ok := reportAtOrBefore(t, rung); ok {
			peers = append(peers, v)
		}
	}
	if len(peers) == 0 {
		return false
	}

	sort.Slice(peers, func(i, j int) bool {
		if p.direction == Maximize {
			return peers[i] > peers[j]
		}
		return peers[i] < peers[j]
	})
	keep := len(peers) / p.eta
	if keep < 1 {
		keep = 1
	}
	cutoff := peers[keep-1]
	if p.direction == Maximize {
		return last.Value < cutoff
	}
	return last.Value > cutoff
}

func (p *hyperbandPruner) rungAtOrBelow(step int) int {
	if step < p.minResource {
		return -1
	}
	rung := p.minResource
	for rung*p.eta <= step {
		rung *= p.eta
	}
	return rung
}

// reportAtOrBefore returns the trial's last intermediate value at or before
// step.
func reportAtOrBefore(t *Trial, step int) (float64, bool) {
	found := false
	var value float64
	for _, r := range t.Reports {
		if r.Step <= step {
			value = r.Value
			found = true
		}
	}
	return value, found
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
