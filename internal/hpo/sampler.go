package hpo

import (
	"math"
	"math/rand"
	"sort"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// Sampler proposes parameter assignments. Implementations are deterministic
// under their seed and are not safe for concurrent use; the engine
// serializes Sample calls.
type Sampler interface {
	Sample(space SearchSpace, previous []*Trial) (map[string]any, error)
}

func newSampler(kind string, seed int64, direction Direction) (Sampler, error) {
	rng := rand.New(rand.NewSource(seed))
	switch kind {
	case "random":
		return &randomSampler{rng: rng}, nil
	case "grid":
		return &gridSampler{points: 10}, nil
	case "tpe":
		return &tpeSampler{
			rng:         rng,
			direction:   direction,
			nStartup:    10,
			nCandidates: 24,
			gamma:       0.25,
		}, nil
	}
	return nil, errs.Config("hpo.newSampler", "unknown sampler %q", kind)
}

func sortedParamNames(space SearchSpace) []string {
	names := make([]string, 0, len(space))
	for name := range space {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sampleSpec(rng *rand.Rand, spec ParamSpec) any {
	switch spec.Kind {
	case ParamInt:
		step := spec.Step
		if step <= 0 {
			step = 1
		}
		n := int((spec.High-spec.Low)/step) + 1
		return int(spec.Low + float64(rng.Intn(n))*step)
	case ParamFloat:
		if spec.Log {
			return logSample(rng, spec.Low, spec.High)
		}
		return spec.Low + rng.Float64()*(spec.High-spec.Low)
	case ParamLogUniform:
		return logSample(rng, spec.Low, spec.High)
	case ParamCategorical:
		return spec.Choices[rng.Intn(len(spec.Choices))]
	}
	return nil
}

func logSample(rng *rand.Rand, low, high float64) float64 {
	lo, hi := math.Log(low), math.Log(high)
	return math.Exp(lo + rng.Float64()*(hi-lo))
}

func randomAssignment(rng *rand.Rand, space SearchSpace) map[string]any {
	params := make(map[string]any, len(space))
	for _, name := range sortedParamNames(space) {
		params[name] = sampleSpec(rng, space[name])
	}
	return params
}

// randomSampler draws every dimension independently and uniformly.
type randomSampler struct {
	rng *rand.Rand
}

func (s *randomSampler) Sample(space SearchSpace, _ []*Trial) (map[string]any, error) {
	return randomAssignment(s.rng, space), nil
}

// gridSampler walks the Cartesian product of discretized dimensions in a
// fixed order, wrapping around once the grid is exhausted. Continuous
// dimensions get `points` evenly spaced values.
type gridSampler struct {
	points int
}

func (s *gridSampler) Sample(space SearchSpace, previous []*Trial) (map[string]any, error) {
	names := sortedParamNames(space)
	dims := make([]int, len(names))
	total := 1
	for i, name := range names {
		dims[i] = s.cardinality(space[name])
		total *= dims[i]
	}

	index := len(previous) % total
	params := make(map[string]any, len(names))
	for i, name := range names {
		k := index % dims[i]
		index /= dims[i]
		params[name] = gridValue(space[name], k, dims[i])
	}
	return params, nil
}

func (s *gridSampler) cardinality(spec ParamSpec) int {
	switch spec.Kind {
	case ParamInt:
		step := spec.Step
		if step <= 0 {
			step = 1
		}
		return int((spec.High-spec.Low)/step) + 1
	case ParamCategorical:
		return len(spec.Choices)
	default:
		return s.points
	}
}

func gridValue(spec ParamSpec, k, n int) any {
	switch spec.Kind {
	case ParamInt:
		step := spec.Step
		if step <= 0 {
			step = 1
		}
		return int(spec.Low + float64(k)*step)
	case ParamCategorical:
		return spec.Choices[k]
	default:
		if n == 1 {
			return spec.Low
		}
		frac := float64(k) / float64(n-1)
		if spec.Log || spec.Kind == ParamLogUniform {
			lo, hi := math.Log(spec.Low), math.Log(spec.High)
			return math.Exp(lo + frac*(hi-lo))
		}
		return spec.Low + frac*(spec.High-spec.Low)
	}
}

// tpeSampler is a tree-structured Parzen estimator. The first nStartup
// trials are random; afterwards completed trials are split into good and bad
// sets at the gamma quantile and candidates drawn near good values are
// scored by the density ratio l(x)/g(x).
type tpeSampler struct {
	rng         *rand.Rand
	direction   Direction
	nStartup    int
	nCandidates int
	gamma       float64
}

func (s *tpeSampler) Sample(space SearchSpace, previous []*Trial) (map[string]any, error) {
	completed := completedTrials(previous)
	if len(completed) < s.nStartup {
		return randomAssignment(s.rng, space), nil
	}

	good, bad := s.split(completed)
	params := make(map[string]any, len(space))
	for _, name := range sortedParamNames(space) {
		spec := space[name]
		if spec.Kind == ParamCategorical {
			params[name] = s.sampleCategorical(name, spec, good, bad)
		} else {
			params[name] = s.sampleNumeric(name, spec, good, bad)
		}
	}
	return params, nil
}

// split orders completed trials best-first and cuts at the gamma quantile.
func (s *tpeSampler) split(completed []*Trial) (good, bad []*Trial) {
	ordered := append([]*Trial(nil), completed...)
	sort.Slice(ordered, func(i, j int) bool {
		if s.direction == Maximize {
			return *ordered[i].Value > *ordered[j].Value
		}
		return *ordered[i].Value < *ordered[j].Value
	})
	nGood := int(s.gamma * float64(len(ordered)))
	if nGood < 1 {
		nGood = 1
	}
	if nGood >= len(ordered) {
		nGood = len(ordered) - 1
	}
	return ordered[:nGood], ordered[nGood:]
}

func (s *tpeSampler) sampleNumeric(name string, spec ParamSpec, good, bad []*Trial) any {
	logScale := spec.Log || spec.Kind == ParamLogUniform
	goodVals := paramValues(good, name, logScale)
	badVals := paramValues(bad, name, logScale)
	if len(goodVals) == 0 {
		return sampleSpec(s.rng, spec)
	}

	lo, hi := spec.Low, spec.High
	if logScale {
		lo, hi = math.Log(spec.Low), math.Log(spec.High)
	}
	bandwidth := (hi - lo) / math.Sqrt(float64(len(goodVals))+1)
	if bandwidth <= 0 {
		bandwidth = 1e-9
	}

	best := goodVals[0]
	bestScore := math.Inf(-1)
	for i := 0; i < s.nCandidates; i++ {
		center := goodVals[s.rng.Intn(len(goodVals))]
		x := center + s.rng.NormFloat64()*bandwidth
		if x < lo {
			x = lo
		}
		if x > hi {
			x = hi
		}
		score := parzen(goodVals, x, bandwidth) / (parzen(badVals, x, bandwidth) + 1e-12)
		if score > bestScore {
			bestScore = score
			best = x
		}
	}

	if logScale {
		best = math.Exp(best)
	}
	if spec.Kind == ParamInt {
		step := spec.Step
		if step <= 0 {
			step = 1
		}
		snapped := spec.Low + math.Round((best-spec.Low)/step)*step
		if snapped < spec.Low {
			snapped = spec.Low
		}
		if snapped > spec.High {
			snapped = spec.High
		}
		return int(snapped)
	}
	return best
}

// sampleCategorical scores each choice by its smoothed frequency ratio in
// the good and bad sets.
func (s *tpeSampler) sampleCategorical(name string, spec ParamSpec, good, bad []*Trial) any {
	goodCounts := choiceCounts(good, name, spec.Choices)
	badCounts := choiceCounts(bad, name, spec.Choices)

	bestIdx := 0
	bestScore := math.Inf(-1)
	k := float64(len(spec.Choices))
	for i := range spec.Choices {
		pGood := (float64(goodCounts[i]) + 1) / (float64(len(good)) + k)
		pBad := (float64(badCounts[i]) + 1) / (float64(len(bad)) + k)
		if score := pGood / pBad; score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return spec.Choices[bestIdx]
}

// parzen is a Gaussian kernel density estimate at x.
func parzen(values []float64, x, bandwidth float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		z := (x - v) / bandwidth
		sum += math.Exp(-0.5 * z * z)
	}
	norm := bandwidth * math.Sqrt(2*math.Pi)
	return sum / (float64(len(values)) * norm)
}

func completedTrials(trials []*Trial) []*Trial {
	var out []*Trial
	for _, t := range trials {
		if t.State == TrialComplete && t.Value != nil {
			out = append(out, t)
		}
	}
	return out
}

func paramValues(trials []*Trial, name string, logScale bool) []float64 {
	var out []float64
	for _, t := range trials {
		v, ok := paramFloat(t.Params[name])
		if !ok {
			continue
		}
		if logScale {
			if v <= 0 {
				continue
			}
			v = math.Log(v)
		}
		out = append(out, v)
	}
	return out
}

func choiceCounts(trials []*Trial, name string, choices []any) []int {
	counts := make([]int, len(choices))
	for _, t := range trials {
		have := paramString(t.Params[name])
		for i, c := range choices {
			if paramString(c) == have {
				counts[i]++
				break
			}
		}
	}
	return counts
}
