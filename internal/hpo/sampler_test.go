package hpo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

func testSpace() SearchSpace {
	return SearchSpace{
		"n_estimators": {Kind: ParamInt, Low: 50, High: 300, Step: 50},
		"lr":           {Kind: ParamFloat, Low: 0.01, High: 0.3},
		"reg":          {Kind: ParamLogUniform, Low: 1e-6, High: 1},
		"loss":         {Kind: ParamCategorical, Choices: []any{"squared", "absolute"}},
	}
}

func completedTrial(number int, params map[string]any, value float64) *Trial {
	v := value
	return &Trial{Number: number, State: TrialComplete, Params: params, Value: &v}
}

func TestNewSamplerUnknown(t *testing.T) {
	_, err := newSampler("annealing", 1, Minimize)
	assert.True(t, errs.IsConfig(err))
}

func TestRandomSamplerBoundsAndDeterminism(t *testing.T) {
	space := testSpace()

	a, err := newSampler("random", 7, Minimize)
	require.NoError(t, err)
	b, err := newSampler("random", 7, Minimize)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		pa, err := a.Sample(space, nil)
		require.NoError(t, err)
		pb, err := b.Sample(space, nil)
		require.NoError(t, err)
		assert.Equal(t, pa, pb, "same seed must give the same draw")

		n := pa["n_estimators"].(int)
		assert.GreaterOrEqual(t, n, 50)
		assert.LessOrEqual(t, n, 300)
		assert.Zero(t, (n-50)%50, "int draws stay on the step grid")

		lr := pa["lr"].(float64)
		assert.GreaterOrEqual(t, lr, 0.01)
		assert.LessOrEqual(t, lr, 0.3)

		reg := pa["reg"].(float64)
		assert.GreaterOrEqual(t, reg, 1e-6)
		assert.LessOrEqual(t, reg, 1.0)

		assert.Contains(t, []any{"squared", "absolute"}, pa["loss"])
	}
}

func TestGridSamplerEnumeratesAllCells(t *testing.T) {
	space := SearchSpace{
		"depth": {Kind: ParamInt, Low: 1, High: 3},
		"loss":  {Kind: ParamCategorical, Choices: []any{"squared", "absolute"}},
	}
	sampler, err := newSampler("grid", 0, Minimize)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 6; i++ {
		params, err := sampler.Sample(space, make([]*Trial, i))
		require.NoError(t, err)
		key := paramString(params["depth"]) + "/" + paramString(params["loss"])
		seen[key] = true
	}
	assert.Len(t, seen, 6, "six cells cover the full product")

	// The seventh draw wraps around to the first cell.
	first, err := sampler.Sample(space, nil)
	require.NoError(t, err)
	wrapped, err := sampler.Sample(space, make([]*Trial, 6))
	require.NoError(t, err)
	assert.Equal(t, first, wrapped)
}

func TestTPEStartupSamplesWithinBounds(t *testing.T) {
	space := testSpace()
	sampler, err := newSampler("tpe", 11, Minimize)
	require.NoError(t, err)

	params, err := sampler.Sample(space, nil)
	require.NoError(t, err)
	lr := params["lr"].(float64)
	assert.GreaterOrEqual(t, lr, 0.01)
	assert.LessOrEqual(t, lr, 0.3)
}

func TestTPEExploitsGoodRegion(t *testing.T) {
	space := SearchSpace{"x": {Kind: ParamFloat, Low: 0, High: 1}}

	// Low x gives low objective, so under minimize the good quantile sits
	// near zero.
	var previous []*Trial
	for i := 0; i < 20; i++ {
		x := float64(i) / 20
		previous = append(previous, completedTrial(i, map[string]any{"x": x}, x))
	}

	sampler, err := newSampler("tpe", 3, Minimize)
	require.NoError(t, err)
	params, err := sampler.Sample(space, previous)
	require.NoError(t, err)
	assert.Less(t, params["x"].(float64), 0.5, "TPE should concentrate near the good region")
}

func TestTPECategoricalPrefersGoodChoice(t *testing.T) {
	space := SearchSpace{"loss": {Kind: ParamCategorical, Choices: []any{"squared", "absolute"}}}

	var previous []*Trial
	for i := 0; i < 12; i++ {
		choice := "absolute"
		value := 10.0
		if i < 3 {
			choice = "squared"
			value = 1.0
		}
		previous = append(previous, completedTrial(i, map[string]any{"loss": choice}, value))
	}

	sampler, err := newSampler("tpe", 5, Minimize)
	require.NoError(t, err)
	params, err := sampler.Sample(space, previous)
	require.NoError(t, err)
	assert.Equal(t, "squared", params["loss"])
}

func TestParseSearchSpace(t *testing.T) {
	space, concrete, err := ParseSearchSpace(map[string]any{
		"n_estimators": map[string]any{"type": "int", "low": 50, "high": 300, "step": 50},
		"lr":           map[string]any{"type": "float", "low": 0.01, "high": 0.3, "log": true},
		"loss":         map[string]any{"type": "categorical", "choices": []any{"squared", "absolute"}},
		"seed":         42,
		"target":       "load_kw",
	})
	require.NoError(t, err)
	assert.Len(t, space, 3)
	assert.Equal(t, ParamInt, space["n_estimators"].Kind)
	assert.True(t, space["lr"].Log)
	assert.Equal(t, map[string]any{"seed": 42, "target": "load_kw"}, concrete)

	_, _, err = ParseSearchSpace(map[string]any{
		"bad": map[string]any{"type": "gaussian", "low": 0, "high": 1},
	})
	assert.True(t, errs.IsValidation(err))
}

func TestSearchSpaceValidate(t *testing.T) {
	tests := []struct {
		name  string
		space SearchSpace
	}{
		{"empty", SearchSpace{}},
		{"inverted int bounds", SearchSpace{"a": {Kind: ParamInt, Low: 10, High: 1}}},
		{"flat float range", SearchSpace{"a": {Kind: ParamFloat, Low: 1, High: 1}}},
		{"log with zero low", SearchSpace{"a": {Kind: ParamFloat, Low: 0, High: 1, Log: true}}},
		{"loguniform zero low", SearchSpace{"a": {Kind: ParamLogUniform, Low: 0, High: 1}}},
		{"no choices", SearchSpace{"a": {Kind: ParamCategorical}}},
		{"unknown kind", SearchSpace{"a": {Kind: "gaussian"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, errs.IsValidation(tc.space.Validate()))
		})
	}

	assert.NoError(t, testSpace().Validate())
}
