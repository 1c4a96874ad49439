package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// seedRun creates a run with one latest value per metric and an optional
// terminal status.
func seedRun(t *testing.T, tr *Tracker, experiment, name string, tags map[string]string,
	metrics map[string]float64, end RunStatus) *Run {
	t.Helper()
	ctx := context.Background()
	run, err := tr.CreateRun(ctx, CreateRunRequest{
		Experiment: experiment,
		TenantID:   "acme",
		ModelKind:  "forecast",
		Name:       name,
		Tags:       tags,
	})
	require.NoError(t, err)
	for key, value := range metrics {
		require.NoError(t, tr.LogMetric(ctx, run.ID, key, value, 0, testTime(0)))
	}
	if end != "" {
		require.NoError(t, tr.EndRun(ctx, run.ID, end))
	}
	return run
}

func TestSearchRunsFilters(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	seedRun(t, tr, "exp", "a", map[string]string{"env": "dev"}, map[string]float64{"mae": 30}, RunFinished)
	seedRun(t, tr, "exp", "b", map[string]string{"env": "prod"}, map[string]float64{"mae": 10}, RunFinished)
	seedRun(t, tr, "exp", "c", map[string]string{"env": "prod"}, map[string]float64{"mae": 20}, RunFailed)

	t.Run("status", func(t *testing.T) {
		runs, err := tr.SearchRuns(ctx, SearchRequest{Experiments: []string{"exp"}, Status: RunFinished})
		require.NoError(t, err)
		require.Len(t, runs, 2)
	})
	t.Run("tag equality", func(t *testing.T) {
		runs, err := tr.SearchRuns(ctx, SearchRequest{
			Experiments: []string{"exp"},
			Tags:        map[string]string{"env": "prod"},
		})
		require.NoError(t, err)
		require.Len(t, runs, 2)
	})
	t.Run("default order is newest first", func(t *testing.T) {
		runs, err := tr.SearchRuns(ctx, SearchRequest{Experiments: []string{"exp"}})
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, "c", runs[0].Name)
		assert.Equal(t, "a", runs[2].Name)
	})
	t.Run("max truncates", func(t *testing.T) {
		runs, err := tr.SearchRuns(ctx, SearchRequest{Experiments: []string{"exp"}, Max: 1})
		require.NoError(t, err)
		require.Len(t, runs, 1)
	})
}

func TestSearchRunsOrderByMetric(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	seedRun(t, tr, "exp", "high", nil, map[string]float64{"mae": 30}, RunFinished)
	seedRun(t, tr, "exp", "low", nil, map[string]float64{"mae": 10}, RunFinished)
	seedRun(t, tr, "exp", "unmeasured", nil, nil, RunFinished)

	runs, err := tr.SearchRuns(ctx, SearchRequest{
		Experiments: []string{"exp"},
		OrderBy:     []string{"metrics.mae asc"},
	})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "low", runs[0].Name)
	assert.Equal(t, "high", runs[1].Name)
	// Runs without the metric land at the end regardless of direction.
	assert.Equal(t, "unmeasured", runs[2].Name)

	runs, err = tr.SearchRuns(ctx, SearchRequest{
		Experiments: []string{"exp"},
		OrderBy:     []string{"metrics.mae desc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "high", runs[0].Name)
	assert.Equal(t, "unmeasured", runs[2].Name)
}

func TestSearchRunsValidation(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	seedRun(t, tr, "exp", "a", nil, nil, "")

	t.Run("no experiments", func(t *testing.T) {
		_, err := tr.SearchRuns(ctx, SearchRequest{})
		assert.True(t, errs.IsValidation(err))
	})
	t.Run("unknown experiment", func(t *testing.T) {
		_, err := tr.SearchRuns(ctx, SearchRequest{Experiments: []string{"nope"}})
		assert.True(t, errs.IsNotFound(err))
	})
	t.Run("unknown order field", func(t *testing.T) {
		_, err := tr.SearchRuns(ctx, SearchRequest{Experiments: []string{"exp"}, OrderBy: []string{"params.lr"}})
		assert.True(t, errs.IsValidation(err))
	})
	t.Run("bad direction", func(t *testing.T) {
		_, err := tr.SearchRuns(ctx, SearchRequest{Experiments: []string{"exp"}, OrderBy: []string{"start_time sideways"}})
		assert.True(t, errs.IsValidation(err))
	})
}

func TestCompareRuns(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	a := seedRun(t, tr, "exp", "a", nil, map[string]float64{"mae": 10, "rmse": 15}, RunFinished)
	b := seedRun(t, tr, "exp", "b", nil, map[string]float64{"mae": 20}, RunFinished)
	require.NoError(t, tr.LogParam(ctx, a.ID, "lr", 0.1))

	rows, err := tr.CompareRuns(ctx, []string{a.ID, b.ID}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]float64{"mae": 10, "rmse": 15}, rows[0].Metrics)
	assert.Equal(t, "0.1", rows[0].Params["lr"])
	assert.Equal(t, map[string]float64{"mae": 20}, rows[1].Metrics)

	t.Run("metric keys narrow the columns", func(t *testing.T) {
		rows, err := tr.CompareRuns(ctx, []string{a.ID, b.ID}, []string{"rmse"})
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"rmse": 15}, rows[0].Metrics)
		assert.Empty(t, rows[1].Metrics)
	})
	t.Run("needs two runs", func(t *testing.T) {
		_, err := tr.CompareRuns(ctx, []string{a.ID}, nil)
		assert.True(t, errs.IsValidation(err))
	})
	t.Run("unknown run", func(t *testing.T) {
		_, err := tr.CompareRuns(ctx, []string{a.ID, "missing"}, nil)
		assert.True(t, errs.IsNotFound(err))
	})
}

func TestGetBestRun(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	seedRun(t, tr, "exp", "first", nil, map[string]float64{"mae": 20}, RunFinished)
	seedRun(t, tr, "exp", "best", nil, map[string]float64{"mae": 10}, RunFinished)
	seedRun(t, tr, "exp", "tied", nil, map[string]float64{"mae": 10}, RunFinished)
	seedRun(t, tr, "exp", "unmeasured", nil, nil, RunFinished)

	t.Run("minimize", func(t *testing.T) {
		run, err := tr.GetBestRun(ctx, "exp", "mae", false)
		require.NoError(t, err)
		require.NotNil(t, run)
		// Ties keep the earliest run.
		assert.Equal(t, "best", run.Name)
	})
	t.Run("maximize", func(t *testing.T) {
		run, err := tr.GetBestRun(ctx, "exp", "mae", true)
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, "first", run.Name)
	})
	t.Run("metric never logged", func(t *testing.T) {
		run, err := tr.GetBestRun(ctx, "exp", "auc", false)
		require.NoError(t, err)
		assert.Nil(t, run)
	})
	t.Run("unknown experiment", func(t *testing.T) {
		_, err := tr.GetBestRun(ctx, "nope", "mae", false)
		assert.True(t, errs.IsNotFound(err))
	})
}

func TestGetExperimentStats(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	seedRun(t, tr, "exp", "a", nil, map[string]float64{"mae": 10}, RunFinished)
	seedRun(t, tr, "exp", "b", nil, map[string]float64{"mae": 20}, RunFinished)
	seedRun(t, tr, "exp", "c", nil, map[string]float64{"mae": 30}, RunFailed)

	stats, err := tr.GetExperimentStats(ctx, "exp")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RunCount)
	assert.Equal(t, 2, stats.ByStatus[RunFinished])
	assert.Equal(t, 1, stats.ByStatus[RunFailed])

	mae := stats.Metrics["mae"]
	assert.Equal(t, 3, mae.Count)
	assert.InDelta(t, 20, mae.Mean, 1e-9)
	assert.InDelta(t, 10, mae.Std, 1e-9)
	assert.InDelta(t, 10, mae.Min, 1e-9)
	assert.InDelta(t, 30, mae.Max, 1e-9)
}
