package hpo

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

func newTestEngine() (*Engine, *MemStudyStore) {
	store := NewMemStudyStore()
	return New(Params{Store: store}), store
}

func createStudy(t *testing.T, e *Engine, name, sampler, pruner string, nTrials int) *Study {
	t.Helper()
	study, err := e.CreateStudy(context.Background(), CreateStudyRequest{
		Name:      name,
		TenantID:  "acme",
		ModelKind: "forecast",
		Direction: Minimize,
		Sampler:   sampler,
		Pruner:    pruner,
		NTrials:   nTrials,
	})
	require.NoError(t, err)
	return study
}

func TestCreateStudyDefaults(t *testing.T) {
	e, _ := newTestEngine()

	study, err := e.CreateStudy(context.Background(), CreateStudyRequest{Name: "defaults"})
	require.NoError(t, err)
	assert.Equal(t, Minimize, study.Direction)
	assert.Equal(t, "tpe", study.Sampler)
	assert.Equal(t, "median", study.Pruner)
	assert.Equal(t, 20, study.NTrials)
}

func TestCreateStudyValidation(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	t.Run("missing name", func(t *testing.T) {
		_, err := e.CreateStudy(ctx, CreateStudyRequest{})
		assert.True(t, errs.IsValidation(err))
	})
	t.Run("unknown sampler", func(t *testing.T) {
		_, err := e.CreateStudy(ctx, CreateStudyRequest{Name: "s", Sampler: "annealing"})
		assert.True(t, errs.IsConfig(err))
	})
	t.Run("unknown pruner", func(t *testing.T) {
		_, err := e.CreateStudy(ctx, CreateStudyRequest{Name: "s", Pruner: "thirds"})
		assert.True(t, errs.IsConfig(err))
	})
	t.Run("bad direction", func(t *testing.T) {
		_, err := e.CreateStudy(ctx, CreateStudyRequest{Name: "s", Direction: "sideways"})
		assert.True(t, errs.IsValidation(err))
	})
	t.Run("duplicate name", func(t *testing.T) {
		createStudy(t, e, "dup", "random", "none", 5)
		_, err := e.CreateStudy(ctx, CreateStudyRequest{Name: "dup"})
		assert.True(t, errs.IsConflict(err))
	})
}

func TestOptimizeMinimizesObjective(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "s3", "tpe", "median", 10)

	var mu sync.Mutex
	var progress []int

	result, err := e.Optimize(ctx, OptimizeRequest{
		StudyName: "s3",
		SearchSpace: SearchSpace{
			"lr":           {Kind: ParamFloat, Low: 0.01, High: 0.3},
			"n_estimators": {Kind: ParamInt, Low: 50, High: 300, Step: 50},
		},
		Objective: func(_ context.Context, trial *TrialHandle) (float64, error) {
			return trial.Float("lr")*10 + float64(trial.Int("n_estimators"))*0.001, nil
		},
		Parallelism: 2,
		Seed:        1,
		OnProgress: func(completed, total int) {
			mu.Lock()
			progress = append(progress, completed)
			mu.Unlock()
			assert.Equal(t, 10, total)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 10, result.Completed+result.Pruned+result.Failed)
	assert.Equal(t, 10, result.Completed)
	require.NotNil(t, result.BestTrial)

	trials, err := e.ListTrials(ctx, "s3")
	require.NoError(t, err)
	for _, trial := range trials {
		if trial.State == TrialComplete {
			assert.LessOrEqual(t, *result.BestTrial.Value, *trial.Value)
		}
	}

	history, err := e.GetOptimizationHistory(ctx, "s3")
	require.NoError(t, err)
	require.Len(t, history, 10)
	for i := 1; i < len(history); i++ {
		assert.LessOrEqual(t, history[i].BestValue, history[i-1].BestValue,
			"best-so-far must be non-increasing under minimize")
	}

	require.Len(t, progress, 10)
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i], progress[i-1])
	}
	assert.Equal(t, 10, progress[9])
}

func TestOptimizePrunesWithMedian(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "pruning", "grid", "median", 10)

	// The grid walks x = 1..10 in order. The first five trials complete and
	// set the median at 3; every later trial reports a worse value and gets
	// pruned.
	result, err := e.Optimize(ctx, OptimizeRequest{
		StudyName:   "pruning",
		SearchSpace: SearchSpace{"x": {Kind: ParamInt, Low: 1, High: 10}},
		Objective: func(ctx context.Context, trial *TrialHandle) (float64, error) {
			x := float64(trial.Int("x"))
			trial.Report(ctx, 5, x)
			if trial.ShouldPrune(ctx) {
				return 0, ErrTrialPruned
			}
			return x, nil
		},
		Parallelism: 1,
		Seed:        1,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Completed)
	assert.Equal(t, 5, result.Pruned)
	assert.Equal(t, 0, result.Failed)
	require.NotNil(t, result.BestTrial)
	assert.Equal(t, 1.0, *result.BestTrial.Value)

	trials, err := e.ListTrials(ctx, "pruning")
	require.NoError(t, err)
	require.Len(t, trials, 10)
	for _, trial := range trials {
		if trial.State == TrialPruned {
			assert.Nil(t, trial.Value)
			assert.NotEmpty(t, trial.Reports)
		}
	}
}

func TestOptimizeIsolatesFailures(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "flaky", "random", "none", 6)

	result, err := e.Optimize(ctx, OptimizeRequest{
		StudyName:   "flaky",
		SearchSpace: SearchSpace{"x": {Kind: ParamFloat, Low: 0, High: 1}},
		Objective: func(_ context.Context, trial *TrialHandle) (float64, error) {
			switch trial.Number % 3 {
			case 0:
				return 0, errors.New("boom")
			case 1:
				panic("kaboom")
			}
			return trial.Float("x"), nil
		},
		Parallelism: 1,
		Seed:        1,
	})
	require.NoError(t, err, "objective failures must not abort the loop")

	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 4, result.Failed)
	assert.Equal(t, 0, result.Pruned)
}

func TestOptimizeRejectsNonFiniteValues(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "nan", "random", "none", 2)

	result, err := e.Optimize(ctx, OptimizeRequest{
		StudyName:   "nan",
		SearchSpace: SearchSpace{"x": {Kind: ParamFloat, Low: 0, High: 1}},
		Objective: func(_ context.Context, trial *TrialHandle) (float64, error) {
			if trial.Number == 0 {
				return math.NaN(), nil
			}
			return 1, nil
		},
		Parallelism: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.Failed)
}

func TestOptimizeWallClockTimeout(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "slow", "random", "none", 100)

	result, err := e.Optimize(ctx, OptimizeRequest{
		StudyName:   "slow",
		SearchSpace: SearchSpace{"x": {Kind: ParamFloat, Low: 0, High: 1}},
		Objective: func(_ context.Context, trial *TrialHandle) (float64, error) {
			time.Sleep(20 * time.Millisecond)
			return trial.Float("x"), nil
		},
		Timeout:     100 * time.Millisecond,
		Parallelism: 1,
	})
	require.NoError(t, err)

	total := result.Completed + result.Pruned + result.Failed
	assert.GreaterOrEqual(t, total, 1)
	assert.Less(t, total, 100, "the deadline must stop the loop early")
}

func TestOptimizeValidation(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "v", "random", "none", 2)

	t.Run("missing objective", func(t *testing.T) {
		_, err := e.Optimize(ctx, OptimizeRequest{StudyName: "v",
			SearchSpace: SearchSpace{"x": {Kind: ParamFloat, Low: 0, High: 1}}})
		assert.True(t, errs.IsValidation(err))
	})
	t.Run("empty space", func(t *testing.T) {
		_, err := e.Optimize(ctx, OptimizeRequest{StudyName: "v", SearchSpace: SearchSpace{},
			Objective: func(context.Context, *TrialHandle) (float64, error) { return 0, nil }})
		assert.True(t, errs.IsValidation(err))
	})
	t.Run("unknown study", func(t *testing.T) {
		_, err := e.Optimize(ctx, OptimizeRequest{StudyName: "nope",
			SearchSpace: SearchSpace{"x": {Kind: ParamFloat, Low: 0, High: 1}},
			Objective:   func(context.Context, *TrialHandle) (float64, error) { return 0, nil }})
		assert.True(t, errs.IsNotFound(err))
	})
}

func TestBestTrialTieKeepsLowerNumber(t *testing.T) {
	e, store := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "ties", "random", "none", 5)

	for _, v := range []float64{5, 3, 3, 4} {
		insertCompleted(t, store, "ties", v)
	}

	best, err := e.BestTrial(ctx, "ties")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, 1, best.Number)
	assert.Equal(t, 3.0, *best.Value)
}

func TestBestTrialNoneComplete(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "empty", "random", "none", 5)

	best, err := e.BestTrial(ctx, "empty")
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestGetOptimizationHistorySkipsNonComplete(t *testing.T) {
	e, store := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "hist", "random", "none", 10)

	insertCompleted(t, store, "hist", 5)
	insertCompleted(t, store, "hist", 7)
	insertWithState(t, store, "hist", TrialPruned)
	insertCompleted(t, store, "hist", 3)
	insertWithState(t, store, "hist", TrialFailed)
	insertCompleted(t, store, "hist", 2)

	history, err := e.GetOptimizationHistory(ctx, "hist")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, []float64{5, 5, 3, 2}, bestValues(history))
}

// resumableStore marks an in-memory store persistent to exercise resume.
type resumableStore struct {
	*MemStudyStore
}

func (resumableStore) Persistent() bool { return true }

func TestResumeStudy(t *testing.T) {
	ctx := context.Background()

	t.Run("requires persistent store", func(t *testing.T) {
		e, _ := newTestEngine()
		createStudy(t, e, "r", "random", "none", 5)
		_, _, err := e.ResumeStudy(ctx, "r")
		assert.True(t, errs.IsPrecondition(err))
	})

	t.Run("reloads study and trials", func(t *testing.T) {
		mem := NewMemStudyStore()
		e := New(Params{Store: resumableStore{mem}})
		createStudy(t, e, "r", "random", "none", 5)
		insertCompleted(t, mem, "r", 1)
		insertCompleted(t, mem, "r", 2)

		study, trials, err := e.ResumeStudy(ctx, "r")
		require.NoError(t, err)
		assert.Equal(t, "r", study.Name)
		require.Len(t, trials, 2)

		// Numbers continue monotonically after resume.
		number, err := mem.InsertTrial(ctx, "r", &Trial{State: TrialRunning, Params: map[string]any{}})
		require.NoError(t, err)
		assert.Equal(t, 2, number)
	})
}

func TestImportance(t *testing.T) {
	e, store := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "imp", "random", "none", 20)

	t.Run("fewer than two complete trials", func(t *testing.T) {
		insertCompleted(t, store, "imp", 1)
		imp, err := e.Importance(ctx, "imp")
		require.NoError(t, err)
		assert.Empty(t, imp)
	})

	t.Run("dominant parameter takes the share", func(t *testing.T) {
		for i := 0; i < 16; i++ {
			x := float64(i)
			trial := &Trial{State: TrialRunning, Params: map[string]any{"x": x, "noise": "a"}}
			number, err := store.InsertTrial(ctx, "imp", trial)
			require.NoError(t, err)
			trial.Number = number
			trial.State = TrialComplete
			trial.Value = &x
			require.NoError(t, store.UpdateTrial(ctx, "imp", trial))
		}

		imp, err := e.Importance(ctx, "imp")
		require.NoError(t, err)
		assert.Greater(t, imp["x"], 0.9)
		assert.Less(t, imp["noise"], 0.1)
		assert.InDelta(t, 1.0, imp["x"]+imp["noise"], 1e-9)
	})
}

func TestImportanceFlatObjective(t *testing.T) {
	e, store := newTestEngine()
	ctx := context.Background()
	createStudy(t, e, "flat", "random", "none", 10)

	for i := 0; i < 4; i++ {
		trial := &Trial{State: TrialRunning, Params: map[string]any{"a": i, "b": -i}}
		number, err := store.InsertTrial(ctx, "flat", trial)
		require.NoError(t, err)
		v := 1.0
		trial.Number = number
		trial.State = TrialComplete
		trial.Value = &v
		require.NoError(t, store.UpdateTrial(ctx, "flat", trial))
	}

	imp, err := e.Importance(ctx, "flat")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, imp["a"], 1e-9)
	assert.InDelta(t, 0.5, imp["b"], 1e-9)
}

func insertCompleted(t *testing.T, store StudyStore, study string, value float64) {
	t.Helper()
	insert(t, store, study, TrialComplete, &value)
}

func insertWithState(t *testing.T, store StudyStore, study string, state TrialState) {
	t.Helper()
	insert(t, store, study, state, nil)
}

func insert(t *testing.T, store StudyStore, study string, state TrialState, value *float64) {
	t.Helper()
	ctx := context.Background()
	trial := &Trial{State: TrialRunning, Params: map[string]any{"x": 1}, StartedAt: time.Now()}
	number, err := store.InsertTrial(ctx, study, trial)
	require.NoError(t, err)
	trial.Number = number
	trial.State = state
	trial.Value = value
	require.NoError(t, store.UpdateTrial(ctx, study, trial))
}

func bestValues(history []HistoryPoint) []float64 {
	out := make([]float64, len(history))
	for i, h := range history {
		out[i] = h.BestValue
	}
	return out
}
