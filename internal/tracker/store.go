package tracker

import (
	"context"
	"time"
)

// Store persists experiments and runs. Implementations return runs fully
// hydrated with params, metric sequences and tags.
type Store interface {
	// GetOrCreateExperiment inserts the experiment if the name is new and
	// returns the stored row either way.
	GetOrCreateExperiment(ctx context.Context, exp *Experiment) (*Experiment, error)

	// GetExperiment fetches an experiment by name.
	GetExperiment(ctx context.Context, name string) (*Experiment, error)

	// InsertRun stores a new run row.
	InsertRun(ctx context.Context, run *Run) error

	// GetRun fetches a run with its params, metrics and tags.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// EndRun moves a running run into a terminal status. It reports false
	// when the run exists but is not running.
	EndRun(ctx context.Context, runID string, status RunStatus, endedAt time.Time) (bool, error)

	// UpsertParam writes a parameter, overwriting an existing key.
	UpsertParam(ctx context.Context, runID, key, value string) error

	// AppendMetric appends one point to the metric's sequence.
	AppendMetric(ctx context.Context, runID, key string, point MetricPoint) error

	// SetTag writes a tag on the run.
	SetTag(ctx context.Context, runID, key, value string) error

	// ListRuns returns all runs of the given experiments.
	ListRuns(ctx context.Context, experimentIDs []int64) ([]*Run, error)
}
