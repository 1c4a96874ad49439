// Package tracker records training experiments: run lifecycle, parameter and
// metric timeseries, tags and artifact linkage. Experiments group runs per
// tenant and model kind; creation is idempotent on the experiment name.
package tracker

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
	RunKilled   RunStatus = "killed"
)

// TerminalRunStatus reports whether s is a valid end state for a run.
func TerminalRunStatus(s RunStatus) bool {
	switch s {
	case RunFinished, RunFailed, RunKilled:
		return true
	}
	return false
}

// Experiment is a named grouping of runs for one tenant and model kind.
type Experiment struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	TenantID  string    `json:"tenant_id"`
	ModelKind string    `json:"model_kind"`
	CreatedAt time.Time `json:"created_at"`
}

// MetricPoint is one observation in a metric's ordered sequence.
type MetricPoint struct {
	Step      int64     `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Run is one training execution. Metric sequences preserve the order the
// points were logged in; the tracker never reorders them.
type Run struct {
	ID           string                   `json:"run_id"`
	ExperimentID int64                    `json:"experiment_id"`
	Name         string                   `json:"name"`
	Status       RunStatus                `json:"status"`
	Params       map[string]string        `json:"params"`
	Metrics      map[string][]MetricPoint `json:"metrics"`
	Tags         map[string]string        `json:"tags"`
	ArtifactURI  string                   `json:"artifact_uri"`
	StartedAt    time.Time                `json:"started_at"`
	EndedAt      *time.Time               `json:"ended_at,omitempty"`
}

// LatestMetric returns the last logged value for key.
func (r *Run) LatestMetric(key string) (float64, bool) {
	seq := r.Metrics[key]
	if len(seq) == 0 {
		return 0, false
	}
	return seq[len(seq)-1].Value, true
}

// Clone returns a deep copy so callers can hold a run without aliasing
// store-internal state.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Params = make(map[string]string, len(r.Params))
	for k, v := range r.Params {
		cp.Params[k] = v
	}
	cp.Tags = make(map[string]string, len(r.Tags))
	for k, v := range r.Tags {
		cp.Tags[k] = v
	}
	cp.Metrics = make(map[string][]MetricPoint, len(r.Metrics))
	for k, seq := range r.Metrics {
		cp.Metrics[k] = append([]MetricPoint(nil), seq...)
	}
	if r.EndedAt != nil {
		ended := *r.EndedAt
		cp.EndedAt = &ended
	}
	return &cp
}
