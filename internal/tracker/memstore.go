package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// MemStore is an in-memory Store for tests and single-process deployments.
type MemStore struct {
	mu          sync.Mutex
	nextExpID   int64
	experiments map[string]*Experiment
	runs        map[string]*Run
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nextExpID:   1,
		experiments: map[string]*Experiment{},
		runs:        map[string]*Run{},
	}
}

func (s *MemStore) GetOrCreateExperiment(_ context.Context, exp *Experiment) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.experiments[exp.Name]; ok {
		cp := *existing
		return &cp, nil
	}
	stored := *exp
	stored.ID = s.nextExpID
	s.nextExpID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.experiments[stored.Name] = &stored
	cp := stored
	return &cp, nil
}

func (s *MemStore) GetExperiment(_ context.Context, name string) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[name]
	if !ok {
		return nil, errs.NotFound("tracker.GetExperiment", "experiment %q", name)
	}
	cp := *exp
	return &cp, nil
}

func (s *MemStore) InsertRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return errs.Conflict("tracker.InsertRun", "run %q already exists", run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemStore) GetRun(_ context.Context, runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, errs.NotFound("tracker.GetRun", "run %q", runID)
	}
	return run.Clone(), nil
}

func (s *MemStore) EndRun(_ context.Context, runID string, status RunStatus, endedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return false, errs.NotFound("tracker.EndRun", "run %q", runID)
	}
	if run.Status != RunRunning {
		return false, nil
	}
	run.Status = status
	run.EndedAt = &endedAt
	return true, nil
}

func (s *MemStore) UpsertParam(_ context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errs.NotFound("tracker.UpsertParam", "run %q", runID)
	}
	run.Params[key] = value
	return nil
}

func (s *MemStore) AppendMetric(_ context.Context, runID, key string, point MetricPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errs.NotFound("tracker.AppendMetric", "run %q", runID)
	}
	run.Metrics[key] = append(run.Metrics[key], point)
	return nil
}

func (s *MemStore) SetTag(_ context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errs.NotFound("tracker.SetTag", "run %q", runID)
	}
	run.Tags[key] = value
	return nil
}

func (s *MemStore) ListRuns(_ context.Context, experimentIDs []int64) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int64]bool, len(experimentIDs))
	for _, id := range experimentIDs {
		wanted[id] = true
	}
	var out []*Run
	for _, run := range s.runs {
		if wanted[run.ExperimentID] {
			out = append(out, run.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
