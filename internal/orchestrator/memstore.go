package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// MemJobStore is an in-memory JobStore for tests and single-process
// deployments.
type MemJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	logs map[string][]LogEntry
}

// NewMemJobStore creates an empty in-memory store.
func NewMemJobStore() *MemJobStore {
	return &MemJobStore{
		jobs: map[string]*Job{},
		logs: map[string][]LogEntry{},
	}
}

func (s *MemJobStore) InsertJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return errs.Conflict("orchestrator.InsertJob", "job %q already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemJobStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errs.NotFound("orchestrator.GetJob", "job %q", id)
	}
	return job.Clone(), nil
}

func (s *MemJobStore) ListJobs(_ context.Context, filter JobFilter) ([]*Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Job
	for _, job := range s.jobs {
		if !matchesFilter(job, filter) {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	page, size := normalizePage(filter.Page, filter.PageSize)
	lo := (page - 1) * size
	if lo > total {
		lo = total
	}
	hi := lo + size
	if hi > total {
		hi = total
	}
	out := make([]*Job, 0, hi-lo)
	for _, job := range matched[lo:hi] {
		out = append(out, job.Clone())
	}
	return out, total, nil
}

func matchesFilter(job *Job, f JobFilter) bool {
	if f.TenantID != "" && job.TenantID != f.TenantID {
		return false
	}
	if f.ModelKind != "" && job.ModelKind != f.ModelKind {
		return false
	}
	if f.ModelName != "" && job.ModelName != f.ModelName {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if !f.CreatedAfter.IsZero() && !job.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !job.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if f.ScheduledOnly && job.Schedule == "" {
		return false
	}
	return true
}

func (s *MemJobStore) ClaimNextQueued(_ context.Context, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *Job
	for _, job := range s.jobs {
		if job.Status != JobQueued {
			continue
		}
		if next == nil || queuedBefore(job, next) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	next.Status = JobRunning
	started := now
	next.StartedAt = &started
	next.UpdatedAt = now
	return next.Clone(), nil
}

// queuedBefore orders the queue by priority DESC, created_at ASC.
func queuedBefore(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *MemJobStore) UpdateProgress(_ context.Context, id string, progress float64, metrics map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errs.NotFound("orchestrator.UpdateProgress", "job %q", id)
	}
	job.Progress = progress
	if metrics != nil {
		if job.Metrics == nil {
			job.Metrics = map[string]float64{}
		}
		for k, v := range metrics {
			job.Metrics[k] = v
		}
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemJobStore) CompleteJob(_ context.Context, id, modelID string, metrics map[string]float64, now time.Time) (bool, error) {
	return s.finish(id, JobCompleted, now, func(job *Job) {
		job.Progress = 1.0
		job.ModelID = modelID
		if metrics != nil {
			job.Metrics = make(map[string]float64, len(metrics))
			for k, v := range metrics {
				job.Metrics[k] = v
			}
		}
	})
}

func (s *MemJobStore) FailJob(_ context.Context, id, errMsg string, now time.Time) (bool, error) {
	return s.finish(id, JobFailed, now, func(job *Job) {
		job.Error = errMsg
	})
}

// finish moves a running job to the terminal status; false when the job is
// not running anymore.
func (s *MemJobStore) finish(id string, status JobStatus, now time.Time, mutate func(*Job)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, errs.NotFound("orchestrator.finish", "job %q", id)
	}
	if job.Status != JobRunning {
		return false, nil
	}
	job.Status = status
	completed := now
	job.CompletedAt = &completed
	job.UpdatedAt = now
	mutate(job)
	return true, nil
}

func (s *MemJobStore) CancelJob(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, errs.NotFound("orchestrator.CancelJob", "job %q", id)
	}
	if job.Status != JobQueued && job.Status != JobRunning {
		return false, nil
	}
	job.Status = JobCancelled
	completed := now
	job.CompletedAt = &completed
	job.UpdatedAt = now
	return true, nil
}

func (s *MemJobStore) RequeueRunning(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status != JobRunning {
			continue
		}
		job.Status = JobQueued
		job.Progress = 0
		job.StartedAt = nil
		job.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (s *MemJobStore) AppendLog(_ context.Context, id string, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return errs.NotFound("orchestrator.AppendLog", "job %q", id)
	}
	s.logs[id] = append(s.logs[id], entry)
	return nil
}

func (s *MemJobStore) TailLogs(_ context.Context, id string, tail int, level string) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return nil, errs.NotFound("orchestrator.TailLogs", "job %q", id)
	}
	var filtered []LogEntry
	for _, entry := range s.logs[id] {
		if level != "" && entry.Level != level {
			continue
		}
		filtered = append(filtered, entry)
	}
	if tail > 0 && len(filtered) > tail {
		filtered = filtered[len(filtered)-tail:]
	}
	out := make([]LogEntry, len(filtered))
	copy(out, filtered)
	return out, nil
}

func (s *MemJobStore) CountByStatus(_ context.Context) (map[JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[JobStatus]int{}
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}
