// Package orchestrator owns the training-job lifecycle: a persisted FSM,
// a slot-bounded dispatch loop, cooperative cancellation, retries and
// recurring schedules. The job row is the single synchronization point for
// a job's state; every mutation is one status-scoped statement.
package orchestrator

import (
	"time"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/pipeline"
)

// JobStatus is the lifecycle state of a training job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ValidJobStatus reports whether s names a job status.
func ValidJobStatus(s JobStatus) bool {
	switch s {
	case JobQueued, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// TerminalJobStatus reports whether s is absorbing.
func TerminalJobStatus(s JobStatus) bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is one training job and its immutable configuration snapshot.
type Job struct {
	ID        string                  `json:"job_id"`
	TenantID  string                  `json:"tenant_id"`
	ModelKind string                  `json:"model_type"`
	ModelName string                  `json:"model_name"`
	Config    pipeline.TrainingConfig `json:"config"`
	Priority  int                     `json:"priority"`
	Status    JobStatus               `json:"status"`
	Progress  float64                 `json:"progress"`
	Metrics   map[string]float64      `json:"metrics,omitempty"`
	ModelID   string                  `json:"model_id,omitempty"`
	Error     string                  `json:"error_message,omitempty"`
	Tags      map[string]string       `json:"tags,omitempty"`
	Schedule  string                  `json:"schedule,omitempty"`

	// EstimatedSeconds is the informational duration estimate computed at
	// submission. It never gates admission.
	EstimatedSeconds int `json:"estimated_duration_seconds"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone deep-copies the job including its configuration snapshot.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Config = j.Config.Clone()
	if j.Metrics != nil {
		cp.Metrics = make(map[string]float64, len(j.Metrics))
		for k, v := range j.Metrics {
			cp.Metrics[k] = v
		}
	}
	if j.Tags != nil {
		cp.Tags = make(map[string]string, len(j.Tags))
		for k, v := range j.Tags {
			cp.Tags[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// LogEntry is one line of a job's append-only log.
type LogEntry struct {
	Ts      time.Time `json:"timestamp"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// JobFilter selects and pages the job list. Zero fields do not filter.
type JobFilter struct {
	TenantID      string
	ModelKind     string
	ModelName     string
	Status        JobStatus
	CreatedAfter  time.Time
	CreatedBefore time.Time

	// ScheduledOnly restricts to jobs carrying a schedule expression.
	ScheduledOnly bool

	Page     int
	PageSize int
}

// maxPageSize caps list pages server-side.
const maxPageSize = 100

// normalizePage clamps paging parameters to sane bounds.
func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// Stats is the orchestrator occupancy snapshot.
type Stats struct {
	ByStatus    map[JobStatus]int `json:"jobs_by_status"`
	Capacity    int               `json:"max_concurrent_jobs"`
	Running     int               `json:"running"`
	Utilization float64           `json:"utilization"`
}
