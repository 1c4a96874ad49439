package orchestrator

import (
	"context"
	"time"
)

// JobStore persists jobs and their logs. Status transitions are scoped by
// the prior status so concurrent writers cannot resurrect a terminal job.
type JobStore interface {
	InsertJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)

	// ListJobs returns the filtered page ordered by created_at DESC plus the
	// total match count.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, int, error)

	// ClaimNextQueued atomically moves the highest-priority, oldest queued
	// job to running and stamps started_at. It returns nil when the queue is
	// empty.
	ClaimNextQueued(ctx context.Context, now time.Time) (*Job, error)

	// UpdateProgress writes progress, optional metrics and updated_at. It
	// never touches status.
	UpdateProgress(ctx context.Context, id string, progress float64, metrics map[string]float64) error

	// CompleteJob moves a running job to completed with progress 1.0. It
	// reports false when the job was no longer running.
	CompleteJob(ctx context.Context, id, modelID string, metrics map[string]float64, now time.Time) (bool, error)

	// FailJob moves a running job to failed. It reports false when the job
	// was no longer running.
	FailJob(ctx context.Context, id, errMsg string, now time.Time) (bool, error)

	// CancelJob moves a queued or running job to cancelled. It reports false
	// when the job was already terminal.
	CancelJob(ctx context.Context, id string, now time.Time) (bool, error)

	// RequeueRunning moves every running job back to queued. Called once at
	// startup to recover jobs orphaned by a crash.
	RequeueRunning(ctx context.Context) (int, error)

	AppendLog(ctx context.Context, id string, entry LogEntry) error

	// TailLogs returns the last tail entries, oldest first, optionally
	// restricted to one level. tail <= 0 means all.
	TailLogs(ctx context.Context, id string, tail int, level string) ([]LogEntry, error)

	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
}
