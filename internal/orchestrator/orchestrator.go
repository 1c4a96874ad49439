package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/model"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/pipeline"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Runner executes one training job. The pipeline implements it; tests swap
// in fakes.
type Runner interface {
	Run(ctx context.Context, req pipeline.RunRequest) (*pipeline.Result, error)
}

// Params collects the orchestrator's collaborators.
type Params struct {
	Store   JobStore
	Runner  Runner
	Logger  logging.Interface
	Metrics *Metrics
	Config  *Config
}

// Orchestrator owns the job queue, the dispatch loop and the cancel path.
type Orchestrator struct {
	store   JobStore
	runner  Runner
	logger  logging.Interface
	metrics *Metrics

	maxConcurrent    int
	pollInterval     time.Duration
	scheduleInterval time.Duration

	slots *semaphore.Weighted

	// mu guards handles and schedules. Dispatch registration and the cancel
	// path take the same lock so they cannot race on a job id.
	mu        sync.Mutex
	handles   map[string]context.CancelFunc
	schedules map[string]*scheduleEntry

	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New assembles an orchestrator. Start must be called before jobs dispatch.
func New(p Params) *Orchestrator {
	logger := p.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	maxConcurrent := 3
	pollInterval := time.Second
	scheduleInterval := 30 * time.Second
	if p.Config != nil {
		maxConcurrent = p.Config.MaxConcurrentJobs
		pollInterval = p.Config.PollInterval
		scheduleInterval = p.Config.ScheduleInterval
	}
	return &Orchestrator{
		store:            p.Store,
		runner:           p.Runner,
		logger:           logger,
		metrics:          metrics,
		maxConcurrent:    maxConcurrent,
		pollInterval:     pollInterval,
		scheduleInterval: scheduleInterval,
		slots:            semaphore.NewWeighted(int64(maxConcurrent)),
		handles:          map[string]context.CancelFunc{},
		schedules:        map[string]*scheduleEntry{},
	}
}

// SubmitRequest queues one training job.
type SubmitRequest struct {
	TenantID  string                  `json:"tenant_id"`
	ModelKind string                  `json:"model_type"`
	ModelName string                  `json:"model_name"`
	Config    pipeline.TrainingConfig `json:"config"`
	Priority  int                     `json:"priority"`
	Schedule  string                  `json:"schedule,omitempty"`
	Tags      map[string]string       `json:"tags,omitempty"`
}

// Submit validates the request, snapshots the defaulted config and queues
// the job. The duration estimate is informational and never gates admission.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	const op = "orchestrator.Submit"
	if req.TenantID == "" || req.ModelName == "" {
		return nil, errs.Validation(op, "tenant_id and model_name are required")
	}
	if !model.ValidKind(req.ModelKind) {
		return nil, errs.Validation(op, "unknown model type %q", req.ModelKind)
	}
	cfg := req.Config.WithDefaults(req.ModelKind)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if req.Schedule != "" {
		if _, err := parseSchedule(req.Schedule); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	job := &Job{
		ID:               uuid.NewString(),
		TenantID:         req.TenantID,
		ModelKind:        req.ModelKind,
		ModelName:        req.ModelName,
		Config:           cfg,
		Priority:         req.Priority,
		Status:           JobQueued,
		Tags:             cloneTags(req.Tags),
		Schedule:         req.Schedule,
		EstimatedSeconds: estimateDuration(cfg),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.InsertJob(ctx, job); err != nil {
		return nil, err
	}
	o.appendLog(ctx, job.ID, "info", "job queued with priority %d", job.Priority)
	if job.Schedule != "" {
		o.registerSchedule(job, now)
	}
	o.metrics.Submitted.Inc()
	o.logger.WithField("job_id", job.ID).
		WithField("tenant_id", job.TenantID).
		WithField("model_name", job.ModelName).
		Info("job submitted")
	return job, nil
}

// Get returns one job.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Job, error) {
	return o.store.GetJob(ctx, id)
}

// JobPage is one page of the filtered job list.
type JobPage struct {
	Items    []*Job `json:"items"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Pages    int    `json:"pages"`
}

// List returns the filtered page ordered by created_at DESC.
func (o *Orchestrator) List(ctx context.Context, filter JobFilter) (*JobPage, error) {
	const op = "orchestrator.List"
	if filter.Status != "" && !ValidJobStatus(filter.Status) {
		return nil, errs.Validation(op, "unknown status %q", filter.Status)
	}
	jobs, total, err := o.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*Job{}
	}
	page, size := normalizePage(filter.Page, filter.PageSize)
	pages := 0
	if total > 0 {
		pages = (total + size - 1) / size
	}
	return &JobPage{Items: jobs, Total: total, Page: page, PageSize: size, Pages: pages}, nil
}

// Cancel moves a queued or running job to cancelled and cancels its
// in-flight task. Cancelling a terminal job is a precondition failure.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*Job, error) {
	const op = "orchestrator.Cancel"
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if TerminalJobStatus(job.Status) {
		return nil, errs.Precondition(op, "job %s is already %s", id, job.Status)
	}

	changed, err := o.store.CancelJob(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if cancel, ok := o.handles[id]; ok {
		cancel()
	}
	o.mu.Unlock()

	if !changed {
		// Lost a race with another terminal writer.
		current, err := o.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status != JobCancelled {
			return nil, errs.Precondition(op, "job %s is already %s", id, current.Status)
		}
		return current, nil
	}

	o.metrics.Terminal.WithLabelValues(string(JobCancelled)).Inc()
	o.appendLog(ctx, id, "warn", "job cancelled by user")
	o.logger.WithField("job_id", id).Info("job cancelled")
	return o.store.GetJob(ctx, id)
}

// Retry queues a fresh job deep-copying the original's config and tags. The
// original job is never modified; the copy carries a retry_of tag and no
// schedule.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*Job, error) {
	orig, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tags := cloneTags(orig.Tags)
	tags["retry_of"] = orig.ID
	job := &Job{
		ID:               uuid.NewString(),
		TenantID:         orig.TenantID,
		ModelKind:        orig.ModelKind,
		ModelName:        orig.ModelName,
		Config:           orig.Config.Clone(),
		Priority:         orig.Priority,
		Status:           JobQueued,
		Tags:             tags,
		EstimatedSeconds: estimateDuration(orig.Config),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.InsertJob(ctx, job); err != nil {
		return nil, err
	}
	o.appendLog(ctx, job.ID, "info", "retry of job %s", orig.ID)
	o.metrics.Submitted.Inc()
	o.logger.WithField("job_id", job.ID).WithField("retry_of", orig.ID).Info("job retried")
	return job, nil
}

// Logs returns the tail of a job's log, oldest first.
func (o *Orchestrator) Logs(ctx context.Context, id string, tail int, level string) ([]LogEntry, error) {
	return o.store.TailLogs(ctx, id, tail, level)
}

// Stats reports queue occupancy.
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	counts, err := o.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	running := counts[JobRunning]
	return &Stats{
		ByStatus:    counts,
		Capacity:    o.maxConcurrent,
		Running:     running,
		Utilization: float64(running) / float64(o.maxConcurrent),
	}, nil
}

// estimateDuration is the coarse submission-time estimate: base 180s per
// worker, plus 30s per tuning trial per worker, doubled for windows past a
// year.
func estimateDuration(cfg pipeline.TrainingConfig) int {
	workers := float64(cfg.NWorkers)
	if workers < 1 {
		workers = 1
	}
	est := 180.0 / workers
	if cfg.EnableHPO {
		est += 30.0 * float64(cfg.NTrials) / workers
	}
	if cfg.TrainingSpan() > 365*24*time.Hour {
		est *= 2
	}
	return int(est)
}

func (o *Orchestrator) appendLog(ctx context.Context, id, level, format string, args ...any) {
	entry := LogEntry{Ts: time.Now().UTC(), Level: level, Message: fmt.Sprintf(format, args...)}
	if err := o.store.AppendLog(ctx, id, entry); err != nil {
		o.logger.WithError(err).WithField("job_id", id).Warn("job log append failed")
	}
}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
