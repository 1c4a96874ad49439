package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// scheduleEntry tracks one recurring job anchor and its next fire time.
type scheduleEntry struct {
	origin *Job
	sched  cron.Schedule
	next   time.Time
}

// parseSchedule accepts a standard five-field cron expression or a Go
// duration of at least one minute.
func parseSchedule(expr string) (cron.Schedule, error) {
	const op = "orchestrator.parseSchedule"
	if d, err := time.ParseDuration(expr); err == nil {
		if d < time.Minute {
			return nil, errs.Validation(op, "interval %q is below the 1m minimum", expr)
		}
		return cron.Every(d), nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errs.Validation(op, "invalid schedule %q: %v", expr, err)
	}
	return sched, nil
}

// registerSchedule adds the job as a recurring anchor. The expression was
// validated at submission.
func (o *Orchestrator) registerSchedule(job *Job, now time.Time) {
	sched, err := parseSchedule(job.Schedule)
	if err != nil {
		o.logger.WithError(err).WithField("job_id", job.ID).Warn("schedule registration skipped")
		return
	}
	o.mu.Lock()
	o.schedules[job.ID] = &scheduleEntry{origin: job.Clone(), sched: sched, next: sched.Next(now)}
	o.mu.Unlock()
}

// restoreSchedules re-registers recurring anchors after a restart. Rerun
// copies never carry the expression, so only anchors match the filter.
func (o *Orchestrator) restoreSchedules(ctx context.Context) error {
	now := time.Now().UTC()
	for page := 1; ; page++ {
		jobs, total, err := o.store.ListJobs(ctx, JobFilter{
			ScheduledOnly: true,
			Page:          page,
			PageSize:      maxPageSize,
		})
		if err != nil {
			return err
		}
		for _, job := range jobs {
			o.registerSchedule(job, now)
		}
		if page*maxPageSize >= total || len(jobs) == 0 {
			return nil
		}
	}
}

func (o *Orchestrator) scheduleLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.scheduleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.fireDueSchedules(ctx)
		}
	}
}

// fireDueSchedules resubmits every anchor whose next fire time has passed.
func (o *Orchestrator) fireDueSchedules(ctx context.Context) {
	now := time.Now().UTC()

	o.mu.Lock()
	var due []*scheduleEntry
	for _, entry := range o.schedules {
		if !entry.next.After(now) {
			due = append(due, entry)
			entry.next = entry.sched.Next(now)
		}
	}
	o.mu.Unlock()

	for _, entry := range due {
		o.resubmitScheduled(ctx, entry.origin)
	}
}

// resubmitScheduled queues a one-shot deep copy of the recurring anchor.
func (o *Orchestrator) resubmitScheduled(ctx context.Context, origin *Job) {
	now := time.Now().UTC()
	tags := cloneTags(origin.Tags)
	tags["scheduled_rerun_of"] = origin.ID
	job := &Job{
		ID:               uuid.NewString(),
		TenantID:         origin.TenantID,
		ModelKind:        origin.ModelKind,
		ModelName:        origin.ModelName,
		Config:           origin.Config.Clone(),
		Priority:         origin.Priority,
		Status:           JobQueued,
		Tags:             tags,
		EstimatedSeconds: estimateDuration(origin.Config),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.InsertJob(ctx, job); err != nil {
		o.logger.WithError(err).WithField("origin", origin.ID).Warn("scheduled resubmission failed")
		return
	}
	o.appendLog(ctx, job.ID, "info", "scheduled rerun of job %s", origin.ID)
	o.metrics.Submitted.Inc()
	o.logger.WithField("job_id", job.ID).WithField("origin", origin.ID).Info("scheduled job resubmitted")
}
