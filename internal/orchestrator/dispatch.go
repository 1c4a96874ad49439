package orchestrator

import (
	"context"
	"time"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/pipeline"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// Start recovers orphaned jobs, restores schedules and launches the
// dispatch and schedule loops. The loops outlive the startup context and
// stop on Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	requeued, err := o.store.RequeueRunning(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		o.logger.WithField("jobs", requeued).Warn("requeued running jobs left by a previous process")
	}
	if err := o.restoreSchedules(ctx); err != nil {
		o.logger.WithError(err).Warn("schedule restore failed")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	o.loopCancel = cancel
	o.wg.Add(2)
	go o.dispatchLoop(loopCtx)
	go o.scheduleLoop(loopCtx)
	o.logger.WithField("max_concurrent_jobs", o.maxConcurrent).Info("orchestrator started")
	return nil
}

// Stop cancels the loops and all running tasks, then waits for them to
// drain or the context to expire.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.loopCancel != nil {
		o.loopCancel()
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		o.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatchOnce drains the queue into free slots: claim the next queued job
// by (priority DESC, created_at ASC) and spawn its execution task.
func (o *Orchestrator) dispatchOnce(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !o.slots.TryAcquire(1) {
			return
		}
		job, err := o.store.ClaimNextQueued(ctx, time.Now().UTC())
		if err != nil {
			o.slots.Release(1)
			if ctx.Err() == nil {
				o.logger.WithError(err).Warn("queue claim failed")
			}
			return
		}
		if job == nil {
			o.slots.Release(1)
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		o.mu.Lock()
		o.handles[job.ID] = cancel
		o.mu.Unlock()

		o.metrics.Running.Inc()
		o.wg.Add(1)
		go o.execute(runCtx, job)
	}
}

// execute runs one claimed job to a terminal state.
func (o *Orchestrator) execute(ctx context.Context, job *Job) {
	defer o.wg.Done()
	defer o.slots.Release(1)
	defer o.metrics.Running.Dec()
	defer func() {
		o.mu.Lock()
		if cancel, ok := o.handles[job.ID]; ok {
			cancel()
			delete(o.handles, job.ID)
		}
		o.mu.Unlock()
	}()

	log := o.logger.WithField("job_id", job.ID).WithField("model_name", job.ModelName)
	start := time.Now()
	// Terminal bookkeeping must land even when the task context is gone.
	bg := context.WithoutCancel(ctx)
	o.appendLog(bg, job.ID, "info", "job started")

	progress := func(cbCtx context.Context, fraction float64, metrics map[string]float64) {
		durable := context.WithoutCancel(cbCtx)
		if err := o.store.UpdateProgress(durable, job.ID, fraction, metrics); err != nil {
			log.WithError(err).Warn("progress write failed")
			return
		}
		o.appendLog(durable, job.ID, "info", "progress %.0f%%", fraction*100)
	}
	gate := func(gateCtx context.Context) error {
		current, err := o.store.GetJob(gateCtx, job.ID)
		if err != nil {
			return err
		}
		if current.Status != JobRunning {
			return errs.Precondition("orchestrator.gate", "job %s is %s, refusing to register", job.ID, current.Status)
		}
		return nil
	}

	res, err := o.runner.Run(ctx, pipeline.RunRequest{
		JobID:     job.ID,
		TenantID:  job.TenantID,
		ModelKind: job.ModelKind,
		ModelName: job.ModelName,
		Config:    job.Config,
		Progress:  progress,
		Gate:      gate,
	})
	now := time.Now().UTC()
	elapsed := time.Since(start)

	switch {
	case err == nil:
		done, cErr := o.store.CompleteJob(bg, job.ID, res.ModelID, res.Metrics, now)
		if cErr != nil {
			log.WithError(cErr).Error("completion write failed")
			return
		}
		if !done {
			o.appendLog(bg, job.ID, "warn", "job finished after cancellation, result discarded")
			return
		}
		o.metrics.Terminal.WithLabelValues(string(JobCompleted)).Inc()
		o.metrics.Duration.Observe(elapsed.Seconds())
		o.appendLog(bg, job.ID, "info", "job completed in %s, model %s", elapsed.Round(time.Millisecond), res.ModelID)
		log.WithField("model_id", res.ModelID).WithField("elapsed", elapsed.Round(time.Millisecond)).Info("job completed")

	case ctx.Err() != nil:
		// User cancel already moved the row; shutdown leaves it for requeue.
		o.appendLog(bg, job.ID, "warn", "job execution cancelled")
		log.Info("job execution cancelled")

	default:
		failed, fErr := o.store.FailJob(bg, job.ID, err.Error(), now)
		if fErr != nil {
			log.WithError(fErr).Error("failure write failed")
			return
		}
		if failed {
			o.metrics.Terminal.WithLabelValues(string(JobFailed)).Inc()
			o.appendLog(bg, job.ID, "error", "job failed: %v", err)
			log.WithError(err).Error("job failed")
		}
	}
}
