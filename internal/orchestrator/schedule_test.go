package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/model"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

func TestParseSchedule(t *testing.T) {
	valid := []string{"1h", "90s", "24h", "*/15 * * * *", "0 3 * * 1", "@daily"}
	for _, expr := range valid {
		t.Run(expr, func(t *testing.T) {
			sched, err := parseSchedule(expr)
			require.NoError(t, err)
			now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			assert.True(t, sched.Next(now).After(now))
		})
	}

	invalid := []string{"30s", "500ms", "every tuesday", "* * * *", ""}
	for _, expr := range invalid {
		t.Run("invalid "+expr, func(t *testing.T) {
			_, err := parseSchedule(expr)
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err), "want validation error, got %v", err)
		})
	}
}

func TestSubmitRegistersSchedule(t *testing.T) {
	o := newTestOrchestrator(NewMemJobStore(), &fakeRunner{}, nil)

	req := submitRequest("load-forecaster")
	req.Schedule = "1h"
	job, err := o.Submit(context.Background(), req)
	require.NoError(t, err)

	o.mu.Lock()
	entry, ok := o.schedules[job.ID]
	o.mu.Unlock()
	require.True(t, ok)
	assert.True(t, entry.next.After(time.Now()))

	// One-shot submissions stay out of the registry.
	plain, err := o.Submit(context.Background(), submitRequest("one-shot"))
	require.NoError(t, err)
	o.mu.Lock()
	_, ok = o.schedules[plain.ID]
	o.mu.Unlock()
	assert.False(t, ok)
}

func TestStartRestoresSchedules(t *testing.T) {
	store := NewMemJobStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := submitRequest("load-forecaster").Config.WithDefaults(model.Forecast)

	anchor := &Job{
		ID:        "anchor-1",
		TenantID:  "acme",
		ModelKind: model.Forecast,
		ModelName: "load-forecaster",
		Config:    cfg,
		Status:    JobCompleted,
		Schedule:  "1h",
		CreatedAt: base,
		UpdatedAt: base,
	}
	rerun := &Job{
		ID:        "rerun-1",
		TenantID:  "acme",
		ModelKind: model.Forecast,
		ModelName: "load-forecaster",
		Config:    cfg,
		Status:    JobCompleted,
		Tags:      map[string]string{"scheduled_rerun_of": "anchor-1"},
		CreatedAt: base.Add(time.Hour),
		UpdatedAt: base.Add(time.Hour),
	}
	require.NoError(t, store.InsertJob(context.Background(), anchor))
	require.NoError(t, store.InsertJob(context.Background(), rerun))

	o := newTestOrchestrator(store, &fakeRunner{}, nil)
	startOrchestrator(t, o)

	o.mu.Lock()
	defer o.mu.Unlock()
	require.Len(t, o.schedules, 1)
	_, ok := o.schedules["anchor-1"]
	assert.True(t, ok)
}

func TestScheduleResubmitsDueJob(t *testing.T) {
	store := NewMemJobStore()
	runner := &fakeRunner{}
	o := newTestOrchestrator(store, runner, nil)

	req := submitRequest("load-forecaster")
	req.Schedule = "1h"
	req.Tags = map[string]string{"team": "ops"}
	origin, err := o.Submit(context.Background(), req)
	require.NoError(t, err)

	startOrchestrator(t, o)

	// Force the anchor due instead of waiting an hour.
	o.mu.Lock()
	o.schedules[origin.ID].next = time.Now().Add(-time.Second)
	o.mu.Unlock()

	rerun := findRerun(t, store, origin.ID)
	assert.Empty(t, rerun.Schedule)
	assert.Equal(t, origin.Config, rerun.Config)
	assert.Equal(t, origin.Priority, rerun.Priority)
	assert.Equal(t, "ops", rerun.Tags["team"])

	// The anchor advanced to the next fire time, so no double submission.
	o.mu.Lock()
	next := o.schedules[origin.ID].next
	o.mu.Unlock()
	assert.True(t, next.After(time.Now()))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, countReruns(t, store, origin.ID))
}

func findRerun(t *testing.T, store JobStore, originID string) *Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		jobs, _, err := store.ListJobs(context.Background(), JobFilter{PageSize: maxPageSize})
		require.NoError(t, err)
		for _, job := range jobs {
			if job.Tags["scheduled_rerun_of"] == originID {
				return job
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("scheduled rerun never appeared")
	return nil
}

func countReruns(t *testing.T, store JobStore, originID string) int {
	t.Helper()
	jobs, _, err := store.ListJobs(context.Background(), JobFilter{PageSize: maxPageSize})
	require.NoError(t, err)
	n := 0
	for _, job := range jobs {
		if job.Tags["scheduled_rerun_of"] == originID {
			n++
		}
	}
	return n
}
