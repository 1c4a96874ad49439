package tracker

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

const defaultSearchMax = 100

// SearchRequest selects runs across experiments. Filters are equality
// matches; OrderBy entries are "start_time" or "metrics.<key>", optionally
// suffixed with "asc" or "desc".
type SearchRequest struct {
	Experiments []string
	Status      RunStatus
	Tags        map[string]string
	OrderBy     []string
	Max         int
}

// SearchRuns returns matching runs, newest first unless OrderBy says
// otherwise.
func (t *Tracker) SearchRuns(ctx context.Context, req SearchRequest) ([]*Run, error) {
	const op = "tracker.SearchRuns"
	if len(req.Experiments) == 0 {
		return nil, errs.Validation(op, "at least one experiment is required")
	}

	ids := make([]int64, 0, len(req.Experiments))
	for _, name := range req.Experiments {
		exp, err := t.store.GetExperiment(ctx, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, exp.ID)
	}

	runs, err := t.store.ListRuns(ctx, ids)
	if err != nil {
		return nil, err
	}

	filtered := runs[:0]
	for _, run := range runs {
		if req.Status != "" && run.Status != req.Status {
			continue
		}
		if !matchesTags(run, req.Tags) {
			continue
		}
		filtered = append(filtered, run)
	}

	orderBy := req.OrderBy
	if len(orderBy) == 0 {
		orderBy = []string{"start_time desc"}
	}
	if err := sortRuns(filtered, orderBy); err != nil {
		return nil, err
	}

	max := req.Max
	if max <= 0 {
		max = defaultSearchMax
	}
	if len(filtered) > max {
		filtered = filtered[:max]
	}
	return filtered, nil
}

func matchesTags(run *Run, tags map[string]string) bool {
	for k, v := range tags {
		if run.Tags[k] != v {
			return false
		}
	}
	return true
}

// sortRuns applies OrderBy entries with the first entry as the primary key.
// Runs missing an ordering metric sort after runs that have it.
func sortRuns(runs []*Run, orderBy []string) error {
	for i := len(orderBy) - 1; i >= 0; i-- {
		field, desc, err := parseOrderBy(orderBy[i])
		if err != nil {
			return err
		}
		sort.SliceStable(runs, func(a, b int) bool {
			return lessRuns(runs[a], runs[b], field, desc)
		})
	}
	return nil
}

func parseOrderBy(entry string) (field string, desc bool, err error) {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(entry)))
	switch len(parts) {
	case 1:
	case 2:
		switch parts[1] {
		case "asc":
		case "desc":
			desc = true
		default:
			return "", false, errs.Validation("tracker.SearchRuns", "bad order direction %q", parts[1])
		}
	default:
		return "", false, errs.Validation("tracker.SearchRuns", "bad order_by entry %q", entry)
	}

	field = parts[0]
	if field != "start_time" && !strings.HasPrefix(field, "metrics.") {
		return "", false, errs.Validation("tracker.SearchRuns", "unknown order_by field %q", field)
	}
	return field, desc, nil
}

func lessRuns(a, b *Run, field string, desc bool) bool {
	if field == "start_time" {
		if desc {
			return a.StartedAt.After(b.StartedAt)
		}
		return a.StartedAt.Before(b.StartedAt)
	}

	key := strings.TrimPrefix(field, "metrics.")
	av, aok := a.LatestMetric(key)
	bv, bok := b.LatestMetric(key)
	if aok != bok {
		return aok
	}
	if !aok {
		return false
	}
	if desc {
		return av > bv
	}
	return av < bv
}

// RunComparison is one row of a side-by-side run comparison.
type RunComparison struct {
	RunID   string             `json:"run_id"`
	Name    string             `json:"name"`
	Status  RunStatus          `json:"status"`
	Params  map[string]string  `json:"params"`
	Metrics map[string]float64 `json:"metrics"`
}

// CompareRuns builds a comparison table of params and latest metric values.
// metricKeys narrows the metric columns; empty means all.
func (t *Tracker) CompareRuns(ctx context.Context, runIDs []string, metricKeys []string) ([]RunComparison, error) {
	const op = "tracker.CompareRuns"
	if len(runIDs) < 2 {
		return nil, errs.Validation(op, "need at least two runs to compare")
	}

	out := make([]RunComparison, 0, len(runIDs))
	for _, id := range runIDs {
		run, err := t.store.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}

		metrics := map[string]float64{}
		if len(metricKeys) > 0 {
			for _, key := range metricKeys {
				if v, ok := run.LatestMetric(key); ok {
					metrics[key] = v
				}
			}
		} else {
			for key := range run.Metrics {
				if v, ok := run.LatestMetric(key); ok {
					metrics[key] = v
				}
			}
		}

		out = append(out, RunComparison{
			RunID:   run.ID,
			Name:    run.Name,
			Status:  run.Status,
			Params:  run.Params,
			Metrics: metrics,
		})
	}
	return out, nil
}

// GetBestRun returns the run with the best latest value of metric, or nil
// when no run has logged it. Ties keep the earliest run.
func (t *Tracker) GetBestRun(ctx context.Context, experiment, metric string, maximize bool) (*Run, error) {
	const op = "tracker.GetBestRun"
	if metric == "" {
		return nil, errs.Validation(op, "metric is required")
	}
	exp, err := t.store.GetExperiment(ctx, experiment)
	if err != nil {
		return nil, err
	}
	runs, err := t.store.ListRuns(ctx, []int64{exp.ID})
	if err != nil {
		return nil, err
	}

	var best *Run
	var bestValue float64
	for _, run := range runs {
		v, ok := run.LatestMetric(metric)
		if !ok {
			continue
		}
		if best == nil || (maximize && v > bestValue) || (!maximize && v < bestValue) {
			best = run
			bestValue = v
		}
	}
	return best, nil
}

// MetricStats aggregates one metric across an experiment's runs using each
// run's latest value.
type MetricStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// ExperimentStats summarizes an experiment.
type ExperimentStats struct {
	Experiment string                `json:"experiment"`
	RunCount   int                   `json:"run_count"`
	ByStatus   map[RunStatus]int     `json:"by_status"`
	Metrics    map[string]MetricStats `json:"metrics"`
}

// GetExperimentStats computes per-metric count, mean, std, min and max over
// all runs of the experiment.
func (t *Tracker) GetExperimentStats(ctx context.Context, experiment string) (*ExperimentStats, error) {
	exp, err := t.store.GetExperiment(ctx, experiment)
	if err != nil {
		return nil, err
	}
	runs, err := t.store.ListRuns(ctx, []int64{exp.ID})
	if err != nil {
		return nil, err
	}

	stats := &ExperimentStats{
		Experiment: exp.Name,
		RunCount:   len(runs),
		ByStatus:   map[RunStatus]int{},
		Metrics:    map[string]MetricStats{},
	}
	values := map[string][]float64{}
	for _, run := range runs {
		stats.ByStatus[run.Status]++
		for key := range run.Metrics {
			if v, ok := run.LatestMetric(key); ok {
				values[key] = append(values[key], v)
			}
		}
	}
	for key, vs := range values {
		stats.Metrics[key] = summarize(vs)
	}
	return stats, nil
}

func summarize(vs []float64) MetricStats {
	s := MetricStats{Count: len(vs), Min: vs[0], Max: vs[0]}
	var sum float64
	for _, v := range vs {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(vs))
	if len(vs) > 1 {
		var ss float64
		for _, v := range vs {
			ss += (v - s.Mean) * (v - s.Mean)
		}
		s.Std = math.Sqrt(ss / float64(len(vs)-1))
	}
	return s
}
