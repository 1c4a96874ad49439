package integration_tests

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/orchestrator"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/pipeline"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// syntheticLoadRows produces hourly feature rows with a sinusoidal daily
// load profile. The target column is load_kw; the remaining columns mirror
// what the forecast_basic view exposes.
func syntheticLoadRows(tenant, asset string, start, end time.Time) []featurestore.FeatureRow {
	var rows []featurestore.FeatureRow
	prev := 100.0
	for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
		hour := float64(ts.Hour())
		load := 100 + 25*math.Sin(2*math.Pi*hour/24) + 5*math.Sin(2*math.Pi*float64(ts.YearDay())/365)
		rows = append(rows, featurestore.FeatureRow{
			TenantID: tenant,
			AssetID:  asset,
			Ts:       ts,
			Values: map[string]float64{
				"load_kw":     load,
				"hour_of_day": hour,
				"day_of_week": float64(ts.Weekday()),
				"lag_1h":      prev,
				"temperature": 18 + 8*math.Sin(2*math.Pi*(hour-3)/24),
			},
		})
		prev = load
	}
	return rows
}

// rowSourceFunc adapts a function to the pipeline's RowSource.
type rowSourceFunc func(ctx context.Context, req featurestore.ExportRequest) ([]featurestore.FeatureRow, error)

func (f rowSourceFunc) FetchTrainingRows(ctx context.Context, req featurestore.ExportRequest) ([]featurestore.FeatureRow, error) {
	return f(ctx, req)
}

// windowSource serves the pre-generated rows falling inside the requested
// window.
func windowSource(rows []featurestore.FeatureRow) rowSourceFunc {
	return func(_ context.Context, req featurestore.ExportRequest) ([]featurestore.FeatureRow, error) {
		var out []featurestore.FeatureRow
		for _, row := range rows {
			if req.TenantID != "" && row.TenantID != req.TenantID {
				continue
			}
			if row.Ts.Before(req.StartTime) || !row.Ts.Before(req.EndTime) {
				continue
			}
			out = append(out, row)
		}
		return out, nil
	}
}

// recordingRunner forwards to the real pipeline while recording every
// progress fraction the run reports.
type recordingRunner struct {
	inner orchestrator.Runner

	mu        sync.Mutex
	fractions []float64
}

func (r *recordingRunner) Run(ctx context.Context, req pipeline.RunRequest) (*pipeline.Result, error) {
	orig := req.Progress
	req.Progress = func(ctx context.Context, fraction float64, metrics map[string]float64) {
		r.mu.Lock()
		r.fractions = append(r.fractions, fraction)
		r.mu.Unlock()
		if orig != nil {
			orig(ctx, fraction, metrics)
		}
	}
	return r.inner.Run(ctx, req)
}

func (r *recordingRunner) Fractions() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.fractions...)
}

// blockingRunner parks every run until released, so specs can hold a
// dispatch slot open deterministically.
type blockingRunner struct {
	started chan string
	release chan struct{}

	mu   sync.Mutex
	runs int
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan string, 8),
		release: make(chan struct{}, 8),
	}
}

// Release lets exactly one parked run return successfully.
func (r *blockingRunner) Release() {
	r.release <- struct{}{}
}

func (r *blockingRunner) Run(ctx context.Context, req pipeline.RunRequest) (*pipeline.Result, error) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	r.started <- req.JobID
	select {
	case <-r.release:
		return &pipeline.Result{
			ModelID: "tenant-a:blocked-model:v1",
			Metrics: map[string]float64{"mae": 1.0},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *blockingRunner) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// memGateway is the in-memory object store backing the registry in specs.
type memGateway struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemGateway() *memGateway {
	return &memGateway{objects: map[string][]byte{}}
}

func (m *memGateway) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memGateway) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errs.NotFound("memgateway.Get", "key %s", key)
	}
	return data, nil
}

func (m *memGateway) List(_ context.Context, prefix, delimiter string) ([]string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	prefixSet := map[string]bool{}
	for key := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				prefixSet[prefix+rest[:idx+len(delimiter)]] = true
				continue
			}
		}
		keys = append(keys, key)
	}
	var prefixes []string
	for p := range prefixSet {
		prefixes = append(prefixes, p)
	}
	sort.Strings(keys)
	sort.Strings(prefixes)
	return keys, prefixes, nil
}

func (m *memGateway) Copy(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[src]
	if !ok {
		return errs.NotFound("memgateway.Copy", "key %s", src)
	}
	m.objects[dst] = append([]byte(nil), data...)
	return nil
}

func (m *memGateway) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// memExportStore keeps export records in memory.
type memExportStore struct {
	mu      sync.Mutex
	exports map[string]*featurestore.Export
}

func newMemExportStore() *memExportStore {
	return &memExportStore{exports: map[string]*featurestore.Export{}}
}

func (s *memExportStore) InsertExport(_ context.Context, export *featurestore.Export) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *export
	s.exports[export.ID] = &cp
	return nil
}

func (s *memExportStore) GetExport(_ context.Context, id string) (*featurestore.Export, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	export, ok := s.exports[id]
	if !ok {
		return nil, errs.NotFound("memexports.GetExport", "export %s", id)
	}
	cp := *export
	return &cp, nil
}

func (s *memExportStore) ListExports(_ context.Context, tenantID, featureSet, status string, limit int) ([]*featurestore.Export, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*featurestore.Export
	for _, export := range s.exports {
		if tenantID != "" && export.TenantID != tenantID {
			continue
		}
		if featureSet != "" && export.FeatureSet != featureSet {
			continue
		}
		if status != "" && export.Status != status {
			continue
		}
		cp := *export
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memExportSource plays the role of the materialized views behind batch
// exports.
type memExportSource struct {
	rows []featurestore.FeatureRow
}

func (s *memExportSource) FetchRows(_ context.Context, _ string, req featurestore.ExportRequest) ([]featurestore.FeatureRow, error) {
	var out []featurestore.FeatureRow
	for _, row := range s.rows {
		if row.TenantID != req.TenantID {
			continue
		}
		if row.Ts.Before(req.StartTime) || !row.Ts.Before(req.EndTime) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}
