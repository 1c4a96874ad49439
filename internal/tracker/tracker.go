package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	cp "github.com/otiai10/copy"
	"github.com/spf13/afero"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Params configures a Tracker.
type Params struct {
	Store        Store
	Files        afero.Fs
	Logger       logging.Interface
	ArtifactRoot string
}

// Tracker is the experiment tracking service.
type Tracker struct {
	store        Store
	files        afero.Fs
	logger       logging.Interface
	artifactRoot string
}

// New creates a tracker. Files defaults to the OS filesystem and
// ArtifactRoot to /data/artifacts.
func New(p Params) *Tracker {
	if p.Files == nil {
		p.Files = afero.NewOsFs()
	}
	if p.Logger == nil {
		p.Logger = logging.Discard()
	}
	if p.ArtifactRoot == "" {
		p.ArtifactRoot = "/data/artifacts"
	}
	return &Tracker{
		store:        p.Store,
		files:        p.Files,
		logger:       p.Logger,
		artifactRoot: p.ArtifactRoot,
	}
}

// CreateRunRequest starts a run under an experiment. The experiment is
// created on first use; tenant and model kind only apply to that creation.
type CreateRunRequest struct {
	Experiment string
	TenantID   string
	ModelKind  string
	Name       string
	Tags       map[string]string
}

// CreateRun creates the experiment if absent and starts a new run in it.
func (t *Tracker) CreateRun(ctx context.Context, req CreateRunRequest) (*Run, error) {
	const op = "tracker.CreateRun"
	if req.Experiment == "" {
		return nil, errs.Validation(op, "experiment name is required")
	}

	exp, err := t.store.GetOrCreateExperiment(ctx, &Experiment{
		Name:      req.Experiment,
		TenantID:  req.TenantID,
		ModelKind: req.ModelKind,
	})
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	name := req.Name
	if name == "" {
		name = "run-" + runID[:8]
	}
	tags := make(map[string]string, len(req.Tags))
	for k, v := range req.Tags {
		tags[k] = v
	}

	run := &Run{
		ID:           runID,
		ExperimentID: exp.ID,
		Name:         name,
		Status:       RunRunning,
		Params:       map[string]string{},
		Metrics:      map[string][]MetricPoint{},
		Tags:         tags,
		ArtifactURI:  filepath.Join(t.artifactRoot, runID),
		StartedAt:    time.Now().UTC(),
	}
	if err := t.store.InsertRun(ctx, run); err != nil {
		return nil, err
	}

	t.logger.WithField("run_id", runID).
		WithField("experiment", exp.Name).
		Info("started run")
	return run, nil
}

// GetRun fetches a run with its params, metric sequences and tags.
func (t *Tracker) GetRun(ctx context.Context, runID string) (*Run, error) {
	return t.store.GetRun(ctx, runID)
}

// LogParam records a parameter, coercing the value to a string.
func (t *Tracker) LogParam(ctx context.Context, runID, key string, value any) error {
	if key == "" {
		return errs.Validation("tracker.LogParam", "parameter key is required")
	}
	return t.store.UpsertParam(ctx, runID, key, coerceString(value))
}

// LogParams records a batch of parameters in key order.
func (t *Tracker) LogParams(ctx context.Context, runID string, params map[string]any) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := t.LogParam(ctx, runID, k, params[k]); err != nil {
			return err
		}
	}
	return nil
}

// LogMetric appends one observation to the metric's sequence. A zero ts is
// stamped with the current time.
func (t *Tracker) LogMetric(ctx context.Context, runID, key string, value float64, step int64, ts time.Time) error {
	const op = "tracker.LogMetric"
	if key == "" {
		return errs.Validation(op, "metric key is required")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errs.Validation(op, "metric %q value must be finite", key)
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return t.store.AppendMetric(ctx, runID, key, MetricPoint{Step: step, Timestamp: ts, Value: value})
}

// SetTag writes a tag on the run.
func (t *Tracker) SetTag(ctx context.Context, runID, key, value string) error {
	if key == "" {
		return errs.Validation("tracker.SetTag", "tag key is required")
	}
	return t.store.SetTag(ctx, runID, key, value)
}

// EndRun moves the run into a terminal status. Ending an already-ended run
// is a conflict.
func (t *Tracker) EndRun(ctx context.Context, runID string, status RunStatus) error {
	const op = "tracker.EndRun"
	if !TerminalRunStatus(status) {
		return errs.Validation(op, "status %q is not a terminal run status", status)
	}
	updated, err := t.store.EndRun(ctx, runID, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if !updated {
		return errs.Conflict(op, "run %q already ended", runID)
	}
	t.logger.WithField("run_id", runID).WithField("status", string(status)).Info("ended run")
	return nil
}

// LogArtifact copies a local file or directory under the run's artifact root
// and returns the stored path. subdir nests the artifact below the root.
func (t *Tracker) LogArtifact(ctx context.Context, runID, localPath, subdir string) (string, error) {
	const op = "tracker.LogArtifact"
	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}

	info, err := t.files.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.NotFound(op, "artifact source %q", localPath)
		}
		return "", errs.Internal(op, err)
	}

	dstDir := filepath.Join(run.ArtifactURI, subdir)
	if err := t.files.MkdirAll(dstDir, 0o755); err != nil {
		return "", errs.Internal(op, err)
	}
	dst := filepath.Join(dstDir, filepath.Base(localPath))

	if info.IsDir() {
		if err := t.copyTree(localPath, dst); err != nil {
			return "", errs.Internal(op, err)
		}
	} else {
		data, err := afero.ReadFile(t.files, localPath)
		if err != nil {
			return "", errs.Internal(op, err)
		}
		if err := afero.WriteFile(t.files, dst, data, 0o644); err != nil {
			return "", errs.Internal(op, err)
		}
	}

	t.logger.WithField("run_id", runID).WithField("artifact", dst).Debug("stored artifact")
	return dst, nil
}

// copyTree copies a directory recursively. On the OS filesystem it delegates
// to the copy library, which preserves modes; elsewhere it walks the tree.
func (t *Tracker) copyTree(src, dst string) error {
	if _, ok := t.files.(*afero.OsFs); ok {
		return cp.Copy(src, dst)
	}
	return afero.Walk(t.files, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dst, strings.TrimPrefix(path, src))
		if info.IsDir() {
			return t.files.MkdirAll(target, 0o755)
		}
		data, err := afero.ReadFile(t.files, path)
		if err != nil {
			return err
		}
		return afero.WriteFile(t.files, target, data, 0o644)
	})
}

// LogJSONArtifact marshals doc and stores it as a named artifact under the
// run's artifact root.
func (t *Tracker) LogJSONArtifact(ctx context.Context, runID, name string, doc any) (string, error) {
	const op = "tracker.LogJSONArtifact"
	if name == "" {
		return "", errs.Validation(op, "artifact name is required")
	}
	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errs.Internal(op, err)
	}
	if err := t.files.MkdirAll(run.ArtifactURI, 0o755); err != nil {
		return "", errs.Internal(op, err)
	}
	dst := filepath.Join(run.ArtifactURI, name)
	if err := afero.WriteFile(t.files, dst, raw, 0o644); err != nil {
		return "", errs.Internal(op, err)
	}
	t.logger.WithField("run_id", runID).WithField("artifact", dst).Debug("stored artifact")
	return dst, nil
}

// LogTrainingConfig flattens a nested configuration by dot-joining keys,
// logs every leaf as a parameter and stores the full document as a
// config.json artifact.
func (t *Tracker) LogTrainingConfig(ctx context.Context, runID string, config map[string]any) error {
	const op = "tracker.LogTrainingConfig"
	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	flat := flattenConfig(config)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := t.store.UpsertParam(ctx, runID, k, flat[k]); err != nil {
			return err
		}
	}

	raw, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errs.Internal(op, err)
	}
	if err := t.files.MkdirAll(run.ArtifactURI, 0o755); err != nil {
		return errs.Internal(op, err)
	}
	if err := afero.WriteFile(t.files, filepath.Join(run.ArtifactURI, "config.json"), raw, 0o644); err != nil {
		return errs.Internal(op, err)
	}
	return nil
}

// flattenConfig dot-joins nested map keys into leaf parameters.
func flattenConfig(config map[string]any) map[string]string {
	out := map[string]string{}
	flattenInto("", config, out)
	return out
}

func flattenInto(prefix string, m map[string]any, out map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(key, nested, out)
			continue
		}
		out[key] = coerceString(v)
	}
}

func coerceString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
