// Package pipeline runs the five training stages: Load, Preprocess, Fit,
// Evaluate, Register. Stages execute strictly in order; each reports its
// milestone fraction through the caller's progress callback, and a failure
// stops everything downstream.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/hpo"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/model"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/registry"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/tracker"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/validator"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Stage milestones reported after each stage completes.
const (
	ProgressLoad       = 0.20
	ProgressPreprocess = 0.40
	ProgressFit        = 0.70
	ProgressEvaluate   = 0.85
	ProgressRegister   = 1.00
)

// ProgressFunc receives the milestone fraction and optional stage metrics
// after each stage. Calls arrive in stage order from a single goroutine.
type ProgressFunc func(ctx context.Context, fraction float64, metrics map[string]float64)

// TrainingConfig is the immutable configuration snapshot of one training
// job.
type TrainingConfig struct {
	FeatureSet        string         `json:"feature_set,omitempty"`
	Target            string         `json:"target_column"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	HorizonHours      int            `json:"horizon_hours,omitempty"`
	AssetIDs          []string       `json:"asset_ids,omitempty"`
	ValidationSplit   float64        `json:"validation_split,omitempty"`
	TestSplit         float64        `json:"test_split,omitempty"`
	EnableHPO         bool           `json:"enable_hpo,omitempty"`
	NTrials           int            `json:"n_trials,omitempty"`
	Hyperparameters   map[string]any `json:"hyperparameters,omitempty"`
	EarlyStopPatience int            `json:"early_stopping_patience,omitempty"`
	Seed              int64          `json:"random_seed,omitempty"`
	NWorkers          int            `json:"n_workers,omitempty"`

	// RegisterModel nil means register on success.
	RegisterModel *bool `json:"register_model,omitempty"`
}

// WithDefaults fills unset fields. The feature set follows the model kind.
func (c TrainingConfig) WithDefaults(modelKind string) TrainingConfig {
	if c.FeatureSet == "" {
		if modelKind == model.Anomaly {
			c.FeatureSet = featurestore.SetAnomalyDetection
		} else {
			c.FeatureSet = featurestore.SetForecastBasic
		}
	}
	if c.ValidationSplit <= 0 {
		c.ValidationSplit = 0.2
	}
	if c.TestSplit <= 0 {
		c.TestSplit = 0.1
	}
	if c.NTrials <= 0 {
		c.NTrials = 20
	}
	if c.NWorkers <= 0 {
		c.NWorkers = 1
	}
	return c
}

// Validate checks the window and split fractions.
func (c TrainingConfig) Validate() error {
	const op = "pipeline.TrainingConfig.Validate"
	if c.Target == "" {
		return errs.Validation(op, "target_column is required")
	}
	if c.StartTime.IsZero() || c.EndTime.IsZero() {
		return errs.Validation(op, "start_time and end_time are required")
	}
	if !c.EndTime.After(c.StartTime) {
		return errs.Validation(op, "end_time must be after start_time")
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return errs.Validation(op, "validation_split %v out of range [0, 1)", c.ValidationSplit)
	}
	if c.TestSplit < 0 || c.TestSplit >= 1 {
		return errs.Validation(op, "test_split %v out of range [0, 1)", c.TestSplit)
	}
	if c.ValidationSplit+c.TestSplit >= 1 {
		return errs.Validation(op, "validation_split and test_split must sum below 1")
	}
	return nil
}

// ShouldRegister reports whether the Register stage runs on success.
func (c TrainingConfig) ShouldRegister() bool {
	return c.RegisterModel == nil || *c.RegisterModel
}

// Clone deep-copies the snapshot. Search-space descriptor maps inside
// Hyperparameters are treated as immutable and shared.
func (c TrainingConfig) Clone() TrainingConfig {
	cp := c
	if c.AssetIDs != nil {
		cp.AssetIDs = append([]string(nil), c.AssetIDs...)
	}
	if c.Hyperparameters != nil {
		cp.Hyperparameters = make(map[string]any, len(c.Hyperparameters))
		for k, v := range c.Hyperparameters {
			cp.Hyperparameters[k] = v
		}
	}
	if c.RegisterModel != nil {
		b := *c.RegisterModel
		cp.RegisterModel = &b
	}
	return cp
}

// TrainingSpan is the length of the training window.
func (c TrainingConfig) TrainingSpan() time.Duration {
	return c.EndTime.Sub(c.StartTime)
}

// RowSource feeds chronologically ordered feature rows for a training
// window.
type RowSource interface {
	FetchTrainingRows(ctx context.Context, req featurestore.ExportRequest) ([]featurestore.FeatureRow, error)
}

// Params collects the pipeline's collaborators. Tracker, HPO and Validator
// are optional; Registry is only needed when jobs register models.
type Params struct {
	Rows      RowSource
	Registry  *registry.Registry
	Tracker   *tracker.Tracker
	HPO       *hpo.Engine
	Validator *validator.Validator
	Logger    logging.Interface
	Config    *Config
}

// Pipeline executes training jobs.
type Pipeline struct {
	rows         RowSource
	registry     *registry.Registry
	tracker      *tracker.Tracker
	hpo          *hpo.Engine
	validator    *validator.Validator
	logger       logging.Interface
	stageTimeout time.Duration
	distributed  bool
}

// New assembles a pipeline.
func New(p Params) *Pipeline {
	logger := p.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	stageTimeout := 30 * time.Minute
	distributed := false
	if p.Config != nil {
		stageTimeout = p.Config.StageTimeout
		distributed = p.Config.Distributed
	}
	return &Pipeline{
		rows:         p.Rows,
		registry:     p.Registry,
		tracker:      p.Tracker,
		hpo:          p.HPO,
		validator:    p.Validator,
		logger:       logger,
		stageTimeout: stageTimeout,
		distributed:  distributed,
	}
}

// RunRequest identifies the job and carries its configuration.
type RunRequest struct {
	JobID     string
	TenantID  string
	ModelKind string
	ModelName string
	Config    TrainingConfig

	// Progress, if set, receives stage milestones.
	Progress ProgressFunc

	// Gate runs immediately before the Register stage. Returning an error
	// stops registration; the orchestrator uses it to keep cancelled jobs
	// from writing artifacts.
	Gate func(ctx context.Context) error
}

// Result summarizes a completed run. Validation is nil when no validator is
// wired.
type Result struct {
	ModelID     string
	RunID       string
	Metrics     map[string]float64
	Hyperparams map[string]any
	Model       model.Model
	Validation  *validator.Report
	Rows        int
	TrainRows   int
	ValRows     int
	TestRows    int
}

// Run executes all five stages and returns the trained result. The error,
// when non-nil, carries the failing stage in its operation.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*Result, error) {
	const op = "pipeline.Run"
	start := time.Now()
	if req.TenantID == "" || req.ModelName == "" {
		return nil, errs.Validation(op, "tenant_id and model_name are required")
	}
	if !model.ValidKind(req.ModelKind) {
		return nil, errs.Validation(op, "unknown model kind %q", req.ModelKind)
	}
	cfg := req.Config.WithDefaults(req.ModelKind)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := p.logger.WithField("job_id", req.JobID).
		WithField("tenant_id", req.TenantID).
		WithField("model_name", req.ModelName)
	runID := p.startRun(ctx, req, cfg)

	var dataset *Dataset
	err := p.stage(ctx, "load", func(ctx context.Context) error {
		rows, err := p.rows.FetchTrainingRows(ctx, featurestore.ExportRequest{
			TenantID:   req.TenantID,
			FeatureSet: cfg.FeatureSet,
			StartTime:  cfg.StartTime,
			EndTime:    cfg.EndTime,
			AssetIDs:   cfg.AssetIDs,
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return errs.Validation(op, "no feature rows in training window")
		}
		dataset, err = buildDataset(rows, cfg.Target)
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, runID, err)
	}
	p.report(ctx, req, ProgressLoad, map[string]float64{"rows": float64(len(dataset.Target))})

	var split *Split
	var scaler *Scaler
	var trainX, valX, testX [][]float64
	err = p.stage(ctx, "preprocess", func(context.Context) error {
		var err error
		split, err = dataset.split(cfg.ValidationSplit, cfg.TestSplit)
		if err != nil {
			return err
		}
		scaler = fitScaler(split.Train.Features)
		trainX = scaler.Transform(split.Train.Features)
		valX = scaler.Transform(split.Val.Features)
		testX = scaler.Transform(split.Test.Features)
		return nil
	})
	if err != nil {
		return nil, p.fail(ctx, runID, err)
	}
	p.report(ctx, req, ProgressPreprocess, map[string]float64{
		"train_rows": float64(len(trainX)),
		"val_rows":   float64(len(valX)),
		"test_rows":  float64(len(testX)),
	})

	var fitted model.Model
	var hyper map[string]any
	err = p.stage(ctx, "fit", func(ctx context.Context) error {
		var err error
		fitted, hyper, err = p.fit(ctx, req, cfg, trainX, split.Train.Target, valX, split.Val.Target)
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, runID, err)
	}
	p.report(ctx, req, ProgressFit, nil)

	var metrics map[string]float64
	err = p.stage(ctx, "evaluate", func(context.Context) error {
		var err error
		metrics, err = evaluateModel(req.ModelKind, fitted, testX, split.Test.Target)
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, runID, err)
	}
	metrics["training_time_seconds"] = time.Since(start).Seconds()
	p.report(ctx, req, ProgressEvaluate, metrics)

	validation := p.validateModel(ctx, req, runID, fitted, dataset, split, scaler, valX)

	modelID := ""
	if cfg.ShouldRegister() {
		err = p.stage(ctx, "register", func(ctx context.Context) error {
			if req.Gate != nil {
				if err := req.Gate(ctx); err != nil {
					return err
				}
			}
			var err error
			modelID, err = p.register(ctx, req, cfg, fitted, metrics, hyper)
			return err
		})
		if err != nil {
			return nil, p.fail(ctx, runID, err)
		}
	}
	p.report(ctx, req, ProgressRegister, nil)

	p.finishRun(ctx, runID, metrics)
	log.WithField("model_id", modelID).
		WithField("elapsed", time.Since(start).Round(time.Millisecond)).
		Info("training run completed")
	return &Result{
		ModelID:     modelID,
		RunID:       runID,
		Metrics:     metrics,
		Hyperparams: hyper,
		Model:       fitted,
		Validation:  validation,
		Rows:        len(dataset.Target),
		TrainRows:   len(trainX),
		ValRows:     len(valX),
		TestRows:    len(testX),
	}, nil
}

// stage runs fn under the per-stage soft deadline. CPU-bound work is not
// interrupted mid-flight; overruns are detected at the stage boundary and
// convert to timeout errors. An outer cancellation passes through untouched.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stageCtx := ctx
	cancel := func() {}
	if p.stageTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, p.stageTimeout)
	}
	defer cancel()

	err := fn(stageCtx)
	if ctx.Err() != nil {
		// Outer cancel wins over any stage-local classification.
		if err != nil {
			return err
		}
		return ctx.Err()
	}
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		if err == nil {
			err = fmt.Errorf("stage ran past its %s budget", p.stageTimeout)
		}
		return errs.Timeout("pipeline."+name, err)
	}
	return err
}

func (p *Pipeline) report(ctx context.Context, req RunRequest, fraction float64, metrics map[string]float64) {
	if req.Progress != nil {
		req.Progress(ctx, fraction, metrics)
	}
}

func (p *Pipeline) register(ctx context.Context, req RunRequest, cfg TrainingConfig, m model.Model, metrics map[string]float64, hyper map[string]any) (string, error) {
	const op = "pipeline.register"
	if p.registry == nil {
		return "", errs.Config(op, "model registry is not wired")
	}
	blob, err := model.Encode(m)
	if err != nil {
		return "", err
	}

	extra := map[string]string{
		"job_id":        req.JobID,
		"feature_set":   cfg.FeatureSet,
		"target_column": cfg.Target,
		"random_seed":   strconv.FormatInt(cfg.Seed, 10),
	}
	if cfg.HorizonHours > 0 {
		extra["horizon_hours"] = strconv.Itoa(cfg.HorizonHours)
	}
	for k, v := range hyper {
		extra["hp_"+k] = fmt.Sprint(v)
	}

	mv, err := p.registry.Register(ctx, registry.RegisterRequest{
		Tenant:        req.TenantID,
		Name:          req.ModelName,
		Version:       newVersion(),
		Artifact:      blob,
		Metrics:       metrics,
		ModelTypeHint: req.ModelKind,
		Stage:         registry.StageStaging,
		Extra:         extra,
	})
	if err != nil {
		return "", err
	}
	return mv.ID, nil
}

// newVersion builds a unique, chronologically sortable version string.
func newVersion() string {
	return fmt.Sprintf("v%s-%s", time.Now().UTC().Format("20060102150405"), uuid.NewString()[:8])
}

// validateModel grades the trained model on the validation rows. The report
// is advisory: it lands on the tracker run and in the result, and a failed
// report does not stop registration.
func (p *Pipeline) validateModel(ctx context.Context, req RunRequest, runID string, m model.Model, d *Dataset, split *Split, scaler *Scaler, valX [][]float64) *validator.Report {
	if p.validator == nil || len(valX) == 0 {
		return nil
	}
	stats := make(map[string]validator.FeatureStats, len(d.Columns))
	for j, col := range d.Columns {
		stats[col] = validator.FeatureStats{Mean: scaler.Mean[j], Std: scaler.Std[j]}
	}
	report, err := p.validator.Validate(validator.Input{
		ModelKind:   req.ModelKind,
		Model:       m,
		Features:    valX,
		Target:      split.Val.Target,
		Columns:     d.Columns,
		RawFeatures: split.Val.Features,
		TrainStats:  stats,
		Baseline:    p.productionBaseline(ctx, req),
	})
	if err != nil {
		p.logger.WithError(err).WithField("job_id", req.JobID).Warn("model validation skipped")
		return nil
	}
	if p.tracker != nil && runID != "" {
		if _, err := p.tracker.LogJSONArtifact(ctx, runID, "validation_report.json", report); err != nil {
			p.logger.WithError(err).WithField("run_id", runID).Debug("validation report artifact write failed")
		}
		passed := "false"
		if report.Passed {
			passed = "true"
		}
		if err := p.tracker.SetTag(ctx, runID, "validation_passed", passed); err != nil {
			p.logger.WithError(err).WithField("run_id", runID).Debug("validation tag write failed")
		}
	}
	return report
}

// productionBaseline looks up the live production version's metrics for the
// same tenant and model, the comparison point for a retrain. Missing or
// unreadable baselines skip the comparison.
func (p *Pipeline) productionBaseline(ctx context.Context, req RunRequest) map[string]float64 {
	if p.registry == nil {
		return nil
	}
	versions, err := p.registry.List(ctx, req.TenantID, req.ModelName, registry.StageProduction)
	if err != nil || len(versions) == 0 {
		return nil
	}
	return versions[0].Metrics
}

func (p *Pipeline) startRun(ctx context.Context, req RunRequest, cfg TrainingConfig) string {
	if p.tracker == nil {
		return ""
	}
	run, err := p.tracker.CreateRun(ctx, tracker.CreateRunRequest{
		Experiment: req.ModelName,
		TenantID:   req.TenantID,
		ModelKind:  req.ModelKind,
		Name:       "job-" + req.JobID,
		Tags:       map[string]string{"job_id": req.JobID},
	})
	if err != nil {
		p.logger.WithError(err).WithField("job_id", req.JobID).Warn("experiment run creation failed")
		return ""
	}
	if err := p.tracker.LogTrainingConfig(ctx, run.ID, configMap(cfg)); err != nil {
		p.logger.WithError(err).WithField("run_id", run.ID).Warn("training config logging failed")
	}
	return run.ID
}

func (p *Pipeline) finishRun(ctx context.Context, runID string, metrics map[string]float64) {
	if p.tracker == nil || runID == "" {
		return
	}
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := p.tracker.LogMetric(ctx, runID, k, metrics[k], 0, time.Time{}); err != nil {
			p.logger.WithError(err).WithField("run_id", runID).Warn("metric logging failed")
		}
	}
	if err := p.tracker.EndRun(ctx, runID, tracker.RunFinished); err != nil {
		p.logger.WithError(err).WithField("run_id", runID).Warn("run finish failed")
	}
}

// fail closes the tracker run and hands the stage error back unchanged.
func (p *Pipeline) fail(ctx context.Context, runID string, err error) error {
	if p.tracker != nil && runID != "" {
		bg := context.WithoutCancel(ctx)
		if endErr := p.tracker.EndRun(bg, runID, tracker.RunFailed); endErr != nil {
			p.logger.WithError(endErr).WithField("run_id", runID).Warn("run failure bookkeeping failed")
		}
	}
	return err
}

func configMap(cfg TrainingConfig) map[string]any {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
