package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/hpo"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/model"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// distributedRowThreshold is the training-set size below which the bagged
// multi-worker fit never pays off.
const distributedRowThreshold = 10_000

// fit dispatches on the model kind, optionally running the tuning pre-pass
// first. It returns the trained model and its effective hyper-parameters.
func (p *Pipeline) fit(ctx context.Context, req RunRequest, cfg TrainingConfig, trainX [][]float64, trainY []float64, valX [][]float64, valY []float64) (model.Model, map[string]any, error) {
	params := make(map[string]any, len(cfg.Hyperparameters))
	for k, v := range cfg.Hyperparameters {
		params[k] = v
	}
	if cfg.EnableHPO {
		tuned, err := p.tune(ctx, req, cfg, trainX, trainY, valX, valY)
		if err != nil {
			return nil, nil, err
		}
		for k, v := range tuned {
			params[k] = v
		}
	}

	switch req.ModelKind {
	case model.Anomaly:
		forest, err := model.FitIsolationForest(trainX, forestConfigFrom(params, cfg.Seed))
		if err != nil {
			return nil, nil, err
		}
		return forest, map[string]any{
			"n_trees":     forest.Config.NTrees,
			"sample_size": forest.Config.SampleSize,
			"threshold":   forest.Config.Threshold,
		}, nil
	default:
		return p.fitForecast(ctx, cfg, params, trainX, trainY, valX, valY)
	}
}

func (p *Pipeline) fitForecast(ctx context.Context, cfg TrainingConfig, params map[string]any, trainX [][]float64, trainY []float64, valX [][]float64, valY []float64) (model.Model, map[string]any, error) {
	gbmCfg := gbmConfigFrom(params, cfg.Seed)

	if p.distributed && cfg.NWorkers > 1 && len(trainX) > distributedRowThreshold {
		bagged, err := p.fitBagged(ctx, gbmCfg, cfg.NWorkers, trainX, trainY)
		if err != nil {
			return nil, nil, err
		}
		first := bagged.Members[0].(*model.GBM)
		return bagged, map[string]any{
			"n_estimators":     first.Config.NEstimators,
			"learning_rate":    first.Config.LearningRate,
			"subsample":        first.Config.Subsample,
			"ensemble_members": len(bagged.Members),
		}, nil
	}

	m, err := model.FitGBMValidated(trainX, trainY, valX, valY, gbmCfg, cfg.EarlyStopPatience)
	if err != nil {
		return nil, nil, err
	}
	return m, map[string]any{
		"n_estimators":  m.Config.NEstimators,
		"learning_rate": m.Config.LearningRate,
		"subsample":     m.Config.Subsample,
		"fitted_rounds": len(m.Stumps),
	}, nil
}

// fitBagged trains one member per contiguous chunk concurrently and averages
// them. Chunks stay contiguous so every member still sees time-ordered rows.
func (p *Pipeline) fitBagged(ctx context.Context, cfg model.GBMConfig, workers int, trainX [][]float64, trainY []float64) (*model.Ensemble, error) {
	chunk := (len(trainX) + workers - 1) / workers
	type span struct{ lo, hi int }
	var spans []span
	for lo := 0; lo < len(trainX); lo += chunk {
		hi := lo + chunk
		if hi > len(trainX) {
			hi = len(trainX)
		}
		spans = append(spans, span{lo, hi})
	}

	members := make([]model.Model, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range spans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			memberCfg := cfg
			memberCfg.Seed = cfg.Seed + int64(i)
			m, err := model.FitGBM(trainX[s.lo:s.hi], trainY[s.lo:s.hi], memberCfg)
			if err != nil {
				return err
			}
			members[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return model.NewEnsemble(members...)
}

// tune runs the optimization pre-pass over the search-space descriptors in
// the hyper-parameter map. A map without descriptors skips tuning entirely.
func (p *Pipeline) tune(ctx context.Context, req RunRequest, cfg TrainingConfig, trainX [][]float64, trainY []float64, valX [][]float64, valY []float64) (map[string]any, error) {
	const op = "pipeline.tune"
	if p.hpo == nil {
		return nil, errs.Config(op, "hpo engine is not wired")
	}
	space, concrete, err := hpo.ParseSearchSpace(cfg.Hyperparameters)
	if err != nil {
		return nil, err
	}
	if len(space) == 0 {
		p.logger.WithField("job_id", req.JobID).
			Debug("hyperparameter map has no search-space descriptors, skipping tuning")
		return nil, nil
	}
	if len(valY) == 0 {
		return nil, errs.Validation(op, "tuning needs validation rows, raise validation_split")
	}

	studyName := "job-" + req.JobID
	_, err = p.hpo.CreateStudy(ctx, hpo.CreateStudyRequest{
		Name:      studyName,
		TenantID:  req.TenantID,
		ModelKind: req.ModelKind,
		Direction: hpo.Minimize,
		NTrials:   cfg.NTrials,
	})
	if err != nil && !errs.IsConflict(err) {
		return nil, err
	}

	objective := func(ctx context.Context, trial *hpo.TrialHandle) (float64, error) {
		merged := make(map[string]any, len(concrete)+len(trial.Params()))
		for k, v := range concrete {
			merged[k] = v
		}
		for k, v := range trial.Params() {
			merged[k] = v
		}
		switch req.ModelKind {
		case model.Anomaly:
			forest, err := model.FitIsolationForest(trainX, forestConfigFrom(merged, cfg.Seed))
			if err != nil {
				return 0, err
			}
			labels, err := forest.Predict(valX)
			if err != nil {
				return 0, err
			}
			_, _, f1 := model.PrecisionRecallF1(valY, labels)
			return 1 - f1, nil
		default:
			m, err := model.FitGBM(trainX, trainY, gbmConfigFrom(merged, cfg.Seed))
			if err != nil {
				return 0, err
			}
			pred, err := m.Predict(valX)
			if err != nil {
				return 0, err
			}
			return model.MAE(valY, pred), nil
		}
	}

	result, err := p.hpo.Optimize(ctx, hpo.OptimizeRequest{
		StudyName:   studyName,
		Objective:   objective,
		SearchSpace: space,
		NTrials:     cfg.NTrials,
		Parallelism: cfg.NWorkers,
		Seed:        cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	if result.BestTrial == nil {
		return nil, errs.Internal(op, fmt.Errorf("all %d tuning trials failed", cfg.NTrials))
	}
	p.logger.WithField("study", studyName).
		WithField("best_value", *result.BestTrial.Value).
		WithField("completed", result.Completed).
		WithField("pruned", result.Pruned).
		Info("hyperparameter tuning finished")
	return result.BestTrial.Params, nil
}

// evaluateModel computes the kind's metric bundle on the held-out test
// slice.
func evaluateModel(kind string, m model.Model, testX [][]float64, testY []float64) (map[string]float64, error) {
	switch kind {
	case model.Anomaly:
		labels, err := m.Predict(testX)
		if err != nil {
			return nil, err
		}
		scores := labels
		if forest, ok := m.(*model.IsolationForest); ok {
			if s, err := forest.AnomalyScores(testX); err == nil {
				scores = s
			}
		}
		return model.Classification(testY, labels, scores)
	default:
		pred, err := m.Predict(testX)
		if err != nil {
			return nil, err
		}
		return model.Regression(testY, pred)
	}
}

// gbmConfigFrom maps concrete hyper-parameter values onto the regressor
// config. Search-space descriptors (maps) are skipped so their defaults
// apply.
func gbmConfigFrom(params map[string]any, seed int64) model.GBMConfig {
	cfg := model.GBMConfig{Seed: seed}
	for key, raw := range params {
		v, ok := scalar(raw)
		if !ok {
			continue
		}
		switch key {
		case "n_estimators":
			cfg.NEstimators = int(v)
		case "learning_rate":
			cfg.LearningRate = v
		case "subsample":
			cfg.Subsample = v
		}
	}
	return cfg
}

// forestConfigFrom is gbmConfigFrom's anomaly twin. n_estimators doubles as
// an alias for n_trees.
func forestConfigFrom(params map[string]any, seed int64) model.ForestConfig {
	cfg := model.ForestConfig{Seed: seed}
	for key, raw := range params {
		v, ok := scalar(raw)
		if !ok {
			continue
		}
		switch key {
		case "n_trees", "n_estimators":
			cfg.NTrees = int(v)
		case "sample_size":
			cfg.SampleSize = int(v)
		case "threshold":
			cfg.Threshold = v
		}
	}
	return cfg
}

func scalar(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
