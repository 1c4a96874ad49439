package hpo

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// ErrTrialPruned is what an objective returns after a positive ShouldPrune.
var ErrTrialPruned = errors.New("trial pruned")

// Objective evaluates one parameter assignment. It may report intermediate
// values through the handle and ask whether to stop early.
type Objective func(ctx context.Context, trial *TrialHandle) (float64, error)

// Params configures an Engine.
type Params struct {
	Store  StudyStore
	Logger logging.Interface
}

// Engine runs optimization studies over a StudyStore.
type Engine struct {
	store  StudyStore
	logger logging.Interface

	// mu serializes sampling and trial-number allocation so parallel trials
	// see a consistent history.
	mu sync.Mutex
}

// New creates an engine.
func New(p Params) *Engine {
	if p.Logger == nil {
		p.Logger = logging.Discard()
	}
	return &Engine{store: p.Store, logger: p.Logger}
}

// CreateStudyRequest describes a new study.
type CreateStudyRequest struct {
	Name      string
	TenantID  string
	ModelKind string
	Direction Direction
	Sampler   string
	Pruner    string
	NTrials   int
	Timeout   time.Duration
	UserAttrs map[string]string
}

// CreateStudy validates the sampler and pruner names and persists the study.
func (e *Engine) CreateStudy(ctx context.Context, req CreateStudyRequest) (*Study, error) {
	const op = "hpo.CreateStudy"
	if req.Name == "" {
		return nil, errs.Validation(op, "study name is required")
	}
	direction := req.Direction
	if direction == "" {
		direction = Minimize
	}
	if !ValidDirection(direction) {
		return nil, errs.Validation(op, "unknown direction %q", direction)
	}
	sampler := req.Sampler
	if sampler == "" {
		sampler = "tpe"
	}
	pruner := req.Pruner
	if pruner == "" {
		pruner = "median"
	}
	if _, err := newSampler(sampler, 0, direction); err != nil {
		return nil, err
	}
	if _, err := newPruner(pruner, direction); err != nil {
		return nil, err
	}
	nTrials := req.NTrials
	if nTrials <= 0 {
		nTrials = 20
	}

	study := &Study{
		Name:      req.Name,
		TenantID:  req.TenantID,
		ModelKind: req.ModelKind,
		Direction: direction,
		Sampler:   sampler,
		Pruner:    pruner,
		NTrials:   nTrials,
		Timeout:   req.Timeout,
		UserAttrs: req.UserAttrs,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateStudy(ctx, study); err != nil {
		return nil, err
	}

	e.logger.WithField("study", study.Name).
		WithField("sampler", sampler).
		WithField("pruner", pruner).
		Info("created study")
	return study, nil
}

// GetStudy fetches a study by name.
func (e *Engine) GetStudy(ctx context.Context, name string) (*Study, error) {
	return e.store.GetStudy(ctx, name)
}

// DeleteStudy removes a study and its trials.
func (e *Engine) DeleteStudy(ctx context.Context, name string) error {
	return e.store.DeleteStudy(ctx, name)
}

// ListTrials returns the study's trials ordered by number.
func (e *Engine) ListTrials(ctx context.Context, name string) ([]*Trial, error) {
	return e.store.ListTrials(ctx, name)
}

// BestTrial returns the complete trial with the extremal objective under the
// study's direction, or nil when none completed. Ties keep the lower number.
func (e *Engine) BestTrial(ctx context.Context, name string) (*Trial, error) {
	study, err := e.store.GetStudy(ctx, name)
	if err != nil {
		return nil, err
	}
	trials, err := e.store.ListTrials(ctx, name)
	if err != nil {
		return nil, err
	}
	return bestOf(trials, study.Direction), nil
}

// ResumeStudy reloads a study and its trial history so a new optimize loop
// can continue where the last one stopped.
func (e *Engine) ResumeStudy(ctx context.Context, name string) (*Study, []*Trial, error) {
	if !e.store.Persistent() {
		return nil, nil, errs.Precondition("hpo.ResumeStudy", "resume requires a persistent study store")
	}
	study, err := e.store.GetStudy(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	trials, err := e.store.ListTrials(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return study, trials, nil
}

// OptimizeRequest drives one optimize loop over an existing study.
type OptimizeRequest struct {
	StudyName   string
	Objective   Objective
	SearchSpace SearchSpace

	// NTrials and Timeout default to the study's values.
	NTrials int
	Timeout time.Duration

	// Parallelism bounds concurrently running trials; minimum 1.
	Parallelism int

	// Seed makes sampling reproducible. Zero derives a seed from the study
	// name.
	Seed int64

	// OnProgress is invoked serially after every terminal trial with
	// (recorded_trials, n_trials).
	OnProgress func(completed, total int)
}

// OptimizeResult summarizes a finished optimize loop.
type OptimizeResult struct {
	Study     string        `json:"study"`
	BestTrial *Trial        `json:"best_trial,omitempty"`
	Completed int           `json:"completed"`
	Pruned    int           `json:"pruned"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Optimize runs trials until the target count or the wall-clock timeout.
// Objective failures and prunes are isolated per trial; only store or
// sampler failures abort the loop.
func (e *Engine) Optimize(ctx context.Context, req OptimizeRequest) (*OptimizeResult, error) {
	const op = "hpo.Optimize"
	if req.Objective == nil {
		return nil, errs.Validation(op, "objective is required")
	}
	if err := req.SearchSpace.Validate(); err != nil {
		return nil, err
	}
	study, err := e.store.GetStudy(ctx, req.StudyName)
	if err != nil {
		return nil, err
	}

	nTrials := req.NTrials
	if nTrials <= 0 {
		nTrials = study.NTrials
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = study.Timeout
	}
	parallelism := req.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	seed := req.Seed
	if seed == 0 {
		seed = deriveSeed(study.Name)
	}

	sampler, err := newSampler(study.Sampler, seed, study.Direction)
	if err != nil {
		return nil, err
	}
	pruner, err := newPruner(study.Pruner, study.Direction)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var progressMu sync.Mutex
	recorded := 0
	notify := func() {
		progressMu.Lock()
		defer progressMu.Unlock()
		recorded++
		if req.OnProgress != nil {
			req.OnProgress(recorded, nTrials)
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(parallelism)
	for i := 0; i < nTrials; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return e.runTrial(gctx, study, sampler, pruner, req.SearchSpace, req.Objective, notify)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	trials, err := e.store.ListTrials(context.WithoutCancel(ctx), study.Name)
	if err != nil {
		return nil, err
	}

	result := &OptimizeResult{Study: study.Name, Elapsed: time.Since(start)}
	for _, t := range trials {
		switch t.State {
		case TrialComplete:
			result.Completed++
		case TrialPruned:
			result.Pruned++
		case TrialFailed:
			result.Failed++
		}
	}
	result.BestTrial = bestOf(trials, study.Direction)

	logger := e.logger.WithField("study", study.Name).
		WithField("completed", result.Completed).
		WithField("pruned", result.Pruned).
		WithField("failed", result.Failed)
	if result.BestTrial != nil {
		logger = logger.WithField("best_value", *result.BestTrial.Value)
	}
	logger.Info("optimize loop finished")
	return result, nil
}

func (e *Engine) runTrial(ctx context.Context, study *Study, sampler Sampler, pruner Pruner,
	space SearchSpace, objective Objective, notify func()) error {

	e.mu.Lock()
	previous, err := e.store.ListTrials(ctx, study.Name)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	params, err := sampler.Sample(space, previous)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	trial := &Trial{State: TrialRunning, Params: params, StartedAt: time.Now().UTC()}
	number, err := e.store.InsertTrial(ctx, study.Name, trial)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	trial.Number = number

	handle := &TrialHandle{Number: number, engine: e, study: study, pruner: pruner, trial: trial}
	value, objErr := runObjective(ctx, objective, handle)

	now := time.Now().UTC()
	trial.CompletedAt = &now
	switch {
	case objErr == nil && (math.IsNaN(value) || math.IsInf(value, 0)):
		trial.State = TrialFailed
		e.logger.WithField("study", study.Name).WithField("trial", number).
			Warn("objective returned a non-finite value")
	case objErr == nil:
		trial.State = TrialComplete
		trial.Value = &value
	case errors.Is(objErr, ErrTrialPruned):
		trial.State = TrialPruned
	default:
		trial.State = TrialFailed
		e.logger.WithError(objErr).WithField("study", study.Name).WithField("trial", number).
			Warn("trial failed")
	}

	// The terminal state is recorded even when the loop's deadline fired
	// mid-trial.
	if err := e.store.UpdateTrial(context.WithoutCancel(ctx), study.Name, trial); err != nil {
		return err
	}
	notify()
	return nil
}

// runObjective isolates panics so one exploding trial cannot take down the
// loop.
func runObjective(ctx context.Context, objective Objective, handle *TrialHandle) (value float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("objective panicked: %v", r)
		}
	}()
	return objective(ctx, handle)
}

// TrialHandle is the objective's view of its trial.
type TrialHandle struct {
	Number int

	engine *Engine
	study  *Study
	pruner Pruner
	trial  *Trial
}

// Params returns the sampled parameter assignment.
func (h *TrialHandle) Params() map[string]any { return h.trial.Params }

// Float returns a numeric parameter. Integers coerce transparently.
func (h *TrialHandle) Float(name string) float64 {
	v, _ := paramFloat(h.trial.Params[name])
	return v
}

// Int returns an integer parameter, rounding stored floats.
func (h *TrialHandle) Int(name string) int {
	v, _ := paramFloat(h.trial.Params[name])
	return int(math.Round(v))
}

// String returns a categorical parameter as text.
func (h *TrialHandle) String(name string) string {
	return paramString(h.trial.Params[name])
}

// Report records an intermediate objective value at a step.
func (h *TrialHandle) Report(ctx context.Context, step int, value float64) {
	h.trial.Reports = append(h.trial.Reports, Report{Step: step, Value: value})
	if err := h.engine.store.UpdateTrial(ctx, h.study.Name, h.trial); err != nil {
		h.engine.logger.WithError(err).
			WithField("study", h.study.Name).
			WithField("trial", h.Number).
			Warn("failed to persist intermediate report")
	}
}

// ShouldPrune consults the study's pruner against completed trials. Store
// failures never prune.
func (h *TrialHandle) ShouldPrune(ctx context.Context) bool {
	trials, err := h.engine.store.ListTrials(ctx, h.study.Name)
	if err != nil {
		return false
	}
	return h.pruner.ShouldPrune(h.trial, completedTrials(trials))
}

// HistoryPoint is one entry of a study's optimization history.
type HistoryPoint struct {
	Number    int     `json:"trial_number"`
	Value     float64 `json:"value"`
	BestValue float64 `json:"best_value"`
}

// GetOptimizationHistory returns (number, value, best-so-far) triples over
// completed trials in number order. Best-so-far is monotone under the
// study's direction.
func (e *Engine) GetOptimizationHistory(ctx context.Context, studyName string) ([]HistoryPoint, error) {
	study, err := e.store.GetStudy(ctx, studyName)
	if err != nil {
		return nil, err
	}
	trials, err := e.store.ListTrials(ctx, studyName)
	if err != nil {
		return nil, err
	}

	var out []HistoryPoint
	best := math.NaN()
	for _, t := range trials {
		if t.State != TrialComplete || t.Value == nil {
			continue
		}
		v := *t.Value
		if math.IsNaN(best) || better(v, best, study.Direction) {
			best = v
		}
		out = append(out, HistoryPoint{Number: t.Number, Value: v, BestValue: best})
	}
	return out, nil
}

func better(a, b float64, d Direction) bool {
	if d == Maximize {
		return a > b
	}
	return a < b
}

func bestOf(trials []*Trial, d Direction) *Trial {
	var best *Trial
	for _, t := range trials {
		if t.State != TrialComplete || t.Value == nil {
			continue
		}
		if best == nil || better(*t.Value, *best.Value, d) {
			best = t
		}
	}
	return best
}

func deriveSeed(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
