// Package hpo runs hyper-parameter optimization studies: trial sampling over
// a typed search space, cooperative pruning on intermediate reports and
// parameter-importance analysis over completed trials.
package hpo

import (
	"fmt"
	"time"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// Direction is the study's optimization direction.
type Direction string

const (
	Minimize Direction = "minimize"
	Maximize Direction = "maximize"
)

// ValidDirection reports whether d names a direction.
func ValidDirection(d Direction) bool {
	return d == Minimize || d == Maximize
}

// TrialState is the lifecycle state of a trial.
type TrialState string

const (
	TrialRunning  TrialState = "running"
	TrialComplete TrialState = "complete"
	TrialPruned   TrialState = "pruned"
	TrialFailed   TrialState = "failed"
)

// Study is a named optimization over a parameter space.
type Study struct {
	Name      string            `json:"name"`
	TenantID  string            `json:"tenant_id"`
	ModelKind string            `json:"model_kind"`
	Direction Direction         `json:"direction"`
	Sampler   string            `json:"sampler"`
	Pruner    string            `json:"pruner"`
	NTrials   int               `json:"n_trials"`
	Timeout   time.Duration     `json:"timeout,omitempty"`
	UserAttrs map[string]string `json:"user_attrs,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Report is one intermediate objective observation of a running trial.
type Report struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// Trial is one parameter assignment and its outcome. Numbers are assigned
// monotonically within a study.
type Trial struct {
	Number      int            `json:"number"`
	State       TrialState     `json:"state"`
	Params      map[string]any `json:"params"`
	Value       *float64       `json:"value,omitempty"`
	Reports     []Report       `json:"reports,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the trial.
func (t *Trial) Clone() *Trial {
	cp := *t
	cp.Params = make(map[string]any, len(t.Params))
	for k, v := range t.Params {
		cp.Params[k] = v
	}
	cp.Reports = append([]Report(nil), t.Reports...)
	if t.Value != nil {
		v := *t.Value
		cp.Value = &v
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

// ParamKind tags a search-space dimension.
type ParamKind string

const (
	ParamInt         ParamKind = "int"
	ParamFloat       ParamKind = "float"
	ParamCategorical ParamKind = "categorical"
	ParamLogUniform  ParamKind = "loguniform"
)

// ParamSpec describes one search-space dimension.
type ParamSpec struct {
	Kind    ParamKind `json:"type"`
	Low     float64   `json:"low,omitempty"`
	High    float64   `json:"high,omitempty"`
	Step    float64   `json:"step,omitempty"`
	Log     bool      `json:"log,omitempty"`
	Choices []any     `json:"choices,omitempty"`
}

// SearchSpace maps parameter names to their specs.
type SearchSpace map[string]ParamSpec

// Validate checks every dimension of the space.
func (s SearchSpace) Validate() error {
	const op = "hpo.SearchSpace"
	if len(s) == 0 {
		return errs.Validation(op, "search space is empty")
	}
	for name, spec := range s {
		switch spec.Kind {
		case ParamInt:
			if spec.Low > spec.High {
				return errs.Validation(op, "param %q: low %v exceeds high %v", name, spec.Low, spec.High)
			}
			if spec.Step < 0 {
				return errs.Validation(op, "param %q: negative step", name)
			}
		case ParamFloat:
			if spec.Low >= spec.High {
				return errs.Validation(op, "param %q: low %v must be below high %v", name, spec.Low, spec.High)
			}
			if spec.Log && spec.Low <= 0 {
				return errs.Validation(op, "param %q: log scale requires low > 0", name)
			}
		case ParamLogUniform:
			if spec.Low <= 0 || spec.Low >= spec.High {
				return errs.Validation(op, "param %q: loguniform requires 0 < low < high", name)
			}
		case ParamCategorical:
			if len(spec.Choices) == 0 {
				return errs.Validation(op, "param %q: no choices", name)
			}
		default:
			return errs.Validation(op, "param %q: unknown kind %q", name, spec.Kind)
		}
	}
	return nil
}

// ParseSearchSpace splits a hyper-parameter map into search-space descriptors
// and concrete scalar overrides. A map value with a "type" tag is a
// descriptor; everything else passes through as a concrete value.
func ParseSearchSpace(params map[string]any) (SearchSpace, map[string]any, error) {
	space := SearchSpace{}
	concrete := map[string]any{}
	for name, value := range params {
		m, ok := value.(map[string]any)
		if !ok {
			concrete[name] = value
			continue
		}
		spec, err := parseParamSpec(name, m)
		if err != nil {
			return nil, nil, err
		}
		space[name] = spec
	}
	return space, concrete, nil
}

func parseParamSpec(name string, m map[string]any) (ParamSpec, error) {
	const op = "hpo.ParseSearchSpace"
	kind, _ := m["type"].(string)
	spec := ParamSpec{Kind: ParamKind(kind)}

	var ok bool
	switch spec.Kind {
	case ParamInt, ParamFloat, ParamLogUniform:
		if spec.Low, ok = toFloat(m["low"]); !ok {
			return spec, errs.Validation(op, "param %q: missing low bound", name)
		}
		if spec.High, ok = toFloat(m["high"]); !ok {
			return spec, errs.Validation(op, "param %q: missing high bound", name)
		}
		if step, found := toFloat(m["step"]); found {
			spec.Step = step
		}
		if log, found := m["log"].(bool); found {
			spec.Log = log
		}
	case ParamCategorical:
		choices, found := m["choices"].([]any)
		if !found {
			return spec, errs.Validation(op, "param %q: missing choices", name)
		}
		spec.Choices = choices
	default:
		return spec, errs.Validation(op, "param %q: unknown descriptor type %q", name, kind)
	}
	return spec, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// paramFloat coerces a sampled or stored parameter value to float64.
// Parameters round-trip through JSON, so integers may come back as floats.
func paramFloat(v any) (float64, bool) {
	return toFloat(v)
}

func paramString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
