package model

import (
	"math"
	"math/rand"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

const eulerGamma = 0.5772156649015329

// ForestConfig holds the hyper-parameters of the isolation forest. Zero
// values fall back to defaults at fit time.
type ForestConfig struct {
	NTrees     int     `json:"n_trees"`
	SampleSize int     `json:"sample_size"`
	Threshold  float64 `json:"threshold"`
	Seed       int64   `json:"seed"`
}

func (c ForestConfig) withDefaults() ForestConfig {
	if c.NTrees <= 0 {
		c.NTrees = 100
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 256
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		c.Threshold = 0.6
	}
	return c
}

// ForestNode is one node of an isolation tree. Leaves have no children and
// record how many sampled rows they isolate.
type ForestNode struct {
	Feature   int         `json:"feature"`
	Threshold float64     `json:"threshold"`
	Left      *ForestNode `json:"left,omitempty"`
	Right     *ForestNode `json:"right,omitempty"`
	Size      int         `json:"size,omitempty"`
}

func (n *ForestNode) leaf() bool { return n.Left == nil && n.Right == nil }

// IsolationForest detects anomalies by how quickly random axis-aligned
// splits isolate a row. Building and scoring are deterministic under the
// seed.
type IsolationForest struct {
	Config    ForestConfig  `json:"config"`
	Trees     []*ForestNode `json:"trees"`
	NFeatures int           `json:"n_features"`
}

// FitIsolationForest grows NTrees isolation trees over per-tree subsamples.
// The effective sample size is recorded in the returned model's config since
// it normalizes scores.
func FitIsolationForest(rows [][]float64, cfg ForestConfig) (*IsolationForest, error) {
	const op = "model.FitIsolationForest"
	if err := checkRows(op, rows); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if cfg.SampleSize > len(rows) {
		cfg.SampleSize = len(rows)
	}

	heightLimit := int(math.Ceil(math.Log2(float64(cfg.SampleSize))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	trees := make([]*ForestNode, cfg.NTrees)
	for t := range trees {
		idx := append([]int(nil), rng.Perm(len(rows))[:cfg.SampleSize]...)
		trees[t] = buildIsoTree(rows, idx, 0, heightLimit, rng)
	}
	return &IsolationForest{Config: cfg, Trees: trees, NFeatures: len(rows[0])}, nil
}

func buildIsoTree(rows [][]float64, idx []int, depth, limit int, rng *rand.Rand) *ForestNode {
	if len(idx) <= 1 || depth >= limit {
		size := len(idx)
		if size < 1 {
			size = 1
		}
		return &ForestNode{Size: size}
	}
	for _, f := range rng.Perm(len(rows[0])) {
		lo, hi := rows[idx[0]][f], rows[idx[0]][f]
		for _, i := range idx[1:] {
			v := rows[i][f]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi <= lo {
			continue
		}
		thr := lo + rng.Float64()*(hi-lo)
		var left, right []int
		for _, i := range idx {
			if rows[i][f] <= thr {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		return &ForestNode{
			Feature:   f,
			Threshold: thr,
			Left:      buildIsoTree(rows, left, depth+1, limit, rng),
			Right:     buildIsoTree(rows, right, depth+1, limit, rng),
		}
	}
	// All features constant across idx.
	return &ForestNode{Size: len(idx)}
}

// AnomalyScores returns the isolation score in (0, 1) per row; higher means
// more anomalous.
func (f *IsolationForest) AnomalyScores(rows [][]float64) ([]float64, error) {
	const op = "model.IsolationForest.AnomalyScores"
	norm := avgPathLength(float64(f.Config.SampleSize))
	if norm <= 0 {
		norm = 1
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != f.NFeatures {
			return nil, errs.Validation(op, "row %d has %d features, model expects %d", i, len(row), f.NFeatures)
		}
		total := 0.0
		for _, tree := range f.Trees {
			total += pathLength(tree, row, 0)
		}
		avg := total / float64(len(f.Trees))
		out[i] = math.Exp2(-avg / norm)
	}
	return out, nil
}

// Predict labels each row: 1 for anomalous, 0 for normal.
func (f *IsolationForest) Predict(rows [][]float64) ([]float64, error) {
	scores, err := f.AnomalyScores(rows)
	if err != nil {
		return nil, err
	}
	for i, s := range scores {
		if s >= f.Config.Threshold {
			scores[i] = 1
		} else {
			scores[i] = 0
		}
	}
	return scores, nil
}

// FeatureCount returns the input width the model was trained on.
func (f *IsolationForest) FeatureCount() int { return f.NFeatures }

// Score returns label accuracy against 0/1 ground truth.
func (f *IsolationForest) Score(rows [][]float64, target []float64) (float64, error) {
	const op = "model.IsolationForest.Score"
	pred, err := f.Predict(rows)
	if err != nil {
		return 0, err
	}
	if len(target) != len(pred) {
		return 0, errs.Validation(op, "%d rows but %d targets", len(pred), len(target))
	}
	if len(pred) == 0 {
		return 0, nil
	}
	hits := 0
	for i, p := range pred {
		want := 0.0
		if target[i] > 0.5 {
			want = 1
		}
		if p == want {
			hits++
		}
	}
	return float64(hits) / float64(len(pred)), nil
}

func pathLength(node *ForestNode, row []float64, depth float64) float64 {
	if node.leaf() {
		return depth + avgPathLength(float64(node.Size))
	}
	if row[node.Feature] <= node.Threshold {
		return pathLength(node.Left, row, depth+1)
	}
	return pathLength(node.Right, row, depth+1)
}

// avgPathLength is c(n), the expected unsuccessful-search path length of a
// binary search tree over n points.
func avgPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}
