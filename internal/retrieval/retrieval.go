package retrieval

import (
	"context"
	"fmt"
	"sort"
)

// #region gated
// Gated wraps a backend retriever with a distance gate, a consistency check
// and priority ranking.
type Gated struct {
	backend Retriever
	config  RetrievalConfig
}

// NewGated creates a gated retriever over backend.
func NewGated(backend Retriever, config RetrievalConfig) *Gated {
	if config.TopK <= 0 {
		config.TopK = DefaultConfig().TopK
	}
	return &Gated{backend: backend, config: config}
}

// #endregion gated

// #region retrieve
// Retrieve runs the pipeline:
//  1. Backend: nearest-neighbour search for TopK results
//  2. Distance: drop results beyond MaxDistance
//  3. Consistency: drop empty, overlong and duplicate texts, then rank
func (g *Gated) Retrieve(ctx context.Context, embedding []float32) (GateResult, error) {
	result := GateResult{}

	raw, err := g.backend.RetrieveSimilar(ctx, embedding, g.config.TopK)
	if err != nil {
		return result, fmt.Errorf("retrieval search: %w", err)
	}
	result.Gate1Count = len(raw)

	var near []Example
	for _, ex := range raw {
		if g.config.MaxDistance > 0 && ex.Distance != nil && *ex.Distance > g.config.MaxDistance {
			continue
		}
		near = append(near, ex)
	}
	result.Gate2Count = len(near)
	if result.Gate2Count == 0 {
		result.Reason = "gate2: no results within distance threshold"
		result.Retrieved = []Example{}
		return result, nil
	}

	result.Retrieved = Rank(g.consistencyCheck(near), g.config.TopK)
	result.Gate3Count = len(result.Retrieved)
	if result.Gate3Count == 0 {
		result.Reason = "gate3: all results failed consistency check"
	} else {
		result.Reason = fmt.Sprintf("retrieved %d exemplars (gate1=%d, gate2=%d, gate3=%d)",
			result.Gate3Count, result.Gate1Count, result.Gate2Count, result.Gate3Count)
	}
	return result, nil
}

// RetrieveSimilar implements Retriever. topK overrides the configured limit
// when positive.
func (g *Gated) RetrieveSimilar(ctx context.Context, embedding []float32, topK int) ([]Example, error) {
	if topK > 0 && topK != g.config.TopK {
		cp := *g
		cp.config.TopK = topK
		g = &cp
	}
	res, err := g.Retrieve(ctx, embedding)
	if err != nil {
		return nil, err
	}
	return res.Retrieved, nil
}

// #endregion retrieve

// #region consistency-check
// consistencyCheck validates exemplars against basic constraints:
//   - Non-empty text
//   - Text within MaxEvidenceLen
//   - No duplicate texts
func (g *Gated) consistencyCheck(results []Example) []Example {
	seen := make(map[string]bool)
	var valid []Example
	for _, ex := range results {
		if ex.Text == "" {
			continue
		}
		if g.config.MaxEvidenceLen > 0 && len(ex.Text) > g.config.MaxEvidenceLen {
			continue
		}
		if seen[ex.Text] {
			continue
		}
		seen[ex.Text] = true
		valid = append(valid, ex)
	}
	return valid
}

// #endregion consistency-check

// #region rank
// Priority is 1/(1+distance), or 1 when the distance is unknown.
func Priority(distance *float64) float64 {
	if distance == nil || *distance < 0 {
		return 1.0
	}
	return 1.0 / (1.0 + *distance)
}

// Rank assigns priorities, sorts best first (stable on input order) and
// keeps at most topK exemplars.
func Rank(examples []Example, topK int) []Example {
	out := make([]Example, len(examples))
	copy(out, examples)
	for i := range out {
		out[i].Priority = Priority(out[i].Distance)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// WithSeedEvidence prepends seed exemplars ahead of retrieved ones.
func WithSeedEvidence(seed, retrieved []Example) []Example {
	out := make([]Example, 0, len(seed)+len(retrieved))
	out = append(out, seed...)
	return append(out, retrieved...)
}

// #endregion rank
