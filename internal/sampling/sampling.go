package sampling

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

const entropyEps = 1e-12

// #region dispatch
// ParseKind maps a configuration string to a strategy kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownKind)
}

// For returns the strategy function for a kind.
func For(kind Kind) (Strategy, error) {
	switch kind {
	case KindLeastConfidence:
		return func(r []state.Record, n int, _ Params) []int { return LeastConfidence(r, n) }, nil
	case KindBALD:
		return func(r []state.Record, n int, _ Params) []int { return BALD(r, n) }, nil
	case KindCoreset:
		return func(r []state.Record, n int, _ Params) []int { return Coreset(r, n) }, nil
	case KindHybrid:
		return func(r []state.Record, n int, p Params) []int { return Hybrid(r, n, p.Lambda) }, nil
	}
	return nil, fmt.Errorf("%q: %w", kind, ErrUnknownKind)
}

// Select runs the strategy named by kind.
func Select(kind Kind, records []state.Record, n int, p Params) ([]int, error) {
	fn, err := For(kind)
	if err != nil {
		return nil, err
	}
	return fn(records, n, p), nil
}

// #endregion dispatch

// #region least-confidence
// LeastConfidence picks the unlabeled items whose weakest dimension
// confidence is lowest. Items with no confidence at all score 0 so cold
// items come first.
func LeastConfidence(records []state.Record, n int) []int {
	cands := make([]scored, 0, len(records))
	for _, r := range records {
		if r.Labeled {
			continue
		}
		cands = append(cands, scored{index: r.Index, score: -minConfidence(r.Confidences), signal: true})
	}
	return top(cands, n)
}

func minConfidence(conf map[string]float64) float64 {
	if len(conf) == 0 {
		return 0
	}
	m := math.Inf(1)
	for _, v := range conf {
		if v < m {
			m = v
		}
	}
	return m
}

// #endregion least-confidence

// #region bald
// BALD ranks unlabeled items by mutual information between the prediction
// and the model parameters, estimated from their MC samples and averaged
// across dimensions. Scores are normalized by their maximum.
func BALD(records []state.Record, n int) []int {
	cands := baldScores(records)
	normalizeByMax(cands)
	return top(cands, n)
}

func baldScores(records []state.Record) []scored {
	cands := make([]scored, 0, len(records))
	for _, r := range records {
		if r.Labeled {
			continue
		}
		c := scored{index: r.Index}
		var sum float64
		var dims int
		for _, dim := range sortedDims(r.MCSamples) {
			mi, ok := mutualInformation(r.MCSamples[dim])
			if !ok {
				continue
			}
			sum += mi
			dims++
		}
		if dims > 0 {
			c.score = sum / float64(dims)
			c.signal = true
		}
		cands = append(cands, c)
	}
	return cands
}

func sortedDims(m map[string][][]float64) []string {
	dims := make([]string, 0, len(m))
	for d := range m {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	return dims
}

// mutualInformation returns H(mean p) - mean H(p_t) over T probability
// vectors of equal length.
func mutualInformation(samples [][]float64) (float64, bool) {
	if len(samples) == 0 || len(samples[0]) == 0 {
		return 0, false
	}
	classes := len(samples[0])
	mean := make([]float64, classes)
	var expected float64
	for _, p := range samples {
		if len(p) != classes {
			return 0, false
		}
		for c, v := range p {
			mean[c] += v
		}
		expected += entropy(p)
	}
	t := float64(len(samples))
	for c := range mean {
		mean[c] /= t
	}
	mi := entropy(mean) - expected/t
	// Rounding can push an all-agreeing set of samples slightly negative.
	if mi < 0 {
		mi = 0
	}
	return mi, true
}

func entropy(p []float64) float64 {
	var h float64
	for _, v := range p {
		h -= v * math.Log(v+entropyEps)
	}
	return h
}

func normalizeByMax(cands []scored) {
	var max float64
	for _, c := range cands {
		if c.score > max {
			max = c.score
		}
	}
	if max <= 0 {
		return
	}
	for i := range cands {
		cands[i].score /= max
	}
}

// #endregion bald

// #region coreset
// Coreset picks the unlabeled items farthest from their nearest labeled
// neighbour in embedding space. With no labeled embeddings it falls back to
// the first n unlabeled items in index order.
func Coreset(records []state.Record, n int) []int {
	return top(coresetScores(records), n)
}

func coresetScores(records []state.Record) []scored {
	var centers [][]float32
	for _, r := range records {
		if r.Labeled && len(r.Embedding) > 0 {
			centers = append(centers, r.Embedding)
		}
	}
	cands := make([]scored, 0, len(records))
	for _, r := range records {
		if r.Labeled {
			continue
		}
		c := scored{index: r.Index}
		if len(centers) > 0 && len(r.Embedding) > 0 {
			c.score = nearestDistance(r.Embedding, centers)
			c.signal = true
		}
		cands = append(cands, c)
	}
	return cands
}

func nearestDistance(v []float32, centers [][]float32) float64 {
	best := math.Inf(1)
	for _, c := range centers {
		if d := euclidean(v, c); d < best {
			best = d
		}
	}
	return best
}

// euclidean treats missing trailing coordinates as zero so vectors of
// different lengths still compare.
func euclidean(a, b []float32) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = float64(a[i])
		}
		if i < len(b) {
			y = float64(b[i])
		}
		sum += (x - y) * (x - y)
	}
	return math.Sqrt(sum)
}

// #endregion coreset

// #region hybrid
// Hybrid blends min-max normalized coreset and BALD scores as
// lambda*coreset + (1-lambda)*bald. Lambda is clamped to [0,1].
func Hybrid(records []state.Record, n int, lambda float64) []int {
	lambda = math.Max(0, math.Min(1, lambda))
	// At either endpoint only one score contributes; rank it unnormalized.
	switch lambda {
	case 1:
		return Coreset(records, n)
	case 0:
		return BALD(records, n)
	}
	core := coresetScores(records)
	bald := baldScores(records)
	minMax(core)
	minMax(bald)

	cands := make([]scored, len(core))
	for i := range core {
		cands[i] = scored{
			index:  core[i].index,
			score:  lambda*core[i].score + (1-lambda)*bald[i].score,
			signal: (lambda > 0 && core[i].signal) || (lambda < 1 && bald[i].signal),
		}
	}
	return top(cands, n)
}

func minMax(cands []scored) {
	if len(cands) == 0 {
		return
	}
	lo, hi := cands[0].score, cands[0].score
	for _, c := range cands[1:] {
		lo = math.Min(lo, c.score)
		hi = math.Max(hi, c.score)
	}
	span := hi - lo
	for i := range cands {
		if span > 0 {
			cands[i].score = (cands[i].score - lo) / span
		} else {
			cands[i].score = 0
		}
	}
}

// #endregion hybrid

// #region ranking
// top orders candidates by score descending, then items with a signal
// first, then ascending index, and returns the first n indices.
func top(cands []scored, n int) []int {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.signal != b.signal {
			return a.signal
		}
		return a.index < b.index
	})
	if n < 0 {
		n = 0
	}
	if n > len(cands) {
		n = len(cands)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = cands[i].index
	}
	return out
}

// #endregion ranking
