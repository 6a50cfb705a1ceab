package retrieval

import (
	"context"
	"math"
	"sort"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #region memory-retriever
// MemoryRetriever searches the labeled, embedded records of a curation state
// by cosine distance. It needs no external service.
type MemoryRetriever struct {
	st *state.CurationState
}

// NewMemoryRetriever creates a retriever over st.
func NewMemoryRetriever(st *state.CurationState) *MemoryRetriever {
	return &MemoryRetriever{st: st}
}

// RetrieveSimilar implements Retriever.
func (m *MemoryRetriever) RetrieveSimilar(ctx context.Context, embedding []float32, topK int) ([]Example, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(embedding) == 0 || topK <= 0 {
		return []Example{}, nil
	}

	type hit struct {
		rec  state.Record
		dist float64
	}
	var hits []hit
	for _, r := range m.st.Records() {
		if !r.Labeled || len(r.Embedding) == 0 {
			continue
		}
		hits = append(hits, hit{rec: r, dist: cosineDistance(embedding, r.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].rec.Index < hits[j].rec.Index
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]Example, 0, len(hits))
	for _, h := range hits {
		d := h.dist
		labels := make(map[string]string, len(h.rec.Labels))
		for k, v := range h.rec.Labels {
			labels[k] = string(v)
		}
		out = append(out, Example{
			Text:     h.rec.Text,
			Labels:   labels,
			Distance: &d,
			Metadata: map[string]any{
				"index":  h.rec.Index,
				"source": h.rec.Source,
			},
		})
	}
	return out, nil
}

// #endregion memory-retriever

// #region cosine
// cosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		na += float64(v) * float64(v)
	}
	for _, v := range b {
		nb += float64(v) * float64(v)
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// #endregion cosine
