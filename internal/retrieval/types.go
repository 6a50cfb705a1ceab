package retrieval

import (
	"context"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

// Example is the exemplar shape shared with the label store.
type Example = state.Example

// #region retriever
// Retriever returns the nearest exemplars to an embedding, best first.
type Retriever interface {
	RetrieveSimilar(ctx context.Context, embedding []float32, topK int) ([]state.Example, error)
}

// #endregion retriever

// #region config
// RetrievalConfig holds thresholds and limits for the gated retrieval pipeline.
type RetrievalConfig struct {
	TopK           int     // max exemplars returned
	MaxDistance    float64 // similarity gate: drop results farther than this; 0 disables
	MaxEvidenceLen int     // max chars per exemplar text; 0 disables
}

// DefaultConfig returns sensible defaults for retrieval gating.
func DefaultConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:           5,
		MaxDistance:    0,
		MaxEvidenceLen: 2000,
	}
}

// #endregion config

// #region gate-result
// GateResult captures the outcome of the gated retrieval pipeline.
type GateResult struct {
	Gate1Count int             // results returned by the backend
	Gate2Count int             // results within the distance gate
	Gate3Count int             // results passing the consistency check
	Retrieved  []state.Example // final exemplars, best first
	Reason     string
}

// #endregion gate-result
