package loop

import (
	"context"
	"fmt"

	"github.com/csdoge22/feedbackcurate/internal/embedding"
	"github.com/csdoge22/feedbackcurate/internal/sampling"
	"github.com/csdoge22/feedbackcurate/internal/seeds"
	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #region bootstrap
// Bootstrap embeds the pool, picks numSeeds diverse seed items, builds the
// state and labels the seeds with the deterministic seed factory. It
// returns the state and the seed indices.
func Bootstrap(ctx context.Context, texts []string, dims []string, enc embedding.Encoder, batchSize, numSeeds int) (*state.CurationState, []int, error) {
	if batchSize <= 0 {
		batchSize = 64
	}
	vecs := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		out, err := enc.Encode(ctx, texts[start:end])
		if err != nil {
			return nil, nil, fmt.Errorf("embed pool at %d: %w", start, err)
		}
		if len(out) != end-start {
			return nil, nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(out), end-start)
		}
		vecs = append(vecs, out...)
	}

	seedIdx := sampling.SelectSeeds(vecs, numSeeds)
	st, err := state.New(texts, seedIdx, seeds.Factory(dims))
	if err != nil {
		return nil, nil, err
	}
	for i, v := range vecs {
		if err := st.SetEmbedding(i, v); err != nil {
			return nil, nil, err
		}
	}
	labeled, err := st.LabelSeeds()
	if err != nil {
		return nil, nil, err
	}
	return st, labeled, nil
}

// #endregion bootstrap
