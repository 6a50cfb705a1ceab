package replay

import (
	"fmt"
	"math"

	"github.com/csdoge22/feedbackcurate/internal/state"
	"github.com/csdoge22/feedbackcurate/internal/stopping"
)

// #region types
// ReplayResult captures the stopping decision after one recorded round.
type ReplayResult struct {
	Round    int    // 1-based
	Action   string // "accumulate" | "veto" | "advance" | "stop"
	Decision stopping.Decision
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalRounds    int
	StoppedAt      int // first stopping round, 0 when the run never stops
	Vetoes         int
	FinalCounter   int
	FinalMeanKappa float64
	FinalPerDim    map[string]float64
}

// #endregion types

// #region replay
// Replay feeds every recorded snapshot through a fresh stopping controller
// built from config. It never calls the oracle and never touches a
// curation state, so thresholds can be tuned offline.
func Replay(history state.PredictionHistory, dims []string, config stopping.Config) ([]ReplayResult, error) {
	ctrl, err := stopping.NewController(config, dims)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	results := make([]ReplayResult, 0, history.Len())
	for i, snap := range history.Snapshots {
		d := ctrl.Update(snap)
		results = append(results, ReplayResult{
			Round:    i + 1,
			Action:   action(d),
			Decision: d,
		})
	}
	return results, nil
}

func action(d stopping.Decision) string {
	switch {
	case d.Stopped:
		return "stop"
	case d.Vetoed:
		return "veto"
	case d.StableCounter > 0:
		return "advance"
	}
	return "accumulate"
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{
		TotalRounds:    len(results),
		FinalMeanKappa: math.NaN(),
	}
	for _, r := range results {
		if r.Decision.Stopped && s.StoppedAt == 0 {
			s.StoppedAt = r.Round
		}
		if r.Decision.Vetoed {
			s.Vetoes++
		}
	}
	if n := len(results); n > 0 {
		last := results[n-1].Decision
		s.FinalCounter = last.StableCounter
		s.FinalMeanKappa = last.MeanKappa
		s.FinalPerDim = last.PerDimKappa
	}
	return s
}

// #endregion replay
