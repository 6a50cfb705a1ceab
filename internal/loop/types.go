package loop

import (
	"context"

	"github.com/csdoge22/feedbackcurate/internal/orchestrator"
	"github.com/csdoge22/feedbackcurate/internal/sampling"
	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #region reasons
// Reasons a run ends.
const (
	ReasonExhausted  = "exhausted"
	ReasonStable     = "stable"
	ReasonEmptyBatch = "empty_batch"
	ReasonCancelled  = "cancelled"
	ReasonMaxRounds  = "max_iterations"
)

// #endregion reasons

// #region config
// Config drives the rounds of one run.
type Config struct {
	Dimensions    []string
	Strategy      sampling.Kind     // used when Scheduled is false
	Params        sampling.Params   // used when Scheduled is false
	Scheduled     bool              // follow Schedule instead of Strategy
	Schedule      sampling.Schedule
	BatchSize     int
	MaxIterations int // 0 = unbounded
	MCSamples     int
	Seed          uint64
	ArtifactDir   string // "" skips artifacts
	StatePath     string // "" skips the JSON state file
	RunID         string
}

// #endregion config

// #region collaborators
// Labeler runs the oracle over a batch. *orchestrator.Orchestrator is the
// production implementation.
type Labeler interface {
	SetRound(runID string, iteration int)
	LabelBatch(ctx context.Context, st *state.CurationState, indices []int) (orchestrator.Report, error)
}

// Indexer publishes labeled records to an external exemplar store after
// every round.
type Indexer interface {
	IndexLabeled(ctx context.Context, records []state.Record) (int, error)
}

// #endregion collaborators

// #region summary
// Summary describes how a run ended.
type Summary struct {
	Iterations int
	Reason     string
	NumLabeled int
	LastRound  *Round
}

// Round is what one iteration did.
type Round struct {
	Iteration   int
	Strategy    sampling.Kind
	Lambda      float64
	Batch       []int
	Labeled     []int
	Skipped     map[int]string
	MacroF1     float64 // NaN without a test set
	PerDimF1    map[string]float64
	PerDimKappa map[string]float64
	StopKappa   map[string]float64
	MeanKappa   float64
	Stopped     bool
}

// #endregion summary
