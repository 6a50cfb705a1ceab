package state

import (
	"errors"
	"time"
)

// #region dimensions
// DefaultDimensions are the three ordinal axes every item is labeled on.
var DefaultDimensions = []string{"severity", "urgency", "impact"}

// SourceSeed marks records labeled during cold start.
const SourceSeed = "seed"

// #endregion dimensions

// #region errors
var (
	// ErrLengthMismatch is returned when parallel index/proposal slices differ in size.
	ErrLengthMismatch = errors.New("indices and proposals differ in length")
	// ErrIndexOutOfRange is returned for an index outside 0..N-1.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrCorruptState is returned when persisted state fails structural validation.
	ErrCorruptState = errors.New("corrupt curation state")
	// ErrEmptyLabels is returned when a record would be marked labeled with no labels.
	ErrEmptyLabels = errors.New("labels must not be empty")
)

// #endregion errors

// #region label-value
// LabelValue is one ordinal label, e.g. "low" or "high".
type LabelValue string

// #endregion label-value

// #region example
// Example is a retrieved exemplar shown to the oracle alongside the item.
type Example struct {
	Text     string            `json:"text"`
	Labels   map[string]string `json:"labels"`
	Priority float64           `json:"priority"`
	Metadata map[string]any    `json:"metadata"`
	Distance *float64          `json:"distance"`
}

// #endregion example

// #region proposal
// Proposal is the structured result of one labeling act.
type Proposal struct {
	Labels      map[string]LabelValue `json:"labels"`
	Confidences map[string]float64    `json:"confidences"`
	Rationale   map[string]string     `json:"rationale"`
	Evidence    []Example             `json:"evidence"`
	Source      string                `json:"source"`
	ModelID     string                `json:"model_id"`
}

// SeedFactory produces the deterministic cold-start proposal for a seed item.
type SeedFactory func(index int, text string) Proposal

// #endregion proposal

// #region record
// Record is the per-item entry of the label store. Index is assigned at
// pool construction and never changes.
type Record struct {
	Index        int                   `json:"index"`
	Text         string                `json:"text"`
	Labeled      bool                  `json:"labeled"`
	Labels       map[string]LabelValue `json:"labels"`
	Confidences  map[string]float64    `json:"confidences"`
	Rationale    map[string]string     `json:"rationale"`
	Evidence     []Example             `json:"evidence"`
	Source       string                `json:"source,omitempty"`
	ModelID      string                `json:"model_id,omitempty"`
	LabelSource  string                `json:"label_source,omitempty"`
	SeedProposal *Proposal             `json:"seed_proposal,omitempty"`
	Embedding    []float32             `json:"embedding,omitempty"`

	// MCSamples holds, per dimension, repeated stochastic class-probability
	// vectors for BALD. Recomputed every round, never persisted.
	MCSamples map[string][][]float64 `json:"-"`
}

// #endregion record

// #region snapshot
// Snapshot maps a stop-set position to its per-dimension predicted label.
// A nil label means the model produced no prediction for that dimension.
type Snapshot map[int]map[string]*string

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for idx, dims := range s {
		d := make(map[string]*string, len(dims))
		for dim, v := range dims {
			if v != nil {
				c := *v
				d[dim] = &c
			} else {
				d[dim] = nil
			}
		}
		out[idx] = d
	}
	return out
}

// #endregion snapshot

// #region version-record
// VersionRecord is one persisted checkpoint of the curation state in the run ledger.
type VersionRecord struct {
	VersionID  string
	RunID      string
	ParentID   string
	Iteration  int
	NumLabeled int
	StateJSON  []byte
	CreatedAt  time.Time
}

// RunRecord describes one curation run.
type RunRecord struct {
	RunID      string
	Strategy   string
	ConfigJSON string
	CreatedAt  time.Time
}

// RoundMetrics is the ledger copy of one metrics-log line.
type RoundMetrics struct {
	RunID        string
	Iteration    int
	BatchIndices []int
	Strategy     string
	Lambda       float64
	MacroScore   float64
	NumLabeled   int
	PerDimF1     map[string]float64
	PerDimKappa  map[string]float64
	CreatedAt    time.Time
}

// #endregion version-record
