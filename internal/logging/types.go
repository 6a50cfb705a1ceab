package logging

import "time"

// Decisions recorded in the label_events table.
const (
	DecisionLabeled = "labeled"
	DecisionSkipped = "skipped"
	DecisionRetried = "retried"
)

// #region label-event
// LabelEvent is a single row in the label_events table: one labeling
// attempt outcome for one item in one round.
type LabelEvent struct {
	RunID      string
	Iteration  int
	ItemIndex  int
	Decision   string // "labeled" | "skipped" | "retried"
	Source     string
	ModelID    string
	LabelsJSON string
	Reason     string
	Attempts   int
	CreatedAt  time.Time
}

// #endregion label-event
