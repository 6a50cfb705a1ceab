package sampling

import (
	"errors"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #region kind
// Kind names one of the closed set of sampling strategies.
type Kind string

const (
	KindLeastConfidence Kind = "least_confidence"
	KindBALD            Kind = "bald"
	KindCoreset         Kind = "coreset"
	KindHybrid          Kind = "hybrid"
)

// Kinds lists every supported strategy in a stable order.
var Kinds = []Kind{KindLeastConfidence, KindBALD, KindCoreset, KindHybrid}

// ErrUnknownKind is returned when a configured strategy name is not recognized.
var ErrUnknownKind = errors.New("unknown sampling strategy")

// #endregion kind

// #region params
// Params carries strategy inputs that are not part of the records.
type Params struct {
	// Lambda weights coreset against BALD in the hybrid strategy.
	// 1.0 is pure coreset, 0.0 is pure BALD. Clamped to [0,1].
	Lambda float64
}

// Strategy is the shared shape of every sampling strategy. It returns up to
// n indices drawn only from unlabeled records.
type Strategy func(records []state.Record, n int, p Params) []int

// #endregion params

// #region scored
// scored is one unlabeled candidate. signal is false when the strategy had
// nothing to measure for the item (no MC samples, no embedding, cold start);
// such items rank after every item with a signal at equal score.
type scored struct {
	index  int
	score  float64
	signal bool
}

// #endregion scored
