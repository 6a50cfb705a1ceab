package orchestrator

// #region imports
import (
	"time"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #endregion

// #region config

// Config tunes a labeling batch.
type Config struct {
	Dimensions       []string
	Choices          map[string][]state.LabelValue
	TopK             int           // exemplars shown per prompt
	MaxRetries       int           // extra attempts after a parse failure
	Workers          int           // concurrent oracle calls
	CallTimeout      time.Duration // per oracle call
	RetrievalTimeout time.Duration // per embedding or exemplar search; 0 = CallTimeout
	ModelID          string
}

// DefaultConfig returns the defaults used by the curate CLI.
func DefaultConfig() Config {
	return Config{
		Dimensions:       state.DefaultDimensions,
		TopK:             5,
		MaxRetries:       maxRetries,
		Workers:          4,
		CallTimeout:      60 * time.Second,
		RetrievalTimeout: 10 * time.Second,
	}
}

// #endregion

// #region attempt

// Attempt is one oracle call for one item.
type Attempt struct {
	Prompt  string
	Raw     string
	Outcome string // metrics.Outcome*
	Err     error
	Elapsed time.Duration
}

// itemResult is the outcome of labeling one index.
type itemResult struct {
	index    int
	proposal *state.Proposal
	attempts []Attempt
	reason   string
}

// #endregion

// #region report

// Report summarises one LabelBatch call.
type Report struct {
	Labeled  []int          // ascending
	Skipped  map[int]string // index -> reason
	Attempts int            // oracle calls made
}

// #endregion
