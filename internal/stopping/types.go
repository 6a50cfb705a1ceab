package stopping

import (
	"errors"
	"fmt"
)

// #region controller-state
// Phase is the controller's convergence state.
type Phase string

const (
	PhaseAccumulating Phase = "ACCUMULATING"
	PhaseStable       Phase = "STABLE"
)

// #endregion controller-state

// #region config
// Config holds the stopping criterion parameters.
type Config struct {
	MinIterations       int     // never stop before this many snapshots
	Patience            int     // consecutive qualifying rounds required
	WindowSize          int     // snapshots compared per round
	MeanKappaThreshold  float64 // mean kappa across dimensions must reach this
	FloorKappaThreshold float64 // every dimension must reach this
}

// DefaultConfig returns the settings used by labeling sessions.
func DefaultConfig() Config {
	return Config{
		MinIterations:       2,
		Patience:            2,
		WindowSize:          3,
		MeanKappaThreshold:  0.99,
		FloorKappaThreshold: 0.95,
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid stopping config")

// Validate checks parameter ranges.
func (c Config) Validate() error {
	switch {
	case c.WindowSize < 2:
		return fmt.Errorf("window_size %d < 2: %w", c.WindowSize, ErrInvalidConfig)
	case c.Patience < 1:
		return fmt.Errorf("patience %d < 1: %w", c.Patience, ErrInvalidConfig)
	case c.MinIterations < 0:
		return fmt.Errorf("min_iterations %d < 0: %w", c.MinIterations, ErrInvalidConfig)
	case c.MeanKappaThreshold < -1 || c.MeanKappaThreshold > 1:
		return fmt.Errorf("mean_kappa_threshold %.3f outside [-1,1]: %w", c.MeanKappaThreshold, ErrInvalidConfig)
	case c.FloorKappaThreshold < -1 || c.FloorKappaThreshold > 1:
		return fmt.Errorf("floor_kappa_threshold %.3f outside [-1,1]: %w", c.FloorKappaThreshold, ErrInvalidConfig)
	}
	return nil
}

// #endregion config

// #region veto-signal
// VetoSignal names a dimension whose window kappa fell below the floor.
type VetoSignal struct {
	Dimension string
	Kappa     float64
	Reason    string
}

// #endregion veto-signal

// #region decision
// Decision is the output of one Update.
type Decision struct {
	Stopped       bool
	Phase         Phase
	PerDimKappa   map[string]float64 // NaN where no pair was comparable
	MeanKappa     float64            // NaN until a window is complete
	StableCounter int
	Vetoed        bool
	VetoSignals   []VetoSignal
	Reason        string
}

// #endregion decision
