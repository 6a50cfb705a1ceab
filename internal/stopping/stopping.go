package stopping

import (
	"fmt"
	"math"
	"sort"

	"github.com/csdoge22/feedbackcurate/internal/eval"
	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #region controller
// Controller tracks stop-set prediction snapshots and decides when
// predictions have stabilized.
type Controller struct {
	config        Config
	dims          []string
	history       state.PredictionHistory
	stableCounter int
	lastKappa     map[string]float64
}

// NewController creates a controller over dims.
func NewController(config Config, dims []string) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if len(dims) == 0 {
		dims = state.DefaultDimensions
	}
	c := &Controller{config: config, dims: append([]string(nil), dims...)}
	c.Reset()
	return c, nil
}

// Config returns the controller's parameters.
func (c *Controller) Config() Config {
	return c.config
}

// Reset clears history, the stability counter and the last kappas.
func (c *Controller) Reset() {
	c.history = state.PredictionHistory{}
	c.stableCounter = 0
	c.lastKappa = make(map[string]float64, len(c.dims))
	for _, dim := range c.dims {
		c.lastKappa[dim] = math.NaN()
	}
}

// LastPerDimKappa returns a copy of the most recent per-dimension kappas.
func (c *Controller) LastPerDimKappa() map[string]float64 {
	out := make(map[string]float64, len(c.lastKappa))
	for k, v := range c.lastKappa {
		out[k] = v
	}
	return out
}

// StableCounter returns the number of consecutive qualifying rounds.
func (c *Controller) StableCounter() int {
	return c.stableCounter
}

// #endregion controller

// #region update
// Update appends a snapshot and evaluates the most recent window. Any
// dimension whose mean kappa falls below the floor vetoes convergence and
// resets the counter; otherwise the counter advances when the mean across
// dimensions reaches the threshold and resets when it does not.
func (c *Controller) Update(snap state.Snapshot) Decision {
	c.history.Add(snap)

	d := Decision{
		Phase:       PhaseAccumulating,
		PerDimKappa: c.LastPerDimKappa(),
		MeanKappa:   math.NaN(),
	}

	window, err := c.history.LastK(c.config.WindowSize)
	if err != nil {
		d.StableCounter = c.stableCounter
		d.Reason = fmt.Sprintf("accumulating: %d of %d snapshots", c.history.Len(), c.config.WindowSize)
		return d
	}

	for _, dim := range c.dims {
		var ks []float64
		for i := 0; i+1 < len(window); i++ {
			a, b := sequences(window[i], window[i+1], dim)
			if k := eval.CohenKappa(a, b); !math.IsNaN(k) {
				ks = append(ks, k)
			}
		}
		c.lastKappa[dim] = mean(ks)
	}
	d.PerDimKappa = c.LastPerDimKappa()

	// --- Floor veto pass ---
	for _, dim := range c.dims {
		k := c.lastKappa[dim]
		if !math.IsNaN(k) && k < c.config.FloorKappaThreshold {
			d.VetoSignals = append(d.VetoSignals, VetoSignal{
				Dimension: dim,
				Kappa:     k,
				Reason:    fmt.Sprintf("%s kappa %.4f below floor %.4f", dim, k, c.config.FloorKappaThreshold),
			})
		}
	}
	d.MeanKappa = eval.MeanIgnoringNaN(c.lastKappa)

	if len(d.VetoSignals) > 0 {
		c.stableCounter = 0
		d.Vetoed = true
		d.StableCounter = 0
		d.Reason = fmt.Sprintf("floor veto: %s", d.VetoSignals[0].Reason)
		return d
	}

	if math.IsNaN(d.MeanKappa) {
		d.StableCounter = c.stableCounter
		d.Reason = "no comparable dimension in window"
		return d
	}

	// --- Mean threshold ---
	if d.MeanKappa >= c.config.MeanKappaThreshold {
		c.stableCounter++
	} else {
		c.stableCounter = 0
	}
	d.StableCounter = c.stableCounter

	switch {
	case c.stableCounter < c.config.Patience:
		d.Reason = fmt.Sprintf("mean kappa %.4f, stable %d/%d", d.MeanKappa, c.stableCounter, c.config.Patience)
	case c.history.Len() < c.config.MinIterations:
		d.Reason = fmt.Sprintf("stable but only %d of %d minimum rounds", c.history.Len(), c.config.MinIterations)
	default:
		d.Stopped = true
		d.Phase = PhaseStable
		d.Reason = fmt.Sprintf("stable: mean kappa %.4f for %d rounds", d.MeanKappa, c.stableCounter)
	}
	return d
}

// #endregion update

// #region helpers
// sequences aligns two snapshots on the union of their item indices.
// Missing items or dimensions become the placeholder category.
func sequences(a, b state.Snapshot, dim string) ([]string, []string) {
	seen := make(map[int]bool, len(a))
	var idx []int
	for i := range a {
		seen[i] = true
		idx = append(idx, i)
	}
	for i := range b {
		if !seen[i] {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)

	sa := make([]string, len(idx))
	sb := make([]string, len(idx))
	for k, i := range idx {
		sa[k] = label(a, i, dim)
		sb[k] = label(b, i, dim)
	}
	return sa, sb
}

func label(s state.Snapshot, idx int, dim string) string {
	if v := s[idx][dim]; v != nil {
		return *v
	}
	return eval.Placeholder
}

func mean(ks []float64) float64 {
	if len(ks) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, k := range ks {
		sum += k
	}
	return sum / float64(len(ks))
}

// #endregion helpers
