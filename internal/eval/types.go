package eval

// Placeholder stands in for a missing label or prediction so it can be
// compared like any other category.
const Placeholder = "__unknown__"

// #region eval-config
// EvalConfig holds thresholds for the per-round test-set evaluation.
type EvalConfig struct {
	MinMacroF1 float64 // informational: rounds below this are reported, never blocked
}

// DefaultEvalConfig returns the default thresholds.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{MinMacroF1: 0.5}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of one test-set evaluation.
type EvalResult struct {
	Passed      bool
	PerDimF1    map[string]float64
	PerDimKappa map[string]float64
	MacroF1     float64
	Metrics     []EvalMetric
	Reason      string
}

// #endregion eval-result
