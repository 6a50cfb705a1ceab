package eval

import (
	"fmt"
	"math"
	"sort"
)

// #region eval-harness
// EvalHarness scores model predictions against a labeled test set.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run scores predictions per dimension. truth and predictions map a
// dimension to one entry per test item; nil entries are compared as the
// placeholder category. The macro F1 check is informational.
func (h *EvalHarness) Run(truth, predictions map[string][]*string, dims []string) EvalResult {
	if len(dims) == 0 {
		for dim := range truth {
			dims = append(dims, dim)
		}
		sort.Strings(dims)
	}

	res := EvalResult{
		PerDimF1:    make(map[string]float64, len(dims)),
		PerDimKappa: make(map[string]float64, len(dims)),
	}
	var failReasons []string

	for _, dim := range dims {
		t := Normalize(truth[dim])
		p := Normalize(predictions[dim])
		if len(t) != len(p) {
			failReasons = append(failReasons, fmt.Sprintf("%s: %d labels, %d predictions", dim, len(t), len(p)))
		}
		f1 := MacroF1(t, p)
		kappa := CohenKappa(t, p)
		res.PerDimF1[dim] = f1
		res.PerDimKappa[dim] = kappa
		res.Metrics = append(res.Metrics,
			EvalMetric{Name: fmt.Sprintf("%s_f1", dim), Value: f1, Pass: f1 >= h.config.MinMacroF1},
			EvalMetric{Name: fmt.Sprintf("%s_kappa", dim), Value: kappa, Pass: !math.IsNaN(kappa)},
		)
	}

	res.MacroF1 = MeanIgnoringNaN(res.PerDimF1)
	if len(dims) == 0 {
		res.MacroF1 = 0
	}
	macroPass := res.MacroF1 >= h.config.MinMacroF1
	res.Metrics = append(res.Metrics, EvalMetric{Name: "macro_f1", Value: res.MacroF1, Pass: macroPass})

	res.Passed = len(failReasons) == 0 && macroPass
	switch {
	case len(failReasons) > 0:
		res.Reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			res.Reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	case !macroPass:
		res.Reason = fmt.Sprintf("macro f1 %.4f below %.4f", res.MacroF1, h.config.MinMacroF1)
	default:
		res.Reason = "all checks passed"
	}
	return res
}

// #endregion eval-harness
