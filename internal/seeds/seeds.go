package seeds

import (
	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #region choices
// Choices lists the allowed labels per dimension. Impact has no "low".
var Choices = map[string][]state.LabelValue{
	"severity": {"low", "medium", "high"},
	"urgency":  {"low", "medium", "high"},
	"impact":   {"medium", "high"},
}

// ChoicesFor returns the allowed labels of dim, falling back to the
// severity scale for dimensions without their own list.
func ChoicesFor(dim string) []state.LabelValue {
	if c, ok := Choices[dim]; ok {
		return c
	}
	return Choices["severity"]
}

// #endregion choices

// #region factory
// Factory returns a seed factory that assigns labels round-robin by item
// index so the initial training set covers every label.
func Factory(dims []string) state.SeedFactory {
	if len(dims) == 0 {
		dims = state.DefaultDimensions
	}
	dims = append([]string(nil), dims...)
	return func(index int, _ string) state.Proposal {
		p := state.Proposal{
			Labels:      make(map[string]state.LabelValue, len(dims)),
			Confidences: make(map[string]float64, len(dims)),
			Rationale:   make(map[string]string, len(dims)),
			Evidence:    []state.Example{},
			Source:      state.SourceSeed,
			ModelID:     state.SourceSeed,
		}
		for _, dim := range dims {
			choices := ChoicesFor(dim)
			p.Labels[dim] = choices[index%len(choices)]
			p.Confidences[dim] = 1.0
			p.Rationale[dim] = "initial seed"
		}
		return p
	}
}

// #endregion factory

// #region priority
// Priority collapses per-dimension labels into one: high beats medium
// beats low.
func Priority(labels map[string]state.LabelValue) state.LabelValue {
	hasMedium := false
	for _, v := range labels {
		switch v {
		case "high":
			return "high"
		case "medium":
			hasMedium = true
		}
	}
	if hasMedium {
		return "medium"
	}
	return "low"
}

// #endregion priority
