package eval

import (
	"math"
	"sort"
)

// #region normalize
// Normalize replaces nil entries with Placeholder.
func Normalize(values []*string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = Placeholder
		} else {
			out[i] = *v
		}
	}
	return out
}

// #endregion normalize

// #region cohen-kappa
// CohenKappa returns chance-corrected agreement between two labelings of the
// same items. It returns NaN when the sequences differ in length, hold fewer
// than two items, or either one uses fewer than two distinct labels.
func CohenKappa(a, b []string) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return math.NaN()
	}
	if len(distinct(a, nil)) < 2 || len(distinct(b, nil)) < 2 {
		return math.NaN()
	}
	labels := distinct(a, b)

	n := float64(len(a))
	countA := make(map[string]float64)
	countB := make(map[string]float64)
	var agree float64
	for i := range a {
		countA[a[i]]++
		countB[b[i]]++
		if a[i] == b[i] {
			agree++
		}
	}
	po := agree / n
	var pe float64
	for _, l := range labels {
		pe += (countA[l] / n) * (countB[l] / n)
	}
	if pe >= 1 {
		return math.NaN()
	}
	return (po - pe) / (1 - pe)
}

// #endregion cohen-kappa

// #region macro-f1
// MacroF1 is the unweighted mean of per-label F1 over every label seen in
// either sequence. Labels with no support and no predictions score 0;
// mismatched or empty input scores 0.
func MacroF1(truth, pred []string) float64 {
	if len(truth) != len(pred) || len(truth) == 0 {
		return 0
	}
	labels := distinct(truth, pred)
	var sum float64
	for _, l := range labels {
		var tp, fp, fn float64
		for i := range truth {
			switch {
			case truth[i] == l && pred[i] == l:
				tp++
			case truth[i] != l && pred[i] == l:
				fp++
			case truth[i] == l && pred[i] != l:
				fn++
			}
		}
		if denom := 2*tp + fp + fn; denom > 0 {
			sum += 2 * tp / denom
		}
	}
	return sum / float64(len(labels))
}

// #endregion macro-f1

// #region mean
// MeanIgnoringNaN averages the finite values of m in key order, so equal
// inputs always give the same bits. It returns NaN when no value is finite.
func MeanIgnoringNaN(m map[string]float64) float64 {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sum float64
	var n int
	for _, k := range keys {
		v := m[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func distinct(a, b []string) []string {
	seen := make(map[string]bool)
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		seen[v] = true
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// #endregion mean
