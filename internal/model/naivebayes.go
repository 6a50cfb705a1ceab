package model

import (
	"fmt"
	"math"
	"sort"
)

// #region naive-bayes
// NaiveBayes is a multinomial naive Bayes classifier with additive
// smoothing, fitted on TF-IDF rows.
type NaiveBayes struct {
	Alpha          float64     `json:"alpha"`
	Classes        []string    `json:"classes"`
	ClassLogPrior  []float64   `json:"class_log_prior"`
	FeatureLogProb [][]float64 `json:"feature_log_prob"`
	NumFeatures    int         `json:"num_features"`
}

// NewNaiveBayes returns an unfitted classifier with alpha=1.
func NewNaiveBayes() *NaiveBayes {
	return &NaiveBayes{Alpha: 1}
}

// Fit trains on rows X with labels y. Classes are the sorted distinct labels.
func (nb *NaiveBayes) Fit(X []SparseVector, y []string, numFeatures int) error {
	seen := make(map[string]bool)
	var classes []string
	for _, label := range y {
		if !seen[label] {
			seen[label] = true
			classes = append(classes, label)
		}
	}
	sort.Strings(classes)
	return nb.FitClasses(X, y, numFeatures, classes)
}

// FitClasses trains with a fixed class list so probability vectors line up
// across refits. Classes absent from y get zero prior.
func (nb *NaiveBayes) FitClasses(X []SparseVector, y []string, numFeatures int, classes []string) error {
	if len(X) != len(y) {
		return fmt.Errorf("fit naive bayes: %d rows, %d labels", len(X), len(y))
	}
	if len(X) == 0 {
		return fmt.Errorf("fit naive bayes: no rows")
	}
	if nb.Alpha <= 0 {
		nb.Alpha = 1
	}
	pos := make(map[string]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}

	counts := make([][]float64, len(classes))
	for i := range counts {
		counts[i] = make([]float64, numFeatures)
	}
	classCount := make([]float64, len(classes))
	for i, row := range X {
		c, ok := pos[y[i]]
		if !ok {
			return fmt.Errorf("fit naive bayes: label %q not in classes", y[i])
		}
		classCount[c]++
		for k, j := range row.Indices {
			if j < numFeatures {
				counts[c][j] += row.Values[k]
			}
		}
	}

	nb.Classes = append([]string(nil), classes...)
	nb.NumFeatures = numFeatures
	nb.ClassLogPrior = make([]float64, len(classes))
	nb.FeatureLogProb = make([][]float64, len(classes))
	total := float64(len(X))
	for c := range classes {
		nb.ClassLogPrior[c] = math.Log(classCount[c] / total)
		var sum float64
		for _, v := range counts[c] {
			sum += v
		}
		denom := sum + nb.Alpha*float64(numFeatures)
		flp := make([]float64, numFeatures)
		for j, v := range counts[c] {
			flp[j] = math.Log((v + nb.Alpha) / denom)
		}
		nb.FeatureLogProb[c] = flp
	}
	return nil
}

// Fitted reports whether the classifier has been trained.
func (nb *NaiveBayes) Fitted() bool {
	return len(nb.Classes) > 0 && len(nb.FeatureLogProb) == len(nb.Classes)
}

// PredictProba returns class probabilities aligned with Classes.
func (nb *NaiveBayes) PredictProba(x SparseVector) []float64 {
	jll := make([]float64, len(nb.Classes))
	maxLL := math.Inf(-1)
	for c := range nb.Classes {
		ll := nb.ClassLogPrior[c]
		if !math.IsInf(ll, -1) {
			for k, j := range x.Indices {
				if j < nb.NumFeatures {
					ll += x.Values[k] * nb.FeatureLogProb[c][j]
				}
			}
		}
		jll[c] = ll
		if ll > maxLL {
			maxLL = ll
		}
	}
	probs := make([]float64, len(jll))
	var sum float64
	for c, ll := range jll {
		if math.IsInf(ll, -1) {
			continue
		}
		probs[c] = math.Exp(ll - maxLL)
		sum += probs[c]
	}
	for c := range probs {
		probs[c] /= sum
	}
	return probs
}

// Predict returns the most probable class, lowest class index on ties.
func (nb *NaiveBayes) Predict(x SparseVector) string {
	probs := nb.PredictProba(x)
	best := 0
	for c, p := range probs {
		if p > probs[best] {
			best = c
		}
	}
	return nb.Classes[best]
}

// #endregion naive-bayes
