package model

import "errors"

// DefaultMaxFeatures bounds the vocabulary of each per-dimension vectorizer.
const DefaultMaxFeatures = 5000

// ErrEmptyVocabulary is returned when no n-gram survives tokenization.
var ErrEmptyVocabulary = errors.New("empty vocabulary")

// ErrNotFitted is returned when a transform or prediction runs before Fit.
var ErrNotFitted = errors.New("model not fitted")

// #region bundle
// Bundle is everything needed to reproduce one dimension's predictions
// without the training state.
type Bundle struct {
	Dimension           string
	Vectorizer          *Vectorizer
	Model               *NaiveBayes
	Labels              []string
	NumTrainingExamples int
}

// #endregion bundle

// SparseVector is a row of feature weights with ascending indices.
type SparseVector struct {
	Indices []int
	Values  []float64
}

// Len returns the number of non-zero entries.
func (v SparseVector) Len() int {
	return len(v.Indices)
}
