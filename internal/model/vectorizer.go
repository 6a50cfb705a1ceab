package model

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\b\w\w+\b`)

// #region vectorizer
// Vectorizer is a TF-IDF transform over word unigrams and bigrams with
// smoothed idf and L2-normalized rows.
type Vectorizer struct {
	MaxFeatures int            `json:"max_features"`
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf"`
}

// NewVectorizer returns an unfitted vectorizer. maxFeatures <= 0 selects
// DefaultMaxFeatures.
func NewVectorizer(maxFeatures int) *Vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	return &Vectorizer{MaxFeatures: maxFeatures}
}

// Fitted reports whether Fit has produced a vocabulary.
func (v *Vectorizer) Fitted() bool {
	return len(v.Vocabulary) > 0 && len(v.IDF) == len(v.Vocabulary)
}

// Fit learns the vocabulary and idf weights. The MaxFeatures most frequent
// terms across the corpus are kept, ties broken lexically.
func (v *Vectorizer) Fit(texts []string) error {
	termFreq := make(map[string]int)
	docFreq := make(map[string]int)
	for _, text := range texts {
		seen := make(map[string]bool)
		for _, term := range analyze(text) {
			termFreq[term]++
			if !seen[term] {
				seen[term] = true
				docFreq[term]++
			}
		}
	}
	if len(termFreq) == 0 {
		return fmt.Errorf("fit vectorizer on %d texts: %w", len(texts), ErrEmptyVocabulary)
	}

	terms := make([]string, 0, len(termFreq))
	for term := range termFreq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if termFreq[terms[i]] != termFreq[terms[j]] {
			return termFreq[terms[i]] > termFreq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > v.MaxFeatures {
		terms = terms[:v.MaxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(texts))
	v.Vocabulary = make(map[string]int, len(terms))
	v.IDF = make([]float64, len(terms))
	for i, term := range terms {
		v.Vocabulary[term] = i
		v.IDF[i] = math.Log((1+n)/(1+float64(docFreq[term]))) + 1
	}
	return nil
}

// Transform returns the normalized TF-IDF row for one text. Terms outside
// the vocabulary are ignored; a text with none yields an empty vector.
func (v *Vectorizer) Transform(text string) SparseVector {
	counts := make(map[int]float64)
	for _, term := range analyze(text) {
		if j, ok := v.Vocabulary[term]; ok {
			counts[j]++
		}
	}
	row := SparseVector{Indices: make([]int, 0, len(counts))}
	for j := range counts {
		row.Indices = append(row.Indices, j)
	}
	sort.Ints(row.Indices)
	row.Values = make([]float64, len(row.Indices))
	var norm float64
	for k, j := range row.Indices {
		w := counts[j] * v.IDF[j]
		row.Values[k] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for k := range row.Values {
			row.Values[k] /= norm
		}
	}
	return row
}

// TransformAll applies Transform to every text.
func (v *Vectorizer) TransformAll(texts []string) []SparseVector {
	out := make([]SparseVector, len(texts))
	for i, t := range texts {
		out[i] = v.Transform(t)
	}
	return out
}

// NumFeatures returns the vocabulary size.
func (v *Vectorizer) NumFeatures() int {
	return len(v.IDF)
}

// #endregion vectorizer

// #region analyze
// analyze lowercases, tokenizes, drops stop words and emits unigrams
// followed by bigrams of the surviving tokens.
func analyze(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, tok := range raw {
		if !stopwords[tok] {
			tokens = append(tokens, tok)
		}
	}
	out := make([]string, 0, 2*len(tokens))
	out = append(out, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

// #endregion analyze
