package model

import (
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

// ModelType and VectorizerType name the per-dimension pipeline in artifacts.
const (
	ModelType      = "multinomial_nb"
	VectorizerType = "tfidf_word_1_2gram"
)

// #region confidence-model
// ConfidenceModel is one independent TF-IDF + naive Bayes classifier per
// dimension, retrained from scratch on every Fit.
type ConfidenceModel struct {
	dims        []string
	maxFeatures int
	fitted      map[string]*dimModel
	logger      *slog.Logger
}

type dimModel struct {
	vec    *Vectorizer
	nb     *NaiveBayes
	rows   []SparseVector
	labels []string
}

// NewConfidenceModel returns an unfitted model over dims. A nil logger uses
// slog.Default.
func NewConfidenceModel(dims []string, maxFeatures int, logger *slog.Logger) *ConfidenceModel {
	if len(dims) == 0 {
		dims = state.DefaultDimensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfidenceModel{
		dims:        append([]string(nil), dims...),
		maxFeatures: maxFeatures,
		fitted:      make(map[string]*dimModel),
		logger:      logger.With("component", "model"),
	}
}

// Dimensions returns the dimensions the model was built for.
func (m *ConfidenceModel) Dimensions() []string {
	return append([]string(nil), m.dims...)
}

// IsFitted reports whether dim has a trained classifier.
func (m *ConfidenceModel) IsFitted(dim string) bool {
	_, ok := m.fitted[dim]
	return ok
}

// #endregion confidence-model

// #region fit
// Fit retrains every dimension on the labeled records that carry a label
// for it. A dimension with fewer than two distinct labels stays unfitted.
func (m *ConfidenceModel) Fit(st *state.CurationState) {
	m.fitted = make(map[string]*dimModel)
	records := st.Records()

	for _, dim := range m.dims {
		var texts, labels []string
		distinct := make(map[string]bool)
		for _, r := range records {
			if !r.Labeled {
				continue
			}
			v, ok := r.Labels[dim]
			if !ok || v == "" {
				continue
			}
			texts = append(texts, r.Text)
			labels = append(labels, string(v))
			distinct[string(v)] = true
		}
		if len(distinct) < 2 {
			m.logger.Info("dimension left unfitted", "dimension", dim, "examples", len(texts), "distinct_labels", len(distinct))
			continue
		}

		vec := NewVectorizer(m.maxFeatures)
		if err := vec.Fit(texts); err != nil {
			m.logger.Warn("dimension left unfitted", "dimension", dim, "err", err)
			continue
		}
		rows := vec.TransformAll(texts)
		nb := NewNaiveBayes()
		if err := nb.Fit(rows, labels, vec.NumFeatures()); err != nil {
			m.logger.Warn("dimension left unfitted", "dimension", dim, "err", err)
			continue
		}
		m.fitted[dim] = &dimModel{vec: vec, nb: nb, rows: rows, labels: labels}
		m.logger.Info("fitted dimension", "dimension", dim, "examples", len(texts), "classes", len(nb.Classes))
	}
}

// #endregion fit

// #region confidences
// UpdateUnlabeledConfidences writes max class probability into every
// unlabeled record for every fitted dimension and returns the number of
// values written.
func (m *ConfidenceModel) UpdateUnlabeledConfidences(st *state.CurationState) (int, error) {
	if len(m.fitted) == 0 {
		return 0, nil
	}
	written := 0
	for _, r := range st.Records() {
		if r.Labeled {
			continue
		}
		for _, dim := range m.dims {
			dm, ok := m.fitted[dim]
			if !ok {
				continue
			}
			probs := dm.nb.PredictProba(dm.vec.Transform(r.Text))
			ok, err := st.SetConfidence(r.Index, dim, maxOf(probs))
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}
	}
	return written, nil
}

func maxOf(p []float64) float64 {
	var best float64
	for _, v := range p {
		if v > best {
			best = v
		}
	}
	return best
}

// #endregion confidences

// #region predict
// Predict returns, per dimension, one predicted label per text. Unfitted
// dimensions yield nil entries.
func (m *ConfidenceModel) Predict(texts []string) map[string][]*string {
	out := make(map[string][]*string, len(m.dims))
	for _, dim := range m.dims {
		preds := make([]*string, len(texts))
		if dm, ok := m.fitted[dim]; ok {
			for i, t := range texts {
				label := dm.nb.Predict(dm.vec.Transform(t))
				preds[i] = &label
			}
		}
		out[dim] = preds
	}
	return out
}

// Bundle returns the artifacts of a fitted dimension.
func (m *ConfidenceModel) Bundle(dim string) (Bundle, bool) {
	dm, ok := m.fitted[dim]
	if !ok {
		return Bundle{}, false
	}
	return Bundle{
		Dimension:           dim,
		Vectorizer:          dm.vec,
		Model:               dm.nb,
		Labels:              append([]string(nil), dm.nb.Classes...),
		NumTrainingExamples: len(dm.labels),
	}, true
}

// Bundles returns the bundles of every fitted dimension in dimension order.
func (m *ConfidenceModel) Bundles() []Bundle {
	var out []Bundle
	for _, dim := range m.dims {
		if b, ok := m.Bundle(dim); ok {
			out = append(out, b)
		}
	}
	return out
}

// #endregion predict

// #region mc-samples
// SampleMC attaches stochastic class-probability samples to every unlabeled
// record. Each sample comes from a naive Bayes refit on a bootstrap resample
// of the dimension's training rows; the vectorizer is shared. Results are
// deterministic for a given seed.
func (m *ConfidenceModel) SampleMC(st *state.CurationState, samples int, seed uint64) error {
	st.ClearMCSamples()
	if samples <= 0 || len(m.fitted) == 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	records := st.Records()
	var unlabeled []state.Record
	for _, r := range records {
		if !r.Labeled {
			unlabeled = append(unlabeled, r)
		}
	}

	dims := make([]string, 0, len(m.fitted))
	for dim := range m.fitted {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	for _, dim := range dims {
		dm := m.fitted[dim]
		rows := make([]SparseVector, len(unlabeled))
		for i, r := range unlabeled {
			rows[i] = dm.vec.Transform(r.Text)
		}

		perRecord := make([][][]float64, len(unlabeled))
		n := len(dm.rows)
		for s := 0; s < samples; s++ {
			bx := make([]SparseVector, n)
			by := make([]string, n)
			for k := 0; k < n; k++ {
				j := rng.IntN(n)
				bx[k] = dm.rows[j]
				by[k] = dm.labels[j]
			}
			nb := NewNaiveBayes()
			if err := nb.FitClasses(bx, by, dm.vec.NumFeatures(), dm.nb.Classes); err != nil {
				return err
			}
			for i := range unlabeled {
				perRecord[i] = append(perRecord[i], nb.PredictProba(rows[i]))
			}
		}
		for i, r := range unlabeled {
			if err := st.SetMCSamples(r.Index, dim, perRecord[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// #endregion mc-samples
