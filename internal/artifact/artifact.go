package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/csdoge22/feedbackcurate/internal/model"
)

// #region save
// Save writes one directory per bundle plus the root manifest. Existing
// bundles for the same dimensions are overwritten. Each file is replaced
// atomically.
func Save(root string, bundles []model.Bundle, now time.Time) (Manifest, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create artifact root: %w", err)
	}
	created := float64(now.UnixNano()) / 1e9

	dims := make([]string, 0, len(bundles))
	for _, b := range bundles {
		if b.Model == nil || b.Vectorizer == nil {
			return Manifest{}, fmt.Errorf("bundle %s: %w", b.Dimension, model.ErrNotFitted)
		}
		dir := filepath.Join(root, b.Dimension)
		meta := Metadata{
			Dimension:           b.Dimension,
			NumTrainingExamples: b.NumTrainingExamples,
			CreatedAt:           created,
			FormatVersion:       FormatVersion,
			ModelType:           model.ModelType,
			VectorizerType:      model.VectorizerType,
			Labels:              b.Labels,
		}
		files := []struct {
			name string
			v    any
		}{
			{ModelFile, b.Model},
			{VectorizerFile, b.Vectorizer},
			{LabelsFile, b.Labels},
			{MetadataFile, meta},
		}
		for _, f := range files {
			if err := writeJSON(filepath.Join(dir, f.name), f.v); err != nil {
				return Manifest{}, fmt.Errorf("bundle %s: %w", b.Dimension, err)
			}
		}
		dims = append(dims, b.Dimension)
	}

	m := Manifest{
		CreatedAt:       created,
		ArtifactVersion: ArtifactVersion,
		Dimensions:      dims,
		PipelineType:    PipelineType,
	}
	if err := writeJSON(filepath.Join(root, ManifestFile), m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// #endregion save

// #region load
// LoadManifest reads the root manifest.
func LoadManifest(root string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if os.IsNotExist(err) {
		return m, fmt.Errorf("%s: %w", root, ErrMissingManifest)
	}
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Load reads one bundle directory.
func Load(dir string) (Loaded, error) {
	var l Loaded
	if err := readJSON(filepath.Join(dir, MetadataFile), &l.Metadata); err != nil {
		return l, err
	}
	l.Model = &model.NaiveBayes{}
	if err := readJSON(filepath.Join(dir, ModelFile), l.Model); err != nil {
		return l, err
	}
	l.Vectorizer = &model.Vectorizer{}
	if err := readJSON(filepath.Join(dir, VectorizerFile), l.Vectorizer); err != nil {
		return l, err
	}
	if err := readJSON(filepath.Join(dir, LabelsFile), &l.Labels); err != nil {
		l.Labels = l.Metadata.Labels
	}
	if !l.Model.Fitted() || !l.Vectorizer.Fitted() {
		return l, fmt.Errorf("bundle %s: %w", dir, model.ErrNotFitted)
	}
	return l, nil
}

// LoadAll reads every bundle directory under root, keyed by the dimension
// recorded in its metadata. Plain files are ignored.
func LoadAll(root string) (map[string]Loaded, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read artifact root: %w", err)
	}
	out := make(map[string]Loaded)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		l, err := Load(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		out[l.Metadata.Dimension] = l
	}
	return out, nil
}

// #endregion load

// #region predictor
// Predictor serves predictions from loaded bundles without a curation state.
type Predictor struct {
	bundles map[string]Loaded
	dims    []string
}

// NewPredictor wraps loaded bundles.
func NewPredictor(bundles map[string]Loaded) *Predictor {
	dims := make([]string, 0, len(bundles))
	for d := range bundles {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	return &Predictor{bundles: bundles, dims: dims}
}

// Open loads the manifest and every bundle under root.
func Open(root string) (*Predictor, Manifest, error) {
	m, err := LoadManifest(root)
	if err != nil {
		return nil, m, err
	}
	bundles, err := LoadAll(root)
	if err != nil {
		return nil, m, err
	}
	return NewPredictor(bundles), m, nil
}

// Dimensions returns the predicted dimensions in sorted order.
func (p *Predictor) Dimensions() []string {
	return append([]string(nil), p.dims...)
}

// Predict labels one text on every dimension.
func (p *Predictor) Predict(text string) map[string]string {
	out := make(map[string]string, len(p.dims))
	for _, d := range p.dims {
		b := p.bundles[d]
		out[d] = b.Model.Predict(b.Vectorizer.Transform(text))
	}
	return out
}

// PredictProba returns class probabilities per dimension, aligned with the
// model's classes.
func (p *Predictor) PredictProba(text string) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(p.dims))
	for _, d := range p.dims {
		b := p.bundles[d]
		probs := b.Model.PredictProba(b.Vectorizer.Transform(text))
		m := make(map[string]float64, len(probs))
		for i, c := range b.Model.Classes {
			m[c] = probs[i]
		}
		out[d] = m
	}
	return out
}

// #endregion predictor

// #region io
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// #endregion io
