package artifact

import (
	"errors"

	"github.com/csdoge22/feedbackcurate/internal/model"
)

// File names inside an artifact root.
const (
	ManifestFile   = "artifact_manifest.json"
	ModelFile      = "model.json"
	VectorizerFile = "vectorizer.json"
	LabelsFile     = "labels.json"
	MetadataFile   = "metadata.json"
)

// Manifest defaults.
const (
	ArtifactVersion = "1.0"
	PipelineType    = "independent_per_dimension_classifiers"
	FormatVersion   = 1
)

// ErrMissingManifest is returned when an artifact root has no manifest.
var ErrMissingManifest = errors.New("missing " + ManifestFile)

// #region manifest
// Manifest describes a whole artifact root.
type Manifest struct {
	CreatedAt       float64  `json:"created_at"` // unix seconds
	ArtifactVersion string   `json:"artifact_version"`
	Dimensions      []string `json:"dimensions"`
	PipelineType    string   `json:"pipeline_type"`
}

// Metadata describes one dimension's bundle.
type Metadata struct {
	Dimension           string   `json:"dimension"`
	NumTrainingExamples int      `json:"num_training_examples"`
	CreatedAt           float64  `json:"created_at"`
	FormatVersion       int      `json:"format_version"`
	ModelType           string   `json:"model_type"`
	VectorizerType      string   `json:"vectorizer_type"`
	Labels              []string `json:"labels"`
}

// #endregion manifest

// #region loaded
// Loaded is one dimension's bundle read back from disk.
type Loaded struct {
	Model      *model.NaiveBayes
	Vectorizer *model.Vectorizer
	Labels     []string
	Metadata   Metadata
}

// #endregion loaded
