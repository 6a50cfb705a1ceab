package main

// #region imports
import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/csdoge22/feedbackcurate/internal/artifact"
)

// #endregion

// #region flags

var predictFlags struct {
	artifactDir string
	proba       bool
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Label lines read from stdin with the saved model artifacts",
	RunE:  runPredict,
}

func init() {
	f := predictCmd.Flags()
	f.StringVar(&predictFlags.artifactDir, "artifacts", "", "artifact directory (default output.artifact_dir)")
	f.BoolVar(&predictFlags.proba, "proba", false, "include class probabilities")
}

// #endregion

// #region predict

type prediction struct {
	Text          string                        `json:"text"`
	Labels        map[string]string             `json:"labels"`
	Probabilities map[string]map[string]float64 `json:"probabilities,omitempty"`
}

func runPredict(cmd *cobra.Command, _ []string) error {
	dir := predictFlags.artifactDir
	if dir == "" {
		dir = cfg.Output.ArtifactDir
	}
	p, manifest, err := artifact.Open(dir)
	if err != nil {
		return err
	}
	logger.Debug("loaded artifacts", "dir", dir, "dimensions", manifest.Dimensions,
		"artifact_version", manifest.ArtifactVersion)
	return predictLines(cmd.InOrStdin(), cmd.OutOrStdout(), p, predictFlags.proba)
}

// predictLines writes one JSON prediction per non-blank input line.
func predictLines(r io.Reader, w io.Writer, p *artifact.Predictor, withProba bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(w)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		out := prediction{Text: text, Labels: p.Predict(text)}
		if withProba {
			out.Probabilities = p.PredictProba(text)
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode prediction: %w", err)
		}
	}
	return sc.Err()
}

// #endregion
