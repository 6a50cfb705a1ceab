package main

// #region imports
import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #endregion

// #region flags

var exportFlags struct {
	statePath string
	outPath   string
	version   string
	evidence  bool
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write labeled records as JSON lines",
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.statePath, "state", "", "state file (default output.state_file)")
	f.StringVar(&exportFlags.version, "version", "", "export a ledger version instead of the state file")
	f.StringVar(&exportFlags.outPath, "out", "", "output path (default stdout)")
	f.BoolVar(&exportFlags.evidence, "evidence", false, "include retrieved exemplars")
}

// #endregion

// #region export

// exportRow is one labeled item. Labels use the same keys as the stop and
// test files so an export can seed a new labeled split.
type exportRow struct {
	Index       int                `json:"index"`
	Text        string             `json:"feedback_text"`
	Labels      map[string]string  `json:"labels"`
	Confidences map[string]float64 `json:"confidences"`
	Rationale   map[string]string  `json:"rationale,omitempty"`
	Source      string             `json:"source"`
	ModelID     string             `json:"model_id,omitempty"`
	Evidence    []state.Example    `json:"evidence,omitempty"`
}

func runExport(cmd *cobra.Command, _ []string) error {
	st, err := exportSource()
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportFlags.outPath != "" {
		f, err := os.Create(exportFlags.outPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportFlags.outPath, err)
		}
		defer f.Close()
		w = f
	}
	n, err := writeLabeled(w, st, exportFlags.evidence)
	if err != nil {
		return err
	}
	if exportFlags.outPath != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "exported %d labeled records to %s\n", n, exportFlags.outPath)
	}
	return nil
}

func exportSource() (*state.CurationState, error) {
	if exportFlags.version == "" {
		path := exportFlags.statePath
		if path == "" {
			path = cfg.Output.StateFile
		}
		return state.Load(path)
	}
	store, err := state.NewStore(cfg.Output.LedgerDB)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()
	rec, err := store.GetVersion(exportFlags.version)
	if err != nil {
		return nil, err
	}
	return state.Decode(rec.StateJSON)
}

// writeLabeled writes one JSON object per labeled record in index order and
// returns how many it wrote.
func writeLabeled(w io.Writer, st *state.CurationState, withEvidence bool) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	n := 0
	for _, r := range st.Records() {
		if !r.Labeled {
			continue
		}
		row := exportRow{
			Index:       r.Index,
			Text:        r.Text,
			Labels:      make(map[string]string, len(r.Labels)),
			Confidences: r.Confidences,
			Rationale:   r.Rationale,
			Source:      r.Source,
			ModelID:     r.ModelID,
		}
		for dim, v := range r.Labels {
			row.Labels[dim] = string(v)
		}
		if withEvidence {
			row.Evidence = r.Evidence
		}
		if err := enc.Encode(row); err != nil {
			return n, fmt.Errorf("encode record %d: %w", r.Index, err)
		}
		n++
	}
	return n, bw.Flush()
}

// #endregion
