package main

// #region imports
import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/csdoge22/feedbackcurate/internal/replay"
	"github.com/csdoge22/feedbackcurate/internal/state"
	"github.com/csdoge22/feedbackcurate/internal/stopping"
)

// #endregion

// #region flags

var replayFlags struct {
	statePath     string
	fixturePath   string
	exportPath    string
	description   string
	meanKappa     float64
	floorKappa    float64
	window        int
	patience      int
	minIterations int
	jsonOut       bool
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-run the stopping rule over a recorded prediction history",
	Long: "replay feeds the stop-set snapshots of a saved state (or a fixture) through\n" +
		"a stopping controller with the given thresholds, without calling the oracle.",
	RunE: runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayFlags.statePath, "state", "", "state file (default output.state_file)")
	f.StringVar(&replayFlags.fixturePath, "fixture", "", "replay a fixture instead of a state file and check its expectations")
	f.StringVar(&replayFlags.exportPath, "export-fixture", "", "write the replayed history as a fixture to this path")
	f.StringVar(&replayFlags.description, "description", "", "fixture description for --export-fixture")
	f.Float64Var(&replayFlags.meanKappa, "mean-kappa", math.NaN(), "override stopping.mean_kappa_threshold")
	f.Float64Var(&replayFlags.floorKappa, "floor-kappa", math.NaN(), "override stopping.floor_kappa_threshold")
	f.IntVar(&replayFlags.window, "window", 0, "override stopping.window_size")
	f.IntVar(&replayFlags.patience, "patience", 0, "override stopping.patience")
	f.IntVar(&replayFlags.minIterations, "min-iterations", -1, "override stopping.min_iterations")
	f.BoolVar(&replayFlags.jsonOut, "json", false, "output as JSON")
}

// #endregion

// #region replay

type replayOutput struct {
	Config  stopping.Config      `json:"config"`
	Rounds  []replayRow          `json:"rounds"`
	Summary replay.ReplaySummary `json:"-"`
	Stopped int                  `json:"stopped_at"`
	Vetoes  int                  `json:"vetoes"`
}

type replayRow struct {
	Round         int      `json:"round"`
	Action        string   `json:"action"`
	MeanKappa     *float64 `json:"mean_kappa"`
	StableCounter int      `json:"stable_counter"`
	Reason        string   `json:"reason"`
}

func runReplay(cmd *cobra.Command, _ []string) error {
	dims := cfg.Dimensions
	conf := overrideStopping(cfg.StoppingConfig())

	var history state.PredictionHistory
	var fixture *replay.Fixture
	if replayFlags.fixturePath != "" {
		f, err := replay.LoadFixture(replayFlags.fixturePath)
		if err != nil {
			return err
		}
		fixture = f
		history = f.History()
		dims = f.Dimensions
		conf = overrideStopping(f.Config.ToStoppingConfig())
	} else {
		path := replayFlags.statePath
		if path == "" {
			path = cfg.Output.StateFile
		}
		st, err := state.Load(path)
		if err != nil {
			return err
		}
		history = st.History()
	}

	results, err := replay.Replay(history, dims, conf)
	if err != nil {
		return err
	}
	sum := replay.Summarize(results)

	out := replayOutput{Config: conf, Summary: sum, Stopped: sum.StoppedAt, Vetoes: sum.Vetoes}
	for _, r := range results {
		out.Rounds = append(out.Rounds, replayRow{
			Round:         r.Round,
			Action:        r.Action,
			MeanKappa:     finitePtr(r.Decision.MeanKappa),
			StableCounter: r.Decision.StableCounter,
			Reason:        r.Decision.Reason,
		})
	}

	if replayFlags.exportPath != "" {
		fx, err := replay.ExportFixture(replayFlags.description, history, dims, conf)
		if err != nil {
			return err
		}
		if err := writeJSONFile(replayFlags.exportPath, fx); err != nil {
			return err
		}
	}

	if replayFlags.jsonOut {
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		printReplay(cmd.OutOrStdout(), out)
	}

	if fixture != nil {
		return checkFixture(fixture, results)
	}
	return nil
}

func overrideStopping(c stopping.Config) stopping.Config {
	if !math.IsNaN(replayFlags.meanKappa) {
		c.MeanKappaThreshold = replayFlags.meanKappa
	}
	if !math.IsNaN(replayFlags.floorKappa) {
		c.FloorKappaThreshold = replayFlags.floorKappa
	}
	if replayFlags.window > 0 {
		c.WindowSize = replayFlags.window
	}
	if replayFlags.patience > 0 {
		c.Patience = replayFlags.patience
	}
	if replayFlags.minIterations >= 0 {
		c.MinIterations = replayFlags.minIterations
	}
	return c
}

// checkFixture compares replayed actions with the fixture's expectations.
func checkFixture(f *replay.Fixture, results []replay.ReplayResult) error {
	var mismatches []string
	for _, exp := range f.ExpectedResults {
		if exp.Round < 1 || exp.Round > len(results) {
			mismatches = append(mismatches, fmt.Sprintf("round %d: not replayed", exp.Round))
			continue
		}
		if got := results[exp.Round-1].Action; got != exp.Action {
			mismatches = append(mismatches, fmt.Sprintf("round %d: expected %s, got %s", exp.Round, exp.Action, got))
		}
	}
	if f.ExpectedStop > 0 {
		if got := replay.Summarize(results).StoppedAt; got != f.ExpectedStop {
			mismatches = append(mismatches, fmt.Sprintf("expected stop at round %d, got %d", f.ExpectedStop, got))
		}
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("fixture mismatch: %s", strings.Join(mismatches, "; "))
	}
	return nil
}

func printReplay(w io.Writer, out replayOutput) {
	t := newTable("Round", "Action", "Mean kappa", "Counter", "Reason")
	for _, r := range out.Rounds {
		t.Row(fmt.Sprint(r.Round), r.Action, fmtPtr(r.MeanKappa, "%.4f"), fmt.Sprint(r.StableCounter), r.Reason)
	}
	fmt.Fprintln(w, t.Render())
	c := out.Config
	fmt.Fprintf(w, "Config: window=%d patience=%d min=%d mean>=%.3f floor>=%.3f\n",
		c.WindowSize, c.Patience, c.MinIterations, c.MeanKappaThreshold, c.FloorKappaThreshold)
	if out.Stopped > 0 {
		fmt.Fprintf(w, "Would stop at round %d of %d (%d vetoes)\n", out.Stopped, out.Summary.TotalRounds, out.Vetoes)
	} else {
		fmt.Fprintf(w, "Would not stop within %d rounds (%d vetoes)\n", out.Summary.TotalRounds, out.Vetoes)
	}
}

// #endregion
