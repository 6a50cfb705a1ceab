package main

// #region imports
import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/csdoge22/feedbackcurate/internal/logging"
	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #endregion

// #region flags

var inspectFlags struct {
	db      string
	last    int
	events  bool
	jsonOut bool
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize the run ledger: versions, round metrics and labeling events",
	RunE:  runInspect,
}

func init() {
	f := inspectCmd.Flags()
	f.StringVar(&inspectFlags.db, "db", "", "ledger database (default output.ledger_db)")
	f.IntVar(&inspectFlags.last, "last", 20, "show N most recent versions")
	f.BoolVar(&inspectFlags.events, "events", false, "include per-item labeling events of the latest run")
	f.BoolVar(&inspectFlags.jsonOut, "json", false, "output as JSON instead of tables")
}

// #endregion

// #region output-types

type inspectOutput struct {
	RunID    string        `json:"run_id"`
	Strategy string        `json:"strategy"`
	Versions []versionRow  `json:"versions"`
	Rounds   []roundRow    `json:"rounds"`
	Events   []eventRow    `json:"events,omitempty"`
	Summary  eventsSummary `json:"summary"`
}

type versionRow struct {
	VersionID  string `json:"version_id"`
	ParentID   string `json:"parent_id,omitempty"`
	Iteration  int    `json:"iteration"`
	NumLabeled int    `json:"num_labeled"`
	CreatedAt  string `json:"created_at"`
}

type roundRow struct {
	Iteration  int                `json:"iteration"`
	Strategy   string             `json:"strategy"`
	Lambda     *float64           `json:"lambda"`
	BatchSize  int                `json:"batch_size"`
	MacroScore *float64           `json:"macro_score"`
	NumLabeled int                `json:"num_labeled"`
	PerDimF1   map[string]float64 `json:"per_dimension_f1"`
}

type eventRow struct {
	Iteration int    `json:"iteration"`
	ItemIndex int    `json:"item_index"`
	Decision  string `json:"decision"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason,omitempty"`
}

type eventsSummary struct {
	Labeled int `json:"labeled"`
	Skipped int `json:"skipped"`
}

// #endregion

// #region inspect

func runInspect(cmd *cobra.Command, _ []string) error {
	path := inspectFlags.db
	if path == "" {
		path = cfg.Output.LedgerDB
	}
	store, err := state.NewStore(path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	out, err := collectInspect(store, inspectFlags.last, inspectFlags.events)
	if err != nil {
		return err
	}
	if inspectFlags.jsonOut {
		return printJSON(cmd.OutOrStdout(), out)
	}
	printInspect(cmd.OutOrStdout(), out)
	return nil
}

func collectInspect(store *state.Store, last int, withEvents bool) (inspectOutput, error) {
	var out inspectOutput

	versions, err := store.ListVersions(last)
	if err != nil {
		return out, err
	}
	// Newest first from the store; show chronologically.
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		out.Versions = append(out.Versions, versionRow{
			VersionID:  v.VersionID,
			ParentID:   v.ParentID,
			Iteration:  v.Iteration,
			NumLabeled: v.NumLabeled,
			CreatedAt:  v.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	run, err := store.LatestRun()
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.RunID = run.RunID
	out.Strategy = run.Strategy

	rounds, err := store.ListRoundMetrics(run.RunID)
	if err != nil {
		return out, err
	}
	for _, r := range rounds {
		out.Rounds = append(out.Rounds, roundRow{
			Iteration:  r.Iteration,
			Strategy:   r.Strategy,
			Lambda:     finitePtr(r.Lambda),
			BatchSize:  len(r.BatchIndices),
			MacroScore: finitePtr(r.MacroScore),
			NumLabeled: r.NumLabeled,
			PerDimF1:   r.PerDimF1,
		})
	}

	events, err := logging.ListEvents(store.DB(), run.RunID)
	if err != nil {
		return out, err
	}
	for _, ev := range events {
		switch ev.Decision {
		case logging.DecisionLabeled:
			out.Summary.Labeled++
		case logging.DecisionSkipped:
			out.Summary.Skipped++
		}
		if withEvents {
			out.Events = append(out.Events, eventRow{
				Iteration: ev.Iteration,
				ItemIndex: ev.ItemIndex,
				Decision:  ev.Decision,
				Attempts:  ev.Attempts,
				Reason:    ev.Reason,
			})
		}
	}
	return out, nil
}

// #endregion

// #region render

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).MarginTop(1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func printInspect(w io.Writer, out inspectOutput) {
	if len(out.Versions) == 0 {
		fmt.Fprintln(w, "no versions found")
		return
	}

	vt := newTable("Version", "Parent", "Iteration", "Labeled", "Time")
	for _, v := range out.Versions {
		vt.Row(shortID(v.VersionID), shortID(v.ParentID), fmt.Sprint(v.Iteration), fmt.Sprint(v.NumLabeled), v.CreatedAt)
	}
	fmt.Fprintln(w, titleStyle.Render("Versions"))
	fmt.Fprintln(w, vt.Render())

	if out.RunID == "" {
		return
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Run %s (%s)", shortID(out.RunID), out.Strategy)))
	rt := newTable("Round", "Strategy", "Lambda", "Batch", "Macro F1", "Labeled", "Per-dim F1")
	for _, r := range out.Rounds {
		rt.Row(fmt.Sprint(r.Iteration), r.Strategy, fmtPtr(r.Lambda, "%.2f"), fmt.Sprint(r.BatchSize),
			fmtPtr(r.MacroScore, "%.4f"), fmt.Sprint(r.NumLabeled), fmtDims(r.PerDimF1))
	}
	fmt.Fprintln(w, rt.Render())
	fmt.Fprintf(w, "Events: %d labeled, %d skipped\n", out.Summary.Labeled, out.Summary.Skipped)

	if len(out.Events) > 0 {
		et := newTable("Round", "Item", "Decision", "Attempts", "Reason")
		for _, ev := range out.Events {
			et.Row(fmt.Sprint(ev.Iteration), fmt.Sprint(ev.ItemIndex), ev.Decision, fmt.Sprint(ev.Attempts), ev.Reason)
		}
		fmt.Fprintln(w, et.Render())
	}
}

func fmtDims(m map[string]float64) string {
	dims := make([]string, 0, len(m))
	for d := range m {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprintf("%s=%.2f", d, m[d])
	}
	return strings.Join(parts, " ")
}

func fmtPtr(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// #endregion
