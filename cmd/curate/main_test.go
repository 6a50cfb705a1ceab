package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csdoge22/feedbackcurate/internal/artifact"
	"github.com/csdoge22/feedbackcurate/internal/logging"
	"github.com/csdoge22/feedbackcurate/internal/model"
	"github.com/csdoge22/feedbackcurate/internal/replay"
	"github.com/csdoge22/feedbackcurate/internal/seeds"
	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #region helpers
var dims = state.DefaultDimensions

func seededState(t *testing.T) *state.CurationState {
	t.Helper()
	texts := []string{
		"app crashes on startup every time",
		"please add a dark theme option",
		"payment page throws an error",
		"typo on the about page",
	}
	st, err := state.New(texts, []int{0, 1, 2}, seeds.Factory(dims))
	require.NoError(t, err)
	_, err = st.LabelSeeds()
	require.NoError(t, err)
	return st
}

// #endregion helpers

func TestWriteLabeled_OnlyLabeledInIndexOrder(t *testing.T) {
	st := seededState(t)
	var buf bytes.Buffer
	n, err := writeLabeled(&buf, st, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var first exportRow
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, "app crashes on startup every time", first.Text)
	assert.Equal(t, "low", first.Labels["severity"])
	assert.Equal(t, state.SourceSeed, first.Source)
	assert.Nil(t, first.Evidence)
}

func TestPredictLines_SkipsBlankLines(t *testing.T) {
	st := seededState(t)
	m := model.NewConfidenceModel(dims, model.DefaultMaxFeatures, nil)
	m.Fit(st)
	dir := t.TempDir()
	_, err := artifact.Save(dir, m.Bundles(), time.Now())
	require.NoError(t, err)
	p, _, err := artifact.Open(dir)
	require.NoError(t, err)

	var out bytes.Buffer
	in := strings.NewReader("app crashes again\n\n   \ndark theme please\n")
	require.NoError(t, predictLines(in, &out, p, true))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var got prediction
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, "dark theme please", got.Text)
	assert.Len(t, got.Labels, 3)
	assert.Len(t, got.Probabilities, 3)
}

func TestCollectInspect_SummarizesLatestRun(t *testing.T) {
	store, err := state.NewStore(filepath.Join(t.TempDir(), "curation.db"))
	require.NoError(t, err)
	defer store.Close()

	run, err := store.CreateRun("hybrid", "")
	require.NoError(t, err)
	st := seededState(t)
	_, err = store.CommitVersion(run.RunID, 0, st)
	require.NoError(t, err)
	_, err = store.CommitVersion(run.RunID, 1, st)
	require.NoError(t, err)
	require.NoError(t, store.RecordRoundMetrics(state.RoundMetrics{
		RunID:        run.RunID,
		Iteration:    1,
		BatchIndices: []int{3},
		Strategy:     "coreset",
		Lambda:       1,
		MacroScore:   math.NaN(),
		NumLabeled:   3,
		CreatedAt:    time.Now(),
	}))
	for _, ev := range []logging.LabelEvent{
		{RunID: run.RunID, Iteration: 1, ItemIndex: 3, Decision: logging.DecisionSkipped, Reason: "timeout"},
		{RunID: run.RunID, Iteration: 1, ItemIndex: 2, Decision: logging.DecisionLabeled},
	} {
		require.NoError(t, logging.LogEvent(store.DB(), ev))
	}

	out, err := collectInspect(store, 10, true)
	require.NoError(t, err)
	require.Len(t, out.Versions, 2)
	assert.Equal(t, 0, out.Versions[0].Iteration)
	assert.Equal(t, out.Versions[0].VersionID, out.Versions[1].ParentID)
	assert.Equal(t, run.RunID, out.RunID)
	require.Len(t, out.Rounds, 1)
	assert.Nil(t, out.Rounds[0].MacroScore)
	require.NotNil(t, out.Rounds[0].Lambda)
	assert.Equal(t, 1.0, *out.Rounds[0].Lambda)
	assert.Equal(t, eventsSummary{Labeled: 1, Skipped: 1}, out.Summary)
	assert.Len(t, out.Events, 2)

	var buf bytes.Buffer
	printInspect(&buf, out)
	assert.Contains(t, buf.String(), "Versions")
	assert.Contains(t, buf.String(), "coreset")
}

func TestCollectInspect_EmptyLedger(t *testing.T) {
	store, err := state.NewStore(filepath.Join(t.TempDir(), "curation.db"))
	require.NoError(t, err)
	defer store.Close()

	out, err := collectInspect(store, 10, false)
	require.NoError(t, err)
	assert.Empty(t, out.Versions)
	assert.Empty(t, out.RunID)
}

func TestCheckFixture_ReportsMismatches(t *testing.T) {
	f, err := replay.LoadFixture(filepath.Join("..", "..", "internal", "replay", "testdata", "converging_run.json"))
	require.NoError(t, err)
	results, err := replay.Replay(f.History(), f.Dimensions, f.Config.ToStoppingConfig())
	require.NoError(t, err)
	assert.NoError(t, checkFixture(f, results))

	f.ExpectedStop = 2
	err = checkFixture(f, results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected stop at round 2")
}

func TestResumeState_PrefersSourceWithMoreRounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "curation_state.json")
	store, err := state.NewStore(filepath.Join(dir, "curation.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = resumeState(path, store, slog.Default())
	require.Error(t, err)

	stale := seededState(t)
	require.NoError(t, stale.Save(path))
	got, err := resumeState(path, store, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 0, got.History().Len())

	newer := seededState(t)
	p := state.Proposal{Labels: map[string]state.LabelValue{"severity": "high"}}
	require.NoError(t, newer.MarkAsLabeled([]int{3}, []state.Proposal{p}))
	newer.AddSnapshot(state.Snapshot{})
	run, err := store.CreateRun("coreset", "")
	require.NoError(t, err)
	_, err = store.CommitVersion(run.RunID, 1, newer)
	require.NoError(t, err)

	got, err = resumeState(path, store, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, got.History().Len())
	assert.True(t, got.Done())

	// Equal round counts keep the state file.
	fileOnly := seededState(t)
	fileOnly.AddSnapshot(state.Snapshot{})
	require.NoError(t, fileOnly.Save(path))
	got, err = resumeState(path, store, slog.Default())
	require.NoError(t, err)
	assert.False(t, got.Done())
}

func TestRedacted_HidesAPIKey(t *testing.T) {
	c := cfg
	c.Oracle.APIKey = "sk-secret"
	assert.Equal(t, "***", redacted(c).Oracle.APIKey)
	assert.Equal(t, "sk-secret", c.Oracle.APIKey)
}
