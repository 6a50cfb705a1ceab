package loop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csdoge22/feedbackcurate/internal/artifact"
	"github.com/csdoge22/feedbackcurate/internal/dataset"
	"github.com/csdoge22/feedbackcurate/internal/embedding"
	"github.com/csdoge22/feedbackcurate/internal/metrics"
	"github.com/csdoge22/feedbackcurate/internal/model"
	"github.com/csdoge22/feedbackcurate/internal/orchestrator"
	"github.com/csdoge22/feedbackcurate/internal/sampling"
	"github.com/csdoge22/feedbackcurate/internal/seeds"
	"github.com/csdoge22/feedbackcurate/internal/state"
	"github.com/csdoge22/feedbackcurate/internal/stopping"
)

// #region helpers
var dims = state.DefaultDimensions

// seedTexts have disjoint vocabularies so the seed-only model predicts each
// of them back as its own label.
var seedTexts = []string{
	"checkout crashes checkout crashes",
	"export slow export slow",
	"typo footer typo footer",
}

type fakeLabeler struct {
	skipAll bool
	rounds  []int
	batches [][]int
}

func (f *fakeLabeler) SetRound(_ string, iteration int) {
	f.rounds = append(f.rounds, iteration)
}

func (f *fakeLabeler) LabelBatch(_ context.Context, st *state.CurationState, indices []int) (orchestrator.Report, error) {
	f.batches = append(f.batches, append([]int(nil), indices...))
	rep := orchestrator.Report{Labeled: []int{}, Skipped: map[int]string{}}
	if f.skipAll {
		for _, idx := range indices {
			rep.Skipped[idx] = "parse_error"
		}
		return rep, nil
	}
	props := make([]state.Proposal, len(indices))
	for i := range indices {
		props[i] = state.Proposal{
			Labels: map[string]state.LabelValue{"severity": "high", "urgency": "low", "impact": "high"},
			Source: "fake",
		}
	}
	if err := st.MarkAsLabeled(indices, props); err != nil {
		return rep, err
	}
	rep.Labeled = append(rep.Labeled, indices...)
	return rep, nil
}

// failingLabeler labels like fakeLabeler until round failAt.
type failingLabeler struct {
	fakeLabeler
	failAt int
}

func (f *failingLabeler) LabelBatch(ctx context.Context, st *state.CurationState, indices []int) (orchestrator.Report, error) {
	if len(f.rounds) > 0 && f.rounds[len(f.rounds)-1] == f.failAt {
		return orchestrator.Report{}, errors.New("oracle backend gone")
	}
	return f.fakeLabeler.LabelBatch(ctx, st, indices)
}

type fakeIndexer struct{ indexed int }

func (f *fakeIndexer) IndexLabeled(_ context.Context, records []state.Record) (int, error) {
	f.indexed += len(records)
	return len(records), nil
}

func seededState(t *testing.T, extra ...string) *state.CurationState {
	t.Helper()
	texts := append(append([]string(nil), seedTexts...), extra...)
	st, err := state.New(texts, []int{0, 1, 2}, seeds.Factory(dims))
	require.NoError(t, err)
	_, err = st.LabelSeeds()
	require.NoError(t, err)
	return st
}

func stopper(t *testing.T) *stopping.Controller {
	t.Helper()
	c, err := stopping.NewController(stopping.DefaultConfig(), dims)
	require.NoError(t, err)
	return c
}

func ptr(s string) *string { return &s }

func baseConfig(dir string) Config {
	return Config{
		Dimensions:  dims,
		Strategy:    sampling.KindLeastConfidence,
		BatchSize:   2,
		MCSamples:   3,
		Seed:        42,
		ArtifactDir: filepath.Join(dir, "model_artifact"),
		StatePath:   filepath.Join(dir, "curation_state.json"),
	}
}

// #endregion helpers

// #region run-tests
func TestRun_ExhaustsPool(t *testing.T) {
	dir := t.TempDir()
	st := seededState(t, "login fails", "dark mode please", "sync lost data")
	lab := &fakeLabeler{}
	idx := &fakeIndexer{}
	tracker, err := metrics.NewTracker(filepath.Join(dir, "logs", "metrics.jsonl"))
	require.NoError(t, err)

	l, err := New(baseConfig(dir), Deps{
		State:   st,
		Model:   model.NewConfidenceModel(dims, 100, nil),
		Labeler: lab,
		Stopper: stopper(t),
		Indexer: idx,
		Tracker: tracker,
	})
	require.NoError(t, err)

	sum, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonExhausted, sum.Reason)
	assert.Equal(t, 2, sum.Iterations)
	assert.Equal(t, 6, sum.NumLabeled)
	assert.Equal(t, []int{1, 2}, lab.rounds)
	assert.Len(t, lab.batches[0], 2)
	assert.Len(t, lab.batches[1], 1)
	assert.Equal(t, 3, idx.indexed)

	for _, b := range lab.batches {
		for _, i := range b {
			assert.GreaterOrEqual(t, i, 3, "seed %d resampled", i)
		}
	}

	lines, err := metrics.ReadAll(tracker.Path())
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, 6, lines[1].NumLabeled)
	assert.Nil(t, lines[0].MacroScore)

	loaded, err := state.Load(filepath.Join(dir, "curation_state.json"))
	require.NoError(t, err)
	assert.True(t, loaded.Done())
	assert.Equal(t, 2, loaded.History().Len())

	m, err := artifact.LoadManifest(filepath.Join(dir, "model_artifact"))
	require.NoError(t, err)
	assert.NotEmpty(t, m.Dimensions)
}

func TestRun_StopsWhenStopSetPredictionsSettle(t *testing.T) {
	dir := t.TempDir()
	st := seededState(t, "alpha one", "bravo two", "charlie three", "delta four")
	lab := &fakeLabeler{skipAll: true}
	reg := prometheus.NewRegistry()
	col := metrics.NewCollectors(reg)

	store, err := state.NewStore(filepath.Join(dir, "curation.db"))
	require.NoError(t, err)
	defer store.Close()
	run, err := store.CreateRun("least_confidence", "")
	require.NoError(t, err)

	cfg := baseConfig(dir)
	cfg.RunID = run.RunID
	split := &dataset.Split{
		Texts: append([]string(nil), seedTexts...),
		Labels: map[string][]*string{
			"severity": {ptr("low"), ptr("medium"), ptr("high")},
			"urgency":  {ptr("low"), ptr("medium"), ptr("high")},
			"impact":   {ptr("medium"), ptr("high"), ptr("medium")},
		},
	}

	l, err := New(cfg, Deps{
		State:   st,
		Model:   model.NewConfidenceModel(dims, 100, nil),
		Labeler: lab,
		Stopper: stopper(t),
		StopSet: split,
		TestSet: split,
		Store:   store,
		Metrics: col,
	})
	require.NoError(t, err)

	sum, err := l.Run(context.Background())
	require.NoError(t, err)
	// Window of 3 completes at round 3, patience 2 is met at round 4.
	assert.Equal(t, ReasonStable, sum.Reason)
	assert.Equal(t, 4, sum.Iterations)
	assert.Equal(t, 3, sum.NumLabeled)
	require.NotNil(t, sum.LastRound)
	assert.True(t, sum.LastRound.Stopped)
	assert.InDelta(t, 1.0, sum.LastRound.MeanKappa, 1e-9)
	assert.InDelta(t, 1.0, sum.LastRound.MacroF1, 1e-9)

	rounds, err := store.ListRoundMetrics(run.RunID)
	require.NoError(t, err)
	assert.Len(t, rounds, 4)

	cur, err := store.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, 4, cur.Iteration)
	assert.Equal(t, 3, cur.NumLabeled)

	assert.Equal(t, 4.0, testutil.ToFloat64(col.Rounds))
	assert.Equal(t, 3.0, testutil.ToFloat64(col.Labeled))
}

func TestRun_CancelledBeforeFirstRound(t *testing.T) {
	dir := t.TempDir()
	st := seededState(t, "login fails")
	lab := &fakeLabeler{}
	l, err := New(baseConfig(dir), Deps{
		State:   st,
		Model:   model.NewConfidenceModel(dims, 100, nil),
		Labeler: lab,
		Stopper: stopper(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, sum.Reason)
	assert.Zero(t, sum.Iterations)
	assert.Empty(t, lab.rounds)

	_, err = os.Stat(filepath.Join(dir, "curation_state.json"))
	assert.NoError(t, err)
}

func TestRun_MaxIterationsAndResume(t *testing.T) {
	dir := t.TempDir()
	st := seededState(t, "a b", "c d", "e f", "g h")
	st.AddSnapshot(state.Snapshot{})
	st.AddSnapshot(state.Snapshot{})

	lab := &fakeLabeler{skipAll: true}
	cfg := baseConfig(dir)
	cfg.MaxIterations = 2
	cfg.Scheduled = true
	cfg.Schedule = sampling.DefaultSchedule()

	l, err := New(cfg, Deps{
		State:   st,
		Model:   model.NewConfidenceModel(dims, 100, nil),
		Labeler: lab,
		Stopper: stopper(t),
	})
	require.NoError(t, err)

	sum, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxRounds, sum.Reason)
	assert.Equal(t, 2, sum.Iterations)
	assert.Equal(t, []int{3, 4}, lab.rounds)
	assert.Equal(t, sampling.KindHybrid, sum.LastRound.Strategy)
	assert.InDelta(t, 0.7, sum.LastRound.Lambda, 1e-9)
}

func TestRun_FailedRoundKeepsPreviousRoundsOnDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	st := seededState(t, "login fails", "dark mode please", "sync lost data", "slow search")
	// A stale file from before the run must not survive completed rounds.
	require.NoError(t, st.Save(cfg.StatePath))

	store, err := state.NewStore(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer store.Close()
	run, err := store.CreateRun("least_confidence", "")
	require.NoError(t, err)
	cfg.RunID = run.RunID

	l, err := New(cfg, Deps{
		State:   st,
		Model:   model.NewConfidenceModel(dims, 100, nil),
		Labeler: &failingLabeler{failAt: 2},
		Stopper: stopper(t),
		Store:   store,
	})
	require.NoError(t, err)

	_, err = l.Run(context.Background())
	require.Error(t, err)

	onDisk, err := state.Load(cfg.StatePath)
	require.NoError(t, err)
	assert.Len(t, onDisk.LabeledIndices(), 5)
	assert.Equal(t, 1, onDisk.History().Len())

	fromLedger, _, err := store.LoadCurrentState()
	require.NoError(t, err)
	assert.Equal(t, onDisk.LabeledIndices(), fromLedger.LabeledIndices())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	st := seededState(t)
	_, err := New(Config{BatchSize: 1, Strategy: sampling.KindCoreset}, Deps{State: st})
	assert.Error(t, err)

	_, err = New(Config{BatchSize: 1, Strategy: "random"}, Deps{
		State:   st,
		Model:   model.NewConfidenceModel(dims, 100, nil),
		Labeler: &fakeLabeler{},
		Stopper: stopper(t),
	})
	assert.ErrorIs(t, err, sampling.ErrUnknownKind)
}

// #endregion run-tests

// #region bootstrap-tests
func TestBootstrap_LabelsDiverseSeeds(t *testing.T) {
	texts := []string{
		"checkout crashes", "checkout crashes again", "export is slow",
		"typo in footer", "dark mode please", "login fails", "sync lost data",
	}
	st, seedIdx, err := Bootstrap(context.Background(), texts, dims, embedding.NewHashEncoder(32), 3, 3)
	require.NoError(t, err)
	assert.Len(t, seedIdx, 3)
	assert.ElementsMatch(t, seedIdx, st.LabeledIndices())

	for _, r := range st.Records() {
		assert.NotEmpty(t, r.Embedding, "record %d", r.Index)
	}
	for _, idx := range seedIdx {
		rec, err := st.Record(idx)
		require.NoError(t, err)
		assert.Equal(t, state.SourceSeed, rec.Source)
	}
}

// #endregion bootstrap-tests
