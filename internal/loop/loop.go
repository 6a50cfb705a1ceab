package loop

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/csdoge22/feedbackcurate/internal/artifact"
	"github.com/csdoge22/feedbackcurate/internal/dataset"
	"github.com/csdoge22/feedbackcurate/internal/eval"
	"github.com/csdoge22/feedbackcurate/internal/metrics"
	"github.com/csdoge22/feedbackcurate/internal/model"
	"github.com/csdoge22/feedbackcurate/internal/sampling"
	"github.com/csdoge22/feedbackcurate/internal/state"
	"github.com/csdoge22/feedbackcurate/internal/stopping"
)

// #endregion

// #region loop-struct

const indexTimeout = 30 * time.Second

// Loop runs curation rounds over one CurationState until the pool is
// exhausted or the stopping controller reports stability.
type Loop struct {
	config  Config
	st      *state.CurationState
	model   *model.ConfidenceModel
	labeler Labeler
	stopper *stopping.Controller
	harness *eval.EvalHarness

	stopSet *dataset.Split
	testSet *dataset.Split

	indexer Indexer
	tracker *metrics.Tracker
	store   *state.Store
	metrics *metrics.Collectors
	logger  *slog.Logger

	now func() time.Time
}

// Deps are the collaborators of a Loop. State, Model, Labeler and Stopper
// are required.
type Deps struct {
	State   *state.CurationState
	Model   *model.ConfidenceModel
	Labeler Labeler
	Stopper *stopping.Controller
	StopSet *dataset.Split      // nil: empty snapshots, the run can only exhaust
	TestSet *dataset.Split      // nil: no test-set evaluation
	Indexer Indexer             // nil: no exemplar publishing
	Tracker *metrics.Tracker    // nil: no metrics log
	Store   *state.Store        // nil: no ledger
	Metrics *metrics.Collectors // nil: no Prometheus series
	Logger  *slog.Logger
}

// #endregion

// #region constructor

// New validates the wiring and primes the stopping controller with any
// history the state already carries, so a resumed run keeps its counter.
func New(config Config, deps Deps) (*Loop, error) {
	switch {
	case deps.State == nil:
		return nil, errors.New("loop: state is required")
	case deps.Model == nil:
		return nil, errors.New("loop: model is required")
	case deps.Labeler == nil:
		return nil, errors.New("loop: labeler is required")
	case deps.Stopper == nil:
		return nil, errors.New("loop: stopper is required")
	}
	if len(config.Dimensions) == 0 {
		config.Dimensions = deps.Model.Dimensions()
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("loop: batch size %d <= 0", config.BatchSize)
	}
	if !config.Scheduled {
		if _, err := sampling.For(config.Strategy); err != nil {
			return nil, fmt.Errorf("loop: %w", err)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loop{
		config:  config,
		st:      deps.State,
		model:   deps.Model,
		labeler: deps.Labeler,
		stopper: deps.Stopper,
		harness: eval.NewEvalHarness(eval.DefaultEvalConfig()),
		stopSet: deps.StopSet,
		testSet: deps.TestSet,
		indexer: deps.Indexer,
		tracker: deps.Tracker,
		store:   deps.Store,
		metrics: deps.Metrics,
		logger:  logger.With("component", "loop"),
		now:     time.Now,
	}

	l.stopper.Reset()
	for _, snap := range l.st.History().Snapshots {
		l.stopper.Update(snap)
	}
	return l, nil
}

// #endregion

// #region run

// Run executes rounds until the pool is exhausted, the batch comes back
// empty, the controller reports stability, MaxIterations is reached or ctx
// is cancelled. Cancellation is only observed between rounds. On every exit
// path the final artifacts, the state file and a ledger version are written.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	sum := Summary{}
	iteration := l.st.History().Len()

	for {
		if l.st.Done() {
			sum.Reason = ReasonExhausted
			break
		}
		if ctx.Err() != nil {
			sum.Reason = ReasonCancelled
			break
		}
		if l.config.MaxIterations > 0 && sum.Iterations >= l.config.MaxIterations {
			sum.Reason = ReasonMaxRounds
			break
		}

		iteration++
		round, err := l.round(context.WithoutCancel(ctx), iteration)
		if err != nil {
			return sum, fmt.Errorf("round %d: %w", iteration, err)
		}
		if round == nil {
			sum.Reason = ReasonEmptyBatch
			break
		}
		sum.Iterations++
		sum.LastRound = round
		if round.Stopped {
			sum.Reason = ReasonStable
			break
		}
	}

	sum.NumLabeled = len(l.st.LabeledIndices())
	if err := l.finish(iteration); err != nil {
		return sum, err
	}
	l.logger.Info("run finished",
		"reason", sum.Reason, "iterations", sum.Iterations, "labeled", sum.NumLabeled)
	return sum, nil
}

// #endregion

// #region round

// round runs one iteration. A nil Round means the sampler returned nothing.
func (l *Loop) round(ctx context.Context, iteration int) (*Round, error) {
	l.model.Fit(l.st)
	if _, err := l.model.UpdateUnlabeledConfidences(l.st); err != nil {
		return nil, fmt.Errorf("update confidences: %w", err)
	}

	kind, params := l.strategyFor(iteration)
	if kind == sampling.KindBALD || kind == sampling.KindHybrid {
		if err := l.model.SampleMC(l.st, l.config.MCSamples, l.config.Seed+uint64(iteration)); err != nil {
			return nil, fmt.Errorf("mc samples: %w", err)
		}
	}

	batch, err := sampling.Select(kind, l.st.Records(), l.config.BatchSize, params)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		l.logger.Info("sampler returned no items", "iteration", iteration, "strategy", kind)
		return nil, nil
	}

	l.labeler.SetRound(l.config.RunID, iteration)
	report, err := l.labeler.LabelBatch(ctx, l.st, batch)
	if err != nil {
		return nil, fmt.Errorf("label batch: %w", err)
	}

	round := &Round{
		Iteration: iteration,
		Strategy:  kind,
		Lambda:    params.Lambda,
		Batch:     batch,
		Labeled:   report.Labeled,
		Skipped:   report.Skipped,
		MacroF1:   math.NaN(),
		MeanKappa: math.NaN(),
	}

	// Models are refit so artifacts, evaluation and the stop snapshot all
	// reflect this round's labels.
	l.model.Fit(l.st)
	if err := l.saveArtifacts(); err != nil {
		return nil, err
	}
	l.evaluate(round)

	snap := l.snapshot()
	l.st.AddSnapshot(snap)
	decision := l.stopper.Update(snap)
	round.StopKappa = decision.PerDimKappa
	round.MeanKappa = decision.MeanKappa
	round.Stopped = decision.Stopped

	if err := l.record(round); err != nil {
		return nil, err
	}
	l.logger.Info("round complete",
		"iteration", iteration, "strategy", kind, "lambda", params.Lambda,
		"batch", len(batch), "labeled", len(report.Labeled), "skipped", len(report.Skipped),
		"macro_f1", round.MacroF1, "mean_kappa", decision.MeanKappa,
		"stable_counter", decision.StableCounter, "vetoed", decision.Vetoed)
	return round, nil
}

func (l *Loop) strategyFor(iteration int) (sampling.Kind, sampling.Params) {
	if l.config.Scheduled {
		return l.config.Schedule.ForIteration(iteration)
	}
	return l.config.Strategy, l.config.Params
}

// #endregion

// #region round-steps

func (l *Loop) saveArtifacts() error {
	if l.config.ArtifactDir == "" {
		return nil
	}
	if _, err := artifact.Save(l.config.ArtifactDir, l.model.Bundles(), l.now()); err != nil {
		return fmt.Errorf("save artifacts: %w", err)
	}
	return nil
}

func (l *Loop) evaluate(round *Round) {
	if l.testSet == nil || l.testSet.Len() == 0 {
		return
	}
	preds := l.model.Predict(l.testSet.Texts)
	res := l.harness.Run(l.testSet.Labels, preds, l.config.Dimensions)
	round.MacroF1 = res.MacroF1
	round.PerDimF1 = res.PerDimF1
	round.PerDimKappa = res.PerDimKappa
	if !res.Passed {
		l.logger.Debug("test set below target", "iteration", round.Iteration, "reason", res.Reason)
	}
}

// snapshot predicts every stop-set item. Keys are stop-set positions.
func (l *Loop) snapshot() state.Snapshot {
	snap := state.Snapshot{}
	if l.stopSet == nil {
		return snap
	}
	preds := l.model.Predict(l.stopSet.Texts)
	for i := range l.stopSet.Texts {
		dims := make(map[string]*string, len(l.config.Dimensions))
		for _, dim := range l.config.Dimensions {
			var v *string
			if p := preds[dim]; i < len(p) {
				v = p[i]
			}
			dims[dim] = v
		}
		snap[i] = dims
	}
	return snap
}

// record fans a finished round out to the metrics log, the ledger and the
// Prometheus series, then publishes labeled records for retrieval.
func (l *Loop) record(round *Round) error {
	numLabeled := len(l.st.LabeledIndices())
	now := l.now().UTC()

	if l.tracker != nil {
		err := l.tracker.Log(metrics.Round{
			Iteration:    round.Iteration,
			BatchIndices: round.Batch,
			Strategy:     string(round.Strategy),
			Lambda:       round.Lambda,
			PerDimF1:     round.PerDimF1,
			PerDimKappa:  round.PerDimKappa,
			MacroScore:   round.MacroF1,
			NumLabeled:   numLabeled,
			StopKappa:    round.StopKappa,
			Timestamp:    now,
		})
		if err != nil {
			return err
		}
	}

	if l.store != nil && l.config.RunID != "" {
		err := l.store.RecordRoundMetrics(state.RoundMetrics{
			RunID:        l.config.RunID,
			Iteration:    round.Iteration,
			BatchIndices: round.Batch,
			Strategy:     string(round.Strategy),
			Lambda:       round.Lambda,
			MacroScore:   round.MacroF1,
			NumLabeled:   numLabeled,
			PerDimF1:     round.PerDimF1,
			PerDimKappa:  round.PerDimKappa,
			CreatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("record round metrics: %w", err)
		}
		if _, err := l.store.CommitVersion(l.config.RunID, round.Iteration, l.st); err != nil {
			return fmt.Errorf("commit version: %w", err)
		}
	}
	// The state file is rewritten every round so a crash loses at most the
	// round in flight.
	if l.config.StatePath != "" {
		if err := l.st.Save(l.config.StatePath); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}

	l.metrics.ObserveRound(numLabeled, round.MacroF1, round.StopKappa)

	if l.indexer != nil && len(round.Labeled) > 0 {
		var recs []state.Record
		for _, idx := range round.Labeled {
			rec, err := l.st.Record(idx)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		// A stale exemplar index only degrades prompts.
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		n, err := l.indexer.IndexLabeled(ctx, recs)
		cancel()
		if err != nil {
			l.logger.Warn("exemplar indexing failed", "iteration", round.Iteration, "indexed", n, "error", err)
		}
	}
	return nil
}

// #endregion

// #region finish

func (l *Loop) finish(iteration int) error {
	l.model.Fit(l.st)
	if err := l.saveArtifacts(); err != nil {
		return err
	}
	if l.config.StatePath != "" {
		if err := l.st.Save(l.config.StatePath); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}
	if l.store != nil && l.config.RunID != "" {
		if _, err := l.store.CommitVersion(l.config.RunID, iteration, l.st); err != nil {
			return fmt.Errorf("commit final version: %w", err)
		}
	}
	return nil
}

// #endregion
