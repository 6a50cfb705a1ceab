package main

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/csdoge22/feedbackcurate/internal/config"
	"github.com/csdoge22/feedbackcurate/internal/dataset"
	"github.com/csdoge22/feedbackcurate/internal/embedding"
	"github.com/csdoge22/feedbackcurate/internal/loop"
	"github.com/csdoge22/feedbackcurate/internal/metrics"
	"github.com/csdoge22/feedbackcurate/internal/model"
	"github.com/csdoge22/feedbackcurate/internal/orchestrator"
	"github.com/csdoge22/feedbackcurate/internal/sampling"
	"github.com/csdoge22/feedbackcurate/internal/seeds"
	"github.com/csdoge22/feedbackcurate/internal/state"
	"github.com/csdoge22/feedbackcurate/internal/stopping"
)

// #endregion

// #region flags

var runFlags struct {
	resume        bool
	strategy      string
	batchSize     int
	maxIterations int
	metricsAddr   string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run curation rounds until the pool is exhausted or predictions settle",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runFlags.resume, "resume", false, "continue from the state file, or the ledger's active version")
	f.StringVar(&runFlags.strategy, "strategy", "", "override loop.strategy and disable the lambda schedule")
	f.IntVar(&runFlags.batchSize, "batch-size", 0, "override loop.batch_size")
	f.IntVar(&runFlags.maxIterations, "max-iterations", -1, "override loop.max_iterations (0 = unbounded)")
	f.StringVar(&runFlags.metricsAddr, "metrics-addr", "", "override metrics.addr, e.g. :9090")
}

// #endregion

// #region run

func runRun(cmd *cobra.Command, _ []string) error {
	c := cfg
	if runFlags.strategy != "" {
		c.Loop.Strategy = runFlags.strategy
		c.Loop.Scheduled = false
	}
	if runFlags.batchSize > 0 {
		c.Loop.BatchSize = runFlags.batchSize
	}
	if runFlags.maxIterations >= 0 {
		c.Loop.MaxIterations = runFlags.maxIterations
	}
	if runFlags.metricsAddr != "" {
		c.Metrics.Addr = runFlags.metricsAddr
	}
	if err := c.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, c, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.serveMetrics(c.Metrics.Addr, logger)

	store, err := state.NewStore(c.Output.LedgerDB)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	st, err := prepareState(ctx, c, store, svc.encoder, runFlags.resume, logger)
	if err != nil {
		return err
	}
	svc.attachRetriever(c, st)
	if svc.indexer != nil {
		if n, err := svc.indexer.IndexLabeled(ctx, labeledRecords(st)); err != nil {
			logger.Warn("initial exemplar indexing failed", "indexed", n, "error", err)
		}
	}

	stopSet, err := loadSplit(c.Data.StopSet, c)
	if err != nil {
		return err
	}
	testSet, err := loadSplit(c.Data.TestSet, c)
	if err != nil {
		return err
	}

	cfgJSON, _ := json.Marshal(redacted(c))
	run, err := store.CreateRun(c.Loop.Strategy, string(cfgJSON))
	if err != nil {
		return err
	}

	orch, err := orchestrator.NewOrchestrator(orchestrator.Config{
		Dimensions:       c.Dimensions,
		Choices:          seeds.Choices,
		TopK:             c.Retrieval.TopK,
		MaxRetries:       c.Oracle.MaxRetries,
		Workers:          c.Oracle.Workers,
		CallTimeout:      c.Oracle.Timeout,
		RetrievalTimeout: c.Retrieval.Timeout,
		ModelID:          svc.modelID,
	}, orchestrator.Deps{
		Oracle:    svc.oracle,
		Encoder:   svc.encoder,
		Retriever: svc.retriever,
		DB:        store.DB(),
		Metrics:   svc.metrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	stopper, err := stopping.NewController(c.StoppingConfig(), c.Dimensions)
	if err != nil {
		return err
	}
	tracker, err := metrics.NewTracker(c.Output.MetricsLog)
	if err != nil {
		return err
	}
	kind, err := sampling.ParseKind(c.Loop.Strategy)
	if err != nil {
		return err
	}

	deps := loop.Deps{
		State:   st,
		Model:   model.NewConfidenceModel(c.Dimensions, c.Loop.MaxFeatures, logger),
		Labeler: orch,
		Stopper: stopper,
		StopSet: stopSet,
		TestSet: testSet,
		Tracker: tracker,
		Store:   store,
		Metrics: svc.metrics,
		Logger:  logger,
	}
	if svc.indexer != nil {
		deps.Indexer = svc.indexer
	}
	l, err := loop.New(loop.Config{
		Dimensions:    c.Dimensions,
		Strategy:      kind,
		Params:        sampling.Params{Lambda: c.Loop.Lambda},
		Scheduled:     c.Loop.Scheduled,
		Schedule:      c.Schedule(),
		BatchSize:     c.Loop.BatchSize,
		MaxIterations: c.Loop.MaxIterations,
		MCSamples:     c.Loop.MCSamples,
		Seed:          c.Loop.Seed,
		ArtifactDir:   c.Output.ArtifactDir,
		StatePath:     c.Output.StateFile,
		RunID:         run.RunID,
	}, deps)
	if err != nil {
		return err
	}

	logger.Info("starting run", "run_id", run.RunID, "pool", st.Len(),
		"labeled", len(st.LabeledIndices()), "strategy", c.Loop.Strategy, "scheduled", c.Loop.Scheduled)
	sum, err := l.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:        %s\n", run.RunID)
	fmt.Fprintf(out, "Stopped:    %s after %d rounds\n", sum.Reason, sum.Iterations)
	fmt.Fprintf(out, "Labeled:    %d of %d\n", sum.NumLabeled, st.Len())
	fmt.Fprintf(out, "State:      %s\n", c.Output.StateFile)
	fmt.Fprintf(out, "Artifacts:  %s\n", c.Output.ArtifactDir)
	return nil
}

// #endregion

// #region state

// prepareState resumes from the state file or the ledger when asked,
// otherwise bootstraps a fresh state from the pool file.
func prepareState(ctx context.Context, c config.Config, store *state.Store, enc embedding.Encoder, resume bool, logger *slog.Logger) (*state.CurationState, error) {
	if resume {
		st, err := resumeState(c.Output.StateFile, store, logger)
		if err != nil {
			return nil, err
		}
		if _, err := embedding.EncodePool(ctx, st, enc, c.Embedding.BatchSize); err != nil {
			return nil, err
		}
		return st, nil
	}

	pool, err := dataset.Load(c.Data.Pool, c.Data.TextColumn, nil)
	if err != nil {
		return nil, err
	}
	st, seedIdx, err := loop.Bootstrap(ctx, pool.Texts, c.Dimensions, enc, c.Embedding.BatchSize, c.Loop.NumSeeds)
	if err != nil {
		return nil, err
	}
	logger.Info("bootstrapped pool", "items", st.Len(), "seeds", len(seedIdx))
	return st, nil
}

// resumeState loads whichever of the state file and the ledger's active
// version has recorded more rounds. The file wins ties.
func resumeState(path string, store *state.Store, logger *slog.Logger) (*state.CurationState, error) {
	fromFile, err := state.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	fromLedger, rec, ledgerErr := store.LoadCurrentState()
	if ledgerErr != nil && !errors.Is(ledgerErr, sql.ErrNoRows) {
		return nil, fmt.Errorf("resume from ledger: %w", ledgerErr)
	}

	switch {
	case fromFile == nil && fromLedger == nil:
		return nil, fmt.Errorf("resume: no state file at %s and no ledger version", path)
	case fromLedger != nil && (fromFile == nil || fromLedger.History().Len() > fromFile.History().Len()):
		logger.Info("resumed from ledger", "version", rec.VersionID, "iteration", rec.Iteration)
		return fromLedger, nil
	default:
		logger.Info("resumed from state file", "path", path, "rounds", fromFile.History().Len())
		return fromFile, nil
	}
}

func loadSplit(path string, c config.Config) (*dataset.Split, error) {
	if path == "" {
		return nil, nil
	}
	s, err := dataset.Load(path, c.Data.TextColumn, c.Dimensions)
	if err != nil {
		return nil, err
	}
	if !s.HasLabels(c.Dimensions) {
		logger.Warn("split is missing label columns", "path", path, "dimensions", c.Dimensions)
	}
	return s, nil
}

func labeledRecords(st *state.CurationState) []state.Record {
	var out []state.Record
	for _, r := range st.Records() {
		if r.Labeled {
			out = append(out, r)
		}
	}
	return out
}

// redacted drops secrets before the config is stored in the ledger.
func redacted(c config.Config) config.Config {
	if c.Oracle.APIKey != "" {
		c.Oracle.APIKey = "***"
	}
	return c
}

// #endregion
