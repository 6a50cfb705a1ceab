package orchestrator

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/csdoge22/feedbackcurate/internal/embedding"
	"github.com/csdoge22/feedbackcurate/internal/logging"
	"github.com/csdoge22/feedbackcurate/internal/metrics"
	"github.com/csdoge22/feedbackcurate/internal/oracle"
	"github.com/csdoge22/feedbackcurate/internal/retrieval"
	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #endregion

// #region orchestrator-struct

// Orchestrator labels batches of items: it gathers exemplars, prompts the
// oracle, validates the response and writes successes back to the state.
type Orchestrator struct {
	config    Config
	oracle    oracle.Oracle
	encoder   embedding.Encoder
	retriever retrieval.Retriever
	db        *sql.DB
	metrics   *metrics.Collectors
	logger    *slog.Logger

	runID     string
	iteration int
}

// Deps are the services an Orchestrator calls. Only Oracle is required.
type Deps struct {
	Oracle    oracle.Oracle
	Encoder   embedding.Encoder   // nil: no exemplar retrieval
	Retriever retrieval.Retriever // nil: no exemplar retrieval
	DB        *sql.DB             // nil: no provenance rows
	Metrics   *metrics.Collectors // nil: no metrics
	Logger    *slog.Logger
}

// #endregion

// #region constructor

// NewOrchestrator creates a fully wired orchestrator.
func NewOrchestrator(config Config, deps Deps) (*Orchestrator, error) {
	if deps.Oracle == nil {
		return nil, fmt.Errorf("orchestrator: oracle is required")
	}
	if len(config.Dimensions) == 0 {
		config.Dimensions = state.DefaultDimensions
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultConfig().CallTimeout
	}
	if config.RetrievalTimeout <= 0 {
		config.RetrievalTimeout = config.CallTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		config:    config,
		oracle:    deps.Oracle,
		encoder:   deps.Encoder,
		retriever: deps.Retriever,
		db:        deps.DB,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "orch"),
	}, nil
}

// SetRound tags subsequent provenance rows with a run and iteration.
func (o *Orchestrator) SetRound(runID string, iteration int) {
	o.runID = runID
	o.iteration = iteration
}

// #endregion

// #region label-batch

// LabelBatch labels every index concurrently and writes the successes back
// in one MarkAsLabeled call. A failed item stays unlabeled and is reported
// in Skipped; only a failed write-back returns an error.
func (o *Orchestrator) LabelBatch(ctx context.Context, st *state.CurationState, indices []int) (Report, error) {
	report := Report{Labeled: []int{}, Skipped: map[int]string{}}
	if len(indices) == 0 {
		return report, nil
	}

	results := make([]itemResult, len(indices))
	g := new(errgroup.Group)
	g.SetLimit(o.config.Workers)
	for i, idx := range indices {
		g.Go(func() error {
			results[i] = o.labelOne(ctx, st, idx)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })

	var okIdx []int
	var proposals []state.Proposal
	for _, r := range results {
		report.Attempts += len(r.attempts)
		if r.proposal == nil {
			report.Skipped[r.index] = r.reason
			continue
		}
		okIdx = append(okIdx, r.index)
		proposals = append(proposals, *r.proposal)
	}

	if len(okIdx) > 0 {
		if err := st.MarkAsLabeled(okIdx, proposals); err != nil {
			return report, fmt.Errorf("write back batch: %w", err)
		}
		report.Labeled = okIdx
	}

	o.recordProvenance(results)
	o.logger.Info("batch labeled",
		"requested", len(indices), "labeled", len(report.Labeled),
		"skipped", len(report.Skipped), "attempts", report.Attempts)
	return report, nil
}

// #endregion

// #region label-one

func (o *Orchestrator) labelOne(ctx context.Context, st *state.CurationState, idx int) itemResult {
	res := itemResult{index: idx}
	rec, err := st.Record(idx)
	if err != nil {
		res.reason = err.Error()
		return res
	}

	evidence := o.exemplars(ctx, rec)
	in := oracle.PromptInput{
		Text:       rec.Text,
		Dimensions: o.config.Dimensions,
		Choices:    o.config.Choices,
		Exemplars:  evidence,
		ModelID:    o.config.ModelID,
	}
	opts := oracle.ParseOptions{
		Dimensions: o.config.Dimensions,
		Choices:    o.config.Choices,
		ModelID:    o.config.ModelID,
	}

	prompt := oracle.BuildPrompt(in)
	for {
		a := o.call(ctx, prompt)
		var p state.Proposal
		if a.Err == nil {
			p, a.Err = oracle.ParseProposal(a.Raw, opts)
			a.Outcome = classify(a.Err)
		}
		res.attempts = append(res.attempts, a)
		o.metrics.ObserveOracle(a.Outcome, a.Elapsed.Seconds())

		if a.Err == nil {
			if len(p.Evidence) == 0 {
				p.Evidence = evidence
			}
			res.proposal = &p
			return res
		}
		o.logger.Warn("oracle attempt failed",
			"index", idx, "attempt", len(res.attempts), "outcome", a.Outcome, "error", a.Err)
		if !shouldRetry(ctx, res.attempts, o.config.MaxRetries) {
			res.reason = fmt.Sprintf("%s: %v", a.Outcome, a.Err)
			return res
		}
		prompt = oracle.TightenedPrompt(in)
	}
}

func (o *Orchestrator) call(ctx context.Context, prompt string) Attempt {
	callCtx, cancel := context.WithTimeout(ctx, o.config.CallTimeout)
	defer cancel()

	start := time.Now()
	raw, err := o.oracle.Label(callCtx, prompt)
	a := Attempt{Prompt: prompt, Raw: raw, Err: err, Elapsed: time.Since(start)}
	if err == nil && raw == "" {
		a.Err = oracle.ErrEmptyResponse
	}
	if a.Err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			a.Err = fmt.Errorf("oracle call exceeded %s: %w", o.config.CallTimeout, context.DeadlineExceeded)
		}
		a.Outcome = classify(a.Err)
	}
	return a
}

// exemplars returns the seed evidence of rec followed by the nearest labeled
// items. Retrieval problems only cost the prompt its exemplars.
func (o *Orchestrator) exemplars(ctx context.Context, rec state.Record) []state.Example {
	var seed []state.Example
	if rec.SeedProposal != nil {
		seed = rec.SeedProposal.Evidence
	}
	if o.retriever == nil || o.config.TopK <= 0 {
		return retrieval.WithSeedEvidence(seed, nil)
	}

	// Rounds run detached from cancellation, so every service call is bounded.
	vec := rec.Embedding
	if len(vec) == 0 && o.encoder != nil {
		encCtx, cancel := context.WithTimeout(ctx, o.config.RetrievalTimeout)
		vecs, err := o.encoder.Encode(encCtx, []string{rec.Text})
		cancel()
		if err != nil || len(vecs) != 1 {
			o.logger.Warn("embedding failed, prompting without exemplars", "index", rec.Index, "error", err)
			return retrieval.WithSeedEvidence(seed, nil)
		}
		vec = vecs[0]
	}
	if len(vec) == 0 {
		return retrieval.WithSeedEvidence(seed, nil)
	}

	searchCtx, cancel := context.WithTimeout(ctx, o.config.RetrievalTimeout)
	found, err := o.retriever.RetrieveSimilar(searchCtx, vec, o.config.TopK+1)
	cancel()
	if err != nil {
		o.logger.Warn("retrieval failed, prompting without exemplars", "index", rec.Index, "error", err)
		return retrieval.WithSeedEvidence(seed, nil)
	}
	var kept []state.Example
	for _, ex := range found {
		if ex.Text == rec.Text {
			continue
		}
		kept = append(kept, ex)
	}
	return retrieval.WithSeedEvidence(seed, retrieval.Rank(kept, o.config.TopK))
}

// #endregion

// #region provenance

func (o *Orchestrator) recordProvenance(results []itemResult) {
	if o.db == nil {
		return
	}
	for _, r := range results {
		ev := logging.LabelEvent{
			RunID:     o.runID,
			Iteration: o.iteration,
			ItemIndex: r.index,
			Attempts:  len(r.attempts),
		}
		if r.proposal != nil {
			labels, _ := json.Marshal(r.proposal.Labels)
			ev.Decision = logging.DecisionLabeled
			ev.Source = r.proposal.Source
			ev.ModelID = r.proposal.ModelID
			ev.LabelsJSON = string(labels)
			if len(r.attempts) > 1 {
				ev.Reason = fmt.Sprintf("labeled after %d attempts", len(r.attempts))
			}
		} else {
			ev.Decision = logging.DecisionSkipped
			ev.ModelID = o.config.ModelID
			ev.Reason = r.reason
		}
		if err := logging.LogEvent(o.db, ev); err != nil {
			o.logger.Error("failed to record provenance", "index", r.index, "error", err)
		}
	}
}

// #endregion
