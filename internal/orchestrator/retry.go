package orchestrator

import (
	"context"
	"errors"

	"github.com/csdoge22/feedbackcurate/internal/metrics"
	"github.com/csdoge22/feedbackcurate/internal/oracle"
)

// #region constants

const maxRetries = 2 // max 2 retries = 3 total attempts

// #endregion

// #region classify

// classify maps an oracle or parse error to a metrics outcome.
func classify(err error) string {
	var pe *oracle.ParseError
	switch {
	case err == nil:
		return metrics.OutcomeLabeled
	case errors.As(err, &pe), errors.Is(err, oracle.ErrEmptyResponse):
		return metrics.OutcomeParseError
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	}
	return metrics.OutcomeError
}

// #endregion

// #region should-retry

// shouldRetry reports whether another attempt is allowed after attempts.
// Only unparseable responses are retried; transport failures and timeouts
// skip the item for this round.
func shouldRetry(ctx context.Context, attempts []Attempt, limit int) bool {
	if len(attempts) == 0 || ctx.Err() != nil {
		return false
	}
	if len(attempts) > limit {
		return false
	}
	return attempts[len(attempts)-1].Outcome == metrics.OutcomeParseError
}

// #endregion
