package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/csdoge22/feedbackcurate/internal/metrics"
	"github.com/csdoge22/feedbackcurate/internal/oracle"
)

func TestClassify(t *testing.T) {
	cases := map[string]error{
		metrics.OutcomeLabeled:    nil,
		metrics.OutcomeParseError: &oracle.ParseError{Reason: "bad"},
		metrics.OutcomeTimeout:    fmt.Errorf("call: %w", context.DeadlineExceeded),
		metrics.OutcomeError:      errors.New("connection refused"),
	}
	for want, err := range cases {
		if got := classify(err); got != want {
			t.Errorf("classify(%v): expected %s, got %s", err, want, got)
		}
	}
	if got := classify(oracle.ErrEmptyResponse); got != metrics.OutcomeParseError {
		t.Errorf("expected empty response to count as parse error, got %s", got)
	}
}

func TestShouldRetry_MaxRetries(t *testing.T) {
	attempts := []Attempt{
		{Outcome: metrics.OutcomeParseError},
		{Outcome: metrics.OutcomeParseError},
		{Outcome: metrics.OutcomeParseError},
	}
	if shouldRetry(context.Background(), attempts, 2) {
		t.Error("should not retry after 3 attempts")
	}
	if !shouldRetry(context.Background(), attempts[:2], 2) {
		t.Error("expected retry after 2 parse failures")
	}
}

func TestShouldRetry_OnlyParseFailures(t *testing.T) {
	for _, outcome := range []string{metrics.OutcomeTimeout, metrics.OutcomeError, metrics.OutcomeLabeled} {
		if shouldRetry(context.Background(), []Attempt{{Outcome: outcome}}, 2) {
			t.Errorf("should not retry after %s", outcome)
		}
	}
}

func TestShouldRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if shouldRetry(ctx, []Attempt{{Outcome: metrics.OutcomeParseError}}, 2) {
		t.Error("should not retry once the context is done")
	}
}

func TestShouldRetry_NoAttempts(t *testing.T) {
	if shouldRetry(context.Background(), nil, 2) {
		t.Error("should not retry without attempts")
	}
}
