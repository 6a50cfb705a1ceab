package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

// DefaultSource tags proposals produced by a language-model oracle.
const DefaultSource = "weak_llm"

// #region oracle
// Oracle turns a prompt into a raw, possibly malformed, textual response.
type Oracle interface {
	Label(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, prompt string) (string, error)

// Label calls f.
func (f Func) Label(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// #endregion oracle

// #region errors
// ErrEmptyResponse is returned when the oracle produced no content.
var ErrEmptyResponse = errors.New("empty oracle response")

// ParseError reports a response that could not be validated into a proposal.
type ParseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse proposal: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse proposal: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// #endregion errors

// #region prompt-input
// PromptInput is everything a labeling prompt is built from.
type PromptInput struct {
	Text       string
	Dimensions []string
	Choices    map[string][]state.LabelValue
	Exemplars  []state.Example
	ModelID    string
}

// ParseOptions controls proposal validation.
type ParseOptions struct {
	Dimensions []string
	// Choices, when set, restricts each dimension to its listed labels.
	Choices map[string][]state.LabelValue
	// ModelID is used when the response does not name its model.
	ModelID string
}

// #endregion prompt-input
