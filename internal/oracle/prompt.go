package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #region build-prompt
// BuildPrompt renders the retrieval-augmented labeling request.
func BuildPrompt(in PromptInput) string {
	dims := dimensionsOf(in.Dimensions)
	var b strings.Builder

	fmt.Fprintf(&b, "You are an annotation assistant (%s).\n\n", in.ModelID)
	b.WriteString("Label the following feedback along these dimensions:\n")
	for _, dim := range dims {
		if choices := in.Choices[dim]; len(choices) > 0 {
			fmt.Fprintf(&b, "- %s: one of %s\n", dim, joinLabels(choices))
		} else {
			fmt.Fprintf(&b, "- %s\n", dim)
		}
	}

	b.WriteString("\nFeedback:\n")
	b.WriteString(quoteJSON(in.Text))
	b.WriteString("\n")

	if len(in.Exemplars) > 0 {
		b.WriteString("\nRelevant labeled examples:\n")
		for _, ex := range in.Exemplars {
			line, _ := json.Marshal(struct {
				Feedback string            `json:"feedback"`
				Labels   map[string]string `json:"labels"`
				Priority float64           `json:"priority"`
			}{ex.Text, ex.Labels, ex.Priority})
			b.WriteString("- ")
			b.Write(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nReturn STRICT JSON only, with no commentary, in exactly this shape:\n")
	b.WriteString(schema(dims, in.ModelID))
	return b.String()
}

// TightenedPrompt is the retry prompt sent after an unparseable response.
// It drops the exemplars and repeats the schema.
func TightenedPrompt(in PromptInput) string {
	dims := dimensionsOf(in.Dimensions)
	var b strings.Builder
	b.WriteString("Your previous response was invalid JSON and could not be parsed.\n")
	b.WriteString("Respond with ONE JSON object and nothing else: no code fences, no prose.\n")
	b.WriteString("Every key must be double-quoted.\n\n")
	b.WriteString("Feedback:\n")
	b.WriteString(quoteJSON(in.Text))
	b.WriteString("\n\nAllowed labels:\n")
	for _, dim := range dims {
		if choices := in.Choices[dim]; len(choices) > 0 {
			fmt.Fprintf(&b, "- %s: %s\n", dim, joinLabels(choices))
		} else {
			fmt.Fprintf(&b, "- %s\n", dim)
		}
	}
	b.WriteString("\nSchema:\n")
	b.WriteString(schema(dims, in.ModelID))
	return b.String()
}

// #endregion build-prompt

// #region helpers
func schema(dims []string, modelID string) string {
	labels := make([]string, len(dims))
	confs := make([]string, len(dims))
	rats := make([]string, len(dims))
	for i, dim := range dims {
		labels[i] = fmt.Sprintf("%q: \"...\"", dim)
		confs[i] = fmt.Sprintf("%q: 0.0", dim)
		rats[i] = fmt.Sprintf("%q: \"...\"", dim)
	}
	return fmt.Sprintf(`{
  "labels": { %s },
  "confidences": { %s },
  "rationale": { %s },
  "evidence": [],
  "source": %q,
  "model_id": %q
}
`, strings.Join(labels, ", "), strings.Join(confs, ", "), strings.Join(rats, ", "), DefaultSource, modelID)
}

func dimensionsOf(dims []string) []string {
	if len(dims) == 0 {
		return state.DefaultDimensions
	}
	return dims
}

func joinLabels(labels []state.LabelValue) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	return strings.Join(parts, " | ")
}

func quoteJSON(s string) string {
	q, _ := json.Marshal(s)
	return string(q)
}

// #endregion helpers
