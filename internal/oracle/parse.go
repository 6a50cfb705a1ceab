package oracle

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

var (
	fencePattern       = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	unquotedKeyPattern = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// #region parse-proposal
// ParseProposal validates a raw oracle response into a proposal. It strips
// code fences, extracts the outermost JSON object and, only when strict
// decoding fails, quotes bare keys. Nothing is invented: a response without
// a usable label for any known dimension is a *ParseError.
func ParseProposal(raw string, opts ParseOptions) (state.Proposal, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return state.Proposal{}, err
	}
	dims := dimensionsOf(opts.Dimensions)

	labelsDoc, ok := doc["labels"].(map[string]any)
	if !ok {
		if _, present := doc["labels"]; present {
			return state.Proposal{}, &ParseError{Reason: "labels is not an object", Raw: raw}
		}
		// Flat form: dimensions at the top level.
		labelsDoc = doc
	}

	p := state.Proposal{
		Labels:      map[string]state.LabelValue{},
		Confidences: map[string]float64{},
		Rationale:   map[string]string{},
		Evidence:    []state.Example{},
		Source:      DefaultSource, // the response cannot claim another provenance
		ModelID:     stringOr(doc["model_id"], opts.ModelID),
	}

	for _, dim := range dims {
		v, ok := labelsDoc[dim].(string)
		if !ok {
			continue
		}
		label := state.LabelValue(strings.ToLower(strings.TrimSpace(v)))
		if label == "" || !allowed(opts.Choices[dim], label) {
			continue
		}
		p.Labels[dim] = label
	}
	if len(p.Labels) == 0 {
		return state.Proposal{}, &ParseError{Reason: "no usable label for any dimension", Raw: raw}
	}

	if confs, ok := doc["confidences"].(map[string]any); ok {
		for dim := range p.Labels {
			if f, ok := confs[dim].(float64); ok && !math.IsNaN(f) {
				p.Confidences[dim] = math.Max(0, math.Min(1, f))
			}
		}
	}
	if rats, ok := doc["rationale"].(map[string]any); ok {
		for dim := range p.Labels {
			if s, ok := rats[dim].(string); ok {
				p.Rationale[dim] = s
			}
		}
	}
	if ev, ok := doc["evidence"].([]any); ok {
		p.Evidence = parseEvidence(ev)
	}
	return p, nil
}

// #endregion parse-proposal

// #region decode
func decodeDocument(raw string) (map[string]any, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nil, &ParseError{Reason: "no content", Raw: raw, Err: ErrEmptyResponse}
	}
	if m := fencePattern.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, &ParseError{Reason: "no JSON object", Raw: raw}
	}
	cleaned = cleaned[start : end+1]

	var doc map[string]any
	err := json.Unmarshal([]byte(cleaned), &doc)
	if err == nil {
		return doc, nil
	}
	repaired := unquotedKeyPattern.ReplaceAllString(cleaned, `$1"$2":`)
	if repaired != cleaned {
		if err2 := json.Unmarshal([]byte(repaired), &doc); err2 == nil {
			return doc, nil
		}
	}
	return nil, &ParseError{Reason: "invalid JSON", Raw: raw, Err: err}
}

// #endregion decode

// #region evidence
func parseEvidence(items []any) []state.Example {
	out := []state.Example{}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text, _ := m["text"].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		ex := state.Example{Text: text, Labels: map[string]string{}, Priority: 1.0}
		if labels, ok := m["labels"].(map[string]any); ok {
			for k, v := range labels {
				if s, ok := v.(string); ok {
					ex.Labels[k] = s
				}
			}
		}
		if pr, ok := m["priority"].(float64); ok {
			ex.Priority = pr
		}
		if md, ok := m["metadata"].(map[string]any); ok {
			ex.Metadata = md
		}
		if d, ok := m["distance"].(float64); ok {
			ex.Distance = &d
		}
		out = append(out, ex)
	}
	return out
}

// #endregion evidence

// #region helpers
func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return fallback
}

func allowed(choices []state.LabelValue, label state.LabelValue) bool {
	if len(choices) == 0 {
		return true
	}
	for _, c := range choices {
		if c == label {
			return true
		}
	}
	return false
}

// #endregion helpers
