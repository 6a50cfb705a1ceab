package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

var dims = []string{"severity", "urgency", "impact"}

func TestParseProposalStrict(t *testing.T) {
	raw := `{
	  "labels": {"severity": "High", "urgency": "medium", "impact": "high", "mood": "sad"},
	  "confidences": {"severity": 1.4, "urgency": 0.6},
	  "rationale": {"severity": "data loss"},
	  "evidence": [{"text": "crash on save", "labels": {"severity": "high"}, "distance": 0.2}, {"text": ""}, 3],
	  "source": "weak_llm",
	  "model_id": "mistral"
	}`
	p, err := ParseProposal(raw, ParseOptions{Dimensions: dims, ModelID: "fallback"})
	require.NoError(t, err)

	assert.Equal(t, map[string]state.LabelValue{"severity": "high", "urgency": "medium", "impact": "high"}, p.Labels)
	assert.Equal(t, 1.0, p.Confidences["severity"])
	assert.Equal(t, 0.6, p.Confidences["urgency"])
	_, hasImpact := p.Confidences["impact"]
	assert.False(t, hasImpact, "missing confidence must not be invented")
	assert.Equal(t, "data loss", p.Rationale["severity"])
	require.Len(t, p.Evidence, 1)
	assert.Equal(t, 1.0, p.Evidence[0].Priority)
	require.NotNil(t, p.Evidence[0].Distance)
	assert.Equal(t, 0.2, *p.Evidence[0].Distance)
	assert.Equal(t, "mistral", p.ModelID)
}

func TestParseProposalRepairsFencesAndBareKeys(t *testing.T) {
	raw := "```json\n{labels: {severity: \"low\"}, model_id: \"m\"}\n```"
	p, err := ParseProposal(raw, ParseOptions{Dimensions: dims})
	require.NoError(t, err)
	assert.Equal(t, state.LabelValue("low"), p.Labels["severity"])
	assert.Equal(t, DefaultSource, p.Source)
}

func TestParseProposalIgnoresClaimedSource(t *testing.T) {
	raw := `{"labels": {"severity": "high"}, "source": "seed"}`
	p, err := ParseProposal(raw, ParseOptions{Dimensions: dims})
	require.NoError(t, err)
	assert.Equal(t, DefaultSource, p.Source)
	assert.NotEqual(t, state.SourceSeed, p.Source)
}

func TestParseProposalExtractsObjectFromProse(t *testing.T) {
	raw := `Sure! Here is the JSON: {"labels": {"urgency": "high"}} Hope it helps.`
	p, err := ParseProposal(raw, ParseOptions{Dimensions: dims, ModelID: "fallback"})
	require.NoError(t, err)
	assert.Equal(t, state.LabelValue("high"), p.Labels["urgency"])
	assert.Equal(t, "fallback", p.ModelID)
}

func TestParseProposalFlatForm(t *testing.T) {
	p, err := ParseProposal(`{"severity": "low", "impact": "medium"}`, ParseOptions{Dimensions: dims})
	require.NoError(t, err)
	assert.Len(t, p.Labels, 2)
}

func TestParseProposalRespectsChoices(t *testing.T) {
	choices := map[string][]state.LabelValue{"impact": {"medium", "high"}}
	_, err := ParseProposal(`{"labels": {"impact": "low"}}`, ParseOptions{Dimensions: []string{"impact"}, Choices: choices})
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
}

func TestParseProposalFailures(t *testing.T) {
	cases := map[string]string{
		"empty":          "   ",
		"no object":      "I cannot help with that",
		"broken json":    `{"labels": {"severity": "low"`,
		"labels wrong":   `{"labels": ["low"]}`,
		"no known label": `{"labels": {"mood": "sad"}}`,
		"empty label":    `{"labels": {"severity": "  "}}`,
		"non-string":     `{"labels": {"severity": 3}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProposal(raw, ParseOptions{Dimensions: dims})
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
		})
	}
	_, err := ParseProposal("", ParseOptions{})
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestBuildPromptIncludesExemplarsAndSchema(t *testing.T) {
	prompt := BuildPrompt(PromptInput{
		Text:       `Login "fails" on Safari`,
		Dimensions: dims,
		Choices:    map[string][]state.LabelValue{"impact": {"medium", "high"}},
		Exemplars:  []state.Example{{Text: "crash", Labels: map[string]string{"severity": "high"}, Priority: 0.5}},
		ModelID:    "mistral",
	})
	assert.Contains(t, prompt, `"Login \"fails\" on Safari"`)
	assert.Contains(t, prompt, `- impact: one of medium | high`)
	assert.Contains(t, prompt, `{"feedback":"crash","labels":{"severity":"high"},"priority":0.5}`)
	assert.Contains(t, prompt, `"model_id": "mistral"`)
	assert.Contains(t, prompt, `"source": "weak_llm"`)
}

func TestTightenedPrompt(t *testing.T) {
	prompt := TightenedPrompt(PromptInput{Text: "slow", Dimensions: []string{"severity"}, ModelID: "m"})
	assert.True(t, strings.HasPrefix(prompt, "Your previous response was invalid JSON"))
	assert.Contains(t, prompt, `"severity": "..."`)
	assert.NotContains(t, prompt, "urgency")
}

func TestOpenAIOracleLabel(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"labels\":{\"severity\":\"low\"}}"},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	o, err := NewOpenAIOracle(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "local-model", JSONMode: true}, nil)
	require.NoError(t, err)

	out, err := o.Label(context.Background(), "label this")
	require.NoError(t, err)
	assert.Equal(t, `{"labels":{"severity":"low"}}`, out)
	assert.Equal(t, "local-model", gotReq["model"])
	format, ok := gotReq["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIOracleNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	o, err := NewOpenAIOracle(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m"}, nil)
	require.NoError(t, err)
	_, err = o.Label(context.Background(), "p")
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestNewOpenAIOracleRequiresModel(t *testing.T) {
	_, err := NewOpenAIOracle(OpenAIConfig{}, nil)
	assert.Error(t, err)
}

func TestFuncAdapter(t *testing.T) {
	var o Oracle = Func(func(_ context.Context, p string) (string, error) { return strings.ToUpper(p), nil })
	out, err := o.Label(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, "OK", out)
}
