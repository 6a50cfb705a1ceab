package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// #region openai-config
// OpenAIConfig configures an OpenAI-compatible chat endpoint. BaseURL may
// point at a local server such as LM Studio.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	JSONMode    bool
}

// #endregion openai-config

// #region openai-oracle
// OpenAIOracle labels through a chat completion endpoint.
type OpenAIOracle struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

const systemPrompt = "You label user feedback for triage. You answer with a single JSON object."

// NewOpenAIOracle builds an oracle client. Model is required.
func NewOpenAIOracle(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIOracle, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai oracle: model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIOracle{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With("component", "oracle", "model", cfg.Model),
	}, nil
}

// ModelID returns the configured model name.
func (o *OpenAIOracle) ModelID() string {
	return o.cfg.Model
}

// Label sends the prompt and returns the first choice's content.
func (o *OpenAIOracle) Label(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.cfg.Temperature,
	}
	if o.cfg.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices: %w", ErrEmptyResponse)
	}
	o.logger.Debug("oracle response", "finish_reason", resp.Choices[0].FinishReason, "tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

// #endregion openai-oracle
