package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/childassess/internal/config"
	"github.com/sashabaranov/go-openai"
)

// ErrEmptyReply is returned when the backend answers with no choices.
var ErrEmptyReply = errors.New("generative backend returned no choices")

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for cfg.BaseURL.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

// Generate implements Generator.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		generateTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		generateTotal.WithLabelValues("empty").Inc()
		return "", ErrEmptyReply
	}

	generateTotal.WithLabelValues("ok").Inc()
	generateDuration.Observe(time.Since(start).Seconds())
	slog.Debug("Generative reply received", "model", o.model, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
