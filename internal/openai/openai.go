// Package openai is a completion backend for OpenAI-compatible chat APIs.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client sends the whole prompt as one user message.
type Client struct {
	client *goopenai.Client
	model  string
	log    *zap.Logger
}

// NewClient creates an OpenAI client. baseURL may be empty for the public API.
// model, when set, replaces the catalog id on every request.
func NewClient(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client: goopenai.NewClientWithConfig(cfg),
		model:  model,
		log:    logger,
	}
}

// Complete implements model.Provider.
func (c *Client) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	name := modelID
	if c.model != "" {
		name = c.model
	}
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: name,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	c.log.Debug("openai completion",
		zap.String("model", name),
		zap.Int("input_tokens", resp.Usage.PromptTokens),
		zap.Int("output_tokens", resp.Usage.CompletionTokens),
	)

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
