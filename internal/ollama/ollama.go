// Package ollama is a completion backend for a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/stupiduntilnot/cortexchat/internal/model"
)

// DefaultHost is used when no host is configured.
const DefaultHost = "http://localhost:11434"

// tags maps catalog ids to local Ollama model tags.
var tags = map[string]string{
	model.MistralLarge: "mistral-large",
	model.Llama3_70B:   "llama3:70b",
	model.Mixtral8x7B:  "mixtral:8x7b",
}

// Client runs non-streaming generate requests.
type Client struct {
	api *api.Client
}

func NewClient(host string, timeout time.Duration) (*Client, error) {
	if host == "" {
		host = DefaultHost
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return &Client{api: api.NewClient(base, &http.Client{Timeout: timeout})}, nil
}

// Tag returns the Ollama tag for a catalog id; unknown ids pass through.
func Tag(modelID string) string {
	if tag, ok := tags[modelID]; ok {
		return tag
	}
	return modelID
}

// Complete implements model.Provider.
func (c *Client) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:  Tag(modelID),
		Prompt: prompt,
		Stream: &stream,
	}
	var sb strings.Builder
	err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}
	return sb.String(), nil
}
