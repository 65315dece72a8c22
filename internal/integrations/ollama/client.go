// Package ollama adapts a local Ollama server to the llm.Generator contract.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/llm"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "qwen2.5:1.5b"
)

type Client struct {
	client *api.Client
	model  string
}

// NewClient returns a client for the Ollama server at baseURL. A nil
// httpClient uses http.DefaultClient.
func NewClient(baseURL, model string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("ollama: invalid url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{client: api.NewClient(parsed, httpClient), model: model}, nil
}

func (c *Client) Model() string { return c.model }

// Generate runs a non-streaming chat request and returns the assistant text.
func (c *Client) Generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	return c.chat(ctx, messages, nil)
}

// GenerateChoice passes the choice schema as the structured output format.
func (c *Client) GenerateChoice(ctx context.Context, messages []domain.ChatMessage, choice llm.Choice) (string, error) {
	return c.chat(ctx, messages, choice.Schema())
}

func (c *Client) chat(ctx context.Context, messages []domain.ChatMessage, format json.RawMessage) (string, error) {
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama: chat: %w", err)
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", errors.New("ollama: empty response")
	}
	return out, nil
}

// Ping reports whether the server answers a model listing.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.client.List(ctx); err != nil {
		return fmt.Errorf("ollama: ping: %w", err)
	}
	return nil
}
