package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"mindspace-agent/internal/domain"
	"mindspace-agent/internal/llm"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	keyFetchTimeout = 5 * time.Second
)

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to an OpenAI-compatible API (OpenAI, Groq, vLLM, ...) for chat
// completions and embeddings.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	getter         Getter
	tokenParameter string
	staticKey      string
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int

	mu  sync.Mutex
	api *goopenai.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(baseURL); s != "" {
			c.baseURL = s
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey skips the parameter store lookup.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = strings.TrimSpace(model)
	}
}

func WithEmbeddingModel(model string) Option {
	return func(c *Client) {
		c.embeddingModel = strings.TrimSpace(model)
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = n
	}
}

// NewClient creates a new Client. Unless WithAPIKey is given, the API key is
// fetched from the parameter store on the first call and reused for the
// lifetime of the process.
func NewClient(ps Getter, tokenParameter string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:        defaultBaseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		getter:         ps,
		tokenParameter: strings.TrimSpace(tokenParameter),
		temperature:    0.7,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staticKey == "" {
		if ps == nil {
			return nil, errors.New("openai: paramstore getter must not be nil without an API key")
		}
		if c.tokenParameter == "" {
			return nil, errors.New("openai: token parameter must not be empty")
		}
	}
	return c, nil
}

// resolveAPI builds the go-openai client on first use. Only a successful
// build is kept; a failed key fetch is retried by the next call. The fetch
// runs detached from the caller's cancellation, bounded by keyFetchTimeout.
func (c *Client) resolveAPI(ctx context.Context) (*goopenai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}

	key := c.staticKey
	if key == "" {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keyFetchTimeout)
		defer cancel()
		var err error
		if key, err = fetchAPIKeyFromParamStore(fetchCtx, c.getter, c.tokenParameter); err != nil {
			return nil, err
		}
	}
	cfg := goopenai.DefaultConfig(key)
	cfg.BaseURL = strings.TrimRight(c.baseURL, "/")
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	c.api = goopenai.NewClientWithConfig(cfg)
	return c.api, nil
}

// Generate sends the conversation to the chat completions endpoint and
// returns the first choice.
func (c *Client) Generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	return c.complete(ctx, messages, nil)
}

// GenerateChoice asks for a strict JSON schema answer. Providers that reject
// json_schema with a 400 are retried once in plain JSON mode.
func (c *Client) GenerateChoice(ctx context.Context, messages []domain.ChatMessage, choice llm.Choice) (string, error) {
	out, err := c.complete(ctx, messages, &goopenai.ChatCompletionResponseFormat{
		Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
			Name:   choice.Name,
			Schema: choice.Schema(),
			Strict: true,
		},
	})
	var statusErr *HTTPStatusError
	if err == nil || !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		return out, err
	}
	slog.Warn("json_schema output rejected, retrying in json_object mode", "model", c.model, "err", err)
	return c.complete(ctx, messages, &goopenai.ChatCompletionResponseFormat{
		Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
	})
}

func (c *Client) complete(ctx context.Context, messages []domain.ChatMessage, format *goopenai.ChatCompletionResponseFormat) (string, error) {
	if c.model == "" {
		return "", errors.New("openai: model must not be empty")
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}

	req := goopenai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       toOpenAIMessages(messages),
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: format,
	}
	resp, err := api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", statusError(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector of a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("openai: no texts provided for embedding")
	}
	if c.embeddingModel == "" {
		return nil, errors.New("openai: embedding model must not be empty")
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create embeddings: %w", statusError(err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func toOpenAIMessages(messages []domain.ChatMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// statusError maps go-openai errors carrying an HTTP status to HTTPStatusError
// so callers can detect rate limiting without importing go-openai.
func statusError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
