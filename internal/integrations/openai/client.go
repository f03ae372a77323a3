package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"insurance-agent/internal/domain"
	"insurance-agent/internal/integrations/paramstore"
)

const (
	DefaultModel      = string(openai.ChatModelGPT4oMini)
	defaultMaxRetries = 1
	maxTokens         = 512
)

// SettingsSource provides the API key and model, typically from SSM.
type SettingsSource interface {
	LLMSettings(ctx context.Context) (paramstore.LLMSettings, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPStatusError) Unwrap() error { return e.Err }

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client generates completions against any OpenAI-compatible Chat
// Completions endpoint (OpenAI, Groq).
type Client struct {
	settings   SettingsSource
	baseURL    string
	httpClient *http.Client
	maxRetries int

	mu     sync.Mutex
	sdk    *openai.Client
	sdkKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// NewClient creates a Client. Settings are resolved on the first call to
// Generate, not here, so a cold start never blocks on SSM.
func NewClient(settings SettingsSource, opts ...Option) (*Client, error) {
	if settings == nil {
		return nil, errors.New("openai: settings source must not be nil")
	}
	c := &Client{
		settings:   settings,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// client returns the SDK client for apiKey, building it on first use.
func (c *Client) client(apiKey string) *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sdk != nil && c.sdkKey == apiKey {
		return c.sdk
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(c.maxRetries),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(c.httpClient))
	}
	sdk := openai.NewClient(reqOpts...)
	c.sdk, c.sdkKey = &sdk, apiKey
	return c.sdk
}

// Generate sends one chat completion and returns the first choice's text.
// When req.Schema is set the response is constrained to that JSON schema.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("openai: at least one message is required")
	}
	settings, err := c.settings.LLMSettings(ctx)
	if err != nil {
		return "", fmt.Errorf("openai: resolve settings: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model:               settings.Model,
		Messages:            buildMessages(req.Messages),
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name,
					Strict: openai.Bool(true),
					Schema: req.Schema.Schema,
				},
			},
		}
	}

	resp, err := c.client(settings.APIKey).Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &HTTPStatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", fmt.Errorf("openai: request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func buildMessages(msgs []domain.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
