// Package anthropic adapts the Anthropic Messages API to the usecase
// Generator capability.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"insurance-agent/internal/domain"
	"insurance-agent/internal/integrations/paramstore"
)

const (
	DefaultModel      = "claude-3-5-haiku-latest"
	defaultMaxRetries = 1
	maxTokens         = 512
)

// SettingsSource provides the API key and model, typically from SSM.
type SettingsSource interface {
	LLMSettings(ctx context.Context) (paramstore.LLMSettings, error)
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPStatusError) Unwrap() error { return e.Err }

func (e *HTTPStatusError) HTTPStatusCode() int { return e.StatusCode }

type Client struct {
	settings   SettingsSource
	baseURL    string
	httpClient *http.Client
	maxRetries int

	mu     sync.Mutex
	sdk    *anthropic.Client
	sdkKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSpace(baseURL) }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func NewClient(settings SettingsSource, opts ...Option) (*Client, error) {
	if settings == nil {
		return nil, errors.New("anthropic: settings source must not be nil")
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

func (c *Client) client(apiKey string) *anthropic.Client {
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
	sdk := anthropic.NewClient(reqOpts...)
	c.sdk, c.sdkKey = &sdk, apiKey
	return c.sdk
}

// Generate sends one Messages request and joins the returned text blocks.
// The Messages API has no schema-constrained output mode, so a requested
// schema is appended to the system prompt instead.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	system, messages := buildMessages(req.Messages)
	if len(messages) == 0 {
		return "", errors.New("anthropic: at least one user or assistant message is required")
	}
	if req.Schema != nil {
		system = append(system, anthropic.TextBlockParam{Text: fmt.Sprintf(
			"Respond with only a JSON object named %q matching this JSON schema, with no surrounding text:\n%s",
			req.Schema.Name, string(req.Schema.Schema))})
	}

	settings, err := c.settings.LLMSettings(ctx)
	if err != nil {
		return "", fmt.Errorf("anthropic: resolve settings: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(settings.Model),
		MaxTokens:   maxTokens,
		Messages:    messages,
		Temperature: anthropic.Float(0),
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.client(settings.APIKey).Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &HTTPStatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic: no text in response")
	}
	return sb.String(), nil
}

// buildMessages splits system prompts from the conversational turns.
func buildMessages(msgs []domain.ChatMessage) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case domain.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, out
}
