package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"insurance-agent/internal/domain"
	"insurance-agent/internal/integrations/paramstore"
)

type fakeSettings struct {
	s   paramstore.LLMSettings
	err error
}

func (f *fakeSettings) LLMSettings(context.Context) (paramstore.LLMSettings, error) {
	return f.s, f.err
}

type captured struct {
	path   string
	apiKey string
	body   map[string]any
}

func messagesServer(t *testing.T, status int, respBody string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.apiKey = r.Header.Get("X-Api-Key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

const okMessage = `{
	"id": "msg_1",
	"type": "message",
	"role": "assistant",
	"model": "claude-3-5-haiku-latest",
	"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
	"stop_reason": "end_turn",
	"stop_sequence": null,
	"usage": {"input_tokens": 5, "output_tokens": 2}
}`

var testSettings = paramstore.LLMSettings{APIKey: "sk-ant-test", Model: "claude-3-5-haiku-latest"}

func newTestClient(t *testing.T, srv *httptest.Server, settings SettingsSource) *Client {
	t.Helper()
	c, err := NewClient(settings, WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()), WithMaxRetries(0))
	require.NoError(t, err)
	return c
}

func TestNewClient_NilSettings(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestGenerate_SplitsSystemAndTurns(t *testing.T) {
	srv, got := messagesServer(t, http.StatusOK, okMessage)
	c := newTestClient(t, srv, &fakeSettings{s: testSettings})

	out, err := c.Generate(context.Background(), domain.GenerateRequest{Messages: []domain.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "quote me"},
	}})
	require.NoError(t, err)
	require.Equal(t, "Hello there", out)

	require.Equal(t, "/v1/messages", got.path)
	require.Equal(t, "sk-ant-test", got.apiKey)
	require.Equal(t, "claude-3-5-haiku-latest", got.body["model"])

	system := got.body["system"].([]any)
	require.Len(t, system, 1)
	require.Equal(t, "be brief", system[0].(map[string]any)["text"])

	msgs := got.body["messages"].([]any)
	require.Len(t, msgs, 3)
	require.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
}

func TestGenerate_SchemaBecomesInstruction(t *testing.T) {
	srv, got := messagesServer(t, http.StatusOK, okMessage)
	c := newTestClient(t, srv, &fakeSettings{s: testSettings})

	_, err := c.Generate(context.Background(), domain.GenerateRequest{
		Messages: []domain.ChatMessage{{Role: "user", Content: "I'm 30"}},
		Schema:   &domain.OutputSchema{Name: "insurance_fields", Schema: json.RawMessage(`{"type":"object"}`)},
	})
	require.NoError(t, err)

	system := got.body["system"].([]any)
	require.Len(t, system, 1)
	text := system[0].(map[string]any)["text"].(string)
	require.Contains(t, text, `"insurance_fields"`)
	require.Contains(t, text, `{"type":"object"}`)
}

func TestGenerate_UpstreamStatus(t *testing.T) {
	srv, _ := messagesServer(t, http.StatusServiceUnavailable, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	c := newTestClient(t, srv, &fakeSettings{s: testSettings})

	_, err := c.Generate(context.Background(), domain.GenerateRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.HTTPStatusCode())
}

func TestGenerate_NoText(t *testing.T) {
	srv, _ := messagesServer(t, http.StatusOK, `{"id":"m","type":"message","role":"assistant","model":"x","content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":0}}`)
	c := newTestClient(t, srv, &fakeSettings{s: testSettings})

	_, err := c.Generate(context.Background(), domain.GenerateRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no text")
}

func TestGenerate_OnlySystemMessages(t *testing.T) {
	c, err := NewClient(&fakeSettings{s: testSettings})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), domain.GenerateRequest{Messages: []domain.ChatMessage{{Role: "system", Content: "x"}}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one")
}

func TestGenerate_SettingsError(t *testing.T) {
	srv, got := messagesServer(t, http.StatusOK, okMessage)
	c := newTestClient(t, srv, &fakeSettings{err: errors.New("ssm down")})

	_, err := c.Generate(context.Background(), domain.GenerateRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}}})
	require.ErrorContains(t, err, "ssm down")
	require.Empty(t, got.path)
}
