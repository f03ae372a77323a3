package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// LLMSettings are the provider credentials and model read from SSM.
type LLMSettings struct {
	APIKey string
	Model  string
}

// tokenPayload is the JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// SettingsLoader reads <prefix>/llm-token and <prefix>/config/llm_model.
// A successful load is cached for the process lifetime; a failed one is
// retried on the next call.
type SettingsLoader struct {
	params       BatchGetter
	prefix       string
	defaultModel string

	mu     sync.Mutex
	cached *LLMSettings
}

func NewSettingsLoader(params BatchGetter, prefix, defaultModel string) (*SettingsLoader, error) {
	if params == nil {
		return nil, errors.New("paramstore: batch getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: parameter prefix must not be empty")
	}
	return &SettingsLoader{params: params, prefix: prefix, defaultModel: strings.TrimSpace(defaultModel)}, nil
}

func (l *SettingsLoader) tokenName() string { return l.prefix + "/llm-token" }

func (l *SettingsLoader) modelName() string { return l.prefix + "/config/llm_model" }

// LLMSettings returns the cached settings, loading them on first use. The
// model parameter is optional when a default model was configured.
func (l *SettingsLoader) LLMSettings(ctx context.Context) (LLMSettings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached != nil {
		return *l.cached, nil
	}

	values, err := l.params.GetParameters(ctx, l.tokenName(), l.modelName())
	if err != nil {
		return LLMSettings{}, err
	}
	raw, ok := values[l.tokenName()]
	if !ok {
		return LLMSettings{}, fmt.Errorf("paramstore: parameter %q not found", l.tokenName())
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return LLMSettings{}, fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return LLMSettings{}, errors.New("paramstore: API token is empty")
	}

	model := strings.TrimSpace(values[l.modelName()])
	if model == "" {
		model = l.defaultModel
	}
	if model == "" {
		return LLMSettings{}, fmt.Errorf("paramstore: parameter %q not found and no default model", l.modelName())
	}

	l.cached = &LLMSettings{APIKey: tp.Token, Model: model}
	return *l.cached, nil
}
