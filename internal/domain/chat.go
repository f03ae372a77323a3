package domain

import "encoding/json"

// ChatMessage is the provider-agnostic chat message shape used by the usecase
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OutputSchema constrains a completion to a named JSON schema when the
// provider supports structured output.
type OutputSchema struct {
	Name   string
	Schema json.RawMessage
}

// GenerateRequest is a single delegated completion call.
type GenerateRequest struct {
	Messages []ChatMessage
	Schema   *OutputSchema
}
