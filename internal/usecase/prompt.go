package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"insurance-agent/internal/domain"
)

type extractionResponse struct {
	Age           *int    `json:"age"`
	InsuranceType *string `json:"insurance_type"`
}

var extractionSchema = &domain.OutputSchema{
	Name: "insurance_fields",
	Schema: json.RawMessage(`{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"age":{"type":["integer","null"]},
			"insurance_type":{"type":["string","null"],"enum":["health","life","auto",null]}
		},
		"required":["age","insurance_type"]
	}`),
}

func buildExtractionRequest(utterance string) domain.GenerateRequest {
	return domain.GenerateRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: extractionPolicy()},
			{Role: "user", Content: "Extract from: " + normalizePromptInput(utterance)},
		},
		Schema: extractionSchema,
	}
}

func extractionPolicy() string {
	return strings.Join([]string{
		"Role:",
		"You are an information extraction assistant.",
		"",
		"Task:",
		"Extract the user's age and insurance type from their message.",
		"",
		"Output Contract:",
		`Return ONLY a JSON object: {"age": number_or_null, "insurance_type": "health"|"life"|"auto"|null}.`,
		"Use null for anything the message does not state. Car or vehicle insurance is auto.",
		"",
		"Examples:",
		`- "I'm 25 and need health insurance" -> {"age": 25, "insurance_type": "health"}`,
		`- "Looking for car insurance" -> {"age": null, "insurance_type": "auto"}`,
		`- "I need insurance" -> {"age": null, "insurance_type": null}`,
	}, "\n")
}

func buildFollowUpRequest(history []domain.Message, missing []domain.Field) domain.GenerateRequest {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, normalizePromptInput(m.Content)))
	}
	return domain.GenerateRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: strings.Join([]string{
				"You are a friendly insurance assistant.",
				"Generate natural follow-up questions to collect missing information.",
				"Be conversational, helpful, and specific. Don't be robotic.",
				"Available insurance types: health, life, auto insurance.",
			}, "\n")},
			{Role: "user", Content: fmt.Sprintf(
				"Conversation so far:\n%s\n\nMissing information: %s\n\nGenerate a helpful follow-up question to collect the missing information.",
				strings.Join(lines, "\n"),
				joinFields(missing),
			)},
		},
	}
}

func buildQuoteRequest(info string) domain.GenerateRequest {
	return domain.GenerateRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: "You are a helpful insurance assistant. " +
				"Present insurance information in a friendly, well-formatted way using emojis and clear structure. " +
				"Be enthusiastic but professional. Never change the figures you are given."},
			{Role: "user", Content: "Present this insurance information to the user:\n" + info +
				"\nMake it engaging and ask if they want more details."},
		},
	}
}

func buildNotFoundRequest(cat domain.Category, age int) domain.GenerateRequest {
	return domain.GenerateRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: "You are a helpful insurance assistant. Generate a polite response when no insurance options are found."},
			{Role: "user", Content: fmt.Sprintf("No insurance options found for %s insurance for age %d. Suggest contacting support.", cat, age)},
		},
	}
}

func joinFields(fields []domain.Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, string(f))
	}
	return strings.Join(parts, ", ")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

// parseExtraction decodes the structured extraction result. Out-of-range
// ages are dropped; an unknown insurance type makes the whole result invalid.
func parseExtraction(raw string) (extraction, error) {
	var out extractionResponse
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return extraction{}, fmt.Errorf("usecase: decode extraction: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return extraction{}, errors.New("usecase: decode extraction: multiple JSON values")
		}
		return extraction{}, fmt.Errorf("usecase: decode extraction trailing data: %w", err)
	}

	var ex extraction
	if out.Age != nil && validAge(*out.Age) {
		ex.age = *out.Age
	}
	if out.InsuranceType != nil && strings.TrimSpace(*out.InsuranceType) != "" {
		cat, ok := domain.ParseCategory(*out.InsuranceType)
		if !ok {
			return extraction{}, fmt.Errorf("usecase: decode extraction: unknown insurance type %q", *out.InsuranceType)
		}
		ex.category = cat
	}
	return ex, nil
}
