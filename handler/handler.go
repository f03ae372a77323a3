package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"insurance-agent/internal/domain"
	"insurance-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	serviceName       = "insurance-agent"
)

// ChatUseCase is the conversation surface the handler depends on.
type ChatUseCase interface {
	Start(ctx context.Context) (usecase.StartOutput, error)
	Post(ctx context.Context, in usecase.PostInput) (usecase.PostOutput, error)
	History(ctx context.Context, id string) (usecase.HistoryOutput, error)
	Delete(ctx context.Context, id string) error
	Cleanup(ctx context.Context) (usecase.CleanupOutput, error)
	Ready() bool
}

// QuoteUseCase is the direct quote surface the handler depends on.
type QuoteUseCase interface {
	Quote(in usecase.QuoteInput) (usecase.QuoteOutput, error)
	Types() usecase.TypesOutput
}

type Handler struct {
	chat   ChatUseCase
	quotes QuoteUseCase
	now    func() time.Time
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type quoteRequest struct {
	Age           *int   `json:"age"`
	InsuranceType string `json:"insurance_type"`
}

type healthResponse struct {
	Status       string `json:"status"`
	Service      string `json:"service"`
	Timestamp    string `json:"timestamp"`
	ChatbotReady bool   `json:"chatbot_ready"`
}

type startResponse struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type userInfo struct {
	Age           *int   `json:"age"`
	InsuranceType string `json:"insurance_type,omitempty"`
}

type chatResponse struct {
	ConversationID string   `json:"conversation_id"`
	Response       string   `json:"response"`
	UserInfo       userInfo `json:"user_info"`
	Stage          string   `json:"stage"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type historyResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []historyMessage `json:"messages"`
	UserInfo       userInfo         `json:"user_info"`
	CreatedAt      string           `json:"created_at"`
	LastActivity   string           `json:"last_activity"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type typesResponse struct {
	InsuranceTypes []string            `json:"insurance_types"`
	AgeBrackets    map[string][]string `json:"age_brackets"`
}

type quoteResponse struct {
	Age           int          `json:"age"`
	InsuranceType string       `json:"insurance_type"`
	AgeBracket    string       `json:"age_bracket"`
	Quote         domain.Quote `json:"quote"`
}

type cleanupResponse struct {
	CleanedConversations int `json:"cleaned_conversations"`
	ActiveConversations  int `json:"active_conversations"`
}

func NewHandler(chat ChatUseCase, quotes QuoteUseCase) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat usecase must not be nil")
	}
	if quotes == nil {
		return nil, errors.New("handler: quote usecase must not be nil")
	}
	return &Handler{chat: chat, quotes: quotes, now: time.Now}, nil
}

// Handle routes an API Gateway proxy event. Failures are always expressed
// as HTTP responses; the returned error is reserved for Lambda runtime faults.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := h.now()
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	resp := h.route(ctx, event, correlationID)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers["Content-Type"] = "application/json"
	resp.Headers[correlationHeader] = correlationID

	slog.InfoContext(ctx, "request handled",
		"method", event.HTTPMethod,
		"path", event.Path,
		"status", resp.StatusCode,
		"correlation_id", correlationID,
		"duration_ms", h.now().Sub(start).Milliseconds(),
	)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	method := strings.ToUpper(event.HTTPMethod)
	parts := strings.Split(strings.Trim(event.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		return errorJSON(http.StatusNotFound, usecase.ErrorNotFound, "route_not_found")
	}

	switch {
	case len(parts) == 2 && parts[1] == "health":
		if method != http.MethodGet {
			return methodNotAllowed()
		}
		return h.health()

	case len(parts) == 3 && parts[1] == "chat" && parts[2] == "start":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.start(ctx, correlationID)

	case len(parts) == 3 && parts[1] == "chat":
		switch method {
		case http.MethodPost:
			return h.post(ctx, parts[2], event, correlationID)
		case http.MethodDelete:
			return h.delete(ctx, parts[2], correlationID)
		}
		return methodNotAllowed()

	case len(parts) == 4 && parts[1] == "chat" && parts[3] == "history":
		if method != http.MethodGet {
			return methodNotAllowed()
		}
		return h.history(ctx, parts[2], correlationID)

	case len(parts) == 3 && parts[1] == "insurance" && parts[2] == "types":
		if method != http.MethodGet {
			return methodNotAllowed()
		}
		return h.types()

	case len(parts) == 3 && parts[1] == "insurance" && parts[2] == "quote":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.quote(ctx, event, correlationID)

	case len(parts) == 3 && parts[1] == "admin" && parts[2] == "cleanup":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.cleanup(ctx, correlationID)
	}
	return errorJSON(http.StatusNotFound, usecase.ErrorNotFound, "route_not_found")
}

func (h *Handler) health() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusOK, healthResponse{
		Status:       "healthy",
		Service:      serviceName,
		Timestamp:    h.now().UTC().Format(time.RFC3339),
		ChatbotReady: h.chat.Ready(),
	})
}

func (h *Handler) start(ctx context.Context, correlationID string) events.APIGatewayProxyResponse {
	out, err := h.chat.Start(ctx)
	if err != nil {
		return fromError(ctx, err, correlationID)
	}
	return jsonResponse(http.StatusOK, startResponse{ConversationID: out.ConversationID, Message: out.Greeting})
}

func (h *Handler) post(ctx context.Context, id string, event events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	var req messageRequest
	if err := decodeBody(event, &req); err != nil {
		return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json")
	}
	out, err := h.chat.Post(ctx, usecase.PostInput{ConversationID: id, Message: req.Message})
	if err != nil {
		return fromError(ctx, err, correlationID)
	}
	return jsonResponse(http.StatusOK, chatResponse{
		ConversationID: out.ConversationID,
		Response:       out.Reply,
		UserInfo:       newUserInfo(out.Age, out.Category),
		Stage:          string(out.Stage),
	})
}

func (h *Handler) history(ctx context.Context, id, correlationID string) events.APIGatewayProxyResponse {
	out, err := h.chat.History(ctx, id)
	if err != nil {
		return fromError(ctx, err, correlationID)
	}
	msgs := make([]historyMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, historyMessage{Role: m.Role, Content: m.Content})
	}
	return jsonResponse(http.StatusOK, historyResponse{
		ConversationID: out.ConversationID,
		Messages:       msgs,
		UserInfo:       newUserInfo(out.Age, out.Category),
		CreatedAt:      out.CreatedAt.UTC().Format(time.RFC3339),
		LastActivity:   out.LastActivity.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) delete(ctx context.Context, id, correlationID string) events.APIGatewayProxyResponse {
	if err := h.chat.Delete(ctx, id); err != nil {
		return fromError(ctx, err, correlationID)
	}
	return jsonResponse(http.StatusOK, messageResponse{Message: "Conversation deleted successfully"})
}

func (h *Handler) types() events.APIGatewayProxyResponse {
	out := h.quotes.Types()
	resp := typesResponse{
		InsuranceTypes: make([]string, 0, len(out.Categories)),
		AgeBrackets:    make(map[string][]string, len(out.Brackets)),
	}
	for _, c := range out.Categories {
		resp.InsuranceTypes = append(resp.InsuranceTypes, string(c))
	}
	for c, labels := range out.Brackets {
		resp.AgeBrackets[string(c)] = labels
	}
	return jsonResponse(http.StatusOK, resp)
}

func (h *Handler) quote(ctx context.Context, event events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	var req quoteRequest
	if err := decodeBody(event, &req); err != nil {
		return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json")
	}
	in := usecase.QuoteInput{Category: req.InsuranceType}
	if req.Age != nil {
		in.Age = *req.Age
		if in.Age == 0 {
			return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, "age_out_of_range")
		}
	}
	out, err := h.quotes.Quote(in)
	if err != nil {
		return fromError(ctx, err, correlationID)
	}
	return jsonResponse(http.StatusOK, quoteResponse{
		Age:           out.Age,
		InsuranceType: string(out.Category),
		AgeBracket:    out.Bracket,
		Quote:         out.Quote,
	})
}

func (h *Handler) cleanup(ctx context.Context, correlationID string) events.APIGatewayProxyResponse {
	out, err := h.chat.Cleanup(ctx)
	if err != nil {
		return fromError(ctx, err, correlationID)
	}
	return jsonResponse(http.StatusOK, cleanupResponse{CleanedConversations: out.Removed, ActiveConversations: out.Active})
}

func newUserInfo(age int, cat domain.Category) userInfo {
	info := userInfo{InsuranceType: string(cat)}
	if age != 0 {
		info.Age = &age
	}
	return info
}

// decodeBody decodes a JSON body. An empty body decodes to the zero value.
func decodeBody(event events.APIGatewayProxyRequest, v any) error {
	body := event.Body
	if event.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return err
		}
		body = string(raw)
	}
	if strings.TrimSpace(body) == "" {
		return nil
	}
	return json.Unmarshal([]byte(body), v)
}

func fromError(ctx context.Context, err error, correlationID string) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		slog.ErrorContext(ctx, "unexpected error", "err", err, "correlation_id", correlationID)
		return errorJSON(http.StatusInternalServerError, usecase.ErrorInternal, "internal_error")
	}
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err, "correlation_id", correlationID)
	}
	return errorJSON(status, ue.Code, ue.Reason)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed() events.APIGatewayProxyResponse {
	return errorJSON(http.StatusMethodNotAllowed, usecase.ErrorInvalidInput, "method_not_allowed")
}

func errorJSON(status int, code usecase.ErrorCode, reason string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Error: string(code), Message: reason})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"error":"INTERNAL_ERROR","message":"encode_error"}`,
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(body)}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
