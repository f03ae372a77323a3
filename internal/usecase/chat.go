package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"insurance-agent/internal/domain"
	"insurance-agent/internal/quote"
)

const (
	defaultIdleTimeout    = 24 * time.Hour
	defaultMaxMessage     = 500
	defaultHistoryContext = 3
)

// ConversationStore persists conversations. Implementations return errors
// wrapping domain.ErrConversationNotFound for unknown ids.
type ConversationStore interface {
	Create(ctx context.Context, conv domain.Conversation) error
	Get(ctx context.Context, id string) (domain.Conversation, error)
	SaveTurn(ctx context.Context, conv domain.Conversation, turn []domain.Message) error
	Delete(ctx context.Context, id string) error
	DeleteInactive(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

type ChatConfig struct {
	CallTimeout      time.Duration
	IdleTimeout      time.Duration
	MaxMessageLength int
	HistoryContext   int
}

type ChatService struct {
	store         ConversationStore
	machine       machine
	generatorSet  bool
	idleTimeout   time.Duration
	maxMessageLen int
	now           func() time.Time
}

type StartOutput struct {
	ConversationID string
	Greeting       string
}

type PostInput struct {
	ConversationID string
	Message        string
}

type PostOutput struct {
	ConversationID string
	Reply          string
	Age            int
	Category       domain.Category
	Stage          domain.Stage
}

type HistoryOutput struct {
	ConversationID string
	Messages       []domain.Message
	Age            int
	Category       domain.Category
	CreatedAt      time.Time
	LastActivity   time.Time
}

type CleanupOutput struct {
	Removed int
	Active  int
}

// NewChatService wires the conversation flow. gen may be nil, in which case
// every reply uses the deterministic fallbacks.
func NewChatService(store ConversationStore, gen Generator, table *quote.Table, cfg ChatConfig) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if table == nil {
		return nil, errors.New("usecase: quote table must not be nil")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessage
	}
	if cfg.HistoryContext <= 0 {
		cfg.HistoryContext = defaultHistoryContext
	}
	d := delegate{gen: gen, timeout: cfg.CallTimeout}
	return &ChatService{
		store: store,
		machine: machine{
			extractor: extractor{d: d},
			responder: responder{d: d, table: table, historyContext: cfg.HistoryContext},
		},
		generatorSet:  gen != nil,
		idleTimeout:   cfg.IdleTimeout,
		maxMessageLen: cfg.MaxMessageLength,
		now:           time.Now,
	}, nil
}

// Ready reports whether a language model is configured.
func (s *ChatService) Ready() bool {
	return s.generatorSet
}

func (s *ChatService) Start(ctx context.Context) (StartOutput, error) {
	conv := domain.NewConversation(newUUID(), s.now().UTC())
	if err := s.store.Create(ctx, conv); err != nil {
		return StartOutput{}, newError(ErrorInternal, "store_create_error", err)
	}
	return StartOutput{ConversationID: conv.ID, Greeting: greeting}, nil
}

func (s *ChatService) Post(ctx context.Context, in PostInput) (PostOutput, error) {
	id := strings.TrimSpace(in.ConversationID)
	if id == "" {
		return PostOutput{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return PostOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(message) > s.maxMessageLen {
		return PostOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	conv, err := s.load(ctx, id)
	if err != nil {
		return PostOutput{}, err
	}

	before := len(conv.Messages)
	reply := s.machine.turn(ctx, &conv, message, s.now().UTC())

	if err := s.store.SaveTurn(ctx, conv, conv.Messages[before:]); err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return PostOutput{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		return PostOutput{}, newError(ErrorInternal, "store_save_error", err)
	}
	slog.DebugContext(ctx, "turn completed", "conversationId", id, "stage", conv.Stage, "missing", joinFields(conv.Missing()))

	return PostOutput{
		ConversationID: id,
		Reply:          reply,
		Age:            conv.Age,
		Category:       conv.Category,
		Stage:          conv.Stage,
	}, nil
}

func (s *ChatService) History(ctx context.Context, id string) (HistoryOutput, error) {
	conv, err := s.load(ctx, strings.TrimSpace(id))
	if err != nil {
		return HistoryOutput{}, err
	}
	return HistoryOutput{
		ConversationID: conv.ID,
		Messages:       conv.Messages,
		Age:            conv.Age,
		Category:       conv.Category,
		CreatedAt:      conv.CreatedAt,
		LastActivity:   conv.LastActivity,
	}, nil
}

func (s *ChatService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return newError(ErrorNotFound, "conversation_not_found", err)
		}
		return newError(ErrorInternal, "store_delete_error", err)
	}
	return nil
}

// Cleanup removes conversations idle for longer than the configured timeout.
func (s *ChatService) Cleanup(ctx context.Context) (CleanupOutput, error) {
	cutoff := s.now().UTC().Add(-s.idleTimeout)
	removed, err := s.store.DeleteInactive(ctx, cutoff)
	if err != nil {
		return CleanupOutput{}, newError(ErrorInternal, "store_sweep_error", err)
	}
	active, err := s.store.Count(ctx)
	if err != nil {
		return CleanupOutput{}, newError(ErrorInternal, "store_count_error", err)
	}
	slog.InfoContext(ctx, "conversation sweep finished", "removed", removed, "active", active, "cutoff", cutoff)
	return CleanupOutput{Removed: removed, Active: active}, nil
}

func (s *ChatService) load(ctx context.Context, id string) (domain.Conversation, error) {
	if id == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	conv, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return domain.Conversation{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		return domain.Conversation{}, newError(ErrorInternal, "store_read_error", err)
	}
	return conv, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
