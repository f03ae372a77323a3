package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"insurance-agent/internal/domain"
)

// MemoryStore keeps conversations in a process local map. It is safe for
// concurrent access and suited to tests or a single warm Lambda container.
// Conversations are cloned on the way in and out so callers never share
// slices with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]domain.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]domain.Conversation)}
}

func (s *MemoryStore) Create(_ context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.ID) == "" {
		return errors.New("repository: Create: conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conv.ID]; ok {
		return fmt.Errorf("repository: Create: conversation %q already exists", conv.ID)
	}
	s.convs[conv.ID] = conv.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, conversationID string) (domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("repository: Get %q: %w", conversationID, domain.ErrConversationNotFound)
	}
	return conv.Clone(), nil
}

// SaveTurn replaces the stored snapshot. The stored history must be the
// prefix the turn was appended to.
func (s *MemoryStore) SaveTurn(_ context.Context, conv domain.Conversation, turn []domain.Message) error {
	if len(turn) > len(conv.Messages) {
		return errors.New("repository: SaveTurn: turn is longer than the conversation history")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.convs[conv.ID]
	if !ok {
		return fmt.Errorf("repository: SaveTurn %q: %w", conv.ID, domain.ErrConversationNotFound)
	}
	if len(stored.Messages) != len(conv.Messages)-len(turn) {
		return fmt.Errorf("repository: SaveTurn %q: history has %d messages, turn expects %d",
			conv.ID, len(stored.Messages), len(conv.Messages)-len(turn))
	}
	s.convs[conv.ID] = conv.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conversationID]; !ok {
		return fmt.Errorf("repository: Delete %q: %w", conversationID, domain.ErrConversationNotFound)
	}
	delete(s.convs, conversationID)
	return nil
}

func (s *MemoryStore) DeleteInactive(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, conv := range s.convs {
		if conv.LastActivity.Before(cutoff) {
			delete(s.convs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs), nil
}
