package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"insurance-agent/internal/domain"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	conv := domain.NewConversation("abc", testNow)
	require.NoError(t, s.Create(ctx, conv))
	require.Error(t, s.Create(ctx, conv))

	conv.Append(domain.RoleUser, "I'm 28", testNow.Add(time.Minute))
	conv.Append(domain.RoleAssistant, "What type?", testNow.Add(time.Minute))
	conv.SetAge(28)
	require.NoError(t, s.SaveTurn(ctx, conv, conv.Messages))

	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, 28, got.Age)
	require.Len(t, got.Messages, 2)
	require.Equal(t, testNow.Add(time.Minute), got.LastActivity)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, "abc"))
	_, err = s.Get(ctx, "abc")
	require.ErrorIs(t, err, domain.ErrConversationNotFound)
	require.ErrorIs(t, s.Delete(ctx, "abc"), domain.ErrConversationNotFound)
}

func TestMemoryStore_ReturnsClones(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv := domain.NewConversation("abc", testNow)
	require.NoError(t, s.Create(ctx, conv))

	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	got.Append(domain.RoleUser, "mutated", testNow)

	again, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	require.Empty(t, again.Messages)
}

func TestMemoryStore_SaveTurnAfterDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv := domain.NewConversation("abc", testNow)
	conv.Append(domain.RoleUser, "hi", testNow)
	err := s.SaveTurn(ctx, conv, conv.Messages)
	require.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestMemoryStore_SaveTurnRejectsStaleHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv := domain.NewConversation("abc", testNow)
	require.NoError(t, s.Create(ctx, conv))

	conv.Append(domain.RoleUser, "one", testNow)
	conv.Append(domain.RoleUser, "two", testNow)
	err := s.SaveTurn(ctx, conv, conv.Messages[1:])
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestMemoryStore_DeleteInactive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, domain.NewConversation("old", testNow.Add(-25*time.Hour))))
	require.NoError(t, s.Create(ctx, domain.NewConversation("fresh", testNow.Add(-time.Hour))))

	removed, err := s.DeleteInactive(ctx, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = s.Get(ctx, "old")
	require.ErrorIs(t, err, domain.ErrConversationNotFound)
	_, err = s.Get(ctx, "fresh")
	require.NoError(t, err)
}

func TestMemoryStore_ConcurrentConversations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			conv := domain.NewConversation(id, testNow)
			_ = s.Create(ctx, conv)
			conv.Append(domain.RoleUser, "hi", testNow)
			_ = s.SaveTurn(ctx, conv, conv.Messages)
		}(i)
	}
	wg.Wait()
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, n)
}
