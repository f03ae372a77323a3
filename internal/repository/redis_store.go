package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"insurance-agent/internal/domain"
)

const defaultRedisPrefix = "insurance:"

// RedisConfig describes the connection used by RedisStore.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore keeps each conversation as one JSON value that expires after
// the idle timeout. A sorted set scored by last activity indexes the live
// conversations for the sweep and for Count.
type RedisStore struct {
	client redis.UniversalClient
	closer func() error
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("repository: redis address must not be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("repository: redis ping: %w", err)
	}
	s := newRedisStore(client, cfg.KeyPrefix, cfg.TTL)
	s.closer = client.Close
	return s, nil
}

func newRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) convKey(id string) string { return s.prefix + "conv:" + id }

func (s *RedisStore) activityKey() string { return s.prefix + "activity" }

func (s *RedisStore) Create(ctx context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.ID) == "" {
		return errors.New("repository: Create: conversation id is required")
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("repository: Create encode: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.convKey(conv.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	if !ok {
		return fmt.Errorf("repository: Create: conversation %q already exists", conv.ID)
	}
	if err := s.touch(ctx, conv); err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	data, err := s.client.Get(ctx, s.convKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Conversation{}, fmt.Errorf("repository: Get %q: %w", conversationID, domain.ErrConversationNotFound)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get: %w", err)
	}
	var conv domain.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get decode: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = []domain.Message{}
	}
	return conv, nil
}

// SaveTurn overwrites the stored value under WATCH, refreshing its expiry.
// The stored history must still be the prefix the turn was appended to, so
// a concurrent post on the same conversation fails instead of dropping a turn.
func (s *RedisStore) SaveTurn(ctx context.Context, conv domain.Conversation, turn []domain.Message) error {
	if len(turn) > len(conv.Messages) {
		return errors.New("repository: SaveTurn: turn is longer than the conversation history")
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("repository: SaveTurn encode: %w", err)
	}
	key := s.convKey(conv.ID)
	want := len(conv.Messages) - len(turn)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrConversationNotFound
		}
		if err != nil {
			return err
		}
		var stored domain.Conversation
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decode stored: %w", err)
		}
		if len(stored.Messages) != want {
			return fmt.Errorf("history has %d messages, turn expects %d", len(stored.Messages), want)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.ZAdd(ctx, s.activityKey(), s.activity(conv))
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrConversationNotFound):
		return fmt.Errorf("repository: SaveTurn %q: %w", conv.ID, domain.ErrConversationNotFound)
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("repository: SaveTurn %q: conversation changed concurrently", conv.ID)
	}
	return fmt.Errorf("repository: SaveTurn %q: %w", conv.ID, err)
}

func (s *RedisStore) activity(conv domain.Conversation) redis.Z {
	return redis.Z{Score: float64(conv.LastActivity.Unix()), Member: conv.ID}
}

func (s *RedisStore) touch(ctx context.Context, conv domain.Conversation) error {
	return s.client.ZAdd(ctx, s.activityKey(), s.activity(conv)).Err()
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	n, err := s.client.Del(ctx, s.convKey(conversationID)).Result()
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	if err := s.client.ZRem(ctx, s.activityKey(), conversationID).Err(); err != nil {
		return fmt.Errorf("repository: Delete index: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository: Delete %q: %w", conversationID, domain.ErrConversationNotFound)
	}
	return nil
}

// DeleteInactive removes every indexed conversation whose last activity is
// strictly before cutoff.
func (s *RedisStore) DeleteInactive(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.staleIDs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteInactive: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids))
	members := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.convKey(id))
		members = append(members, id)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.activityKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteInactive: %w", err)
	}
	return len(ids), nil
}

func (s *RedisStore) staleIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, s.activityKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
}

// Count returns the number of indexed conversations. Index entries whose
// value already expired natively are pruned first.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	expired := "(" + strconv.FormatInt(s.now().Add(-s.ttl).Unix(), 10)
	if err := s.client.ZRemRangeByScore(ctx, s.activityKey(), "-inf", expired).Err(); err != nil {
		return 0, fmt.Errorf("repository: Count prune: %w", err)
	}
	n, err := s.client.ZCard(ctx, s.activityKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("repository: Count: %w", err)
	}
	return int(n), nil
}

// Close releases the connection when the store owns it.
func (s *RedisStore) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
