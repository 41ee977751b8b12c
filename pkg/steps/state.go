package steps

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore keeps the actor-scoped current step index per page. The index is
// transient client-session state and does not outlive the session TTL.
type StateStore interface {
	CurrentIndex(ctx context.Context, actorKey, pageID string) (int, error)
	SetCurrentIndex(ctx context.Context, actorKey, pageID string, index int) error
	Reset(ctx context.Context, actorKey, pageID string) error
}

// RedisStateStore keeps step indexes in Redis with TTL.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStateStore builds a Redis-backed state store.
func NewRedisStateStore(addr, password string, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

func stateKey(actorKey, pageID string) string {
	return fmt.Sprintf("streamform:step:%s:%s", actorKey, pageID)
}

// CurrentIndex returns the stored index, or 0 when none is recorded.
func (s *RedisStateStore) CurrentIndex(ctx context.Context, actorKey, pageID string) (int, error) {
	val, err := s.client.Get(ctx, stateKey(actorKey, pageID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	index, err := strconv.Atoi(val)
	if err != nil {
		return 0, nil
	}
	return index, nil
}

// SetCurrentIndex stores the index and refreshes the TTL.
func (s *RedisStateStore) SetCurrentIndex(ctx context.Context, actorKey, pageID string, index int) error {
	return s.client.Set(ctx, stateKey(actorKey, pageID), strconv.Itoa(index), s.ttl).Err()
}

// Reset removes the stored index. Missing keys are not an error.
func (s *RedisStateStore) Reset(ctx context.Context, actorKey, pageID string) error {
	if err := s.client.Del(ctx, stateKey(actorKey, pageID)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// MemoryStateStore keeps step indexes in-process, for tests and single-node
// development runs.
type MemoryStateStore struct {
	mu      sync.RWMutex
	indexes map[string]int
}

// NewMemoryStateStore initializes an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{indexes: make(map[string]int)}
}

func (s *MemoryStateStore) CurrentIndex(_ context.Context, actorKey, pageID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[stateKey(actorKey, pageID)], nil
}

func (s *MemoryStateStore) SetCurrentIndex(_ context.Context, actorKey, pageID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[stateKey(actorKey, pageID)] = index
	return nil
}

func (s *MemoryStateStore) Reset(_ context.Context, actorKey, pageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, stateKey(actorKey, pageID))
	return nil
}
