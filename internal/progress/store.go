package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MemoryStore keeps first-seen times in process. Suitable for a single API replica.
type MemoryStore struct {
	mu    sync.Mutex
	first map[uuid.UUID]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{first: make(map[uuid.UUID]time.Time)}
}

func (s *MemoryStore) FirstSeen(_ context.Context, imageID uuid.UUID, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.first[imageID]; ok {
		return t, nil
	}
	s.first[imageID] = now
	return now, nil
}

func (s *MemoryStore) Forget(_ context.Context, imageIDs ...uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range imageIDs {
		delete(s.first, id)
	}
	return nil
}

// RedisStore shares first-seen times across API replicas. Keys expire so
// abandoned clocks do not accumulate.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(imageID uuid.UUID) string {
	return "progress:first_seen:" + imageID.String()
}

func (s *RedisStore) FirstSeen(ctx context.Context, imageID uuid.UUID, now time.Time) (time.Time, error) {
	key := redisKey(imageID)

	set, err := s.rdb.SetNX(ctx, key, now.UnixMilli(), s.ttl).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to record first seen: %w", err)
	}
	if set {
		return now, nil
	}

	ms, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls.
		return now, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read first seen: %w", err)
	}
	return time.UnixMilli(ms), nil
}

func (s *RedisStore) Forget(ctx context.Context, imageIDs ...uuid.UUID) error {
	keys := make([]string, len(imageIDs))
	for i, id := range imageIDs {
		keys[i] = redisKey(id)
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to forget progress clocks: %w", err)
	}
	return nil
}
