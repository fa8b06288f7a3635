package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)

type memoryEntry struct {
	userID  int64
	expires time.Time
}

// MemoryStore keeps sessions in process memory. Sessions are lost on
// restart and are not shared between instances.
type MemoryStore struct {
	sessions sync.Map
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Save(ctx context.Context, id string, userID int64, ttl time.Duration) error {
	s.sessions.Store(id, memoryEntry{userID: userID, expires: s.now().Add(ttl)})
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (int64, error) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return 0, ErrNotFound
	}
	entry := v.(memoryEntry)
	if !s.now().Before(entry.expires) {
		s.sessions.Delete(id)
		return 0, ErrNotFound
	}
	return entry.userID, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.sessions.Delete(id)
	return nil
}

// RedisStore keeps sessions as "session:<id>" keys that expire with the
// session.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, id string, userID int64, ttl time.Duration) error {
	return s.client.Set(ctx, keyPrefix+id, strconv.FormatInt(userID, 10), ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, id string) (int64, error) {
	userID, err := s.client.Get(ctx, keyPrefix+id).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, keyPrefix+id).Err()
}
