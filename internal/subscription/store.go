package subscription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSnapshot is returned by a Store whose slot is empty.
var ErrNoSnapshot = errors.New("no cached snapshot")

// Store persists the raw bytes of a single cached snapshot.
type Store interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
}

// MemoryStore keeps the snapshot in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Read(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemoryStore) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

// FileStore keeps the snapshot in a file so it survives between CLI invocations.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to dir/subscription-<userID>.json.
func NewFileStore(dir, userID string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "subscription-"+userID+".json")}, nil
}

func (s *FileStore) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

func (s *FileStore) Write(_ context.Context, data []byte) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

const redisKeyPrefix = "subscription:snapshot:"

// RedisStore shares the snapshot between client processes of the same session.
// Keys expire after the stale window; freshness is still decided by the Cache.
type RedisStore struct {
	client *redis.Client
	key    string
	expiry time.Duration
}

func NewRedisStore(client *redis.Client, userID string, expiry time.Duration) *RedisStore {
	return &RedisStore{client: client, key: redisKeyPrefix + userID, expiry: expiry}
}

func (s *RedisStore) Read(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot from redis: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Write(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, s.expiry).Err(); err != nil {
		return fmt.Errorf("set snapshot in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete snapshot from redis: %w", err)
	}
	return nil
}
