// Package preferences 持久化用户选择的生成服务端点。
package preferences

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// EndpointStore 读写端点偏好，未设置时读出空字符串。
type EndpointStore interface {
	LoadEndpoint(ctx context.Context) (string, error)
	SaveEndpoint(ctx context.Context, endpoint string) error
}

type redisEndpointStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 把偏好保存在单个不过期的 Redis key 下。
func NewRedisStore(client *redis.Client, key string) EndpointStore {
	return &redisEndpointStore{client: client, key: key}
}

func (s *redisEndpointStore) LoadEndpoint(ctx context.Context) (string, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load endpoint preference: %w", err)
	}
	return value, nil
}

func (s *redisEndpointStore) SaveEndpoint(ctx context.Context, endpoint string) error {
	if err := s.client.Set(ctx, s.key, endpoint, 0).Err(); err != nil {
		return fmt.Errorf("failed to save endpoint preference: %w", err)
	}
	return nil
}

// MemoryStore 把偏好保存在进程内存中，重启后丢失。
type MemoryStore struct {
	mu       sync.RWMutex
	endpoint string
}

// NewMemoryStore 创建一个空的 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadEndpoint 返回当前保存的端点，未设置时为空字符串。
func (s *MemoryStore) LoadEndpoint(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint, nil
}

// SaveEndpoint 覆盖保存的端点。
func (s *MemoryStore) SaveEndpoint(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = endpoint
	return nil
}
