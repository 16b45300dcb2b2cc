package alarming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertState is the cooldown record for one location
type AlertState struct {
	LastAlertAt time.Time `json:"last_alert_at"`
	AlertCount  int64     `json:"alert_count"`
}

// Store holds per-location alert state. A location with no state has never alerted.
type Store interface {
	Get(ctx context.Context, location string) (*AlertState, error)
	Set(ctx context.Context, location string, state *AlertState) error
	Delete(ctx context.Context, location string) error
	All(ctx context.Context) (map[string]*AlertState, error)
}

// MemoryStore keeps alert state for the lifetime of the process
type MemoryStore struct {
	states map[string]AlertState
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]AlertState)}
}

func (m *MemoryStore) Get(_ context.Context, location string) (*AlertState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[location]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *MemoryStore) Set(_ context.Context, location string, state *AlertState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[location] = *state
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, location)
	return nil
}

func (m *MemoryStore) All(_ context.Context) (map[string]*AlertState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*AlertState, len(m.states))
	for k, v := range m.states {
		state := v
		out[k] = &state
	}
	return out, nil
}

const redisKeyPrefix = "aqi_alert:"

// RedisStore shares alert state between monitor replicas
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Redis backed store. Entries expire after ttl so
// state for locations that stopped alerting is cleaned up.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func redisKey(location string) string {
	return redisKeyPrefix + location
}

func (s *RedisStore) Get(ctx context.Context, location string) (*AlertState, error) {
	data, err := s.redis.Get(ctx, redisKey(location)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state AlertState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

func (s *RedisStore) Set(ctx context.Context, location string, state *AlertState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.redis.Set(ctx, redisKey(location), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, location string) error {
	return s.redis.Del(ctx, redisKey(location)).Err()
}

func (s *RedisStore) All(ctx context.Context) (map[string]*AlertState, error) {
	states := make(map[string]*AlertState)

	iter := s.redis.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var state AlertState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			continue
		}
		states[strings.TrimPrefix(key, redisKeyPrefix)] = &state
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan alert states: %w", err)
	}

	return states, nil
}
