package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value    string
	expireAt time.Time // zero means no expiry
}

// memoryCache is an in-process Cache used when Redis is unavailable and in tests.
// State is local to the process, so rate-limit windows are per instance.
type memoryCache struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

// NewMemoryCache creates an in-process cache with per-key TTL.
func NewMemoryCache() Cache {
	return &memoryCache{
		data: make(map[string]memoryEntry),
		now:  time.Now,
	}
}

// get returns the live entry for key, lazily evicting it if expired.
// Caller must hold mu.
func (m *memoryCache) get(key string) (memoryEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expireAt.IsZero() && m.now().After(e.expireAt) {
		delete(m.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *memoryCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exp time.Time
	if expiration > 0 {
		exp = m.now().Add(expiration)
	}
	m.data[key] = memoryEntry{value: value, expireAt: exp}
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.get(key)
	return ok, nil
}

func (m *memoryCache) Increment(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(key)
	n := int64(0)
	if ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not an integer", key)
		}
		n = parsed
	}
	n++
	m.data[key] = memoryEntry{value: strconv.FormatInt(n, 10), expireAt: e.expireAt}
	return n, nil
}

func (m *memoryCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(key)
	if !ok {
		return ErrKeyNotFound
	}
	e.expireAt = m.now().Add(expiration)
	m.data[key] = e
	return nil
}

func (m *memoryCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(key)
	if !ok {
		return 0, ErrKeyNotFound
	}
	if e.expireAt.IsZero() {
		return 0, nil
	}
	return e.expireAt.Sub(m.now()), nil
}

func (m *memoryCache) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return m.Set(ctx, key, string(data), expiration)
}

func (m *memoryCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}
