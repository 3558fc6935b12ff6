// Package cache stores generated query explanations so repeated queries do
// not cost another provider call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultTTL applies when a cache is created without one.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "insightpilot:explain:"

// ExplanationCache is a best-effort key/value store. Implementations never
// fail a pipeline run: Get misses on error and Set drops the value.
type ExplanationCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, explanation string)
}

// Key derives the cache key for a query in a dialect.
func Key(dialect, query string) string {
	sum := sha256.Sum256([]byte(dialect + "\n" + query))
	return keyPrefix + hex.EncodeToString(sum[:])
}

type memoryItem struct {
	value   string
	expires time.Time
}

// Memory is an in-process cache with a TTL and a size bound. When full, the
// entry closest to expiry is evicted.
type Memory struct {
	mu      sync.Mutex
	items   map[string]memoryItem
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

var _ ExplanationCache = (*Memory)(nil)

// NewMemory returns an in-memory cache. Non-positive arguments take defaults
// (DefaultTTL, 1024 entries).
func NewMemory(ttl time.Duration, maxSize int) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Memory{items: make(map[string]memoryItem), ttl: ttl, maxSize: maxSize, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return "", false
	}
	if !m.now().Before(item.expires) {
		delete(m.items, key)
		return "", false
	}
	return item.value, true
}

func (m *Memory) Set(_ context.Context, key, explanation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; !exists && len(m.items) >= m.maxSize {
		m.evictLocked()
	}
	m.items[key] = memoryItem{value: explanation, expires: m.now().Add(m.ttl)}
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) evictLocked() {
	var (
		victim string
		oldest time.Time
	)
	for k, item := range m.items {
		if victim == "" || item.expires.Before(oldest) {
			victim, oldest = k, item.expires
		}
	}
	delete(m.items, victim)
}
