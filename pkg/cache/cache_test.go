package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	a := Key("sql", "SELECT 1")
	assert.Equal(t, a, Key("sql", "SELECT 1"))
	assert.NotEqual(t, a, Key("document", "SELECT 1"))
	assert.NotEqual(t, a, Key("sql", "SELECT 2"))
	assert.Contains(t, a, keyPrefix)
}

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute, 10)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", "counts orders")
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "counts orders", v)

	now = now.Add(time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "expired entries miss")
	assert.Equal(t, 0, c.Len())
}

func TestMemory_EvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Hour, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set(ctx, "first", "1")
	now = now.Add(time.Second)
	c.Set(ctx, "second", "2")
	now = now.Add(time.Second)
	c.Set(ctx, "third", "3")

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(ctx, "first")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "third")
	assert.True(t, ok)

	c.Set(ctx, "third", "updated")
	assert.Equal(t, 2, c.Len(), "overwriting does not evict")
}
