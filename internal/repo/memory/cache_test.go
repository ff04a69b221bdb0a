package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache()
	defer c.Close()

	c.Set("k1", "v1", time.Minute)
	v, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTLCacheExpiration(t *testing.T) {
	c := NewTTLCache()
	defer c.Close()

	c.Set("k1", "v1", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("k1")
	assert.False(t, ok, "expired entry must be a miss")
}

func TestTTLCacheOverwrite(t *testing.T) {
	c := NewTTLCache()
	defer c.Close()

	c.Set("k1", "v1", time.Minute)
	c.Set("k1", "v2", time.Minute)

	v, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, c.Len())
}
