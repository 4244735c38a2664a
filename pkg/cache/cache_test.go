package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("key", "value")
	v, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestCache_MissingKey(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.SetWithTTL("key", "value", 20*time.Millisecond)
	_, ok := c.Get("key")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("key")
	assert.False(t, ok)
}

func TestCache_Delete(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("key", "value")
	c.Delete("key")
	_, ok := c.Get("key")
	assert.False(t, ok)
}

func TestCache_Overwrite(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("key", 1)
	c.Set("key", 2)
	v, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}
