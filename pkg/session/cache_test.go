package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResultCache_PutGetRoundTrip(t *testing.T) {
	c := NewResultCache(time.Minute)
	c.Put("sess1", &Result{Stage: StageComplete, ImageBytes: []byte("x")})

	got, ok := c.Get("sess1")
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), got.ImageBytes)
}

func TestResultCache_GetMissingReturnsFalse(t *testing.T) {
	c := NewResultCache(time.Minute)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestResultCache_EvictRemovesOnlyExpiredEntries(t *testing.T) {
	c := NewResultCache(10 * time.Millisecond)
	c.Put("expires-soon", &Result{Stage: StageComplete})

	time.Sleep(20 * time.Millisecond)
	c.Put("fresh", &Result{Stage: StageComplete})

	n := c.Evict(time.Now())
	assert.Equal(t, 1, n)

	_, ok := c.Get("expires-soon")
	assert.False(t, ok)
	_, ok = c.Get("fresh")
	assert.True(t, ok)
}
