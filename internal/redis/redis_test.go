package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// These run without a live server and pin the graceful-fallback behavior.

func TestInitUnconfigured(t *testing.T) {
	assert.False(t, Init(Config{}))
	assert.False(t, IsAvailable())
}

func TestInitBadURL(t *testing.T) {
	assert.False(t, Init(Config{URL: "not-a-url"}))
	assert.False(t, IsAvailable())
}

func TestCloseWithoutInit(t *testing.T) {
	Close()
	assert.False(t, IsAvailable())
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "session:qq:group:5", SessionKey("qq:group:5"))
}

func TestSnapshotOpsUnavailable(t *testing.T) {
	ctx := context.Background()
	assert.False(t, SetJSON(ctx, SessionKey("qq:1"), map[string]any{"a": 1}, time.Minute))

	var out map[string]any
	assert.False(t, GetJSON(ctx, SessionKey("qq:1"), &out))
	assert.Nil(t, out)
}
