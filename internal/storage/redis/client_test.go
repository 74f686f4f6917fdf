package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomchat/internal/model"
)

// newTestClient connects to REDIS_TEST_URL; the tests are skipped without it.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, url, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.FlushDB(ctx))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisToggle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	bob := model.Reactor{UserID: "c-bob", Username: "bob"}

	m, added, err := c.Toggle(ctx, "lobby", "a1", "👍", bob)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, model.ReactionMap{"👍": {bob}}, m)

	m, added, err = c.Toggle(ctx, "lobby", "a1", "👍", bob)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, m)

	n, err := c.cli.Exists(ctx, reactionKey("lobby", "a1")).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "an empty map is deleted, not stored")
}

func TestRedisConcurrentToggles(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _, err := c.Toggle(ctx, "lobby", "a1", "🎉", model.Reactor{UserID: id})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	got, err := c.Get(ctx, "lobby", "a1")
	require.NoError(t, err)
	assert.Equal(t, 8, got.Count("🎉"))
}

func TestRedisForgetRoom(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	r := model.Reactor{UserID: "u1"}
	_, _, _ = c.Toggle(ctx, "lobby*", "a1", "👍", r)
	_, _, _ = c.Toggle(ctx, "lobby-2", "b1", "👍", r)

	require.NoError(t, c.ForgetRoom(ctx, "lobby*"))

	got, err := c.Get(ctx, "lobby*", "a1")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = c.Get(ctx, "lobby-2", "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count("👍"), "glob characters in room names are escaped")
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?\[c\]\\`, escapeGlob(`a*b?[c]\`))
}
