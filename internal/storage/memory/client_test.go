package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomchat/internal/model"
)

var bob = model.Reactor{UserID: "c-bob", Username: "bob"}

func TestToggleRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(time.Hour)

	m, added, err := c.Toggle(ctx, "lobby", "a1", "👍", bob)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, model.ReactionMap{"👍": {bob}}, m)

	m, added, err = c.Toggle(ctx, "lobby", "a1", "👍", bob)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, m)
	assert.Zero(t, c.Len())
}

func TestRoomsAreIsolated(t *testing.T) {
	ctx := context.Background()
	c := New(time.Hour)
	_, _, _ = c.Toggle(ctx, "lobby", "a1", "👍", bob)

	got, err := c.Get(ctx, "games", "a1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, c.ForgetRoom(ctx, "lobby"))
	got, err = c.Get(ctx, "lobby", "a1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExpiredEntriesStartOver(t *testing.T) {
	ctx := context.Background()
	c := New(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, _, _ = c.Toggle(ctx, "lobby", "a1", "👍", bob)
	now = now.Add(2 * time.Minute)

	got, err := c.Get(ctx, "lobby", "a1")
	require.NoError(t, err)
	assert.Empty(t, got)

	m, added, err := c.Toggle(ctx, "lobby", "a1", "👍", bob)
	require.NoError(t, err)
	assert.True(t, added, "an expired mark is gone, so toggling adds it again")
	assert.Equal(t, 1, m.Count("👍"))
}

func TestReturnedMapIsACopy(t *testing.T) {
	ctx := context.Background()
	c := New(time.Hour)
	m, _, _ := c.Toggle(ctx, "lobby", "a1", "👍", bob)
	m["👍"][0].Username = "mallory"

	got, _ := c.Get(ctx, "lobby", "a1")
	assert.Equal(t, "bob", got["👍"][0].Username)
}

func TestConcurrentTogglesNeverLoseMarks(t *testing.T) {
	ctx := context.Background()
	c := New(time.Hour)
	const users = 64
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := model.Reactor{UserID: fmt.Sprintf("u%d", i)}
			// three toggles: net effect is one mark
			for j := 0; j < 3; j++ {
				_, _, err := c.Toggle(ctx, "lobby", "a1", "🎉", r)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := c.Get(ctx, "lobby", "a1")
	require.NoError(t, err)
	assert.Equal(t, users, got.Count("🎉"))
}
