package room

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connected(ids ...string) *Directory {
	d := NewDirectory()
	for _, id := range ids {
		d.Connect(id)
	}
	return d
}

func TestJoinValidation(t *testing.T) {
	d := connected("a")
	_, err := d.Join("a", "  ", "alice")
	assert.ErrorIs(t, err, ErrEmptyRoom)
	_, err = d.Join("a", "lobby", "")
	assert.ErrorIs(t, err, ErrEmptyUsername)
	_, err = d.Join("ghost", "lobby", "alice")
	assert.ErrorIs(t, err, ErrUnknownConnection)
	assert.Empty(t, d.MembersOf("lobby"))
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	d := connected("a", "b")
	_, err := d.Join("b", "lobby", "bob")
	require.NoError(t, err)

	ch, err := d.Join("a", "lobby", "alice")
	require.NoError(t, err)
	assert.Equal(t, Change{Joined: "lobby"}, ch)

	ch, err = d.Join("a", "games", "alice")
	require.NoError(t, err)
	assert.Equal(t, Change{Joined: "games", Left: "lobby"}, ch)
	assert.Equal(t, []string{"b"}, d.MembersOf("lobby"))
	assert.Equal(t, []string{"a"}, d.MembersOf("games"))

	c, ok := d.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "games", c.Room)
	assert.Equal(t, "alice", c.Username)
}

func TestJoinIsIdempotent(t *testing.T) {
	d := connected("a")
	for i := 0; i < 3; i++ {
		_, err := d.Join("a", "lobby", "alice")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a"}, d.MembersOf("lobby"))
}

func TestLeave(t *testing.T) {
	d := connected("a", "b")
	_, _ = d.Join("a", "lobby", "alice")
	_, _ = d.Join("b", "lobby", "bob")

	assert.Equal(t, Change{}, d.Leave("a", "games"), "leaving a room you are not in is a no-op")
	assert.Equal(t, Change{Left: "lobby"}, d.Leave("a", "lobby"))
	assert.Equal(t, Change{}, d.Leave("a", "lobby"))
	assert.Equal(t, Change{Left: "lobby", Emptied: "lobby"}, d.Leave("b", "lobby"))
	_, rooms := d.Stats()
	assert.Zero(t, rooms)
}

func TestDisconnectRemovesMembership(t *testing.T) {
	d := connected("a", "b")
	_, _ = d.Join("a", "lobby", "alice")
	_, _ = d.Join("b", "lobby", "bob")

	ch, ok := d.Disconnect("a")
	require.True(t, ok)
	assert.Equal(t, Change{Left: "lobby"}, ch)
	assert.Equal(t, []string{"b"}, d.MembersOf("lobby"))
	assert.False(t, d.IsMember("a", "lobby"))
	_, ok = d.Lookup("a")
	assert.False(t, ok)

	_, ok = d.Disconnect("a")
	assert.False(t, ok)
}

func TestReconnectAndRejoinDoesNotDuplicate(t *testing.T) {
	d := connected("a")
	_, _ = d.Join("a", "lobby", "alice")
	d.Connect("a")
	_, _ = d.Join("a", "lobby", "alice")
	assert.Equal(t, []string{"a"}, d.MembersOf("lobby"))

	d.Disconnect("a")
	d.Connect("a2")
	_, _ = d.Join("a2", "lobby", "alice")
	assert.Equal(t, []string{"a2"}, d.MembersOf("lobby"))
}

func TestConcurrentMembershipStaysConsistent(t *testing.T) {
	d := NewDirectory()
	rooms := []string{"r1", "r2", "r3"}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("c%d", i)
		d.Connect(id)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = d.Join(id, rooms[(i+j)%len(rooms)], "u")
				if j%7 == 0 {
					d.Leave(id, rooms[(i+j)%len(rooms)])
				}
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]string)
	for _, r := range rooms {
		for _, id := range d.MembersOf(r) {
			prev, dup := seen[id]
			require.False(t, dup, "%s in both %s and %s", id, prev, r)
			seen[id] = r
			c, _ := d.Lookup(id)
			assert.Equal(t, r, c.Room)
		}
	}
}
