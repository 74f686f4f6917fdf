package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomchat/internal/handler"
	"github.com/roomchat/internal/reconcile"
	"github.com/roomchat/internal/room"
	"github.com/roomchat/internal/storage/memory"
	"github.com/roomchat/internal/ws"
)

const waitFor = 3 * time.Second

func startServer(t *testing.T, origins []string) (*room.Directory, string) {
	t.Helper()
	dir := room.NewDirectory()
	hub := ws.NewHub(dir, memory.New(time.Hour), ws.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.NewWSHandler(hub, origins).ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		srv.Close()
	})
	return dir, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func startClient(t *testing.T, url, roomName, username, idPrefix string) *Client {
	t.Helper()
	var n atomic.Int64
	c, err := Join(url, roomName, username, Options{
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
		Store: reconcile.Options{NewID: func() string {
			return fmt.Sprintf("%s%d", idPrefix, n.Add(1))
		}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-errCh, context.Canceled)
	})
	require.Eventually(t, c.Connected, waitFor, 10*time.Millisecond)
	return c
}

func waitMembers(t *testing.T, dir *room.Directory, roomName string, clients ...*Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, c := range clients {
			id := c.ID()
			if id == "" || !dir.IsMember(id, roomName) {
				return false
			}
		}
		return len(dir.MembersOf(roomName)) == len(clients)
	}, waitFor, 10*time.Millisecond)
}

func TestJoinValidation(t *testing.T) {
	_, err := Join("ws://unused", "  ", "alice", Options{})
	assert.ErrorIs(t, err, ErrEmptyRoom)
	_, err = Join("ws://unused", "lobby", "", Options{})
	assert.ErrorIs(t, err, ErrEmptyUsername)

	c, err := Join("ws://unused", "lobby", "alice", Options{})
	require.NoError(t, err)
	c.Store().SetDraft("hi")
	_, err = c.Send()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, c.Store().Len(), "nothing is appended while disconnected")
	assert.ErrorIs(t, c.React("a1", "👍"), ErrNotConnected)
}

func TestLobbyConversation(t *testing.T) {
	dir, url := startServer(t, nil)
	alice := startClient(t, url, "lobby", "alice", "a")
	bob := startClient(t, url, "lobby", "bob", "b")
	waitMembers(t, dir, "lobby", alice, bob)

	alice.Store().SetDraft("hi")
	sent, err := alice.Send()
	require.NoError(t, err)
	require.Equal(t, "a1", sent.ClientMessageID)

	require.Eventually(t, func() bool {
		_, ok := bob.Store().Message("a1")
		return ok
	}, waitFor, 10*time.Millisecond)
	got, _ := bob.Store().Message("a1")
	assert.Equal(t, "hi", got.Message)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, alice.ID(), got.SenderID)
	assert.Equal(t, 1, alice.Store().Len(), "sender keeps only its optimistic copy")

	// bob reacts: both stores converge on the full map
	require.NoError(t, bob.React("a1", "👍"))
	for _, c := range []*Client{alice, bob} {
		store := c.Store()
		require.Eventually(t, func() bool {
			m, _ := store.Message("a1")
			return m.Reactions.HasReactor("👍", bob.ID())
		}, waitFor, 10*time.Millisecond)
	}

	// and again: the key disappears everywhere
	require.NoError(t, bob.React("a1", "👍"))
	for _, c := range []*Client{alice, bob} {
		store := c.Store()
		require.Eventually(t, func() bool {
			m, _ := store.Message("a1")
			_, present := m.Reactions["👍"]
			return !present
		}, waitFor, 10*time.Millisecond)
	}

	// alice replies to her own message
	require.NoError(t, alice.Store().StageReply("a1"))
	alice.Store().SetDraft("hello")
	reply, err := alice.Send()
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, "a1", reply.ReplyTo.ClientMessageID)
	assert.Equal(t, "hi", reply.ReplyTo.Message)

	require.Eventually(t, func() bool {
		m, ok := bob.Store().Message(reply.ClientMessageID)
		return ok && m.ReplyTo != nil && m.ReplyTo.ClientMessageID == "a1"
	}, waitFor, 10*time.Millisecond)
}

func TestOtherRoomStaysQuiet(t *testing.T) {
	dir, url := startServer(t, nil)
	alice := startClient(t, url, "lobby", "alice", "a")
	bob := startClient(t, url, "lobby", "bob", "b")
	carol := startClient(t, url, "garden", "carol", "c")
	waitMembers(t, dir, "lobby", alice, bob)
	waitMembers(t, dir, "garden", carol)

	alice.Store().SetDraft("lobby only")
	_, err := alice.Send()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return bob.Store().Len() == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, 0, carol.Store().Len())
}

func TestReconnectRejoins(t *testing.T) {
	dir, url := startServer(t, nil)
	alice := startClient(t, url, "lobby", "alice", "a")
	bob := startClient(t, url, "lobby", "bob", "b")
	waitMembers(t, dir, "lobby", alice, bob)

	oldID := bob.ID()
	bob.drop()

	require.Eventually(t, func() bool {
		id := bob.ID()
		return id != "" && id != oldID && dir.IsMember(id, "lobby")
	}, waitFor, 10*time.Millisecond)
	assert.False(t, dir.IsMember(oldID, "lobby"), "the dropped connection is gone from the room")
	waitMembers(t, dir, "lobby", alice, bob)

	alice.Store().SetDraft("welcome back")
	_, err := alice.Send()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bob.Store().Len() == 1 }, waitFor, 10*time.Millisecond)
}

func TestLeave(t *testing.T) {
	dir, url := startServer(t, nil)
	alice := startClient(t, url, "lobby", "alice", "a")
	waitMembers(t, dir, "lobby", alice)

	require.NoError(t, alice.Leave())
	require.Eventually(t, func() bool { return len(dir.MembersOf("lobby")) == 0 }, waitFor, 10*time.Millisecond)
	assert.True(t, alice.Connected())
}

func TestDialRejectedOrigin(t *testing.T) {
	_, url := startServer(t, []string{"http://localhost:5173"})

	c, err := Join(url, "lobby", "mallory", Options{Origin: "http://evil.example"})
	require.NoError(t, err)
	_, err = c.dial(context.Background())
	require.Error(t, err)

	c, err = Join(url, "lobby", "alice", Options{Origin: "http://localhost:5173"})
	require.NoError(t, err)
	conn, err := c.dial(context.Background())
	require.NoError(t, err)
	conn.Close()
}
