// Package client is the participant side of the chat transport. It keeps one
// WebSocket to the server, reconnects after a drop, re-announces its room on every
// new connection and feeds what arrives into a reconcile.Store.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/protocol"
	"github.com/roomchat/internal/reconcile"
)

var (
	ErrNotConnected  = errors.New("not connected")
	ErrEmptyRoom     = errors.New("room is required")
	ErrEmptyUsername = errors.New("username is required")
)

type Options struct {
	// Origin is sent on the handshake; servers with a trusted-origin list check it.
	Origin     string
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	WriteWait  time.Duration
	Store      reconcile.Options
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 10 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

// Client is one participant in one room. Construct with Join, drive with Run.
type Client struct {
	url      string
	room     string
	username string
	opts     Options
	store    *reconcile.Store

	mu   sync.Mutex
	conn *websocket.Conn
	self string

	// writeMu serializes writers; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// Join validates the room and username and prepares a participant. Nothing is sent
// until Run connects.
func Join(url, room, username string, opts Options) (*Client, error) {
	room = strings.TrimSpace(room)
	username = strings.TrimSpace(username)
	if room == "" {
		return nil, ErrEmptyRoom
	}
	if username == "" {
		return nil, ErrEmptyUsername
	}
	opts = opts.withDefaults()
	return &Client{
		url:      url,
		room:     room,
		username: username,
		opts:     opts,
		store:    reconcile.New(room, username, opts.Store),
	}, nil
}

func (c *Client) Store() *reconcile.Store { return c.store }

// ID returns the connection id of the current connection, empty while disconnected.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.self != ""
}

// Run keeps the participant connected until ctx is cancelled. After every drop it
// waits with exponential backoff, dials again and re-issues join_room: the server
// forgets membership with the connection.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			backoff = c.opts.MinBackoff
			if err := c.session(ctx, conn); err != nil && ctx.Err() == nil {
				logger.Errorf("client room=%s: connection lost: %v", c.room, err)
			}
		} else if ctx.Err() == nil {
			logger.Errorf("client dial %s: %v (retry in %v)", c.url, err, backoff)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if err != nil {
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Origin != "" {
		header.Set("Origin", c.opts.Origin)
	}
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("client.dial: %w", err)
	}
	return conn, nil
}

// session reads frames from conn until it fails or ctx ends.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.self = ""
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := protocol.DecodeServer(data)
		if err != nil {
			logger.Debugf("client decode: %v", err)
			continue
		}
		switch e := ev.(type) {
		case protocol.Connected:
			c.mu.Lock()
			c.self = e.ID
			c.mu.Unlock()
			c.store.SetSelf(e.ID)
			if err := c.write(protocol.JoinRoom{Room: c.room, Username: c.username}); err != nil {
				return err
			}
			logger.Infof("client connected conn=%s room=%s", e.ID, c.room)
		case protocol.ReceiveMessage:
			c.store.ApplyRemoteMessage(e.Message)
		case protocol.ReactionUpdated:
			c.store.ApplyReactionUpdate(e.MessageClientMessageID, e.UpdatedReactions)
		case protocol.Error:
			logger.Errorf("client room=%s: server error: %s", c.room, e.Reason)
		}
	}
}

func (c *Client) write(ev protocol.ClientEvent) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Send sends the store's draft. The message shows locally before the write; there
// is no acknowledgement to wait for.
func (c *Client) Send() (model.Message, error) {
	if !c.Connected() {
		return model.Message{}, ErrNotConnected
	}
	msg, err := c.store.Send()
	if err != nil {
		return model.Message{}, err
	}
	if err := c.write(protocol.SendMessage{Message: msg}); err != nil {
		return msg, fmt.Errorf("client.Send: %w", err)
	}
	return msg, nil
}

// React toggles the participant's emoji on a message. The store changes only when
// the server broadcasts the resulting map.
func (c *Client) React(clientMessageID, emoji string) error {
	return c.write(protocol.SendReaction{
		Room:                   c.room,
		MessageClientMessageID: clientMessageID,
		Emoji:                  emoji,
	})
}

// Leave announces leaving the room. The connection stays open.
func (c *Client) Leave() error {
	return c.write(protocol.LeaveRoom{Room: c.room, Username: c.username})
}

// drop closes the current connection as if the network went away.
func (c *Client) drop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
