package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/metrics"
	"github.com/roomchat/internal/protocol"
)

// bufPool pools bytes.Buffer for JSON encoding in writePump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one participant's WebSocket connection.
// Lifecycle: NewClient -> Hub.Register (starts readPump, writePump) -> Close -> Wait.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan protocol.Envelope
	id      string
	limiter *rate.Limiter

	// done is the non-blocking guard used by sendToClient.
	done chan struct{}
	// ctx bounds both pumps; cancel is called by Close.
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// NewClient wraps conn and assigns it a fresh connection id.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	var limiter *rate.Limiter
	if hub.opts.EventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(hub.opts.EventsPerSecond), hub.opts.EventBurst)
	}
	// the connection outlives the HTTP request, so its context does not derive from it
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan protocol.Envelope, hub.opts.SendBufferSize),
		id:      uuid.NewString(),
		limiter: limiter,
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Client) ID() string { return c.id }

// start launches the pumps. The hub has already counted them in wg.
func (c *Client) start() {
	go c.writePump(c.ctx)
	go c.readPump(c.ctx)
}

// Wait blocks until both pumps have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close stops the client. Safe to call many times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		// unblocks ReadMessage / WriteMessage in the pumps
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// readPump decodes frames and hands them to the hub. On exit the connection is
// unregistered, which removes it from its room before anything else can run.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.hub.Unregister(c)

	pongWait := c.hub.opts.PongWait
	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline conn=%s: %v", c.id, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error conn=%s: %v", c.id, err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			metrics.Rejected("rate_limited")
			c.hub.sendToClient(c, protocol.Wrap(protocol.Error{Reason: "too many events"}))
			continue
		}

		ev, err := protocol.DecodeClient(raw)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, protocol.ErrUnknownEvent) {
				reason = "unknown_event"
			}
			metrics.Rejected(reason)
			logger.Debugf("ws decode conn=%s: %v", c.id, err)
			c.hub.sendToClient(c, protocol.Wrap(protocol.Error{Reason: err.Error()}))
			continue
		}

		c.hub.HandleMessage(ctx, c, ev)
	}
}

// writePump writes queued frames and pings. It exits on ctx cancellation, a write
// error or a closed connection.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	writeWait := c.hub.opts.WriteWait
	ticker := time.NewTicker(c.hub.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case env := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline conn=%s: %v", c.id, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(env); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error conn=%s: %v", c.id, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text frames.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline conn=%s: %v", c.id, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
