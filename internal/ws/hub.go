package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/metrics"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/protocol"
	"github.com/roomchat/internal/reaction"
	"github.com/roomchat/internal/relay"
	"github.com/roomchat/internal/room"
	"github.com/roomchat/internal/storage"
)

var (
	ErrTooManyConnections = errors.New("connection limit reached")
	ErrHubClosed          = errors.New("hub is shut down")
)

type Options struct {
	MaxConns        int
	SendBufferSize  int
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageSize  int64
	EventsPerSecond float64
	EventBurst      int
	// StrictMembership makes send_message and send_reaction check the asserted room.
	StrictMembership bool
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = 10000
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 8192
	}
	if o.EventsPerSecond > 0 && o.EventBurst <= 0 {
		o.EventBurst = int(o.EventsPerSecond) + 1
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Hub owns the live clients and routes their events to the room directory, the
// relay and the reaction aggregator. It is the Deliverer both of them fan out through.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	// roomMu orders joins against dropping an emptied room's reactions: joins
	// share it, forgetIfEmpty holds it exclusively.
	roomMu sync.RWMutex

	dir       *room.Directory
	relay     *relay.Relay
	reactions *reaction.Aggregator
	opts      Options
	done      chan struct{}
}

func NewHub(dir *room.Directory, store storage.ReactionStore, opts Options) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		clients: make(map[string]*Client),
		dir:     dir,
		opts:    opts,
		done:    make(chan struct{}),
	}
	h.relay = relay.New(dir, h, relay.Options{StrictMembership: opts.StrictMembership})
	h.reactions = reaction.New(store, dir, h, reaction.Options{StrictMembership: opts.StrictMembership})
	return h
}

// Run blocks until ctx is cancelled, then closes every client and waits for their pumps.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	<-ctx.Done()
	h.shutdown()
}

// Done is closed once Run has finished shutting down.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) shutdown() {
	// collect under the lock, do the network I/O outside it
	h.mu.Lock()
	h.closed = true
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

// Register adds c to the hub and the directory, tells the participant its id and
// starts its pumps. The pumps are counted before c becomes visible to shutdown, and
// no frame is read before the directory knows the connection.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if len(h.clients) >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting conn=%s", h.opts.MaxConns, c.id)
		return ErrTooManyConnections
	}
	c.wg.Add(2)
	h.clients[c.id] = c
	h.mu.Unlock()

	h.dir.Connect(c.id)
	h.updateGauges()
	logger.Infof("ws connected conn=%s", c.id)
	h.sendToClient(c, protocol.Wrap(protocol.Connected{ID: c.id}))
	c.start()
	return nil
}

// Unregister removes c from its room and forgets it. It runs synchronously, so once
// it returns no broadcast can pick c as a recipient.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()

	if ch, ok := h.dir.Disconnect(c.id); ok {
		h.afterChange(ch)
		logger.Infof("ws disconnected conn=%s room=%s", c.id, ch.Left)
	}
	h.updateGauges()
	c.Close()
}

// HandleMessage dispatches one decoded client event.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, ev protocol.ClientEvent) {
	switch e := ev.(type) {
	case protocol.JoinRoom:
		h.handleJoin(c, e)
	case protocol.LeaveRoom:
		h.handleLeave(c, e)
	case protocol.SendMessage:
		h.handleSendMessage(c, e.Message)
	case protocol.SendReaction:
		h.handleSendReaction(ctx, c, e)
	default:
		h.reject(c, "unknown_event", "unknown event type")
	}
}

func (h *Hub) handleJoin(c *Client, e protocol.JoinRoom) {
	h.roomMu.RLock()
	ch, err := h.dir.Join(c.id, e.Room, e.Username)
	h.roomMu.RUnlock()
	if err != nil {
		h.reject(c, "invalid_join", err.Error())
		return
	}
	h.afterChange(ch)
	if ch.Joined != "" {
		logger.Infof("ws join conn=%s room=%s username=%s", c.id, ch.Joined, e.Username)
	}
}

func (h *Hub) handleLeave(c *Client, e protocol.LeaveRoom) {
	ch := h.dir.Leave(c.id, e.Room)
	h.afterChange(ch)
	if ch.Left != "" {
		logger.Infof("ws leave conn=%s room=%s", c.id, ch.Left)
	}
}

func (h *Hub) handleSendMessage(c *Client, msg model.Message) {
	if _, err := h.relay.Relay(c.id, msg); err != nil {
		h.reject(c, "invalid_message", err.Error())
	}
}

func (h *Hub) handleSendReaction(ctx context.Context, c *Client, e protocol.SendReaction) {
	if _, err := h.reactions.Toggle(ctx, c.id, e); err != nil {
		if errors.Is(err, reaction.ErrInvalidReaction) || errors.Is(err, reaction.ErrNotMember) ||
			errors.Is(err, reaction.ErrUnknownReactor) {
			h.reject(c, "invalid_reaction", err.Error())
			return
		}
		logger.Errorf("ws reaction conn=%s msg=%s: %v", c.id, e.MessageClientMessageID, err)
		h.sendToClient(c, protocol.Wrap(protocol.Error{Reason: "internal error"}))
	}
}

func (h *Hub) reject(c *Client, reason, msg string) {
	metrics.Rejected(reason)
	h.sendToClient(c, protocol.Wrap(protocol.Error{Reason: msg}))
}

// afterChange drops the reaction state of a room that lost its last member.
func (h *Hub) afterChange(ch room.Change) {
	if ch.Emptied != "" {
		h.forgetIfEmpty(ch.Emptied)
	}
	if ch.Joined != "" || ch.Left != "" {
		h.updateGauges()
	}
}

// forgetIfEmpty re-checks the room under roomMu: a participant may have joined it
// again since the change that emptied it, and its reactions must survive.
func (h *Hub) forgetIfEmpty(roomName string) {
	h.roomMu.Lock()
	defer h.roomMu.Unlock()
	if len(h.dir.MembersOf(roomName)) > 0 {
		return
	}
	h.reactions.ForgetRoom(context.Background(), roomName)
}

func (h *Hub) updateGauges() {
	conns, rooms := h.dir.Stats()
	metrics.ConnectionsActive.Set(float64(conns))
	metrics.RoomsActive.Set(float64(rooms))
}

// Deliver queues env for connection id. It never blocks: it reports false when
// the connection is gone or its buffer is full.
func (h *Hub) Deliver(id string, env protocol.Envelope) bool {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.sendToClient(c, env)
}

func (h *Hub) sendToClient(c *Client, env protocol.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		// backpressure: the buffer is full, drop the slow client
		logger.Errorf("ws send buffer full, closing slow client conn=%s", c.id)
		c.Close()
		return false
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats reports live connections and non-empty rooms.
func (h *Hub) Stats() (connections, rooms int) {
	return h.dir.Stats()
}
