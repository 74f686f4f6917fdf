package memory

import (
	"context"
	"sync"
	"time"

	"github.com/roomchat/internal/model"
)

// DefaultTTL bounds how long an untouched reaction map is kept.
const DefaultTTL = 24 * time.Hour

type item struct {
	reactions model.ReactionMap
	exp       time.Time
}

// Client keeps reaction maps in process memory. One mutex serializes all toggles.
type Client struct {
	mu    sync.Mutex
	rooms map[string]map[string]item
	ttl   time.Duration
	now   func() time.Time
}

func New(ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Client{
		rooms: make(map[string]map[string]item),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) Toggle(ctx context.Context, room, messageID, emoji string, reactor model.Reactor) (model.ReactionMap, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	msgs, ok := c.rooms[room]
	if !ok {
		msgs = make(map[string]item)
		c.rooms[room] = msgs
	}
	cur := msgs[messageID]
	if !cur.exp.IsZero() && now.After(cur.exp) {
		cur = item{}
	}
	next, added := cur.reactions.Toggled(emoji, reactor)
	if len(next) == 0 {
		delete(msgs, messageID)
		if len(msgs) == 0 {
			delete(c.rooms, room)
		}
	} else {
		msgs[messageID] = item{reactions: next, exp: now.Add(c.ttl)}
	}
	return next.Clone(), added, nil
}

func (c *Client) Get(ctx context.Context, room, messageID string) (model.ReactionMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.rooms[room][messageID]
	if !ok || c.now().After(v.exp) {
		return model.ReactionMap{}, nil
	}
	return v.reactions.Clone(), nil
}

func (c *Client) ForgetRoom(ctx context.Context, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
	return nil
}

// Len returns the number of messages with at least one reaction.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, msgs := range c.rooms {
		n += len(msgs)
	}
	return n
}
