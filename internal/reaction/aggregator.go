// Package reaction applies emoji toggles and broadcasts the resulting reaction map.
package reaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/metrics"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/protocol"
	"github.com/roomchat/internal/relay"
	"github.com/roomchat/internal/storage"
)

// maxEmojiLen bounds the emoji key; a single emoji with modifiers fits easily.
const maxEmojiLen = 32

var (
	ErrInvalidReaction = errors.New("room, message id and emoji are required")
	ErrNotMember       = errors.New("reactor is not a member of the room")
	ErrUnknownReactor  = errors.New("unknown reactor connection")
)

type Options struct {
	// StrictMembership refuses toggles from connections outside the carried room.
	StrictMembership bool
	// StoreTimeout bounds one store round trip.
	StoreTimeout time.Duration
}

// Aggregator keeps no message bodies: only the reaction map per message id,
// held in a storage.ReactionStore.
type Aggregator struct {
	store   storage.ReactionStore
	members relay.Membership
	out     relay.Deliverer
	opts    Options
}

func New(store storage.ReactionStore, members relay.Membership, out relay.Deliverer, opts Options) *Aggregator {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Aggregator{store: store, members: members, out: out, opts: opts}
}

// Toggle flips reactorID's emoji mark on the message and broadcasts the full
// resulting map to every current member of req.Room, the reactor included.
func (a *Aggregator) Toggle(ctx context.Context, reactorID string, req protocol.SendReaction) (model.ReactionMap, error) {
	defer logger.DeferLogDuration("reaction.Toggle", time.Now())()

	req.Room = strings.TrimSpace(req.Room)
	req.Emoji = strings.TrimSpace(req.Emoji)
	if req.Room == "" || req.MessageClientMessageID == "" || req.Emoji == "" || utf8.RuneCountInString(req.Emoji) > maxEmojiLen {
		return nil, ErrInvalidReaction
	}
	conn, ok := a.members.Lookup(reactorID)
	if !ok {
		return nil, ErrUnknownReactor
	}
	if a.opts.StrictMembership && conn.Room != req.Room {
		return nil, ErrNotMember
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.StoreTimeout)
	defer cancel()
	reactor := model.Reactor{UserID: reactorID, Username: conn.Username}
	reactions, added, err := a.store.Toggle(ctx, req.Room, req.MessageClientMessageID, req.Emoji, reactor)
	if err != nil {
		return nil, fmt.Errorf("reaction.Toggle: %w", err)
	}
	metrics.Toggled(added)

	env := protocol.Wrap(protocol.ReactionUpdated{
		MessageClientMessageID: req.MessageClientMessageID,
		UpdatedReactions:       reactions,
	})
	for _, id := range a.members.MembersOf(req.Room) {
		metrics.Delivered(a.out.Deliver(id, env))
	}
	logger.Debugf("reaction conn=%s room=%s msg=%s emoji=%s added=%t",
		reactorID, req.Room, req.MessageClientMessageID, req.Emoji, added)
	return reactions.Clone(), nil
}

// ForgetRoom drops the stored reactions of a room nobody is in any more.
func (a *Aggregator) ForgetRoom(ctx context.Context, room string) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.StoreTimeout)
	defer cancel()
	if err := a.store.ForgetRoom(ctx, room); err != nil {
		logger.Errorf("reaction forget room=%s: %v", room, err)
	}
}
