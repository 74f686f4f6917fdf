// Package relay fans chat messages out to the other members of a room.
package relay

import (
	"errors"
	"strings"
	"time"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/metrics"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/protocol"
	"github.com/roomchat/internal/room"
)

var (
	ErrEmptyRoom    = errors.New("room is required")
	ErrEmptyMessage = errors.New("message body is required")
	ErrNotMember    = errors.New("sender is not a member of the room")
)

// Membership is the read side of the room directory.
type Membership interface {
	MembersOf(room string) []string
	IsMember(id, room string) bool
	Lookup(id string) (room.Connection, bool)
}

// Deliverer queues a frame for one connection without waiting for the write.
// It reports false when the frame was dropped.
type Deliverer interface {
	Deliver(connID string, env protocol.Envelope) bool
}

type Options struct {
	// StrictMembership refuses messages for rooms the sender has not joined.
	// Off by default: the room asserted in the message is trusted.
	StrictMembership bool
}

type Relay struct {
	members Membership
	out     Deliverer
	opts    Options
}

func New(members Membership, out Deliverer, opts Options) *Relay {
	return &Relay{members: members, out: out, opts: opts}
}

// Result counts what happened to one relayed message.
type Result struct {
	Recipients int
	Dropped    int
}

// Relay delivers msg to every member of msg.Room except senderID. Delivery is
// fire-and-forget: a recipient whose queue is full simply misses the message.
// The sender's own connection never receives it back.
func (r *Relay) Relay(senderID string, msg model.Message) (Result, error) {
	defer logger.DeferLogDuration("relay.Relay", time.Now())()

	msg.Room = strings.TrimSpace(msg.Room)
	if msg.Room == "" {
		return Result{}, ErrEmptyRoom
	}
	if strings.TrimSpace(msg.Message) == "" {
		return Result{}, ErrEmptyMessage
	}
	if r.opts.StrictMembership && !r.members.IsMember(senderID, msg.Room) {
		return Result{}, ErrNotMember
	}

	out := normalize(senderID, msg, r.members)
	env := protocol.Wrap(protocol.ReceiveMessage{Message: out})

	var res Result
	for _, id := range r.members.MembersOf(out.Room) {
		if id == senderID {
			continue
		}
		ok := r.out.Deliver(id, env)
		metrics.Delivered(ok)
		if !ok {
			res.Dropped++
			continue
		}
		res.Recipients++
	}
	metrics.MessagesRelayed.Inc()
	logger.Debugf("relay conn=%s room=%s msg=%s recipients=%d dropped=%d",
		senderID, out.Room, out.ClientMessageID, res.Recipients, res.Dropped)
	return res, nil
}

// normalize builds the copy that recipients see: the sender id is the real
// connection, a blank username is filled from the directory, reactions start empty
// and the reply snapshot is held to its maximum length.
func normalize(senderID string, msg model.Message, members Membership) model.Message {
	out := msg.Clone()
	out.SenderID = senderID
	if strings.TrimSpace(out.Username) == "" {
		if c, ok := members.Lookup(senderID); ok {
			out.Username = c.Username
		}
	}
	out.Reactions = model.ReactionMap{}
	if out.ReplyTo != nil {
		out.ReplyTo.Message = model.TruncatePreview(out.ReplyTo.Message)
	}
	return out
}
