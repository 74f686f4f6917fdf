package storage

import (
	"context"
	"errors"

	"github.com/roomchat/internal/model"
)

// ErrConflict is returned when a toggle kept losing concurrent-update races.
var ErrConflict = errors.New("reaction update conflict")

// ReactionStore holds the reaction map of every message, scoped by room.
// Toggle is atomic per (room, messageID): concurrent toggles never lose or
// duplicate a mark. Implementations: memory.Client (default), redis.Client.
type ReactionStore interface {
	// Toggle flips reactor's mark under emoji and returns the resulting map of the
	// whole message. added reports whether the mark was added.
	Toggle(ctx context.Context, room, messageID, emoji string, reactor model.Reactor) (reactions model.ReactionMap, added bool, err error)
	Get(ctx context.Context, room, messageID string) (model.ReactionMap, error)
	// ForgetRoom drops every reaction map of room.
	ForgetRoom(ctx context.Context, room string) error
	Close() error
}
