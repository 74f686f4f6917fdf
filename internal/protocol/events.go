// Package protocol defines the frames exchanged over a participant's WebSocket.
//
// Every frame is {"type": <event>, "payload": <object>}. Client and server events are
// closed sets: DecodeClient and DecodeServer return one of the concrete types below,
// and receivers switch on the concrete type.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roomchat/internal/model"
)

type EventType string

const (
	// client -> server
	EventJoinRoom     EventType = "join_room"
	EventLeaveRoom    EventType = "leave_room"
	EventSendMessage  EventType = "send_message"
	EventSendReaction EventType = "send_reaction"

	// server -> client
	EventReceiveMessage  EventType = "receive_message"
	EventReactionUpdated EventType = "reaction_updated"

	// transport frames, server -> client
	EventConnected EventType = "connected"
	EventError     EventType = "error"
)

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrMalformed    = errors.New("malformed frame")
)

// Event is anything that can be framed.
type Event interface {
	Type() EventType
}

// ClientEvent is one of JoinRoom, LeaveRoom, SendMessage, SendReaction.
type ClientEvent interface {
	Event
	clientEvent()
}

// ServerEvent is one of ReceiveMessage, ReactionUpdated, Connected, Error.
type ServerEvent interface {
	Event
	serverEvent()
}

type JoinRoom struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type LeaveRoom struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// SendMessage carries a full message; on the wire the payload is the message itself.
type SendMessage struct {
	Message model.Message
}

type SendReaction struct {
	Room                   string `json:"room"`
	MessageClientMessageID string `json:"messageClientMessageId"`
	Emoji                  string `json:"emoji"`
}

// ReceiveMessage has the same payload shape as SendMessage.
type ReceiveMessage struct {
	Message model.Message
}

// ReactionUpdated carries the complete reaction map of one message, never a delta.
type ReactionUpdated struct {
	MessageClientMessageID string            `json:"messageClientMessageId"`
	UpdatedReactions       model.ReactionMap `json:"updatedReactions"`
}

// Connected tells a participant the connection id the server assigned to it.
type Connected struct {
	ID string `json:"id"`
}

// Error is a diagnostic; its payload is a bare string.
type Error struct {
	Reason string
}

func (JoinRoom) Type() EventType        { return EventJoinRoom }
func (LeaveRoom) Type() EventType       { return EventLeaveRoom }
func (SendMessage) Type() EventType     { return EventSendMessage }
func (SendReaction) Type() EventType    { return EventSendReaction }
func (ReceiveMessage) Type() EventType  { return EventReceiveMessage }
func (ReactionUpdated) Type() EventType { return EventReactionUpdated }
func (Connected) Type() EventType       { return EventConnected }
func (Error) Type() EventType           { return EventError }

func (JoinRoom) clientEvent()     {}
func (LeaveRoom) clientEvent()    {}
func (SendMessage) clientEvent()  {}
func (SendReaction) clientEvent() {}

func (ReceiveMessage) serverEvent()  {}
func (ReactionUpdated) serverEvent() {}
func (Connected) serverEvent()       {}
func (Error) serverEvent()           {}

func (e SendMessage) MarshalJSON() ([]byte, error) { return json.Marshal(e.Message) }

func (e *SendMessage) UnmarshalJSON(data []byte) error { return json.Unmarshal(data, &e.Message) }

func (e ReceiveMessage) MarshalJSON() ([]byte, error) { return json.Marshal(e.Message) }

func (e *ReceiveMessage) UnmarshalJSON(data []byte) error { return json.Unmarshal(data, &e.Message) }

func (e Error) MarshalJSON() ([]byte, error) { return json.Marshal(e.Reason) }

func (e *Error) UnmarshalJSON(data []byte) error { return json.Unmarshal(data, &e.Reason) }

func (e Error) Error() string { return e.Reason }

// Envelope is a frame ready to be encoded. The payload is shared by every recipient
// of a broadcast and must not be mutated after the envelope is built.
type Envelope struct {
	Type    EventType `json:"type"`
	Payload Event     `json:"payload"`
}

// Wrap frames ev.
func Wrap(ev Event) Envelope {
	return Envelope{Type: ev.Type(), Payload: ev}
}

// Encode frames and marshals ev.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(Wrap(ev))
}

type rawEnvelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeClient parses a frame sent by a participant.
func DecodeClient(data []byte) (ClientEvent, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var ev ClientEvent
	switch raw.Type {
	case EventJoinRoom:
		ev = &JoinRoom{}
	case EventLeaveRoom:
		ev = &LeaveRoom{}
	case EventSendMessage:
		ev = &SendMessage{}
	case EventSendReaction:
		ev = &SendReaction{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, raw.Type)
	}
	if err := decodePayload(raw.Payload, ev); err != nil {
		return nil, err
	}
	return deref(ev).(ClientEvent), nil
}

// DecodeServer parses a frame sent by the server.
func DecodeServer(data []byte) (ServerEvent, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var ev ServerEvent
	switch raw.Type {
	case EventReceiveMessage:
		ev = &ReceiveMessage{}
	case EventReactionUpdated:
		ev = &ReactionUpdated{}
	case EventConnected:
		ev = &Connected{}
	case EventError:
		ev = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, raw.Type)
	}
	if err := decodePayload(raw.Payload, ev); err != nil {
		return nil, err
	}
	return deref(ev).(ServerEvent), nil
}

func decodePayload(payload json.RawMessage, into any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// deref turns the pointer used for decoding back into the value type receivers switch on.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *JoinRoom:
		return *e
	case *LeaveRoom:
		return *e
	case *SendMessage:
		return *e
	case *SendReaction:
		return *e
	case *ReceiveMessage:
		return *e
	case *ReactionUpdated:
		return *e
	case *Connected:
		return *e
	case *Error:
		return *e
	}
	return ev
}
