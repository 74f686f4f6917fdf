package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// ReplyPreviewMax is the longest body prefix kept in a reply snapshot, in characters.
	ReplyPreviewMax = 70
	replyEllipsis   = "..."

	// TimeLayout is the display granularity of Message.Time. It is never an identity.
	TimeLayout = "15:04"
)

// Message is the unit exchanged in a room. JSON names follow the wire payload of
// send_message / receive_message.
type Message struct {
	Room            string      `json:"room"`
	Message         string      `json:"message"`
	Time            string      `json:"time"`
	SenderID        string      `json:"id"`
	Username        string      `json:"username"`
	ClientMessageID string      `json:"clientMessageId"`
	Reactions       ReactionMap `json:"reactions"`
	ReplyTo         *ReplyRef   `json:"replyTo"`
}

// ReplyRef is a snapshot of the replied-to message taken at compose time.
type ReplyRef struct {
	ClientMessageID string `json:"clientMessageId"`
	Username        string `json:"username"`
	Message         string `json:"message"`
}

// Clone returns a deep copy; the reaction map and reply snapshot are not shared.
func (m Message) Clone() Message {
	out := m
	out.Reactions = m.Reactions.Clone()
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	return out
}

// SnapshotReply copies the fields of m that a reply keeps. Later edits or reaction
// changes on m do not reach the snapshot.
func SnapshotReply(m Message) ReplyRef {
	return ReplyRef{
		ClientMessageID: m.ClientMessageID,
		Username:        m.Username,
		Message:         TruncatePreview(m.Message),
	}
}

// TruncatePreview keeps the first ReplyPreviewMax characters of s and appends "..."
// when anything was cut.
func TruncatePreview(s string) string {
	if utf8.RuneCountInString(s) <= ReplyPreviewMax {
		return s
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == ReplyPreviewMax {
			break
		}
		b.WriteRune(r)
		n++
	}
	b.WriteString(replyEllipsis)
	return b.String()
}

// DisplayTime formats t the way messages show their time (HH:MM).
func DisplayTime(t time.Time) string {
	return t.Format(TimeLayout)
}
