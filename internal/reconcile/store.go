// Package reconcile is the participant-side message store. It merges locally sent
// messages with relayed ones and reaction updates into one append-only sequence and
// tracks the display state around it: composer, staged reply, scroll and highlight.
package reconcile

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roomchat/internal/model"
)

const (
	// AutoScrollThreshold is how close to the bottom (in pixels) still counts as "at bottom".
	AutoScrollThreshold = 150
	HighlightDuration   = 2 * time.Second

	fallbackIDPrefix = "server_"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrUnknownMessage = errors.New("message is not in the history")
)

// Viewport is the scroll geometry reported by the renderer.
type Viewport struct {
	ScrollHeight float64
	ScrollTop    float64
	ClientHeight float64
}

// AtBottom reports whether the viewer is within AutoScrollThreshold of the newest message.
// A viewport that was never measured counts as at bottom.
func (v Viewport) AtBottom() bool {
	return v.ScrollHeight-v.ScrollTop <= v.ClientHeight+AutoScrollThreshold
}

type ScrollKind int

const (
	ScrollNone ScrollKind = iota
	ScrollBottom
	ScrollToMessage
)

// ScrollRequest is a pending scroll the renderer should perform.
type ScrollRequest struct {
	Kind            ScrollKind
	ClientMessageID string
}

// View is a render-ready snapshot. Nothing in it is shared with the store.
type View struct {
	Room             string
	Self             string
	Messages         []model.Message
	Draft            string
	ReplyTo          *model.ReplyRef
	ShowScrollButton bool
	Highlighted      string
}

type Options struct {
	Now       func() time.Time
	NewID     func() string
	AfterFunc func(d time.Duration, f func()) (stop func() bool)
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	return o
}

// Store is owned by one participant. All methods are safe for concurrent use: the
// transport goroutine applies remote events while the UI goroutine composes.
type Store struct {
	mu       sync.Mutex
	opts     Options
	room     string
	username string
	self     string

	messages []model.Message
	index    map[string]int

	draft   string
	replyTo string

	viewport   Viewport
	showScroll bool
	scroll     ScrollRequest

	highlighted   string
	highlightGen  uint64
	highlightStop func() bool

	changes chan struct{}
}

func New(room, username string, opts Options) *Store {
	return &Store{
		opts:     opts.withDefaults(),
		room:     room,
		username: username,
		index:    make(map[string]int),
		changes:  make(chan struct{}, 1),
	}
}

// Changes signals after every state change. Signals coalesce; read View for the state.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notifyLocked() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// SetSelf records the connection id the server assigned; messages carrying it count
// as the local user's own.
func (s *Store) SetSelf(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = id
}

func (s *Store) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Store) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Store) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
	s.notifyLocked()
}

// AppendEmoji adds a picked emoji to the end of the draft.
func (s *Store) AppendEmoji(emoji string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft += emoji
	s.notifyLocked()
}

// StageReply marks the message the next send will reply to.
func (s *Store) StageReply(clientMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[clientMessageID]; !ok {
		return ErrUnknownMessage
	}
	s.replyTo = clientMessageID
	s.notifyLocked()
	return nil
}

func (s *Store) ClearReply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyTo = ""
	s.notifyLocked()
}

// Send turns the draft into a message, appends it right away and resets the composer.
// The caller relays the returned message; there is no acknowledgement to wait for.
func (s *Store) Send() (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body := strings.TrimSpace(s.draft)
	if body == "" {
		return model.Message{}, ErrEmptyMessage
	}
	msg := model.Message{
		Room:            s.room,
		Message:         body,
		Time:            model.DisplayTime(s.opts.Now()),
		SenderID:        s.self,
		Username:        s.username,
		ClientMessageID: s.opts.NewID(),
		Reactions:       model.ReactionMap{},
	}
	if ref := s.stagedReplyLocked(); ref != nil {
		msg.ReplyTo = ref
	}

	s.appendLocked(msg)
	s.draft = ""
	s.replyTo = ""
	// own messages always scroll into view
	s.scroll = ScrollRequest{Kind: ScrollBottom}
	s.showScroll = false
	s.notifyLocked()
	return msg.Clone(), nil
}

func (s *Store) stagedReplyLocked() *model.ReplyRef {
	if s.replyTo == "" {
		return nil
	}
	i, ok := s.index[s.replyTo]
	if !ok {
		return nil
	}
	ref := model.SnapshotReply(s.messages[i])
	return &ref
}

// ApplyRemoteMessage appends a relayed message. A message without an id gets a
// generated one; a message whose id is already known is ignored and false is returned.
func (s *Store) ApplyRemoteMessage(msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg = msg.Clone()
	if msg.ClientMessageID == "" {
		msg.ClientMessageID = fallbackIDPrefix + s.opts.NewID()
	}
	if _, dup := s.index[msg.ClientMessageID]; dup {
		return false
	}
	if msg.Reactions == nil {
		msg.Reactions = model.ReactionMap{}
	}
	s.appendLocked(msg)

	if (s.self != "" && msg.SenderID == s.self) || s.viewport.AtBottom() {
		s.scroll = ScrollRequest{Kind: ScrollBottom}
		s.showScroll = false
	} else {
		s.showScroll = true
	}
	s.notifyLocked()
	return true
}

// ApplyReactionUpdate replaces the reaction map of a known message. Updates for
// messages this store never saw are dropped and reported as false.
func (s *Store) ApplyReactionUpdate(clientMessageID string, reactions model.ReactionMap) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[clientMessageID]
	if !ok {
		return false
	}
	r := reactions.Clone()
	if r == nil {
		r = model.ReactionMap{}
	}
	s.messages[i].Reactions = r
	s.notifyLocked()
	return true
}

func (s *Store) appendLocked(msg model.Message) {
	s.index[msg.ClientMessageID] = len(s.messages)
	s.messages = append(s.messages, msg)
}

// UpdateViewport records the renderer's scroll position.
func (s *Store) UpdateViewport(v Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = v
	show := !v.AtBottom()
	if show != s.showScroll {
		s.showScroll = show
		s.notifyLocked()
	}
}

// ScrollToBottom is the "new messages" button.
func (s *Store) ScrollToBottom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scroll = ScrollRequest{Kind: ScrollBottom}
	s.showScroll = false
	s.notifyLocked()
}

// TakeScroll returns the pending scroll request and clears it.
func (s *Store) TakeScroll() ScrollRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.scroll
	s.scroll = ScrollRequest{}
	return req
}

// JumpToReply scrolls to the referenced message and highlights it for
// HighlightDuration. A newer jump replaces the highlight and restarts the timer.
func (s *Store) JumpToReply(clientMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if clientMessageID == "" {
		return ErrUnknownMessage
	}
	if _, ok := s.index[clientMessageID]; !ok {
		return ErrUnknownMessage
	}
	if s.highlightStop != nil {
		s.highlightStop()
	}
	s.highlightGen++
	gen := s.highlightGen
	s.highlighted = clientMessageID
	s.scroll = ScrollRequest{Kind: ScrollToMessage, ClientMessageID: clientMessageID}
	s.highlightStop = s.opts.AfterFunc(HighlightDuration, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.highlightGen != gen {
			return
		}
		s.highlighted = ""
		s.highlightStop = nil
		s.notifyLocked()
	})
	s.notifyLocked()
	return nil
}

func (s *Store) Highlighted() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highlighted
}

func (s *Store) Message(clientMessageID string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[clientMessageID]
	if !ok {
		return model.Message{}, false
	}
	return s.messages[i].Clone(), true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		msgs[i] = m.Clone()
	}
	return View{
		Room:             s.room,
		Self:             s.self,
		Messages:         msgs,
		Draft:            s.draft,
		ReplyTo:          s.stagedReplyLocked(),
		ShowScrollButton: s.showScroll,
		Highlighted:      s.highlighted,
	}
}

// Close stops a pending highlight timer.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.highlightStop != nil {
		s.highlightStop()
		s.highlightStop = nil
	}
}
