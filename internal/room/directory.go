// Package room tracks live connections and the single room each one belongs to.
package room

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrEmptyRoom         = errors.New("room is required")
	ErrEmptyUsername     = errors.New("username is required")
	ErrUnknownConnection = errors.New("unknown connection")
)

// Connection is the identity of one live session.
type Connection struct {
	ID          string
	Username    string
	Room        string // empty when not in a room
	ConnectedAt time.Time
}

// Change describes what a membership mutation did. Emptied is the room that lost its
// last member (and was collected), if any.
type Change struct {
	Joined  string
	Left    string
	Emptied string
}

// Directory maps rooms to member connections. One mutex serializes every mutation, so
// a connection is in at most one member set at any instant and a returned
// MembersOf snapshot reflects every call that completed before it.
type Directory struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]map[string]struct{}
	now   func() time.Time
}

func NewDirectory() *Directory {
	return &Directory{
		conns: make(map[string]*Connection),
		rooms: make(map[string]map[string]struct{}),
		now:   time.Now,
	}
}

// Connect registers a new connection identity with no room. Registering an id twice
// keeps the first identity.
func (d *Directory) Connect(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.conns[id]; ok {
		return
	}
	d.conns[id] = &Connection{ID: id, ConnectedAt: d.now()}
}

// Join puts id in room under username, leaving its previous room first. Joining the
// room it is already in only refreshes the username.
func (d *Directory) Join(id, room, username string) (Change, error) {
	room = strings.TrimSpace(room)
	username = strings.TrimSpace(username)
	if room == "" {
		return Change{}, ErrEmptyRoom
	}
	if username == "" {
		return Change{}, ErrEmptyUsername
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[id]
	if !ok {
		return Change{}, ErrUnknownConnection
	}
	c.Username = username
	if c.Room == room {
		return Change{}, nil
	}
	var ch Change
	if c.Room != "" {
		ch.Left = c.Room
		if d.removeMemberLocked(c.Room, id) {
			ch.Emptied = c.Room
		}
	}
	members, ok := d.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		d.rooms[room] = members
	}
	members[id] = struct{}{}
	c.Room = room
	ch.Joined = room
	return ch, nil
}

// Leave removes id from room. It is a no-op when id is not a member of room.
func (d *Directory) Leave(id, room string) Change {
	room = strings.TrimSpace(room)
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[id]
	if !ok || room == "" || c.Room != room {
		return Change{}
	}
	ch := Change{Left: room}
	if d.removeMemberLocked(room, id) {
		ch.Emptied = room
	}
	c.Room = ""
	return ch
}

// Disconnect drops id from its room and forgets the identity. When it returns, no
// MembersOf call can observe id.
func (d *Directory) Disconnect(id string) (Change, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[id]
	if !ok {
		return Change{}, false
	}
	var ch Change
	if c.Room != "" {
		ch.Left = c.Room
		if d.removeMemberLocked(c.Room, id) {
			ch.Emptied = c.Room
		}
	}
	delete(d.conns, id)
	return ch, true
}

// removeMemberLocked reports whether the room became empty and was collected.
func (d *Directory) removeMemberLocked(room, id string) bool {
	members, ok := d.rooms[room]
	if !ok {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(d.rooms, room)
		return true
	}
	return false
}

// MembersOf returns a sorted snapshot of the connection ids in room.
func (d *Directory) MembersOf(room string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members := d.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsMember reports whether id currently belongs to room.
func (d *Directory) IsMember(id, room string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[room][id]
	return ok
}

// Lookup returns a copy of id's identity.
func (d *Directory) Lookup(id string) (Connection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Stats returns the number of live connections and non-empty rooms.
func (d *Directory) Stats() (connections, rooms int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns), len(d.rooms)
}
