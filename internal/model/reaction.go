package model

import (
	"encoding/json"
	"sort"
)

// Reactor is one user's mark under an emoji.
type Reactor struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// ReactionMap maps an emoji to the users who reacted with it, in reaction order.
// An emoji key is never kept with an empty reactor list.
type ReactionMap map[string][]Reactor

// MarshalJSON writes a nil map as {} so payloads always carry an object.
func (m ReactionMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string][]Reactor(m))
}

// UnmarshalJSON drops emoji keys that arrive with no reactors.
func (m *ReactionMap) UnmarshalJSON(data []byte) error {
	var raw map[string][]Reactor
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ReactionMap, len(raw))
	for emoji, rs := range raw {
		if len(rs) > 0 {
			out[emoji] = rs
		}
	}
	*m = out
	return nil
}

func (m ReactionMap) Clone() ReactionMap {
	out := make(ReactionMap, len(m))
	for emoji, rs := range m {
		cp := make([]Reactor, len(rs))
		copy(cp, rs)
		out[emoji] = cp
	}
	return out
}

// Toggled returns a copy of m with r's mark under emoji flipped: removed when present
// (dropping the key if it was the last one), appended otherwise. added reports which.
// m itself is left untouched.
func (m ReactionMap) Toggled(emoji string, r Reactor) (out ReactionMap, added bool) {
	out = m.Clone()
	rs := out[emoji]
	for i, existing := range rs {
		if existing.UserID != r.UserID {
			continue
		}
		rs = append(rs[:i], rs[i+1:]...)
		if len(rs) == 0 {
			delete(out, emoji)
		} else {
			out[emoji] = rs
		}
		return out, false
	}
	out[emoji] = append(rs, r)
	return out, true
}

// HasReactor reports whether userID reacted with emoji.
func (m ReactionMap) HasReactor(emoji, userID string) bool {
	for _, r := range m[emoji] {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func (m ReactionMap) Count(emoji string) int {
	return len(m[emoji])
}

// Emojis returns the keys in a stable order for rendering.
func (m ReactionMap) Emojis() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReactionGroup is the aggregated view of one emoji for display.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Groups summarizes m as one group per emoji, listing usernames ("User" when blank).
func (m ReactionMap) Groups() []ReactionGroup {
	groups := make([]ReactionGroup, 0, len(m))
	for _, emoji := range m.Emojis() {
		rs := m[emoji]
		names := make([]string, 0, len(rs))
		for _, r := range rs {
			name := r.Username
			if name == "" {
				name = "User"
			}
			names = append(names, name)
		}
		groups = append(groups, ReactionGroup{Emoji: emoji, Count: len(rs), Users: names})
	}
	return groups
}
