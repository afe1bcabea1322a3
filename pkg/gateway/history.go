// Copyright 2024-2026 Aiku AI

package gateway

import (
	"sync"

	"github.com/aiku/mautrix-xmpp/pkg/xmpp"
)

// History is the bounded per-room log of captured message stanzas that
// gets replayed to new joiners. Oldest entries are discarded first.
type History struct {
	mu    sync.Mutex
	limit int
	rooms map[string][]*xmpp.Message
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 20
	}
	return &History{limit: limit, rooms: make(map[string][]*xmpp.Message)}
}

// Append records a message in arrival order, evicting the oldest entry
// once the room is at capacity.
func (h *History) Append(roomID string, msg *xmpp.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := append(h.rooms[roomID], msg)
	if len(entries) > h.limit {
		entries = entries[len(entries)-h.limit:]
	}
	h.rooms[roomID] = entries
}

// Entries returns a snapshot of the room's history in original order.
func (h *History) Entries(roomID string) []*xmpp.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := h.rooms[roomID]
	out := make([]*xmpp.Message, len(entries))
	copy(out, entries)
	return out
}
