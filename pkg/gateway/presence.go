// Copyright 2024-2026 Aiku AI

package gateway

import (
	"sync"

	"github.com/aiku/mautrix-xmpp/pkg/xmpp"
)

// DeltaType classifies a presence state transition.
type DeltaType string

const (
	// DeltaOnline is the first device of a bare JID coming online. This
	// is the signal to initiate a join.
	DeltaOnline DeltaType = "online"
	// DeltaNewDevice is an additional device under an already-online
	// membership, not a new join.
	DeltaNewDevice DeltaType = "newdevice"
	// DeltaOffline is the last device going away.
	DeltaOffline DeltaType = "offline"
)

// PresenceStatus is the tracked state of one bare JID.
type PresenceStatus struct {
	Online    bool
	Devices   []string
	StatusMsg string
	// Kick is set when the most recent offline transition was
	// involuntary.
	Kick *xmpp.Kick
}

// Delta is a classified presence transition.
type Delta struct {
	Type   DeltaType
	Status *PresenceStatus
}

type trackedUser struct {
	devices   map[string]struct{}
	order     []string
	online    bool
	statusMsg string
	kick      *xmpp.Kick
}

// PresenceTracker turns the raw presence stream into state transitions.
// It keeps a per-bare-JID device table and reports a delta only when the
// device set or availability actually changed.
type PresenceTracker struct {
	mu    sync.Mutex
	users map[string]*trackedUser
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{users: make(map[string]*trackedUser)}
}

// Add feeds one presence update into the tracker and classifies it.
// A nil result means the update repeated known state.
func (pt *PresenceTracker) Add(p *xmpp.Presence) *Delta {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	bare := p.From.Bare().String()
	full := p.From.String()

	u := pt.users[bare]

	if p.Available() {
		if u == nil || !u.online {
			if u == nil {
				u = &trackedUser{devices: make(map[string]struct{})}
				pt.users[bare] = u
			}
			u.online = true
			u.kick = nil
			u.statusMsg = p.StatusMsg
			u.addDevice(full)
			return &Delta{Type: DeltaOnline, Status: u.snapshot()}
		}
		if _, known := u.devices[full]; !known {
			u.addDevice(full)
			u.statusMsg = p.StatusMsg
			return &Delta{Type: DeltaNewDevice, Status: u.snapshot()}
		}
		// Literal repeat or status-text-only change: no delta.
		u.statusMsg = p.StatusMsg
		return nil
	}

	// Unavailable (or error) presence.
	if u == nil {
		return nil
	}
	if _, known := u.devices[full]; !known {
		return nil
	}
	u.removeDevice(full)
	if len(u.devices) > 0 {
		return nil
	}
	u.online = false
	u.kick = p.Kick
	if p.Kick == nil && p.Type == xmpp.PresenceError {
		u.kick = &xmpp.Kick{Reason: p.StatusMsg}
	}
	u.statusMsg = p.StatusMsg
	return &Delta{Type: DeltaOffline, Status: u.snapshot()}
}

// Status returns a copy of the tracked state for a bare JID, or nil.
func (pt *PresenceTracker) Status(bare string) *PresenceStatus {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	u := pt.users[bare]
	if u == nil {
		return nil
	}
	return u.snapshot()
}

// MarkOffline clears the tracked devices of a bare JID so a retried join
// classifies as online again. Used when a join resolution fails.
func (pt *PresenceTracker) MarkOffline(bare string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	u := pt.users[bare]
	if u == nil {
		return
	}
	u.online = false
	u.devices = make(map[string]struct{})
	u.order = nil
}

func (u *trackedUser) addDevice(full string) {
	if _, ok := u.devices[full]; ok {
		return
	}
	u.devices[full] = struct{}{}
	u.order = append(u.order, full)
}

func (u *trackedUser) removeDevice(full string) {
	delete(u.devices, full)
	for i, d := range u.order {
		if d == full {
			u.order = append(u.order[:i], u.order[i+1:]...)
			break
		}
	}
}

func (u *trackedUser) snapshot() *PresenceStatus {
	devices := make([]string, len(u.order))
	copy(devices, u.order)
	return &PresenceStatus{
		Online:    u.online,
		Devices:   devices,
		StatusMsg: u.statusMsg,
		Kick:      u.kick,
	}
}
