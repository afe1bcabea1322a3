// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
	"mellium.im/xmpp/jid"

	"github.com/aiku/mautrix-xmpp/pkg/xmpp"
)

// sentStanza records one transport write. Addressable stanzas are
// snapshotted because fan-out mutates them in place.
type sentStanza struct {
	Raw  bool
	To   string
	From string
	S    xmpp.Stanza
}

// mockTransport captures written stanzas and drain waits for assertions.
type mockTransport struct {
	mu         sync.Mutex
	sent       []sentStanza
	drainCalls int
	DrainErr   error
	SendErr    error
}

func stanzaAddrs(s xmpp.Stanza) (from, to string) {
	switch v := s.(type) {
	case *xmpp.Message:
		return v.From, v.To
	case *xmpp.MessageSubject:
		return v.From, v.To
	case *xmpp.PresenceItem:
		return v.From, v.To
	case *xmpp.PresenceKick:
		return v.From, v.To
	case *xmpp.PresenceErrorStanza:
		return v.From, v.To
	}
	return "", ""
}

func (t *mockTransport) record(s xmpp.Stanza, raw bool) {
	from, to := stanzaAddrs(s)
	if item, ok := s.(*xmpp.PresenceItem); ok {
		cp := *item
		s = &cp
	}
	if msg, ok := s.(*xmpp.Message); ok {
		s = msg.Clone()
	}
	if subj, ok := s.(*xmpp.MessageSubject); ok {
		cp := *subj
		s = &cp
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentStanza{Raw: raw, To: to, From: from, S: s})
}

func (t *mockTransport) Send(s xmpp.Stanza) error {
	t.record(s, false)
	return t.SendErr
}

func (t *mockTransport) WriteRaw(s xmpp.Stanza) error {
	t.record(s, true)
	return t.SendErr
}

func (t *mockTransport) WaitForDrain(_ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drainCalls++
	return t.DrainErr
}

func (t *mockTransport) Sent() []sentStanza {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]sentStanza, len(t.sent))
	copy(cp, t.sent)
	return cp
}

// SentTo returns the stanzas addressed to one recipient, in send order.
func (t *mockTransport) SentTo(to string) []sentStanza {
	var out []sentStanza
	for _, s := range t.Sent() {
		if s.To == to {
			out = append(out, s)
		}
	}
	return out
}

func (t *mockTransport) DrainCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drainCalls
}

func (t *mockTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
	t.drainCalls = 0
}

// mockEventSink captures queued remote events for test assertions.
type mockEventSink struct {
	mu     sync.Mutex
	events []RemoteEvent
}

func (m *mockEventSink) QueueEvent(evt RemoteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockEventSink) Events() []RemoteEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]RemoteEvent, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockEventSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

func newTestGateway(t *testing.T) (*Gateway, *mockTransport, *mockEventSink) {
	t.Helper()
	transport := &mockTransport{}
	sink := &mockEventSink{}
	g := New(newTestConfig(t), zerolog.Nop(), transport, sink, nil)
	return g, transport, sink
}

// joinPresence builds an available MUC join presence.
func joinPresence(id, from, to string) *xmpp.Presence {
	return &xmpp.Presence{
		ID:          id,
		From:        jid.MustParse(from),
		To:          jid.MustParse(to),
		Type:        xmpp.PresenceAvailable,
		JoinRequest: true,
	}
}

// leavePresence builds a plain unavailable presence.
func leavePresence(id, from, to string) *xmpp.Presence {
	return &xmpp.Presence{
		ID:   id,
		From: jid.MustParse(from),
		To:   jid.MustParse(to),
		Type: xmpp.PresenceUnavailable,
	}
}

// testRoom builds a room snapshot with joined local Matrix members.
func testRoom(roomID string, members ...id.UserID) *Room {
	room := &Room{ID: id.RoomID(roomID), Name: "Test Room"}
	for _, mxid := range members {
		room.Members = append(room.Members, RoomMember{
			UserID:     mxid,
			Membership: event.MembershipJoin,
		})
	}
	return room
}

// joinUser runs the full two-phase join for one XMPP device.
func joinUser(t *testing.T, g *Gateway, joinID, from, to string, room *Room) {
	t.Helper()
	g.HandleStanza(joinPresence(joinID, from, to), "#room:example.com")
	if err := g.CompleteRemoteJoin(joinID, nil, room, "@ghost:example.com"); err != nil {
		t.Fatalf("CompleteRemoteJoin(%s): %v", joinID, err)
	}
}
