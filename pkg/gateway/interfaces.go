// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-xmpp/pkg/xmpp"
)

// Transport is the single outbound XMPP connection shared by all rooms.
// Implementations must preserve per-destination send order and expose a
// drain signal for backpressure during bulk presence replay.
type Transport interface {
	// Send serializes and writes a stanza, tracking it for echo handling.
	Send(s xmpp.Stanza) error
	// WriteRaw writes a stanza without send tracking, used for relayed
	// and replayed stanzas.
	WriteRaw(s xmpp.Stanza) error
	// WaitForDrain blocks until the connection's write buffer drains or
	// the timeout elapses, in which case it returns an error.
	WaitForDrain(timeout time.Duration) error
}

// EventSink receives the gateway's outward-facing domain events. The
// Matrix side of the bridge implements it.
type EventSink interface {
	QueueEvent(evt RemoteEvent)
}

// Formatter converts Matrix HTML message bodies to XHTML-IM. It must be
// a pure function of its input.
type Formatter interface {
	ToXHTML(html string) string
}

// RoomMember is one entry of a Matrix room membership snapshot.
type RoomMember struct {
	UserID      id.UserID
	Displayname string
	Membership  event.Membership
	// IsRemote marks ghosts puppeting XMPP users; they are never
	// mirrored back onto the XMPP side.
	IsRemote bool
}

// Room is a snapshot of the Matrix room a chat is bridged to, as
// resolved by the Matrix side when a join request completes.
type Room struct {
	ID      id.RoomID
	Name    string
	Topic   string
	Members []RoomMember
}

// Subject derives the MUC subject line from the room name and topic.
func (r *Room) Subject() string {
	subject := r.Name
	if r.Topic != "" {
		if subject != "" {
			subject += " | " + r.Topic
		} else {
			subject = r.Topic
		}
	}
	return subject
}

// RemoteUser is the persisted record of an XMPP user who joined through
// the gateway, used to re-register them after a restart.
type RemoteUser struct {
	MXID     id.UserID
	Handle   string
	RealJID  string
	RoomName string
}
