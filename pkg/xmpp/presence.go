// Copyright 2024-2026 Aiku AI

package xmpp

import (
	"mellium.im/xmpp/jid"
)

// Kick holds the metadata of an involuntary removal parsed from a MUC
// status-307 presence or an error presence.
type Kick struct {
	Kicker string
	Reason string
}

// Presence is an inbound presence update as decoded by the connection
// layer. From is the sender's full JID, To the anonymized occupant JID
// the sender addressed ({room}/{nick}).
type Presence struct {
	ID        string
	From      jid.JID
	To        jid.JID
	Type      string
	StatusMsg string
	// JoinRequest is set when the presence carried the
	// http://jabber.org/protocol/muc child marking a MUC join.
	JoinRequest bool
	Kick        *Kick
}

// ChatName returns the bare room address the presence targets.
func (p *Presence) ChatName() string {
	return p.To.Bare().String()
}

// Available reports whether the update announces an online device.
func (p *Presence) Available() bool {
	return p.Type == PresenceAvailable
}
