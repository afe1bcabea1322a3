// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"fmt"

	"go.mau.fi/util/random"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
	"mellium.im/xmpp/jid"

	"github.com/aiku/mautrix-xmpp/pkg/xmpp"
)

// StateChangeKind names a room state change relayed by SendStateChange.
type StateChangeKind string

const (
	StateChangeTopic  StateChangeKind = "topic"
	StateChangeName   StateChangeKind = "name"
	StateChangeAvatar StateChangeKind = "avatar"
)

// SendMatrixMessage fans a Matrix message out to every device of every
// XMPP member of the chat, under the sender's anonymized occupant JID.
// The Matrix side is the source of truth: an unmapped sender is logged
// and the message dropped.
func (g *Gateway) SendMatrixMessage(chatName string, sender id.UserID, msgID string, content *event.MessageEventContent, room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reconcileMatrixMembers(chatName, room)
	if msgID == "" {
		msgID = random.String(12)
	}
	log := g.log.With().Str("chat_name", chatName).Str("message_id", msgID).Logger()
	log.Info().Msg("Sending Matrix message to XMPP")

	from := g.members.GetMatrixMemberByMXID(chatName, sender)
	if from == nil {
		log.Error().Str("sender", string(sender)).Msg("Cannot send message: no member cached")
		return
	}

	var html *xmpp.XHTML
	if content.Format == event.FormatHTML && content.FormattedBody != "" {
		html = &xmpp.XHTML{Body: xmpp.XHTMLBody{Content: g.formatter.ToXHTML(content.FormattedBody)}}
	}

	for _, member := range g.members.XMPPMembers(chatName) {
		for _, device := range member.Devices {
			msg := &xmpp.Message{
				From: from.Anon.String(),
				To:   device.String(),
				ID:   msgID,
				Type: "groupchat",
				Body: content.Body,
				HTML: html,
			}
			g.send(msg)
		}
	}
}

// SendMatrixMembership reflects a Matrix-side join or leave as occupant
// presence to every XMPP member's devices.
func (g *Gateway) SendMatrixMembership(chatName string, sender id.UserID, displayname string, membership event.Membership) {
	g.mu.Lock()
	defer g.mu.Unlock()

	log := g.log.With().Str("chat_name", chatName).Str("sender", string(sender)).Logger()
	log.Info().Str("membership", string(membership)).Msg("Reflecting Matrix membership change")

	nick := g.cfg.FormatNick(NickParams{Displayname: displayname, UserID: string(sender)})
	from := chatName + "/" + nick

	// Snapshot before mutating so a leaver still sees their own leave.
	users := g.members.XMPPMembers(chatName)
	if len(users) == 0 {
		log.Warn().Msg("No users found for gateway room")
	}

	var affiliation, role, presenceType string
	switch membership {
	case event.MembershipJoin:
		anon, err := jid.Parse(from)
		if err != nil {
			log.Warn().Err(err).Str("nick", nick).Msg("Nick does not form a valid occupant JID")
			return
		}
		if _, err := g.members.AddMatrixMember(chatName, sender, anon); err != nil {
			log.Warn().Err(err).Msg("Cannot register Matrix member")
			return
		}
		affiliation, role = "member", "participant"
	case event.MembershipLeave:
		g.members.RemoveMatrixMember(chatName, sender)
		affiliation, role = "member", "none"
		presenceType = xmpp.PresenceUnavailable
	default:
		log.Debug().Msg("Membership state not reflected")
		return
	}

	for _, member := range users {
		for _, device := range member.Devices {
			item := xmpp.NewPresenceItem(from, device.String(), affiliation, role)
			item.Type = presenceType
			g.send(item)
		}
	}
}

// SendStateChange broadcasts an updated subject for topic and name
// changes. Other kinds are deliberately not propagated.
func (g *Gateway) SendStateChange(chatName string, kind StateChangeKind, room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if kind != StateChangeTopic && kind != StateChangeName {
		return
	}
	g.log.Info().Str("chat_name", chatName).Str("kind", string(kind)).Msg("Reflecting state change")
	if len(g.members.XMPPMembers(chatName)) == 0 {
		g.log.Warn().Str("chat_name", chatName).Msg("No users found for gateway room")
	}
	g.reflectStanza(chatName, xmpp.NewMessageSubject(chatName, "", room.Subject()))
}

// ReflectXMPPMessage relays an inbound XMPP groupchat message to every
// device of every XMPP member, rewriting the sender to its anonymized
// occupant JID. An untracked sender is told to rejoin and false is
// returned. Relay failures are logged per device, never surfaced to the
// sender.
func (g *Gateway) ReflectXMPPMessage(chatName string, msg *xmpp.Message) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, err := jid.Parse(msg.From)
	if err != nil {
		g.log.Warn().Err(err).Str("from", msg.From).Msg("Cannot parse message sender")
		return false
	}
	member := g.members.GetXMPPMemberByRealJID(chatName, from)
	if member == nil {
		g.log.Warn().Str("from", msg.From).Str("chat_name", chatName).Msg("Sender is not part of this room")
		g.send(&xmpp.PresenceKick{
			From:   msg.To,
			To:     msg.From,
			Reason: "Dropped connection to the gateway, please rejoin",
			Actor:  "Bridge",
			Self:   true,
		})
		return false
	}

	for _, xmppMember := range g.members.XMPPMembers(chatName) {
		for _, device := range xmppMember.Devices {
			relay := msg.Clone()
			relay.From = member.Anon.String()
			relay.To = device.String()
			fanoutSends.Inc()
			if err := g.transport.WriteRaw(relay); err != nil {
				g.log.Warn().Err(err).Str("to", relay.To).Msg("Failed to reflect XMPP message")
			}
		}
	}
	return true
}

// ReflectXMPPStanza retargets a stanza to every device of every XMPP
// member of the chat.
func (g *Gateway) ReflectXMPPStanza(chatName string, s xmpp.Addressable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reflectStanza(chatName, s)
}

func (g *Gateway) reflectStanza(chatName string, s xmpp.Addressable) {
	for _, member := range g.members.XMPPMembers(chatName) {
		for _, device := range member.Devices {
			s.SetTo(device.String())
			g.send(s)
		}
	}
}

// ReflectPM relays a private message between two occupants. The
// recipient's most recently added device is treated as the current one.
func (g *Gateway) ReflectPM(msg *xmpp.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	to, err := jid.Parse(msg.To)
	if err != nil {
		return fmt.Errorf("parse recipient: %w", err)
	}
	from, err := jid.Parse(msg.From)
	if err != nil {
		return fmt.Errorf("parse sender: %w", err)
	}
	chatName := to.Bare().String()

	sender := g.members.GetXMPPMemberByRealJID(chatName, from)
	if sender == nil {
		g.log.Error().Str("from", msg.From).Msg("Cannot find sender in member list for PM")
		return fmt.Errorf("pm sender %s: %w", msg.From, ErrNotInRoom)
	}
	recipient := g.members.GetMemberByAnonJID(chatName, msg.To)
	if recipient == nil || recipient.Kind != MemberKindXMPP {
		g.log.Error().Str("to", msg.To).Msg("Cannot find recipient in member list for PM")
		return fmt.Errorf("pm recipient %s: %w", msg.To, ErrNotInRoom)
	}

	relay := msg.Clone()
	relay.From = sender.Anon.String()
	relay.To = recipient.Devices[len(recipient.Devices)-1].String()
	g.log.Info().Str("from", relay.From).Str("to", relay.To).Msg("Reflecting PM")
	return g.transport.WriteRaw(relay)
}

// MaskPMSenderRecipient resolves the pair of addresses to use for a
// private message from a Matrix user to an XMPP occupant: the sender's
// anonymized occupant JID and the recipient's current device.
func (g *Gateway) MaskPMSenderRecipient(senderMXID id.UserID, recipientJID string) (sender, recipient string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rj, err := jid.Parse(recipientJID)
	if err != nil {
		return "", "", fmt.Errorf("parse recipient: %w", err)
	}
	chatName := rj.Bare().String()
	g.log.Info().
		Str("sender", string(senderMXID)).
		Str("recipient", recipientJID).
		Str("chat_name", chatName).
		Msg("Looking up possible gateway PM")

	recipientMember := g.members.GetMemberByAnonJID(chatName, recipientJID)
	if recipientMember == nil || recipientMember.Kind != MemberKindXMPP {
		return "", "", fmt.Errorf("pm recipient %s: %w", recipientJID, ErrNotInRoom)
	}
	senderMember := g.members.GetMatrixMemberByMXID(chatName, senderMXID)
	if senderMember == nil {
		return "", "", fmt.Errorf("pm sender %s: %w", senderMXID, ErrNotInRoom)
	}
	return senderMember.Anon.String(),
		recipientMember.Devices[len(recipientMember.Devices)-1].String(),
		nil
}
