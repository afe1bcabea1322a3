// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-xmpp/pkg/xmpp"
)

// CompleteRemoteJoin is the second phase of a join: the Matrix side has
// resolved (or failed to resolve) the room behind the alias. The cached
// request is consumed unconditionally; completing the same join twice
// returns ErrJoinNotCached.
//
// On success the joiner receives, in XEP-0045 order: the membership of
// every other occupant, its own self-flagged presence, the buffered room
// history and finally the current subject. Clients rely on exactly this
// sequence to render the room.
func (g *Gateway) CompleteRemoteJoin(joinID string, joinErr error, room *Room, ownMXID id.UserID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	log := g.log.With().Str("join_id", joinID).Logger()
	log.Debug().Msg("Handling remote join")

	p, ok := g.pending.Take(joinID)
	if !ok {
		log.Error().Msg("Join request not in cache, cannot handle")
		joinsCompleted.WithLabelValues("uncached").Inc()
		return fmt.Errorf("join %s: %w", joinID, ErrJoinNotCached)
	}
	chatName := p.ChatName()

	if joinErr != nil || room == nil {
		g.presence.MarkOffline(p.From.Bare().String())
		log.Warn().AnErr("join_error", joinErr).Msg("Responding with an error to remote join")
		g.send(xmpp.NewPresenceError(
			p.To.String(), p.From.String(), p.ID,
			chatName, xmpp.ErrCondServiceUnavailable,
		))
		joinsCompleted.WithLabelValues("unavailable").Inc()
		return nil
	}

	// Nickname conflict check.
	if existing := g.members.GetMemberByAnonJID(chatName, p.To.String()); existing != nil {
		rejected := false
		switch {
		case existing.Kind == MemberKindMatrix:
			rejected = true
		case existing.HasDevice(p.From.String()):
			log.Debug().Msg("Existing device has requested a join")
		case existing.RealBare.Equal(p.From.Bare()):
			log.Debug().Str("device", p.From.Resourcepart()).Msg("Known user joining from a new device")
		default:
			rejected = true
		}
		if rejected {
			log.Error().Str("nick", p.To.Resourcepart()).Msg("Conflicting nickname, not joining")
			g.send(xmpp.NewPresenceError(
				p.To.String(), p.From.String(), p.ID,
				chatName, xmpp.ErrCondConflict,
			))
			joinsCompleted.WithLabelValues("conflict").Inc()
			return fmt.Errorf("join %s: %w", joinID, ErrNickConflict)
		}
	}

	// From this point on the user is considered joined.
	if _, err := g.members.AddXMPPMember(chatName, p.From, p.To); err != nil {
		joinsCompleted.WithLabelValues("conflict").Inc()
		return err
	}
	g.reconcileMatrixMembers(chatName, room)

	// 1. Membership of the other occupants, paced against the transport.
	log.Debug().Msg("Emitting membership of other users")
	sent := 0
	for _, member := range g.members.Members(chatName) {
		if member.Anon.String() == p.To.String() {
			continue
		}
		g.send(xmpp.NewPresenceItem(member.Anon.String(), p.From.String(), "member", "participant"))
		sent++
		if sent%g.cfg.PresenceChunkSize == 0 {
			if err := g.transport.WaitForDrain(g.cfg.DrainTimeout()); err != nil {
				drainTimeouts.Inc()
				log.Warn().Err(err).Msg("Drain didn't arrive, proceeding anyway")
			}
		}
	}

	// 2. Self presence, flagged with status code 110.
	log.Debug().Msg("Emitting membership of self")
	self := xmpp.NewPresenceItem(p.To.String(), p.From.String(), "member", "participant")
	self.Self = true
	g.send(self)

	// Let the rest of the room see the join.
	joined := xmpp.NewPresenceItem(p.To.String(), "", "member", "participant")
	for _, member := range g.members.XMPPMembers(chatName) {
		for _, device := range member.Devices {
			if device.String() == p.From.String() {
				continue
			}
			joined.SetTo(device.String())
			g.send(joined)
		}
	}

	// 3. Room history.
	log.Debug().Msg("Emitting history")
	for _, entry := range g.history.Entries(string(room.ID)) {
		replay := entry.Clone()
		replay.To = p.From.String()
		if err := g.transport.WriteRaw(replay); err != nil {
			log.Warn().Err(err).Msg("Failed to replay history entry")
		}
	}

	// 4. The room subject.
	log.Debug().Msg("Emitting subject")
	g.send(xmpp.NewMessageSubject(chatName, p.From.String(), room.Subject()))

	// Store the member so we can reconnect them after a restart.
	g.events.QueueEvent(&StoreRemoteUser{
		MXID:     ownMXID,
		Handle:   p.To.String(),
		RealJID:  p.From.String(),
		RoomName: chatName,
	})
	joinsCompleted.WithLabelValues("ok").Inc()
	log.Debug().Str("chat_name", chatName).Msg("Join complete")
	return nil
}

// send writes a stanza and logs failures; fan-out errors never abort the
// operation that produced them.
func (g *Gateway) send(s xmpp.Stanza) {
	fanoutSends.Inc()
	if err := g.transport.Send(s); err != nil {
		g.log.Warn().Err(err).Str("stanza", s.StanzaName()).Msg("Failed to send stanza")
	}
}
