// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
	"mellium.im/xmpp/jid"

	"github.com/aiku/mautrix-xmpp/pkg/xmpp"
)

// Gateway implements a MUC that sits between the Matrix side of the
// bridge and XMPP: it tracks which anonymized occupant JID belongs to
// which real identity on either side and relays messages, presence and
// state changes between them.
type Gateway struct {
	cfg       *Config
	log       zerolog.Logger
	transport Transport
	events    EventSink
	formatter Formatter

	presence *PresenceTracker
	members  *Membership
	history  *History
	pending  *joinCache

	// mu serializes the inbound path against the asynchronous join
	// completion; both touch the same per-room state.
	mu sync.Mutex
}

// New creates a gateway engine. A nil formatter falls back to the
// built-in XHTML-IM formatter.
func New(cfg *Config, log zerolog.Logger, transport Transport, events EventSink, formatter Formatter) *Gateway {
	if formatter == nil {
		formatter = defaultFormatter{}
	}
	return &Gateway{
		cfg:       cfg,
		log:       log.With().Str("component", "xmpp_gateway").Logger(),
		transport: transport,
		events:    events,
		formatter: formatter,
		presence:  NewPresenceTracker(),
		members:   NewMembership(),
		history:   NewHistory(cfg.HistoryLimit),
		pending:   newJoinCache(cfg.PendingJoinTimeout()),
	}
}

// HandleStanza is the inbound dispatch entry point: it classifies the
// presence update and either starts a join, completes a leave, or does
// nothing.
func (g *Gateway) HandleStanza(p *xmpp.Presence, roomAlias string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delta := g.presence.Add(p)
	if delta == nil {
		if p.JoinRequest && p.Available() &&
			g.members.GetXMPPMemberByRealJID(p.ChatName(), p.From) == nil {
			// A join to another room, or one retried before the previous
			// attempt resolved. A retry for the same room supersedes it
			// and the old correlation id is discarded.
			g.log.Debug().Str("from", p.From.String()).Msg("Caching join without presence delta")
			g.pending.Put(p)
			g.events.QueueEvent(&JoinRequested{
				JoinID:    p.ID,
				RoomAlias: roomAlias,
				Sender:    p.To.String(),
				ChatName:  p.ChatName(),
			})
			return
		}
		if !p.Available() {
			g.pruneDevice(p)
		}
		g.log.Debug().Str("from", p.From.String()).Msg("No presence delta")
		return
	}
	stanzasHandled.WithLabelValues(string(delta.Type)).Inc()

	chatName := p.ChatName()
	log := g.log.With().
		Str("chat_name", chatName).
		Str("from", p.From.String()).
		Str("room_alias", roomAlias).
		Logger()
	log.Info().Str("delta", string(delta.Type)).Msg("Handling presence")

	switch delta.Type {
	case DeltaOnline, DeltaNewDevice:
		if !p.JoinRequest {
			log.Debug().Msg("Presence without MUC join marker, nothing to do")
			return
		}
		g.pending.Put(p)
		g.events.QueueEvent(&JoinRequested{
			JoinID:    p.ID,
			RoomAlias: roomAlias,
			Sender:    p.To.String(),
			ChatName:  chatName,
		})

	case DeltaOffline:
		var kicker string
		if delta.Status.Kick != nil && delta.Status.Kick.Kicker != "" {
			kicker = chatName + "/" + delta.Status.Kick.Kicker
		}
		// Resolve before the leave reflection removes the member.
		member := g.members.GetXMPPMemberByRealJID(chatName, p.From)
		g.remoteLeft(p)
		if member == nil {
			log.Warn().Msg("User went offline but we have no member for them")
			return
		}
		reason := delta.Status.StatusMsg
		if delta.Status.Kick != nil {
			reason = delta.Status.Kick.Reason
		}
		g.events.QueueEvent(&UserLeft{
			ChatName:  chatName,
			Sender:    member.Anon.String(),
			Kicker:    kicker,
			Reason:    reason,
			RoomAlias: roomAlias,
		})

	default:
		log.Debug().Str("delta", string(delta.Type)).Msg("Nothing to do")
	}
}

// pruneDevice drops a device that went unavailable without changing the
// member's availability, so later fan-outs stop targeting it. The last
// device is left alone; removing it is the offline path's job.
func (g *Gateway) pruneDevice(p *xmpp.Presence) {
	chatName := p.ChatName()
	member := g.members.GetXMPPMemberByRealJID(chatName, p.From)
	if member == nil || len(member.Devices) < 2 || !member.HasDevice(p.From.String()) {
		return
	}
	g.members.RemoveXMPPDevice(chatName, p.From)
	g.log.Debug().
		Str("chat_name", chatName).
		Str("device", p.From.String()).
		Msg("Pruned departed device from member index")
}

// remoteLeft removes the departing member and reflects the leave: a
// self-flagged unavailable presence to the leaver, then the same
// presence to every remaining member's devices.
func (g *Gateway) remoteLeft(p *xmpp.Presence) {
	chatName := p.ChatName()
	member := g.members.GetXMPPMemberByRealJID(chatName, p.From)
	if member == nil {
		g.log.Error().
			Str("chat_name", chatName).
			Str("from", p.From.String()).
			Msg("User tried to leave but is not in the member list")
		return
	}
	g.members.RemoveXMPPDevice(chatName, p.From)

	leave := &xmpp.PresenceItem{
		From:        member.Anon.String(),
		To:          p.From.String(),
		Type:        xmpp.PresenceUnavailable,
		Affiliation: "member",
		Role:        "none",
		ItemJID:     p.From.String(),
		Self:        true,
	}
	if err := g.transport.WriteRaw(leave); err != nil {
		g.log.Warn().Err(err).Str("to", leave.To).Msg("Failed to echo leave to departing user")
	}
	leave.Self = false
	g.reflectStanza(chatName, leave)
}

// AddHistory captures a message stanza for later replay to joiners.
// The connection layer calls this for every groupchat message it relays.
func (g *Gateway) AddHistory(roomID string, msg *xmpp.Message) {
	g.history.Append(roomID, msg.Clone())
}

// AnonJIDForRealJID resolves the anonymized occupant JID of an XMPP
// user, or "" when the user is not in the chat.
func (g *Gateway) AnonJIDForRealJID(chatName string, real jid.JID) string {
	member := g.members.GetXMPPMemberByRealJID(chatName, real)
	if member == nil {
		return ""
	}
	return member.Anon.String()
}

// MatrixIDForAnonJID resolves the Matrix user behind an anonymized
// occupant JID.
func (g *Gateway) MatrixIDForAnonJID(chatName, anon string) (id.UserID, bool) {
	member := g.members.GetMemberByAnonJID(chatName, anon)
	if member == nil || member.Kind != MemberKindMatrix {
		return "", false
	}
	return member.MXID, true
}

// ReconnectRemoteUser re-registers a previously stored gateway member
// after a restart, without re-running the join protocol.
func (g *Gateway) ReconnectRemoteUser(user *RemoteUser, room *Room) {
	if user.RealJID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log.Info().
		Str("mxid", string(user.MXID)).
		Str("real_jid", user.RealJID).
		Str("chat_name", user.RoomName).
		Msg("Resurrecting remote user")
	real, err := jid.Parse(user.RealJID)
	if err != nil {
		g.log.Warn().Err(err).Str("real_jid", user.RealJID).Msg("Stored real JID does not parse")
		return
	}
	anon, err := jid.Parse(user.Handle)
	if err != nil {
		g.log.Warn().Err(err).Str("handle", user.Handle).Msg("Stored handle does not parse")
		return
	}
	g.reconcileMatrixMembers(user.RoomName, room)
	if _, err := g.members.AddXMPPMember(user.RoomName, real, anon); err != nil {
		g.log.Warn().Err(err).Str("handle", user.Handle).Msg("Failed to re-register remote user")
	}
}

// reconcileMatrixMembers mirrors the Matrix room's current membership
// into the index, absorbing any drift that happened while the chat had
// no traffic. Remote (ghost) members are skipped.
func (g *Gateway) reconcileMatrixMembers(chatName string, room *Room) {
	if room == nil {
		return
	}
	for _, member := range room.Members {
		if member.IsRemote {
			continue
		}
		switch member.Membership {
		case event.MembershipJoin:
			nick := g.cfg.FormatNick(NickParams{
				Displayname: member.Displayname,
				UserID:      string(member.UserID),
			})
			anon, err := jid.Parse(chatName + "/" + nick)
			if err != nil {
				g.log.Warn().Err(err).Str("nick", nick).Msg("Member nick does not form a valid occupant JID")
				continue
			}
			if _, err := g.members.AddMatrixMember(chatName, member.UserID, anon); err != nil {
				g.log.Debug().Err(err).Str("mxid", string(member.UserID)).Msg("Skipping conflicting room member")
			}
		case event.MembershipLeave:
			g.members.RemoveMatrixMember(chatName, member.UserID)
		}
	}
}
