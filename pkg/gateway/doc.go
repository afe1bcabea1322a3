// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package gateway implements the MUC membership and presence engine of a
// Matrix-XMPP bridge: an XMPP multi-user chat that, behind the scenes,
// is a Matrix room. XMPP occupants see the Matrix members as regular
// room occupants and vice versa, without either side learning the
// other's native identities.
//
// # Core Types
//
// [Gateway] is the engine. The inbound path enters through
// [Gateway.HandleStanza], which classifies presence updates via the
// [PresenceTracker] and either starts a join or completes a leave.
// Joins are two-phase: the raw request is cached, a [JoinRequested]
// event asks the Matrix side to resolve the room, and
// [Gateway.CompleteRemoteJoin] finishes the join once the answer
// arrives.
//
// [Membership] is the per-chat bidirectional index between anonymized
// occupant JIDs ({room}/{nick}) and real identities: full-JID device
// lists on the XMPP side, user ids on the Matrix side. A nickname
// claimed by a different real identity is a conflict and the join is
// answered with a presence error.
//
// [History] buffers the last room events for replay to new joiners.
//
// # Ordering
//
// A completed join emits, in XEP-0045 order: others' membership, self
// membership (status code 110), buffered history, current subject.
// Bulk membership emission is paced against the transport's drain
// signal; drain timeouts are logged and ignored.
//
// # Collaborators
//
// The XMPP connection ([Transport]), the Matrix side ([EventSink],
// [Room] snapshots), the persistent remote-user store and the rich-text
// formatter are injected interfaces; the engine performs no I/O of its
// own beyond them.
//
// The xmppfmt sub-package converts Matrix HTML to XHTML-IM.
package gateway
