// Copyright 2024-2026 Aiku AI

package gateway

import (
	"fmt"
	"sync"

	"maunium.net/go/mautrix/id"
	"mellium.im/xmpp/jid"
)

// MemberKind tags the two member variants.
type MemberKind int

const (
	MemberKindXMPP MemberKind = iota
	MemberKindMatrix
)

// Member is one occupant of a bridged chat: the anonymized occupant JID
// plus the variant-specific real identity. XMPP members carry a device
// list, Matrix members a single user id.
type Member struct {
	Kind MemberKind
	Anon jid.JID

	// XMPP variant.
	RealBare jid.JID
	Devices  []jid.JID

	// Matrix variant.
	MXID id.UserID
}

// HasDevice reports whether the full JID is a registered device.
func (m *Member) HasDevice(full string) bool {
	for _, d := range m.Devices {
		if d.String() == full {
			return true
		}
	}
	return false
}

// realKey is the reverse-lookup key: bare JID for XMPP members, user id
// for Matrix members.
func (m *Member) realKey() string {
	if m.Kind == MemberKindMatrix {
		return string(m.MXID)
	}
	return m.RealBare.String()
}

type chatMembers struct {
	order  []*Member
	byAnon map[string]*Member
	byReal map[string]*Member
}

// Membership is the per-chat bidirectional index between anonymized
// occupant JIDs and real identities on both sides of the gateway.
type Membership struct {
	mu    sync.RWMutex
	chats map[string]*chatMembers
}

func NewMembership() *Membership {
	return &Membership{chats: make(map[string]*chatMembers)}
}

func (ms *Membership) chat(chatName string) *chatMembers {
	cm := ms.chats[chatName]
	if cm == nil {
		cm = &chatMembers{
			byAnon: make(map[string]*Member),
			byReal: make(map[string]*Member),
		}
		ms.chats[chatName] = cm
	}
	return cm
}

// AddXMPPMember registers a device under an anonymized occupant JID.
// If the bare JID already holds the same occupant JID the device is
// merged into the member. A different real identity behind the occupant
// JID is a conflict and the join must be rejected.
func (ms *Membership) AddXMPPMember(chatName string, real, anon jid.JID) (*Member, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cm := ms.chat(chatName)
	bare := real.Bare()

	if existing := cm.byAnon[anon.String()]; existing != nil {
		if existing.Kind != MemberKindXMPP || !existing.RealBare.Equal(bare) {
			return nil, fmt.Errorf("%s in %s: %w", anon.String(), chatName, ErrNickConflict)
		}
		if !existing.HasDevice(real.String()) {
			existing.Devices = append(existing.Devices, real)
		}
		return existing, nil
	}

	if existing := cm.byReal[bare.String()]; existing != nil {
		// Same user joining under a new nickname: rebind the occupant JID.
		delete(cm.byAnon, existing.Anon.String())
		existing.Anon = anon
		cm.byAnon[anon.String()] = existing
		if !existing.HasDevice(real.String()) {
			existing.Devices = append(existing.Devices, real)
		}
		return existing, nil
	}

	m := &Member{Kind: MemberKindXMPP, Anon: anon, RealBare: bare, Devices: []jid.JID{real}}
	cm.byAnon[anon.String()] = m
	cm.byReal[bare.String()] = m
	cm.order = append(cm.order, m)
	return m, nil
}

// AddMatrixMember registers a Matrix-side member under an anonymized
// occupant JID, with the same conflict rule as AddXMPPMember.
func (ms *Membership) AddMatrixMember(chatName string, mxid id.UserID, anon jid.JID) (*Member, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cm := ms.chat(chatName)

	if existing := cm.byAnon[anon.String()]; existing != nil {
		if existing.Kind != MemberKindMatrix || existing.MXID != mxid {
			return nil, fmt.Errorf("%s in %s: %w", anon.String(), chatName, ErrNickConflict)
		}
		return existing, nil
	}

	if existing := cm.byReal[string(mxid)]; existing != nil {
		// Displayname change: rebind the occupant JID.
		delete(cm.byAnon, existing.Anon.String())
		existing.Anon = anon
		cm.byAnon[anon.String()] = existing
		return existing, nil
	}

	m := &Member{Kind: MemberKindMatrix, Anon: anon, MXID: mxid}
	cm.byAnon[anon.String()] = m
	cm.byReal[string(mxid)] = m
	cm.order = append(cm.order, m)
	return m, nil
}

// RemoveXMPPDevice drops one device; when it was the last one the member
// is removed entirely. Returns the member and whether it was removed.
func (ms *Membership) RemoveXMPPDevice(chatName string, full jid.JID) (*Member, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cm := ms.chats[chatName]
	if cm == nil {
		return nil, false
	}
	m := cm.byReal[full.Bare().String()]
	if m == nil || m.Kind != MemberKindXMPP {
		return nil, false
	}
	for i, d := range m.Devices {
		if d.String() == full.String() {
			m.Devices = append(m.Devices[:i], m.Devices[i+1:]...)
			break
		}
	}
	if len(m.Devices) > 0 {
		return m, false
	}
	cm.remove(m)
	return m, true
}

// RemoveMatrixMember removes a Matrix-side member.
func (ms *Membership) RemoveMatrixMember(chatName string, mxid id.UserID) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cm := ms.chats[chatName]
	if cm == nil {
		return false
	}
	m := cm.byReal[string(mxid)]
	if m == nil || m.Kind != MemberKindMatrix {
		return false
	}
	cm.remove(m)
	return true
}

func (cm *chatMembers) remove(m *Member) {
	delete(cm.byAnon, m.Anon.String())
	delete(cm.byReal, m.realKey())
	for i, o := range cm.order {
		if o == m {
			cm.order = append(cm.order[:i], cm.order[i+1:]...)
			break
		}
	}
}

// GetMemberByAnonJID looks a member up by anonymized occupant JID.
func (ms *Membership) GetMemberByAnonJID(chatName, anon string) *Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	cm := ms.chats[chatName]
	if cm == nil {
		return nil
	}
	return cm.byAnon[anon]
}

// GetXMPPMemberByRealJID looks an XMPP member up by real JID (bare or
// full, only the bare part is matched).
func (ms *Membership) GetXMPPMemberByRealJID(chatName string, real jid.JID) *Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	cm := ms.chats[chatName]
	if cm == nil {
		return nil
	}
	m := cm.byReal[real.Bare().String()]
	if m == nil || m.Kind != MemberKindXMPP {
		return nil
	}
	return m
}

// GetMatrixMemberByMXID looks a Matrix member up by user id.
func (ms *Membership) GetMatrixMemberByMXID(chatName string, mxid id.UserID) *Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	cm := ms.chats[chatName]
	if cm == nil {
		return nil
	}
	m := cm.byReal[string(mxid)]
	if m == nil || m.Kind != MemberKindMatrix {
		return nil
	}
	return m
}

// XMPPMembers returns the chat's XMPP members in insertion order.
func (ms *Membership) XMPPMembers(chatName string) []*Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	cm := ms.chats[chatName]
	if cm == nil {
		return nil
	}
	var out []*Member
	for _, m := range cm.order {
		if m.Kind == MemberKindXMPP {
			out = append(out, m)
		}
	}
	return out
}

// Members returns all members of the chat in insertion order.
func (ms *Membership) Members(chatName string) []*Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	cm := ms.chats[chatName]
	if cm == nil {
		return nil
	}
	out := make([]*Member, len(cm.order))
	copy(out, cm.order)
	return out
}
