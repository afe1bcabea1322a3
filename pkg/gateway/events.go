// Copyright 2024-2026 Aiku AI

package gateway

import "maunium.net/go/mautrix/id"

// RemoteEventType identifies an outward-facing domain event.
type RemoteEventType string

const (
	RemoteEventJoinRequested   RemoteEventType = "join-requested"
	RemoteEventUserLeft        RemoteEventType = "user-left"
	RemoteEventStoreRemoteUser RemoteEventType = "store-remote-user"
)

// RemoteEvent is an event the gateway emits to the Matrix side.
type RemoteEvent interface {
	EventType() RemoteEventType
}

// JoinRequested asks the Matrix side to resolve the room behind an
// alias. The answer arrives later through Gateway.CompleteRemoteJoin
// with the same JoinID.
type JoinRequested struct {
	JoinID    string
	RoomAlias string
	// Sender is the anonymized occupant JID the user requested.
	Sender   string
	ChatName string
}

func (*JoinRequested) EventType() RemoteEventType { return RemoteEventJoinRequested }

// UserLeft reports that an XMPP user's last device went offline.
type UserLeft struct {
	ChatName string
	// Sender is the departing member's anonymized occupant JID.
	Sender string
	// Kicker is set when the departure was involuntary, as
	// {chat}/{kicker nick}.
	Kicker    string
	Reason    string
	RoomAlias string
}

func (*UserLeft) EventType() RemoteEventType { return RemoteEventUserLeft }

// StoreRemoteUser asks the store collaborator to persist a gateway
// member so it can be resurrected after a restart.
type StoreRemoteUser struct {
	MXID     id.UserID
	Handle   string
	RealJID  string
	RoomName string
}

func (*StoreRemoteUser) EventType() RemoteEventType { return RemoteEventStoreRemoteUser }
