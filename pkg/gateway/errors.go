// Copyright 2024-2026 Aiku AI

package gateway

import "errors"

var (
	// ErrNickConflict is returned when an anonymized occupant JID is
	// already bound to a different real identity.
	ErrNickConflict = errors.New("nickname already in use by another member")
	// ErrJoinNotCached is returned when a join completion arrives for a
	// correlation id with no cached request. This is a programming error
	// on the caller's side, not a recoverable protocol state.
	ErrJoinNotCached = errors.New("join request not in cache")
	// ErrNotInRoom is returned when an operation references a member the
	// index does not know about.
	ErrNotInRoom = errors.New("member not in room")
)
