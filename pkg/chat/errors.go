// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chat

import "errors"

// Failure kinds for the external boundaries. Errors returned by the engine
// wrap one of these, so callers can dispatch on kind with errors.Is while
// still seeing the transport's underlying error in the chain.
var (
	ErrConnection   = errors.New("connection failed")
	ErrSubscription = errors.New("subscription failed")
	ErrFetch        = errors.New("fetch older failed")
	ErrSend         = errors.New("send failed")
	ErrPick         = errors.New("attachment pick failed")
)

var (
	// ErrNoTextPart is the normalization failure: a raw message without an
	// inline text part is invalid and gets dropped, never stored.
	ErrNoTextPart = errors.New("raw message has no inline text part")

	// ErrAlreadyActive is returned by Activate when the controller is not
	// disconnected.
	ErrAlreadyActive = errors.New("sync controller already active")

	// ErrDeactivated is returned by Activate when Deactivate wins the race
	// against an in-flight connect or subscribe.
	ErrDeactivated = errors.New("deactivated during activation")

	// ErrNotConnected is returned by operations that need a live session.
	ErrNotConnected = errors.New("session is not connected")

	// ErrLoadInFlight rejects a LoadEarlier call while one is in flight.
	// The rejected call performs no store mutation and no transport fetch.
	ErrLoadInFlight = errors.New("earlier-page load already in flight")

	// ErrSendInFlight rejects a send while one is in flight. Sends are
	// serialized per room because they share the single staged attachment.
	ErrSendInFlight = errors.New("send already in flight")

	// ErrNothingStaged is returned by Capture collaborators when no file is
	// available to pick.
	ErrNothingStaged = errors.New("no attachment staged")
)
