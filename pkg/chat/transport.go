// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chat

import "context"

// Transport is the chat backend boundary. The engine never retries a failed
// connect; reconnection policy belongs to the caller.
type Transport interface {
	Connect(ctx context.Context, userID string) (Session, error)
}

// Session is an open connection to the chat backend. All methods may be
// called from the engine's cooperative tasks; implementations must tolerate
// concurrent FetchOlder/Send/Subscribe calls on one session.
type Session interface {
	// Subscribe attaches a live-push consumer to a room. onMessage is
	// invoked asynchronously, in arrival order, until the subscription is
	// cancelled or the session disconnects.
	Subscribe(ctx context.Context, roomID string, onMessage func(RawMessage)) (Subscription, error)

	// FetchOlder returns up to limit messages older than beforeID, ordered
	// newest to oldest, or an empty slice when the history is exhausted.
	FetchOlder(ctx context.Context, roomID string, beforeID MessageID, limit int) ([]RawMessage, error)

	// Send transmits a composed multipart payload to a room.
	Send(ctx context.Context, roomID string, parts []OutboundPart) (Ack, error)

	// Disconnect tears the session down. Idempotent: calling it on an
	// already-disconnected session has no observable effect.
	Disconnect()
}

// Subscription is a cancellable live-push registration.
type Subscription interface {
	Cancel()
}

// Ack is the backend's acknowledgement of a sent message.
type Ack struct {
	MessageID MessageID
}
