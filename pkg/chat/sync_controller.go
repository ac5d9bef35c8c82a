// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rosterlabs/roomsync/pkg/metrics"
)

// State is the sync controller's session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SyncController owns the backend session lifecycle and the live-push
// subscription, feeding normalized messages into the store in arrival order.
//
// The session handle never leaves the controller. Teardown is guarded by a
// generation counter: a connect or subscribe that resolves after Deactivate,
// and any push callback from a previous generation, is a safe no-op instead
// of resurrecting a disconnected session.
type SyncController struct {
	transport Transport
	store     *Store
	userID    string
	roomID    string
	log       zerolog.Logger
	notify    func()

	mu         sync.Mutex
	state      State
	session    Session
	sub        Subscription
	generation uint64
}

// NewSyncController wires a controller to a transport and a store. notify
// may be nil; when set it is invoked after every store mutation.
func NewSyncController(transport Transport, store *Store, userID, roomID string, log zerolog.Logger, notify func()) *SyncController {
	return &SyncController{
		transport: transport,
		store:     store,
		userID:    userID,
		roomID:    roomID,
		log:       log.With().Str("component", "sync").Str("room_id", roomID).Logger(),
		notify:    notify,
	}
}

// State returns the current lifecycle state.
func (sc *SyncController) State() State {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// Activate opens a session against the chat transport and subscribes to the
// room's live feed. Blocks until subscribed or failed. Failures are surfaced
// to the caller and never retried automatically.
func (sc *SyncController) Activate(ctx context.Context) error {
	sc.mu.Lock()
	if sc.state != StateDisconnected {
		sc.mu.Unlock()
		return ErrAlreadyActive
	}
	sc.generation++
	gen := sc.generation
	sc.state = StateConnecting
	sc.mu.Unlock()

	session, err := sc.transport.Connect(ctx, sc.userID)
	if err != nil {
		sc.resetIfCurrent(gen)
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	sc.mu.Lock()
	if sc.generation != gen || sc.state != StateConnecting {
		// Deactivate won the race: drop the fresh session on the floor.
		sc.mu.Unlock()
		session.Disconnect()
		return ErrDeactivated
	}
	sc.session = session
	sc.mu.Unlock()

	sub, err := session.Subscribe(ctx, sc.roomID, func(raw RawMessage) {
		sc.handlePush(gen, raw)
	})
	if err != nil {
		sc.resetIfCurrent(gen)
		session.Disconnect()
		return fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	sc.mu.Lock()
	if sc.generation != gen {
		sc.mu.Unlock()
		sub.Cancel()
		session.Disconnect()
		return ErrDeactivated
	}
	sc.sub = sub
	sc.state = StateSubscribed
	sc.mu.Unlock()

	sc.log.Info().Str("user_id", sc.userID).Msg("Subscribed to room live feed")
	return nil
}

// Deactivate disconnects the session. Idempotent, and safe to call while a
// connect is still in flight: the late-resolving connect sees a bumped
// generation and disconnects itself.
func (sc *SyncController) Deactivate() {
	sc.mu.Lock()
	if sc.state == StateDisconnected {
		sc.mu.Unlock()
		return
	}
	sc.generation++
	session, sub := sc.session, sc.sub
	sc.session, sc.sub = nil, nil
	sc.state = StateDisconnected
	sc.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if session != nil {
		session.Disconnect()
	}
	sc.log.Info().Msg("Session deactivated")
}

// resetIfCurrent rolls the controller back to disconnected unless a newer
// activation or teardown already changed the generation.
func (sc *SyncController) resetIfCurrent(gen uint64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.generation != gen {
		return
	}
	sc.session = nil
	sc.sub = nil
	sc.state = StateDisconnected
}

// handlePush normalizes a pushed raw message and applies it to the store.
// Pushes from a stale generation, and any push arriving after teardown, are
// dropped without touching the store.
func (sc *SyncController) handlePush(gen uint64, raw RawMessage) {
	msg, err := Normalize(raw)
	if err != nil {
		metrics.NormalizationDrops.Inc()
		sc.log.Warn().Err(err).Int64("message_id", int64(raw.ID)).
			Msg("Dropping malformed pushed message")
		return
	}

	sc.mu.Lock()
	if sc.generation != gen || sc.state != StateSubscribed {
		sc.mu.Unlock()
		return
	}
	inserted := sc.store.AppendLive(msg)
	sc.mu.Unlock()

	if !inserted {
		sc.log.Debug().Int64("message_id", int64(raw.ID)).
			Msg("Duplicate live delivery ignored")
		return
	}
	metrics.MessagesSynced.Inc()
	sc.fireNotify()
}

// sessionForCall hands the current session to a sibling component (paginator
// or send pipeline) along with the generation it belongs to, so the caller
// can detect teardown that happened while its network call was in flight.
func (sc *SyncController) sessionForCall() (Session, uint64, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.state != StateSubscribed || sc.session == nil {
		return nil, 0, ErrNotConnected
	}
	return sc.session, sc.generation, nil
}

// sameGeneration reports whether no teardown or re-activation happened since
// the given generation was observed.
func (sc *SyncController) sameGeneration(gen uint64) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.generation == gen
}

func (sc *SyncController) fireNotify() {
	if sc.notify != nil {
		sc.notify()
	}
}
