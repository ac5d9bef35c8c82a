// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chat

import "sync"

// Store holds the ordered, deduplicated message timeline and the backward
// pagination cursor. Ordering is newest-first (display order). Exactly one
// entry per message id exists at any time; re-delivery of a known id is a
// no-op, so live pushes and backfill merges commute safely.
//
// Store mutation never fails. Malformed input is rejected upstream by
// Normalize.
type Store struct {
	mu      sync.RWMutex
	msgs    []Message // newest first
	index   map[MessageID]struct{}
	minID   MessageID
	hasMore bool
}

// NewStore returns an empty store. hasMore starts true and stays true until
// a backward fetch comes back empty.
func NewStore() *Store {
	return &Store{
		index:   make(map[MessageID]struct{}),
		hasMore: true,
	}
}

// AppendLive inserts a message at the newest end of the timeline. Idempotent
// per id: duplicate live delivery is dropped. Reports whether the message
// was inserted.
func (s *Store) AppendLive(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.index[msg.ID]; dup {
		return false
	}
	s.msgs = append([]Message{msg}, s.msgs...)
	s.track(msg.ID)
	return true
}

// PrependBackfill merges a batch of older messages, ordered oldest to
// newest, before the current oldest entry. Entries whose id is already in
// the store are dropped from the batch, not re-inserted. Returns the number
// of messages actually inserted.
func (s *Store) PrependBackfill(batch []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	// Walk the batch newest-first so appends at the oldest end keep the
	// newest-first slice ordering.
	for i := len(batch) - 1; i >= 0; i-- {
		msg := batch[i]
		if _, dup := s.index[msg.ID]; dup {
			continue
		}
		s.msgs = append(s.msgs, msg)
		s.track(msg.ID)
		inserted++
	}
	return inserted
}

func (s *Store) track(id MessageID) {
	if len(s.index) == 0 || id < s.minID {
		s.minID = id
	}
	s.index[id] = struct{}{}
}

// Cursor returns the minimum id currently held, which bounds the next
// backward fetch. ok is false when the store is empty.
func (s *Store) Cursor() (id MessageID, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.index) == 0 {
		return 0, false
	}
	return s.minID, true
}

// HasMore reports whether older history may still be fetched.
func (s *Store) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMore
}

// SetHasMore records pagination exhaustion.
func (s *Store) SetHasMore(hasMore bool) {
	s.mu.Lock()
	s.hasMore = hasMore
	s.mu.Unlock()
}

// Messages returns a snapshot of the timeline, newest first.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
