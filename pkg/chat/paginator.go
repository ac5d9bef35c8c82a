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
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rosterlabs/roomsync/pkg/metrics"
)

// DefaultPageSize is the backward-pagination fetch size.
const DefaultPageSize = 10

// Paginator drives backward pagination through the store. Calls are
// serialized by a busy gate: a LoadEarlier that arrives while one is in
// flight is rejected without issuing a second fetch, which keeps the cursor
// consistent.
type Paginator struct {
	sync     *SyncController
	store    *Store
	roomID   string
	pageSize int
	log      zerolog.Logger
	notify   func()

	busy atomic.Bool
}

// NewPaginator wires a paginator over the controller's session and the
// shared store. pageSize falls back to DefaultPageSize when non-positive.
func NewPaginator(sync *SyncController, store *Store, roomID string, pageSize int, log zerolog.Logger, notify func()) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{
		sync:     sync,
		store:    store,
		roomID:   roomID,
		pageSize: pageSize,
		log:      log.With().Str("component", "paginator").Str("room_id", roomID).Logger(),
		notify:   notify,
	}
}

// Loading reports whether a fetch is in flight.
func (p *Paginator) Loading() bool {
	return p.busy.Load()
}

// LoadEarlier fetches the next page of older messages, bounded by the
// store's cursor, and merges it into the timeline.
//
// Returns ErrLoadInFlight while another load is running. A no-op (without a
// transport fetch) when history is exhausted or the store is still empty.
// A fetch failure is recoverable: hasMore is untouched and the caller may
// retry.
func (p *Paginator) LoadEarlier(ctx context.Context) error {
	if !p.busy.CompareAndSwap(false, true) {
		return ErrLoadInFlight
	}
	defer func() {
		p.busy.Store(false)
		p.fireNotify()
	}()

	if !p.store.HasMore() {
		return nil
	}
	cursor, ok := p.store.Cursor()
	if !ok {
		// Nothing local to page before; the initial window comes from the
		// live subscription.
		return nil
	}

	session, gen, err := p.sync.sessionForCall()
	if err != nil {
		return err
	}
	p.fireNotify() // loading indicator on

	raws, err := session.FetchOlder(ctx, p.roomID, cursor, p.pageSize)
	if err != nil {
		metrics.BackfillFetches.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if !p.sync.sameGeneration(gen) {
		// Session torn down while the fetch was in flight.
		return ErrDeactivated
	}

	if len(raws) == 0 {
		p.store.SetHasMore(false)
		metrics.BackfillFetches.WithLabelValues("empty").Inc()
		p.log.Info().Int64("cursor", int64(cursor)).Msg("History exhausted")
		return nil
	}

	// The transport returns newest-to-oldest within the older window;
	// reverse to oldest-to-newest for the merge.
	batch := make([]Message, 0, len(raws))
	for _, raw := range raws {
		msg, err := Normalize(raw)
		if err != nil {
			metrics.NormalizationDrops.Inc()
			p.log.Warn().Err(err).Int64("message_id", int64(raw.ID)).
				Msg("Dropping malformed backfill message")
			continue
		}
		batch = append(batch, msg)
	}
	for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
		batch[i], batch[j] = batch[j], batch[i]
	}

	inserted := p.store.PrependBackfill(batch)
	metrics.BackfillFetches.WithLabelValues("ok").Inc()
	metrics.BackfillMessages.Add(float64(inserted))
	p.log.Debug().
		Int("fetched", len(raws)).
		Int("inserted", inserted).
		Int64("cursor", int64(cursor)).
		Msg("Merged backfill batch")
	return nil
}

func (p *Paginator) fireNotify() {
	if p.notify != nil {
		p.notify()
	}
}
