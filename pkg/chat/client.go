// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package chat implements the message synchronization engine and the
// moderation-gated send pipeline: a local ordered timeline kept in sync with
// a remote chat backend, backward pagination, and a staged outbound pipeline
// that scores image attachments before transmission.
package chat

import (
	"context"

	"github.com/rs/zerolog"
)

// Options configure a Client.
type Options struct {
	UserID string
	RoomID string

	// PageSize is the backward-pagination fetch size; DefaultPageSize when
	// non-positive.
	PageSize int

	Transport Transport
	// Scorer may be nil; image attachments then resolve clear unscored.
	Scorer Scorer
	// Picker may be nil when the integration never stages attachments.
	Picker Picker

	Logger zerolog.Logger

	// OnUpdate is invoked after every state-affecting transition (timeline
	// mutation, loading/sending indicator change). Called from the engine's
	// tasks, outside its locks; keep it cheap and non-blocking.
	OnUpdate func()
}

// Client is the presentation-facing facade over the engine: the ordered
// timeline, the hasMore/loading/sending indicators, and the three user
// intents (send, load earlier, pick attachment).
type Client struct {
	store     *Store
	syncCtrl  *SyncController
	paginator *Paginator
	stager    *Stager
	pipeline  *SendPipeline
}

// NewClient assembles the engine. The store and stager have a single logical
// owner (this client); every mutation path goes through components that are
// individually safe against the documented teardown races.
func NewClient(opts Options) *Client {
	store := NewStore()
	log := opts.Logger
	notify := opts.OnUpdate

	syncCtrl := NewSyncController(opts.Transport, store, opts.UserID, opts.RoomID, log, notify)
	stager := NewStager(opts.Picker, log)
	return &Client{
		store:     store,
		syncCtrl:  syncCtrl,
		paginator: NewPaginator(syncCtrl, store, opts.RoomID, opts.PageSize, log, notify),
		stager:    stager,
		pipeline:  NewSendPipeline(syncCtrl, stager, opts.Scorer, opts.RoomID, log, notify),
	}
}

// Activate connects and subscribes to the room's live feed.
func (c *Client) Activate(ctx context.Context) error {
	return c.syncCtrl.Activate(ctx)
}

// Deactivate tears the session down. Idempotent.
func (c *Client) Deactivate() {
	c.syncCtrl.Deactivate()
}

// State returns the session lifecycle state.
func (c *Client) State() State {
	return c.syncCtrl.State()
}

// Messages returns the timeline snapshot, newest first.
func (c *Client) Messages() []Message {
	return c.store.Messages()
}

// HasMore reports whether older history may still be fetched.
func (c *Client) HasMore() bool {
	return c.store.HasMore()
}

// Loading reports whether a backward fetch is in flight.
func (c *Client) Loading() bool {
	return c.paginator.Loading()
}

// Sending reports whether a send is in flight.
func (c *Client) Sending() bool {
	return c.pipeline.Sending()
}

// SendText runs the send pipeline with the user-entered text and whatever
// attachment is currently staged.
func (c *Client) SendText(ctx context.Context, text string) error {
	return c.pipeline.Send(ctx, text)
}

// LoadEarlier fetches and merges the next page of older messages.
func (c *Client) LoadEarlier(ctx context.Context) error {
	return c.paginator.LoadEarlier(ctx)
}

// PickAttachment captures a file from the picker and stages it for the next
// send, replacing any previously staged attachment.
func (c *Client) PickAttachment(ctx context.Context) (PendingAttachment, error) {
	return c.stager.Capture(ctx)
}

// PendingAttachment returns a copy of the staged attachment, if any.
func (c *Client) PendingAttachment() (PendingAttachment, bool) {
	return c.stager.Pending()
}

// ClearAttachment drops the staged attachment.
func (c *Client) ClearAttachment() {
	c.stager.Clear()
}
