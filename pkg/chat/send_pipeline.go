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
	"github.com/rosterlabs/roomsync/pkg/moderation"
)

// Scorer is the moderation service boundary.
type Scorer interface {
	ScoreImage(ctx context.Context, encodedContent string) (map[moderation.Category]moderation.Likelihood, error)
}

// SendPipeline orchestrates moderation scoring, payload composition and
// transmission for outbound messages. Sends are serialized per room by an
// active-send gate: the pipeline reads and clears a single shared staged
// attachment, so concurrent sends sharing that slot would race.
type SendPipeline struct {
	sync   *SyncController
	stager *Stager
	scorer Scorer
	roomID string
	log    zerolog.Logger
	notify func()

	sending atomic.Bool
}

// NewSendPipeline wires a pipeline over the controller's session and the
// shared stager. scorer may be nil, in which case every image attachment
// resolves clear without a scoring call.
func NewSendPipeline(sync *SyncController, stager *Stager, scorer Scorer, roomID string, log zerolog.Logger, notify func()) *SendPipeline {
	return &SendPipeline{
		sync:   sync,
		stager: stager,
		scorer: scorer,
		roomID: roomID,
		log:    log.With().Str("component", "send").Str("room_id", roomID).Logger(),
		notify: notify,
	}
}

// Sending reports whether a send is in flight.
func (sp *SendPipeline) Sending() bool {
	return sp.sending.Load()
}

// Send runs the staged pipeline for one outbound message:
//
//  1. Moderation gate: a staged image attachment with an unresolved decision
//     is scored; any category at LIKELY or above flags it. A scoring failure
//     resolves clear (explicit fail-open policy, logged and counted). The
//     resolved decision is cached on the staged attachment so a retry after
//     a failed send never re-scores.
//  2. Composition: a text part always, plus the attachment part when staged.
//  3. Transmission through the session.
//
// On success the staged attachment is cleared. On failure it is retained so
// the user may retry; the entered text is the caller's to keep or drop.
func (sp *SendPipeline) Send(ctx context.Context, text string) error {
	if !sp.sending.CompareAndSwap(false, true) {
		return ErrSendInFlight
	}
	defer func() {
		sp.sending.Store(false)
		sp.fireNotify()
	}()

	session, gen, err := sp.sync.sessionForCall()
	if err != nil {
		return err
	}
	sp.fireNotify() // sending indicator on

	pending, staged := sp.stager.Pending()
	for staged && pending.Decision == DecisionUnresolved {
		decision := sp.resolveModeration(ctx, pending)
		// Cache for retries; lands only while this attachment is staged.
		if sp.stager.ResolveDecision(pending.URI, decision) {
			pending.Decision = decision
			break
		}
		// The slot changed while scoring; compose whatever is staged now.
		pending, staged = sp.stager.Pending()
	}

	parts := []OutboundPart{TextPart(text)}
	if staged {
		parts = append(parts, AttachmentPart(pending))
	}

	ack, err := session.Send(ctx, sp.roomID, parts)
	if err != nil {
		metrics.Sends.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	metrics.Sends.WithLabelValues("ok").Inc()

	if staged && sp.sync.sameGeneration(gen) {
		sp.stager.Clear()
	}
	sp.log.Debug().Int64("message_id", int64(ack.MessageID)).
		Bool("attachment", staged).
		Msg("Message sent")
	return nil
}

// resolveModeration classifies a staged attachment. Non-image media types
// skip scoring entirely and are never flagged.
func (sp *SendPipeline) resolveModeration(ctx context.Context, att PendingAttachment) ModerationDecision {
	if !att.IsImage() || sp.scorer == nil {
		return DecisionClear
	}
	scores, err := sp.scorer.ScoreImage(ctx, att.EncodedContent)
	if err != nil {
		metrics.ModerationOutcomes.WithLabelValues("fail_open").Inc()
		sp.log.Warn().Err(err).Str("name", att.DisplayName).
			Msg("Moderation scoring failed, resolving clear (fail-open)")
		return DecisionClear
	}
	if moderation.Flagged(scores) {
		metrics.ModerationOutcomes.WithLabelValues("flagged").Inc()
		sp.log.Info().Str("name", att.DisplayName).Msg("Attachment flagged by moderation")
		return DecisionFlagged
	}
	metrics.ModerationOutcomes.WithLabelValues("clear").Inc()
	return DecisionClear
}

func (sp *SendPipeline) fireNotify() {
	if sp.notify != nil {
		sp.notify()
	}
}
