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
)

// ModerationDecision is the resolved classification of a staged attachment.
// An attachment is never transmitted while unresolved.
type ModerationDecision int

const (
	DecisionUnresolved ModerationDecision = iota
	DecisionClear
	DecisionFlagged
)

func (d ModerationDecision) String() string {
	switch d {
	case DecisionUnresolved:
		return "unresolved"
	case DecisionClear:
		return "clear"
	case DecisionFlagged:
		return "flagged"
	default:
		return fmt.Sprintf("ModerationDecision(%d)", int(d))
	}
}

// PendingAttachment is the single staged outbound attachment. The stager
// hands out value copies; the staged instance is owned exclusively by the
// stager.
type PendingAttachment struct {
	URI            string
	DisplayName    string
	MediaType      string
	EncodedContent string
	Decision       ModerationDecision
}

// IsImage reports whether the attachment participates in moderation scoring.
func (a PendingAttachment) IsImage() bool {
	return isImageMediaType(a.MediaType)
}

// PickedFile is the device file picker's result.
type PickedFile struct {
	URI         string
	DisplayName string
}

// Picker is the device file picker / encoder boundary.
type Picker interface {
	Pick(ctx context.Context) (PickedFile, error)
	// ReadAsEncoded reads the picked file's bytes and returns them in the
	// transmittable encoding along with the detected media type.
	ReadAsEncoded(ctx context.Context, uri string) (encoded string, mediaType string, err error)
}

// Stager holds at most one pending outbound attachment. Capturing a new
// attachment silently replaces a previously staged one; that is deliberate,
// documented behavior, not an accident of shared state.
type Stager struct {
	picker Picker
	log    zerolog.Logger

	mu      sync.Mutex
	pending *PendingAttachment
}

// NewStager wires a stager to a picker.
func NewStager(picker Picker, log zerolog.Logger) *Stager {
	return &Stager{
		picker: picker,
		log:    log.With().Str("component", "stager").Logger(),
	}
}

// Capture runs the pick-read-encode sequence and stages the result with an
// unresolved moderation decision. Pick or encode failure stages nothing and
// leaves any previously staged attachment in place.
func (s *Stager) Capture(ctx context.Context) (PendingAttachment, error) {
	picked, err := s.picker.Pick(ctx)
	if err != nil {
		return PendingAttachment{}, fmt.Errorf("%w: %w", ErrPick, err)
	}
	encoded, mediaType, err := s.picker.ReadAsEncoded(ctx, picked.URI)
	if err != nil {
		return PendingAttachment{}, fmt.Errorf("%w: %w", ErrPick, err)
	}

	att := PendingAttachment{
		URI:            picked.URI,
		DisplayName:    picked.DisplayName,
		MediaType:      mediaType,
		EncodedContent: encoded,
		Decision:       DecisionUnresolved,
	}

	s.mu.Lock()
	if s.pending != nil {
		s.log.Debug().Str("replaced", s.pending.DisplayName).
			Str("staged", att.DisplayName).
			Msg("Replacing staged attachment")
	}
	s.pending = &att
	s.mu.Unlock()

	s.log.Info().Str("name", att.DisplayName).Str("media_type", att.MediaType).
		Msg("Attachment staged")
	return att, nil
}

// Pending returns a copy of the staged attachment, if any.
func (s *Stager) Pending() (PendingAttachment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingAttachment{}, false
	}
	return *s.pending, true
}

// Clear drops the staged attachment.
func (s *Stager) Clear() {
	s.mu.Lock()
	cleared := s.pending != nil
	s.pending = nil
	s.mu.Unlock()
	if cleared {
		s.log.Debug().Msg("Staged attachment cleared")
	}
}

// ResolveDecision caches a moderation decision on the staged attachment.
// The write only lands when the same attachment is still staged with an
// unresolved decision, so a replacement captured mid-send never inherits a
// stale decision, and a cached decision is never recomputed for a retry.
// Reports whether the decision was recorded.
func (s *Stager) ResolveDecision(uri string, decision ModerationDecision) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.pending.URI != uri || s.pending.Decision != DecisionUnresolved {
		return false
	}
	s.pending.Decision = decision
	return true
}
