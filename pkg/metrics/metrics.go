// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync metrics
	MessagesSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_messages_synced_total",
			Help: "Live messages applied to the timeline",
		},
	)

	NormalizationDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_normalization_drops_total",
			Help: "Raw messages dropped for having no inline text part",
		},
	)

	// Pagination metrics
	BackfillFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_backfill_fetches_total",
			Help: "Backward pagination fetches",
		},
		[]string{"status"}, // "ok", "empty" or "error"
	)

	BackfillMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_backfill_messages_total",
			Help: "Messages merged into the timeline via backfill",
		},
	)

	// Send metrics
	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_sends_total",
			Help: "Outbound send attempts",
		},
		[]string{"status"}, // "ok" or "error"
	)

	// Moderation metrics
	ModerationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_moderation_outcomes_total",
			Help: "Moderation gate outcomes for staged image attachments",
		},
		[]string{"outcome"}, // "clear", "flagged" or "fail_open"
	)
)
