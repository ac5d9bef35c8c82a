package chat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterlabs/roomsync/pkg/moderation"
)

func stageAttachment(t *testing.T, h *harness) PendingAttachment {
	t.Helper()
	att, err := h.stager.Capture(context.Background())
	require.NoError(t, err)
	return att
}

func TestSendPipeline_TextOnly(t *testing.T) {
	h := activatedHarness(t)
	require.NoError(t, h.pipeline.Send(context.Background(), "just words"))

	sent := h.session.sentParts()
	require.Len(t, sent, 1)
	require.Len(t, sent[0], 1, "single text part, no attachment part")
	assert.Equal(t, PartTypeInline, sent[0][0].Type)
	assert.Equal(t, "just words", sent[0][0].Content)
	assert.Nil(t, sent[0][0].Attachment)
	assert.Zero(t, atomic.LoadInt32(&h.scorer.calls), "no attachment, no moderation call")
}

func TestSendPipeline_ModerationGate(t *testing.T) {
	t.Run("flags when any category reaches likely", func(t *testing.T) {
		h := activatedHarness(t)
		h.scorer.scores = map[moderation.Category]moderation.Likelihood{
			moderation.CategorySpoof:    moderation.VeryUnlikely,
			moderation.CategoryViolence: moderation.Likely,
		}
		stageAttachment(t, h)

		require.NoError(t, h.pipeline.Send(context.Background(), "look at this"))

		sent := h.session.sentParts()
		require.Len(t, sent, 1)
		require.Len(t, sent[0], 2)
		att := sent[0][1].Attachment
		require.NotNil(t, att)
		assert.True(t, att.Flagged)
		assert.Equal(t, "cat.png", att.DisplayName)
		assert.Equal(t, "image/png", att.MediaType)
		assert.Equal(t, "ZmFrZSBpbWFnZQ==", att.EncodedContent)
	})

	t.Run("clear when no category reaches likely", func(t *testing.T) {
		h := activatedHarness(t)
		h.scorer.scores = map[moderation.Category]moderation.Likelihood{
			moderation.CategoryAdult:    moderation.Possible,
			moderation.CategoryViolence: moderation.Possible,
		}
		stageAttachment(t, h)

		require.NoError(t, h.pipeline.Send(context.Background(), "ok"))

		att := h.session.sentParts()[0][1].Attachment
		require.NotNil(t, att)
		assert.False(t, att.Flagged)
	})

	t.Run("fails open when scoring errors", func(t *testing.T) {
		h := activatedHarness(t)
		h.scorer.err = errors.New("quota exceeded")
		stageAttachment(t, h)

		require.NoError(t, h.pipeline.Send(context.Background(), "ok"))

		att := h.session.sentParts()[0][1].Attachment
		require.NotNil(t, att)
		assert.False(t, att.Flagged, "scoring failure defaults to clear")
	})

	t.Run("skips scoring for non-image attachments", func(t *testing.T) {
		h := activatedHarness(t)
		h.picker.file = PickedFile{URI: "/tmp/notes.pdf", DisplayName: "notes.pdf"}
		h.picker.mediaType = "application/pdf"
		stageAttachment(t, h)

		require.NoError(t, h.pipeline.Send(context.Background(), "doc attached"))

		assert.Zero(t, atomic.LoadInt32(&h.scorer.calls))
		att := h.session.sentParts()[0][1].Attachment
		require.NotNil(t, att)
		assert.False(t, att.Flagged)
	})
}

func TestSendPipeline_Outcome(t *testing.T) {
	t.Run("success clears the staged attachment", func(t *testing.T) {
		h := activatedHarness(t)
		stageAttachment(t, h)

		require.NoError(t, h.pipeline.Send(context.Background(), "shipped"))

		_, staged := h.stager.Pending()
		assert.False(t, staged)
		assert.False(t, h.pipeline.Sending())
	})

	t.Run("failure retains the attachment for retry", func(t *testing.T) {
		h := activatedHarness(t)
		h.scorer.scores = map[moderation.Category]moderation.Likelihood{
			moderation.CategoryRacy: moderation.VeryLikely,
		}
		stageAttachment(t, h)
		h.session.sendErr = errors.New("backend unavailable")

		err := h.pipeline.Send(context.Background(), "first try")
		assert.ErrorIs(t, err, ErrSend)
		assert.False(t, h.pipeline.Sending(), "sending indicator cleared on failure")

		pending, staged := h.stager.Pending()
		require.True(t, staged)
		assert.Equal(t, DecisionFlagged, pending.Decision, "decision cached on the attachment")

		// Retry reuses the cached decision instead of re-scoring.
		h.session.sendErr = nil
		require.NoError(t, h.pipeline.Send(context.Background(), "second try"))
		assert.Equal(t, int32(1), atomic.LoadInt32(&h.scorer.calls))

		att := h.session.sentParts()[1][1].Attachment
		require.NotNil(t, att)
		assert.True(t, att.Flagged)

		_, staged = h.stager.Pending()
		assert.False(t, staged)
	})

	t.Run("deactivation during send leaves the attachment staged", func(t *testing.T) {
		h := activatedHarness(t)
		stageAttachment(t, h)
		h.session.sendEntered = make(chan struct{})
		h.session.sendBlock = make(chan struct{})

		done := make(chan error, 1)
		go func() { done <- h.pipeline.Send(context.Background(), "racing teardown") }()
		<-h.session.sendEntered
		h.syncCtrl.Deactivate()
		close(h.session.sendBlock)

		require.NoError(t, <-done)
		_, staged := h.stager.Pending()
		assert.True(t, staged, "stale success must not clear staging")
	})

	t.Run("composes the replacement when the slot changes during scoring", func(t *testing.T) {
		h := activatedHarness(t)
		stageAttachment(t, h)
		h.scorer.hook = func() {
			h.scorer.hook = nil
			h.picker.file = PickedFile{URI: "/tmp/dog.png", DisplayName: "dog.png"}
			h.picker.encoded = "ZG9nIGltYWdl"
			stageAttachment(t, h)
		}

		require.NoError(t, h.pipeline.Send(context.Background(), "swapped"))

		assert.Equal(t, int32(2), atomic.LoadInt32(&h.scorer.calls), "replacement scored in its own right")
		att := h.session.sentParts()[0][1].Attachment
		require.NotNil(t, att)
		assert.Equal(t, "dog.png", att.DisplayName)
		assert.Equal(t, "ZG9nIGltYWdl", att.EncodedContent)

		_, staged := h.stager.Pending()
		assert.False(t, staged, "the sent replacement is cleared on success")
	})

	t.Run("rejects a concurrent send", func(t *testing.T) {
		h := activatedHarness(t)
		h.session.sendEntered = make(chan struct{})
		h.session.sendBlock = make(chan struct{})

		done := make(chan error, 1)
		go func() { done <- h.pipeline.Send(context.Background(), "slow one") }()
		<-h.session.sendEntered

		assert.True(t, h.pipeline.Sending())
		assert.ErrorIs(t, h.pipeline.Send(context.Background(), "eager one"), ErrSendInFlight)

		close(h.session.sendBlock)
		require.NoError(t, <-done)
		assert.Len(t, h.session.sentParts(), 1)
	})

	t.Run("requires a live session", func(t *testing.T) {
		h := newHarness()
		assert.ErrorIs(t, h.pipeline.Send(context.Background(), "into the void"), ErrNotConnected)
	})
}
