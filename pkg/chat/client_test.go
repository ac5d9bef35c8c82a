package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Facade smoke test: the full intent surface over one wired engine.
func TestClient(t *testing.T) {
	session := &fakeSession{}
	transport := &fakeTransport{session: session}
	fp := &fakePicker{
		file:      PickedFile{URI: "/tmp/cat.png", DisplayName: "cat.png"},
		encoded:   "ZmFrZSBpbWFnZQ==",
		mediaType: "image/png",
	}
	updates := 0
	client := NewClient(Options{
		UserID:    "user-1",
		RoomID:    "room-1",
		Transport: transport,
		Picker:    fp,
		Scorer:    &fakeScorer{},
		Logger:    nopLogger(),
		OnUpdate:  func() { updates++ },
	})

	require.NoError(t, client.Activate(context.Background()))
	assert.Equal(t, StateSubscribed, client.State())

	session.push(rawText(4, "hello"))
	session.push(rawText(5, "world"))
	require.Len(t, client.Messages(), 2)
	assert.True(t, client.HasMore())

	session.fetchBatches = [][]RawMessage{{rawText(3, "older")}}
	require.NoError(t, client.LoadEarlier(context.Background()))
	assert.Len(t, client.Messages(), 3)

	att, err := client.PickAttachment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cat.png", att.DisplayName)
	_, staged := client.PendingAttachment()
	assert.True(t, staged)

	require.NoError(t, client.SendText(context.Background(), "with attachment"))
	_, staged = client.PendingAttachment()
	assert.False(t, staged)
	assert.False(t, client.Sending())
	assert.False(t, client.Loading())
	assert.Positive(t, updates)

	client.Deactivate()
	assert.Equal(t, StateDisconnected, client.State())
}
