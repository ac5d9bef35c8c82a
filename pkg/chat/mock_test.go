package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rosterlabs/roomsync/pkg/moderation"
)

// Mock transport stack implementing the Transport/Session/Subscription
// boundary for engine tests.

type fetchCall struct {
	beforeID MessageID
	limit    int
}

type fakeSubscription struct {
	cancels int32
}

func (s *fakeSubscription) Cancel() {
	atomic.AddInt32(&s.cancels, 1)
}

type fakeSession struct {
	mu        sync.Mutex
	onMessage func(RawMessage)
	sub       fakeSubscription

	subscribeErr  error
	subscribeHook func()

	fetchErr     error
	fetchBatches [][]RawMessage
	fetchCalls   []fetchCall
	fetchEntered chan struct{}
	fetchBlock   chan struct{}

	sendErr     error
	sendCalls   [][]OutboundPart
	sendEntered chan struct{}
	sendBlock   chan struct{}
	nextAckID   MessageID

	disconnects int32
}

func (s *fakeSession) Subscribe(_ context.Context, _ string, onMessage func(RawMessage)) (Subscription, error) {
	if s.subscribeHook != nil {
		s.subscribeHook()
	}
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.mu.Lock()
	s.onMessage = onMessage
	s.mu.Unlock()
	return &s.sub, nil
}

// push simulates a live delivery from the backend.
func (s *fakeSession) push(raw RawMessage) {
	s.mu.Lock()
	fn := s.onMessage
	s.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

func (s *fakeSession) FetchOlder(_ context.Context, _ string, beforeID MessageID, limit int) ([]RawMessage, error) {
	s.mu.Lock()
	s.fetchCalls = append(s.fetchCalls, fetchCall{beforeID: beforeID, limit: limit})
	entered, block := s.fetchEntered, s.fetchBlock
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fetchBatches) == 0 {
		return nil, nil
	}
	batch := s.fetchBatches[0]
	s.fetchBatches = s.fetchBatches[1:]
	return batch, nil
}

func (s *fakeSession) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetchCalls)
}

func (s *fakeSession) Send(_ context.Context, _ string, parts []OutboundPart) (Ack, error) {
	s.mu.Lock()
	s.sendCalls = append(s.sendCalls, parts)
	entered, block := s.sendEntered, s.sendBlock
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if s.sendErr != nil {
		return Ack{}, s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAckID++
	return Ack{MessageID: s.nextAckID}, nil
}

func (s *fakeSession) sentParts() [][]OutboundPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]OutboundPart, len(s.sendCalls))
	copy(out, s.sendCalls)
	return out
}

func (s *fakeSession) Disconnect() {
	atomic.AddInt32(&s.disconnects, 1)
}

type fakeTransport struct {
	session     *fakeSession
	connectErr  error
	connectHook func()

	connectCalls int32
}

func (t *fakeTransport) Connect(_ context.Context, _ string) (Session, error) {
	atomic.AddInt32(&t.connectCalls, 1)
	if t.connectHook != nil {
		t.connectHook()
	}
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	return t.session, nil
}

type fakePicker struct {
	file      PickedFile
	pickErr   error
	encoded   string
	mediaType string
	readErr   error

	readCalls int32
}

func (p *fakePicker) Pick(context.Context) (PickedFile, error) {
	if p.pickErr != nil {
		return PickedFile{}, p.pickErr
	}
	return p.file, nil
}

func (p *fakePicker) ReadAsEncoded(context.Context, string) (string, string, error) {
	atomic.AddInt32(&p.readCalls, 1)
	if p.readErr != nil {
		return "", "", p.readErr
	}
	return p.encoded, p.mediaType, nil
}

type fakeScorer struct {
	scores map[moderation.Category]moderation.Likelihood
	err    error
	hook   func()

	calls int32
}

func (s *fakeScorer) ScoreImage(context.Context, string) (map[moderation.Category]moderation.Likelihood, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.hook != nil {
		s.hook()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

// Raw message builders.

func rawText(id MessageID, text string) RawMessage {
	return RawMessage{
		ID:        id,
		Sender:    RawSender{ID: "u1", Name: "Avery"},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second),
		Parts:     []RawPart{{Type: PartTypeInline, Content: text}},
	}
}

func rawWithAttachment(id MessageID, text, mediaType string, custom map[string]any) RawMessage {
	raw := rawText(id, text)
	raw.Parts = append(raw.Parts, RawPart{
		Type: PartTypeAttachment,
		Attachment: &RawAttachment{
			URL:        "https://files.example.com/f1",
			MediaType:  mediaType,
			CustomData: custom,
		},
	})
	return raw
}

func mustNormalize(raw RawMessage) Message {
	msg, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return msg
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// harness bundles a fully wired engine over the fake transport stack.
type harness struct {
	transport *fakeTransport
	session   *fakeSession
	picker    *fakePicker
	scorer    *fakeScorer

	store     *Store
	syncCtrl  *SyncController
	paginator *Paginator
	stager    *Stager
	pipeline  *SendPipeline

	notifies int32
}

func newHarness() *harness {
	h := &harness{
		session: &fakeSession{},
		picker: &fakePicker{
			file:      PickedFile{URI: "/tmp/cat.png", DisplayName: "cat.png"},
			encoded:   "ZmFrZSBpbWFnZQ==",
			mediaType: "image/png",
		},
		scorer: &fakeScorer{},
	}
	h.transport = &fakeTransport{session: h.session}
	h.store = NewStore()
	notify := func() { atomic.AddInt32(&h.notifies, 1) }
	log := nopLogger()
	h.syncCtrl = NewSyncController(h.transport, h.store, "user-1", "room-1", log, notify)
	h.paginator = NewPaginator(h.syncCtrl, h.store, "room-1", DefaultPageSize, log, notify)
	h.stager = NewStager(h.picker, log)
	h.pipeline = NewSendPipeline(h.syncCtrl, h.stager, h.scorer, "room-1", log, notify)
	return h
}
