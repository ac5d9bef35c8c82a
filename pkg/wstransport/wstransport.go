// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package wstransport implements the chat transport over a websocket
// connection speaking JSON frames. Requests carry a request id echoed by
// the backend's reply; live pushes arrive as untagged message frames and
// are dispatched to room subscribers in arrival order by a single reader
// goroutine.
package wstransport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rosterlabs/roomsync/pkg/chat"
)

// Frame types on the wire.
const (
	frameSubscribe   = "subscribe"
	frameSubscribed  = "subscribed"
	frameUnsubscribe = "unsubscribe"
	frameFetchOlder  = "fetch_older"
	frameHistory     = "history"
	frameSend        = "send"
	frameAck         = "ack"
	frameMessage     = "message"
	frameError       = "error"
)

// frame is the single JSON envelope used in both directions. Which fields
// are set depends on Type.
type frame struct {
	Type      string              `json:"type"`
	RequestID string              `json:"request_id,omitempty"`
	Room      string              `json:"room,omitempty"`
	BeforeID  int64               `json:"before_id,omitempty"`
	Limit     int                 `json:"limit,omitempty"`
	Parts     []chat.OutboundPart `json:"parts,omitempty"`
	Message   *chat.RawMessage    `json:"message,omitempty"`
	Messages  []chat.RawMessage   `json:"messages,omitempty"`
	MessageID int64               `json:"message_id,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Transport dials websocket sessions against a chat backend.
type Transport struct {
	url    string
	token  string
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithToken sets the bearer token presented on connect.
func WithToken(token string) Option {
	return func(t *Transport) { t.token = token }
}

// WithLogger sets the transport logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(t *Transport) { t.dialer = dialer }
}

// New returns a transport for the given websocket endpoint URL.
func New(endpoint string, opts ...Option) *Transport {
	t := &Transport{
		url:    endpoint,
		dialer: websocket.DefaultDialer,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With().Str("component", "wstransport").Logger()
	return t
}

// Connect dials the backend and starts the session's reader goroutine.
func (t *Transport) Connect(ctx context.Context, userID string) (chat.Session, error) {
	endpoint := t.url
	if userID != "" {
		sep := "?"
		if u, err := url.Parse(endpoint); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		endpoint += sep + "user_id=" + url.QueryEscape(userID)
	}
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}

	s := &session{
		conn:    conn,
		log:     t.log.With().Str("user_id", userID).Logger(),
		waiters: make(map[string]chan frame),
		subs:    make(map[string]map[uint64]func(chat.RawMessage)),
		closed:  make(chan struct{}),
	}
	go s.readLoop()
	s.log.Debug().Str("endpoint", t.url).Msg("Session connected")
	return s, nil
}

var _ chat.Transport = (*Transport)(nil)

type session struct {
	conn *websocket.Conn
	log  zerolog.Logger

	// writeMu serializes frame writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu        sync.Mutex
	waiters   map[string]chan frame // request id -> reply channel, nil after close
	subs      map[string]map[uint64]func(chat.RawMessage)
	nextSubID uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// readLoop is the single reader: replies are correlated to waiters by
// request id, pushes fan out to room subscribers.
func (s *session) readLoop() {
	defer s.teardown()
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			select {
			case <-s.closed:
				// Local disconnect; the read error is expected.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Warn().Err(err).Msg("Session read failed")
				}
			}
			return
		}
		switch f.Type {
		case frameMessage:
			if f.Message != nil {
				s.dispatch(f.Room, *f.Message)
			}
		default:
			if f.RequestID == "" {
				s.log.Debug().Str("type", f.Type).Msg("Ignoring uncorrelated frame")
				continue
			}
			s.mu.Lock()
			ch := s.waiters[f.RequestID]
			delete(s.waiters, f.RequestID)
			s.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		}
	}
}

func (s *session) dispatch(room string, raw chat.RawMessage) {
	s.mu.Lock()
	callbacks := make([]func(chat.RawMessage), 0, len(s.subs[room]))
	for _, fn := range s.subs[room] {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(raw)
	}
}

// roundTrip sends a request frame and waits for its correlated reply.
func (s *session) roundTrip(ctx context.Context, f frame, want string) (frame, error) {
	f.RequestID = uuid.NewString()
	ch := make(chan frame, 1)

	s.mu.Lock()
	if s.waiters == nil {
		s.mu.Unlock()
		return frame{}, net.ErrClosed
	}
	s.waiters[f.RequestID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, f.RequestID)
		s.mu.Unlock()
	}()

	if err := s.writeFrame(f); err != nil {
		return frame{}, fmt.Errorf("write %s: %w", f.Type, err)
	}

	select {
	case resp := <-ch:
		if resp.Type == frameError {
			return frame{}, fmt.Errorf("%s rejected: %s", f.Type, resp.Error)
		}
		if resp.Type != want {
			return frame{}, fmt.Errorf("%s: unexpected reply type %q", f.Type, resp.Type)
		}
		return resp, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-s.closed:
		return frame{}, net.ErrClosed
	}
}

func (s *session) writeFrame(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(f)
}

func (s *session) Subscribe(ctx context.Context, roomID string, onMessage func(chat.RawMessage)) (chat.Subscription, error) {
	// Register before the handshake so a push racing the subscribed reply
	// is not lost.
	s.mu.Lock()
	if s.waiters == nil {
		s.mu.Unlock()
		return nil, net.ErrClosed
	}
	s.nextSubID++
	id := s.nextSubID
	if s.subs[roomID] == nil {
		s.subs[roomID] = make(map[uint64]func(chat.RawMessage))
	}
	s.subs[roomID][id] = onMessage
	s.mu.Unlock()

	if _, err := s.roundTrip(ctx, frame{Type: frameSubscribe, Room: roomID}, frameSubscribed); err != nil {
		s.removeSub(roomID, id)
		return nil, err
	}
	s.log.Debug().Str("room_id", roomID).Msg("Subscribed")
	return &subscription{s: s, room: roomID, id: id}, nil
}

func (s *session) FetchOlder(ctx context.Context, roomID string, beforeID chat.MessageID, limit int) ([]chat.RawMessage, error) {
	resp, err := s.roundTrip(ctx, frame{
		Type:     frameFetchOlder,
		Room:     roomID,
		BeforeID: int64(beforeID),
		Limit:    limit,
	}, frameHistory)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (s *session) Send(ctx context.Context, roomID string, parts []chat.OutboundPart) (chat.Ack, error) {
	resp, err := s.roundTrip(ctx, frame{
		Type:  frameSend,
		Room:  roomID,
		Parts: parts,
	}, frameAck)
	if err != nil {
		return chat.Ack{}, err
	}
	return chat.Ack{MessageID: chat.MessageID(resp.MessageID)}, nil
}

// Disconnect closes the connection. Idempotent; pending round trips fail
// with net.ErrClosed.
func (s *session) Disconnect() {
	s.teardown()
}

func (s *session) teardown() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		_ = s.conn.Close()
		s.mu.Lock()
		s.waiters = nil
		s.subs = nil
		s.mu.Unlock()
		s.log.Debug().Msg("Session disconnected")
	})
}

func (s *session) removeSub(room string, id uint64) {
	s.mu.Lock()
	if subs := s.subs[room]; subs != nil {
		delete(subs, id)
		if len(subs) == 0 {
			delete(s.subs, room)
		}
	}
	s.mu.Unlock()
}

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

type subscription struct {
	s    *session
	room string
	id   uint64
}

// Cancel detaches the consumer and tells the backend, best effort.
func (sub *subscription) Cancel() {
	sub.s.removeSub(sub.room, sub.id)
	_ = sub.s.writeFrame(frame{Type: frameUnsubscribe, Room: sub.room})
}
