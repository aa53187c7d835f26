// Package voice is a Go client for the voxdex voice session protocol: one
// WebSocket connection that streams caller audio up as binary PCM16 frames
// and receives reply audio back, bracketed by JSON control frames.
//
//	sess, err := voice.Dial(ctx, "ws://localhost:8080/v1/session", "thread-1")
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	_ = sess.SendAudio(frame)
//	_ = sess.Commit()
//	for ev := range sess.Events() {
//		switch ev.Kind {
//		case voice.EventAudio:
//			play(ev.Audio)
//		case voice.EventTurnEnded:
//			// ev.Outcome is "ok", "barged_in" or "error"
//		}
//	}
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultSampleRate  = 16000
	defaultDialTimeout = 5 * time.Second

	// eventQueue bounds events waiting for the consumer.
	eventQueue = 64
)

// ServerError is an error frame received from the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("voice: server error %s: %s", e.Code, e.Message)
}

// Option configures Dial.
type Option func(*dialConfig)

type dialConfig struct {
	sampleRate  int
	dialTimeout time.Duration
	header      http.Header
}

// WithSampleRate declares the caller's PCM16 input rate, default 16000 Hz.
// It must match the server's configured input rate or the handshake is
// rejected.
func WithSampleRate(hz int) Option {
	return func(c *dialConfig) {
		c.sampleRate = hz
	}
}

// WithDialTimeout bounds the connect and hello handshake, default 5s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *dialConfig) {
		c.dialTimeout = d
	}
}

// WithBearerToken sets the Authorization header for servers that require an
// API key.
func WithBearerToken(token string) Option {
	return func(c *dialConfig) {
		if c.header == nil {
			c.header = http.Header{}
		}
		c.header.Set("Authorization", "Bearer "+token)
	}
}

// SessionInfo carries the parameters the server advertised in its hello ack.
type SessionInfo struct {
	SessionID     string
	OutSampleRate int
	SilenceCommit time.Duration
	MaxFrameBytes int
}

// Session is one established voice session. SendAudio and Commit may be
// called from any goroutine; the caller must drain Events until it closes,
// then Err reports why the stream ended.
type Session struct {
	conn   *websocket.Conn
	info   SessionInfo
	events chan Event

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
}

// Dial connects to a voice session endpoint and performs the hello
// handshake. The returned session is live and its event loop running.
func Dial(ctx context.Context, url, threadID string, opts ...Option) (*Session, error) {
	cfg := &dialConfig{
		sampleRate:  defaultSampleRate,
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}
	if threadID == "" {
		return nil, errors.New("voice: thread id required")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, cfg.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("voice: dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("voice: dial %s: %w", url, err)
	}

	info, err := handshake(conn, threadID, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &Session{
		conn:   conn,
		info:   info,
		events: make(chan Event, eventQueue),
	}
	go s.readLoop()
	return s, nil
}

// handshake sends the hello frame and waits for the server's ack. A server
// that refuses the session answers with an error frame, surfaced as
// *ServerError.
func handshake(conn *websocket.Conn, threadID string, cfg *dialConfig) (SessionInfo, error) {
	deadline := time.Now().Add(cfg.dialTimeout)

	_ = conn.SetWriteDeadline(deadline)
	hello := helloFrame{Type: frameHello, ThreadID: threadID, SampleRate: cfg.sampleRate}
	if err := conn.WriteJSON(hello); err != nil {
		return SessionInfo{}, fmt.Errorf("voice: send hello: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(deadline)
	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		return SessionInfo{}, fmt.Errorf("voice: read hello ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		return SessionInfo{}, errors.New("voice: unexpected binary frame before hello ack")
	}

	var probe controlFrame
	if err := json.Unmarshal(frame, &probe); err != nil {
		return SessionInfo{}, fmt.Errorf("voice: parse hello ack: %w", err)
	}
	switch probe.Type {
	case frameError:
		return SessionInfo{}, &ServerError{Code: probe.Code, Message: probe.Message}
	case frameHelloAck:
	default:
		return SessionInfo{}, fmt.Errorf("voice: unexpected frame %q before hello ack", probe.Type)
	}

	var ack ackFrame
	if err := json.Unmarshal(frame, &ack); err != nil {
		return SessionInfo{}, fmt.Errorf("voice: parse hello ack: %w", err)
	}
	return SessionInfo{
		SessionID:     ack.SessionID,
		OutSampleRate: ack.OutSampleRate,
		SilenceCommit: time.Duration(ack.SilenceCommitMS) * time.Millisecond,
		MaxFrameBytes: ack.MaxFrameBytes,
	}, nil
}

// Info returns the session parameters advertised by the server.
func (s *Session) Info() SessionInfo { return s.info }

// SendAudio streams one binary PCM16 frame. Frames larger than the
// advertised MaxFrameBytes end the session server-side.
func (s *Session) SendAudio(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("voice: send audio: %w", err)
	}
	return nil
}

// Commit closes the open audio segment and asks for a turn. The server also
// commits on its own once the advertised silence window passes without audio.
func (s *Session) Commit() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(commitFrame{Type: frameCommit}); err != nil {
		return fmt.Errorf("voice: send commit: %w", err)
	}
	return nil
}

// Events returns the server event stream. The channel closes when the
// connection ends; Err then reports the cause.
func (s *Session) Events() <-chan Event { return s.events }

// Err reports why the event stream ended. It is nil while the session is
// live and after a clean close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends a close frame and tears the connection down. Events already
// queued may still be delivered before Events closes.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}

// readLoop pumps server frames into the event channel. Binary frames are
// stamped with the turn of the last turn_started frame; the server never
// interleaves replies, so the stamp is exact.
func (s *Session) readLoop() {
	defer close(s.events)

	var turn uint64
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.events <- Event{Kind: EventAudio, Turn: turn, Audio: data}

		case websocket.TextMessage:
			var frame controlFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			switch frame.Type {
			case frameTurnStarted:
				turn = frame.Turn
				s.events <- Event{Kind: EventTurnStarted, Turn: frame.Turn}
			case frameTurnEnded:
				s.events <- Event{Kind: EventTurnEnded, Turn: frame.Turn, Outcome: frame.Outcome}
			case frameError:
				s.events <- Event{Kind: EventError, Code: frame.Code, Message: frame.Message}
			}
		}
	}
}

// setErr records the first stream error. Routine closes, and any error after
// an explicit Close, are not reported.
func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.err != nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway) {
		return
	}
	s.err = err
}
