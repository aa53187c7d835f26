// Package ws serves realtime voice sessions over WebSocket. A session opens
// with a JSON hello frame, streams caller audio as binary PCM16 frames, and
// commits segments for the turn pipeline either explicitly or via a silence
// timer. Reply audio streams back as binary frames bracketed by JSON
// turn_started/turn_ended control frames.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/metrics"
)

// TurnStarter runs one conversational turn from a committed audio segment.
type TurnStarter interface {
	HandleTurn(ctx context.Context, threadID string, seg domain.AudioSegment) (*domain.SynthesisStream, error)
}

// Config holds session gateway settings.
type Config struct {
	// InSampleRate is the only accepted caller PCM16 sample rate.
	InSampleRate int
	// OutSampleRate is the reply audio rate advertised in the hello ack.
	OutSampleRate int
	// SilenceCommit closes the open segment when no audio arrives for this long.
	SilenceCommit time.Duration
	// MaxFrameBytes caps one inbound frame; larger frames end the session.
	MaxFrameBytes int
	// MaxSegmentBytes force-commits a segment that grows past this size.
	MaxSegmentBytes int
	// FramesPerSec and FrameBurst bound the inbound audio frame rate.
	FramesPerSec int
	FrameBurst   int
	// HandshakeWait bounds the wait for the hello frame.
	HandshakeWait time.Duration
	// WriteTimeout bounds every socket write.
	WriteTimeout time.Duration
	// PingInterval paces keepalive pings.
	PingInterval time.Duration
}

// Handler upgrades voice session requests and runs the frame loop.
type Handler struct {
	turns  TurnStarter
	cfg    Config
	logger *zap.Logger
}

// New creates a session gateway handler.
func New(turns TurnStarter, cfg Config, logger *zap.Logger) *Handler {
	return &Handler{turns: turns, cfg: cfg, logger: logger}
}

// ServeHTTP upgrades the connection, performs the hello handshake and hands
// the socket to the session loop until either side closes it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade rejected", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(int64(h.cfg.MaxFrameBytes))

	hello, ok := h.handshake(conn)
	if !ok {
		return
	}

	sessionID := uuid.NewString()
	ack := helloAck{
		Type:            frameHelloAck,
		SessionID:       sessionID,
		OutSampleRate:   h.cfg.OutSampleRate,
		SilenceCommitMS: int(h.cfg.SilenceCommit / time.Millisecond),
		MaxFrameBytes:   h.cfg.MaxFrameBytes,
	}
	if err := conn.WriteJSON(ack); err != nil {
		return
	}

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	log := h.logger.With(
		zap.String("session_id", sessionID),
		zap.String("thread_id", hello.ThreadID),
	)
	log.Info("Session opened", zap.Int("sample_rate", hello.SampleRate))

	s := newSession(conn, hello.ThreadID, h.turns, h.cfg, log)
	if err := s.run(r.Context()); err != nil && !isExpectedClose(err) {
		log.Warn("Session ended with error", zap.Error(err))
		return
	}
	log.Info("Session closed")
}

// handshake reads and validates the hello frame. On failure it reports the
// fault to the caller and returns ok=false.
func (h *Handler) handshake(conn *websocket.Conn) (clientHello, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.HandshakeWait))
	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		h.reject(conn, "bad_request", "failed to read hello")
		return clientHello{}, false
	}
	if messageType != websocket.TextMessage {
		h.reject(conn, "bad_request", "first frame must be hello")
		return clientHello{}, false
	}

	var hello clientHello
	if err := json.Unmarshal(frame, &hello); err != nil || hello.Type != frameHello {
		h.reject(conn, "bad_request", "first frame must be hello")
		return clientHello{}, false
	}
	if strings.TrimSpace(hello.ThreadID) == "" {
		h.reject(conn, "bad_request", "thread_id is required")
		return clientHello{}, false
	}
	if hello.SampleRate != h.cfg.InSampleRate {
		h.reject(conn, "unsupported",
			fmt.Sprintf("audio must be PCM16 mono at %d Hz", h.cfg.InSampleRate))
		return clientHello{}, false
	}

	_ = conn.SetReadDeadline(time.Time{})
	return hello, true
}

// reject sends an error frame and closes the connection with a policy
// violation close frame.
func (h *Handler) reject(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(serverError{Type: frameError, Code: code, Message: message})
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
}

// isExpectedClose reports whether a session loop error is a routine
// disconnect rather than a fault worth logging.
func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed)
}
