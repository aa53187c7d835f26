package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/voxdex/internal/domain"
)

// outQueue bounds frames waiting for the socket writer.
const outQueue = 64

var errRateLimited = errors.New("inbound audio frame rate exceeded")

// outFrame is one queued socket write.
type outFrame struct {
	messageType int
	data        []byte
}

// reply tracks the delivery of one turn's audio to the caller. Its context
// is cancelled when a newer commit supersedes it; done closes when its
// consumer has left the socket, so replies never interleave.
type reply struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *domain.SynthesisStream
	seq    uint64
	prev   chan struct{}
	done   chan struct{}
}

// session owns one established connection after the handshake. A read pump
// assembles audio segments and commits them to the turn pipeline; a write
// pump serializes all socket writes.
type session struct {
	conn     *websocket.Conn
	threadID string
	turns    TurnStarter
	cfg      Config
	logger   *zap.Logger

	limiter *rate.Limiter
	out     chan outFrame

	mu      sync.Mutex
	buf     []byte
	commits uint64
	silence *time.Timer
	reply   *reply
}

func newSession(conn *websocket.Conn, threadID string, turns TurnStarter, cfg Config, logger *zap.Logger) *session {
	return &session{
		conn:     conn,
		threadID: threadID,
		turns:    turns,
		cfg:      cfg,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(cfg.FramesPerSec), cfg.FrameBurst),
		out:      make(chan outFrame, outQueue),
	}
}

// run drives the session until the connection drops, a pump fails or the
// parent context ends.
func (s *session) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readPump(ctx) })
	g.Go(func() error { return s.writePump(ctx) })
	g.Go(func() error {
		// Unblocks the reader when the loop ends for any other reason.
		<-ctx.Done()
		return s.conn.Close()
	})
	err := g.Wait()

	s.mu.Lock()
	if s.silence != nil {
		s.silence.Stop()
	}
	s.mu.Unlock()
	return err
}

// readPump consumes inbound frames: binary frames extend the open audio
// segment, JSON frames carry control commands.
func (s *session) readPump(ctx context.Context) error {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		switch messageType {
		case websocket.BinaryMessage:
			if !s.limiter.Allow() {
				s.sendJSON(ctx, serverError{
					Type:    frameError,
					Code:    "rate_limited",
					Message: "inbound audio frame rate exceeded",
				})
				return errRateLimited
			}
			s.appendAudio(ctx, data)

		case websocket.TextMessage:
			var cmd clientCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				s.sendJSON(ctx, serverError{
					Type:    frameError,
					Code:    "bad_request",
					Message: "malformed control frame",
				})
				continue
			}
			switch cmd.Type {
			case frameCommit:
				s.commit(ctx, "client")
			default:
				s.sendJSON(ctx, serverError{
					Type:    frameError,
					Code:    "bad_request",
					Message: fmt.Sprintf("unknown frame type %q", cmd.Type),
				})
			}
		}
	}
}

// appendAudio extends the open segment and arms the silence-commit timer.
// A segment that grows past the size cap is committed immediately.
func (s *session) appendAudio(ctx context.Context, frame []byte) {
	if len(frame) == 0 {
		return
	}

	s.mu.Lock()
	s.buf = append(s.buf, frame...)
	full := len(s.buf) >= s.cfg.MaxSegmentBytes
	if !full {
		if s.silence == nil {
			s.silence = time.AfterFunc(s.cfg.SilenceCommit, func() { s.commit(ctx, "silence") })
		} else {
			s.silence.Reset(s.cfg.SilenceCommit)
		}
	}
	s.mu.Unlock()

	if full {
		s.commit(ctx, "segment_full")
	}
}

// commit closes the open segment and starts a turn for it. A commit while a
// reply is still streaming supersedes that reply: its consumer is cancelled
// here and the turn pipeline cancels the producing turn.
func (s *session) commit(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.silence != nil {
		s.silence.Stop()
	}
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	samples := s.buf
	s.buf = nil
	s.commits++

	prev := s.reply
	r := &reply{seq: s.commits, done: make(chan struct{})}
	r.ctx, r.cancel = context.WithCancel(ctx)
	if prev != nil {
		r.prev = prev.done
	}
	s.reply = r
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	seg := domain.AudioSegment{Samples: samples, SampleRate: s.cfg.InSampleRate, Seq: r.seq}
	s.logger.Debug("Committed audio segment",
		zap.Uint64("seq", r.seq),
		zap.String("reason", reason),
		zap.Int("audio_ms", seg.DurationMS()),
	)

	st, err := s.turns.HandleTurn(ctx, s.threadID, seg)
	if err != nil {
		r.cancel()
		close(r.done)
		s.logger.Error("Failed to start turn", zap.Uint64("seq", r.seq), zap.Error(err))
		s.sendJSON(ctx, serverError{
			Type:    frameError,
			Code:    "turn_failed",
			Message: "could not start a turn",
		})
		return
	}
	r.stream = st
	go s.consumeReply(ctx, r)
}

// consumeReply forwards one turn's audio to the socket, bracketed by
// turn_started and turn_ended frames. Replies of successive turns are
// chained so their frames never interleave on the wire.
func (s *session) consumeReply(ctx context.Context, r *reply) {
	defer close(r.done)
	defer r.cancel()
	defer r.stream.Close()

	if r.prev != nil {
		select {
		case <-r.prev:
		case <-ctx.Done():
			return
		}
	}

	if !s.sendJSON(ctx, turnStarted{Type: frameTurnStarted, Turn: r.seq}) {
		return
	}

	superseded := false
loop:
	for {
		select {
		case chunk, ok := <-r.stream.Chunks():
			if !ok {
				break loop
			}
			if r.ctx.Err() != nil {
				superseded = true
				break loop
			}
			if !s.send(ctx, websocket.BinaryMessage, chunk.Samples) {
				return
			}
		case <-r.ctx.Done():
			superseded = true
			break loop
		}
	}

	outcome := turnOutcomeOK
	switch err := r.stream.Err(); {
	case superseded || errors.Is(err, domain.ErrBargedIn):
		outcome = turnOutcomeBargedIn
	case err != nil:
		outcome = turnOutcomeError
	}
	s.sendJSON(ctx, turnEnded{Type: frameTurnEnded, Turn: r.seq, Outcome: outcome})
}

// writePump owns all socket writes: queued frames, keepalive pings and the
// final close frame.
func (s *session) writePump(ctx context.Context) error {
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return ctx.Err()
		case f := <-s.out:
			if err := s.write(f); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		case <-ping.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

func (s *session) write(f outFrame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(f.messageType, f.data)
}

// drain flushes queued frames before the close frame so a final turn_ended
// or error frame is not lost on shutdown.
func (s *session) drain() {
	for {
		select {
		case f := <-s.out:
			_ = s.write(f)
		default:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

// send queues one frame for the write pump. Returns false once the session
// context has ended.
func (s *session) send(ctx context.Context, messageType int, data []byte) bool {
	select {
	case s.out <- outFrame{messageType: messageType, data: data}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *session) sendJSON(ctx context.Context, v any) bool {
	data, _ := json.Marshal(v)
	return s.send(ctx, websocket.TextMessage, data)
}
