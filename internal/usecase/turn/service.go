// Package turn drives one conversational exchange end to end: buffered
// caller audio in, synthesized reply audio out. The service owns the
// turn state machine and per-thread serialization; new caller audio
// barges in by canceling the running turn before the next one starts.
package turn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/thread"
	"github.com/kailas-cloud/voxdex/internal/metrics"
	"github.com/kailas-cloud/voxdex/internal/trace"
)

// Turn outcome labels.
const (
	outcomeOK              = "ok"
	outcomeEmptyTranscript = "empty_transcript"
	outcomeError           = "error"
	outcomeBargedIn        = "barged_in"
)

// Config holds turn orchestration settings.
type Config struct {
	// MaxIterations caps reasoning steps within one turn.
	MaxIterations int
	// FillerThreshold is how long a tool call may run silently before a
	// filler phrase is spoken.
	FillerThreshold time.Duration
	// FillerPhrases are rotated across turns.
	FillerPhrases []string
	// PleaseRepeat is spoken when the transcript comes back empty.
	PleaseRepeat string
	// Apology is spoken when a stage fails.
	Apology string
	// TranscriptionTimeout bounds the speech recognition call.
	TranscriptionTimeout time.Duration
	// SynthesisTimeout bounds one synthesis request including the audio
	// download. Streaming to the caller is not under it.
	SynthesisTimeout time.Duration
	// ToolTimeout bounds one tool invocation. The invocation survives
	// turn cancellation; a barged-in call finishes server-side and its
	// result is discarded.
	ToolTimeout time.Duration
	// SampleRate is the playback rate of synthesized audio. Generated
	// comfort-noise and silence chunks match it.
	SampleRate int
}

// Service runs the turn state machine for all threads. Per-thread
// serialization and barge-in go through the active-turn registry: a new
// turn cancels the previous one for its thread and waits for it to
// unwind, so at most one turn mutates a thread at a time.
type Service struct {
	transcriber domain.Transcriber
	synth       domain.Synthesizer
	agent       Agent
	threads     ThreadStore
	tracer      *trace.Emitter
	cfg         Config
	logger      *zap.Logger

	mu     sync.Mutex
	active map[string]*activeTurn
}

// New creates a turn service.
func New(transcriber domain.Transcriber, synth domain.Synthesizer, ag Agent, threads ThreadStore, tracer *trace.Emitter, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		transcriber: transcriber,
		synth:       synth,
		agent:       ag,
		threads:     threads,
		tracer:      tracer,
		cfg:         cfg,
		logger:      logger,
		active:      make(map[string]*activeTurn),
	}
}

// HandleTurn starts a turn for one buffered caller audio segment and
// returns immediately. The stream yields reply audio as it is
// synthesized; its terminal error reports how the turn ended. A turn
// already in flight for the thread is barged in: canceled, waited out,
// then superseded.
func (s *Service) HandleTurn(ctx context.Context, threadID string, seg domain.AudioSegment) (*domain.SynthesisStream, error) {
	th, err := s.threads.GetOrCreate(threadID)
	if err != nil {
		return nil, fmt.Errorf("resolve thread: %w", err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	at := s.register(threadID, cancel)

	out := domain.NewSynthesisStream()
	go s.run(turnCtx, at, th, seg, out)
	return out, nil
}

// State returns the observable turn state for a thread, StateIdle when
// nothing is in flight.
func (s *Service) State(threadID string) State {
	s.mu.Lock()
	at := s.active[threadID]
	s.mu.Unlock()

	if at == nil {
		return StateIdle
	}
	return at.currentState()
}

// register stakes a new turn in the registry, canceling any turn already
// running for the thread.
func (s *Service) register(threadID string, cancel context.CancelFunc) *activeTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.active[threadID]
	if prev != nil {
		prev.cancel()
		s.logger.Debug("Barged in on running turn",
			zap.String("thread_id", threadID),
			zap.String("prev_turn_id", prev.id),
		)
	}

	at := newActiveTurn(uuid.NewString(), cancel, prev)
	s.active[threadID] = at
	return at
}

// finish releases the registry slot if this turn still owns it and
// signals successors waiting on the thread.
func (s *Service) finish(threadID string, at *activeTurn) {
	s.mu.Lock()
	if s.active[threadID] == at {
		delete(s.active, threadID)
	}
	s.mu.Unlock()
	close(at.done)
}

func (s *Service) run(ctx context.Context, at *activeTurn, th *thread.Thread, seg domain.AudioSegment, out *domain.SynthesisStream) {
	defer s.finish(th.ID(), at)
	defer at.cancel()

	start := time.Now()

	// A barged-in predecessor may still be mid-stage. Wait for it to
	// unwind before touching the thread.
	if at.prev != nil {
		select {
		case <-at.prev.done:
		case <-ctx.Done():
			out.Finish(domain.ErrBargedIn)
			s.observe(th, at, outcomeBargedIn, 0, start)
			return
		}
	}

	seq := th.BeginTurn()

	tctx, end := s.tracer.StartStage(ctx, "turn",
		attribute.String("thread_id", th.ID()),
		attribute.String("turn_id", at.id),
		attribute.Int64("turn_seq", int64(seq)),
		attribute.Int64("audio_seq", int64(seg.Seq)),
	)
	outcome, iterations, err := s.pipeline(tctx, at, th, seg, out)
	end(err)

	switch outcome {
	case outcomeBargedIn:
		out.Finish(domain.ErrBargedIn)
	case outcomeError:
		out.Finish(err)
	default:
		out.Finish(nil)
	}

	s.observe(th, at, outcome, iterations, start)
}

// pipeline walks the stages for one turn and reports the outcome label,
// the number of reasoning iterations used, and the stage error, if any.
func (s *Service) pipeline(ctx context.Context, at *activeTurn, th *thread.Thread, seg domain.AudioSegment, out *domain.SynthesisStream) (string, int, error) {
	transcript, err := s.transcribe(ctx, at, seg)
	if err != nil {
		return s.fail(ctx, at, out, err, "Transcription failed"), 0, err
	}

	if domain.BlankText(transcript) {
		s.logger.Debug("Empty transcript, asking the caller to repeat",
			zap.String("thread_id", th.ID()),
			zap.String("turn_id", at.id),
		)
		if err := s.deliver(ctx, at, out, s.cfg.PleaseRepeat); err != nil {
			return s.fail(ctx, at, out, err, "Repeat-request synthesis failed"), 0, err
		}
		return outcomeEmptyTranscript, 0, nil
	}

	final, iterations, err := s.reason(ctx, at, th, out, transcript)
	if err != nil {
		return s.fail(ctx, at, out, err, "Reasoning failed"), iterations, err
	}

	if err := s.deliver(ctx, at, out, final); err != nil {
		return s.fail(ctx, at, out, err, "Reply synthesis failed"), iterations, err
	}

	th.Append(domain.Message{Role: domain.RoleUser, Text: transcript})
	th.Append(domain.Message{Role: domain.RoleAssistant, Text: final})

	return outcomeOK, iterations, nil
}

// transcribe runs speech recognition on the buffered segment.
func (s *Service) transcribe(ctx context.Context, at *activeTurn, seg domain.AudioSegment) (string, error) {
	at.setState(StateTranscribing)

	sctx, end := s.stage(ctx, "transcribe", attribute.Int("audio_ms", seg.DurationMS()))
	tctx, cancel := context.WithTimeout(sctx, s.cfg.TranscriptionTimeout)
	defer cancel()

	transcript, err := s.transcriber.Transcribe(tctx, seg)
	end(err)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return transcript, nil
}

// reason alternates agent steps and tool executions until the agent
// produces a final answer or the iteration cap is hit.
func (s *Service) reason(ctx context.Context, at *activeTurn, th *thread.Thread, out *domain.SynthesisStream, transcript string) (string, int, error) {
	turnLog := []domain.PromptMessage{{Role: domain.RoleUser, Text: transcript}}

	for i := 1; i <= s.cfg.MaxIterations; i++ {
		at.setState(StateReasoning)

		sctx, end := s.stage(ctx, "reason", attribute.Int("iteration", i))
		res, err := s.agent.Step(sctx, th, turnLog)
		end(err)
		if err != nil {
			return "", i, fmt.Errorf("reason: %w", err)
		}

		if res.ToolCall == nil {
			return res.FinalText, i, nil
		}

		call := *res.ToolCall
		obs, err := s.executeTool(ctx, at, th, call, out)
		if err != nil {
			return "", i, err
		}

		turnLog = append(turnLog,
			domain.PromptMessage{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{call}},
			domain.PromptMessage{Role: domain.RoleTool, Text: obs, ToolCallID: call.ID},
		)
	}

	return "", s.cfg.MaxIterations, fmt.Errorf("no final answer after %d reasoning steps: %w", s.cfg.MaxIterations, domain.ErrReasoning)
}

// deliver synthesizes text and forwards audio to the caller's stream as
// chunks arrive. A nil at skips state tracking, for filler speech while
// a tool call holds the ToolExecuting state.
func (s *Service) deliver(ctx context.Context, at *activeTurn, out *domain.SynthesisStream, text string) error {
	if at != nil {
		at.setState(StateSynthesizing)
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.SynthesisTimeout)
	defer cancel()

	sctx, endSynth := s.stage(tctx, "synthesize", attribute.Int("text_len", len(text)))
	stream, err := s.synth.Synthesize(sctx, text)
	endSynth(err)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	if at != nil {
		at.setState(StateStreaming)
	}

	pctx, endStream := s.stage(ctx, "stream")
	err = s.pump(pctx, stream, out)
	endStream(err)
	if err != nil {
		return fmt.Errorf("stream reply: %w", err)
	}
	return nil
}

// pump moves chunks from the synthesis stream to the caller stream until
// production ends, the turn is canceled, or the consumer goes away.
func (s *Service) pump(ctx context.Context, in, out *domain.SynthesisStream) error {
	defer in.Close()

	for {
		select {
		case chunk, ok := <-in.Chunks():
			if !ok {
				return in.Err()
			}
			if !out.Send(chunk) {
				return domain.ErrBargedIn
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fail maps a stage error to its outcome: silence for a superseded turn,
// the apology utterance for everything else.
func (s *Service) fail(ctx context.Context, at *activeTurn, out *domain.SynthesisStream, err error, msg string) string {
	if ctx.Err() != nil {
		return outcomeBargedIn
	}

	s.logger.Error(msg, zap.String("turn_id", at.id), zap.Error(err))
	s.apologize(ctx, at, out)
	return outcomeError
}

// apologize speaks the configured apology. Best effort: when synthesis
// is down too, a short silent chunk stands in.
func (s *Service) apologize(ctx context.Context, at *activeTurn, out *domain.SynthesisStream) {
	if err := s.deliver(ctx, at, out, s.cfg.Apology); err != nil {
		s.logger.Warn("Apology synthesis failed, sending silence", zap.Error(err))
		out.Send(silence(s.cfg.SampleRate))
	}
}

// stage opens a trace span for one pipeline stage; the returned end func
// also records the stage duration metric.
func (s *Service) stage(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	sctx, end := s.tracer.StartStage(ctx, name, attrs...)
	return sctx, func(err error) {
		metrics.TurnStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		end(err)
	}
}

// observe records the turn counter and the wide event line.
func (s *Service) observe(th *thread.Thread, at *activeTurn, outcome string, iterations int, start time.Time) {
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()

	s.logger.Info("Turn finished",
		zap.String("thread_id", th.ID()),
		zap.String("turn_id", at.id),
		zap.Uint64("turn_seq", th.Turns()),
		zap.String("outcome", outcome),
		zap.Int("iterations", iterations),
		zap.Duration("duration", time.Since(start)),
	)
}
