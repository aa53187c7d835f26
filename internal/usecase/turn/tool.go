package turn

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/thread"
	"github.com/kailas-cloud/voxdex/internal/metrics"
	"github.com/kailas-cloud/voxdex/internal/usecase/agent"
)

// duplicateObservation is fed to the model when it repeats a tool call
// it already made this turn.
const duplicateObservation = "This was already looked up during this turn. Use the earlier result."

const (
	comfortNoiseMS  = 200
	comfortNoiseAmp = 48
	silenceMS       = 300
)

// executeTool runs one tool call. Repeated calls within a turn are
// answered with a synthetic observation instead of a dispatch. The call
// itself runs detached from turn cancellation: a barge-in lets it finish
// server-side and only discards the result.
func (s *Service) executeTool(ctx context.Context, at *activeTurn, th *thread.Thread, call domain.ToolCall, out *domain.SynthesisStream) (string, error) {
	at.setState(StateToolExecuting)

	fp := agent.Fingerprint(call)
	if !th.MarkToolCall(fp) {
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "duplicate").Inc()
		s.logger.Debug("Suppressed duplicate tool call",
			zap.String("tool", call.Name),
			zap.String("fingerprint", fp[:12]),
		)
		return duplicateObservation, nil
	}

	sctx, end := s.stage(ctx, "tool", attribute.String("tool", call.Name))

	ictx, cancel := context.WithTimeout(context.WithoutCancel(sctx), s.cfg.ToolTimeout)

	type invokeResult struct {
		obs string
		err error
	}
	ch := make(chan invokeResult, 1)
	go func() {
		defer cancel()
		obs, err := s.agent.Invoke(ictx, call)
		ch <- invokeResult{obs: obs, err: err}
	}()

	filler := time.NewTimer(s.cfg.FillerThreshold)
	defer filler.Stop()

	for {
		select {
		case res := <-ch:
			err := res.err
			switch {
			case err == nil:
				metrics.ToolCallsTotal.WithLabelValues(call.Name, "ok").Inc()
			case errors.Is(err, context.DeadlineExceeded):
				metrics.ToolCallsTotal.WithLabelValues(call.Name, "timeout").Inc()
				err = domain.NewToolTimeout(call.Name)
			default:
				metrics.ToolCallsTotal.WithLabelValues(call.Name, "error").Inc()
				err = fmt.Errorf("tool %s: %w", call.Name, err)
			}
			end(err)
			return res.obs, err
		case <-filler.C:
			s.emitFiller(ctx, th, out)
		case <-ctx.Done():
			end(ctx.Err())
			s.logger.Debug("Abandoned tool call after turn cancel",
				zap.String("tool", call.Name),
			)
			return "", ctx.Err()
		}
	}
}

// emitFiller speaks a short holding phrase followed by a breath of
// comfort noise while the tool call keeps running. Failures are only
// logged; a missing filler never fails the turn.
func (s *Service) emitFiller(ctx context.Context, th *thread.Thread, out *domain.SynthesisStream) {
	if len(s.cfg.FillerPhrases) == 0 {
		return
	}
	phrase := s.cfg.FillerPhrases[int(th.Turns()%uint64(len(s.cfg.FillerPhrases)))]

	metrics.FillerEmittedTotal.Inc()
	s.logger.Debug("Emitting filler", zap.String("phrase", phrase))

	if err := s.deliver(ctx, nil, out, phrase); err != nil {
		s.logger.Warn("Filler synthesis failed", zap.Error(err))
		return
	}
	out.Send(comfortNoise(s.cfg.SampleRate))
}

// comfortNoise builds a short low-volume noise chunk so the line does
// not fall dead silent between the filler phrase and the tool result.
// xorshift32 with a fixed seed; the chunk is deterministic.
func comfortNoise(sampleRate int) domain.AudioChunk {
	n := sampleRate * comfortNoiseMS / 1000
	buf := make([]byte, n*2)

	state := uint32(0x2545f491)
	for i := 0; i < n; i++ {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		sample := int16(state%(2*comfortNoiseAmp)) - comfortNoiseAmp
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(sample))
	}
	return domain.AudioChunk{Samples: buf, SampleRate: sampleRate}
}

// silence builds a brief silent chunk, the fallback when the apology
// itself cannot be synthesized.
func silence(sampleRate int) domain.AudioChunk {
	n := sampleRate * silenceMS / 1000
	return domain.AudioChunk{Samples: make([]byte, n*2), SampleRate: sampleRate}
}
