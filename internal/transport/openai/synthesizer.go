package openai

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/metrics"
)

// frameMS is the duration of one streamed audio chunk.
const frameMS = 40

// Synthesizer renders reply text to PCM16 audio via the speech API and
// streams it in fixed-size frames.
type Synthesizer struct {
	client     *openai.Client
	model      openai.SpeechModel
	voice      openai.SpeechVoice
	sampleRate int
	logger     *zap.Logger
}

// NewSynthesizer creates a speech synthesis adapter.
func NewSynthesizer(client *openai.Client, model, voice string, sampleRate int, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		client:     client,
		model:      openai.SpeechModel(model),
		voice:      openai.SpeechVoice(voice),
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// Synthesize implements domain.Synthesizer. The request is issued
// synchronously; body streaming runs on a background goroutine that stops
// as soon as the consumer closes the stream.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*domain.SynthesisStream, error) {
	req := openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatPcm,
	}

	start := time.Now()

	resp, err := s.client.CreateSpeech(ctx, req)
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("synthesize").Inc()
		return nil, parseAPIError("synthesize", err, domain.ErrSynthesis)
	}

	metrics.ProviderRequestDuration.WithLabelValues("synthesize").Observe(time.Since(start).Seconds())

	stream := domain.NewSynthesisStream()
	go s.pump(resp, stream)
	return stream, nil
}

// pump reads the response body in frame-sized chunks and pushes them into
// the stream until EOF, a read error, or consumer close.
func (s *Synthesizer) pump(body io.ReadCloser, stream *domain.SynthesisStream) {
	defer body.Close()

	frameBytes := s.sampleRate * 2 * frameMS / 1000

	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			n -= n % 2 // PCM16 sample alignment on truncated tail reads
			if n > 0 && !stream.Send(domain.AudioChunk{Samples: buf[:n], SampleRate: s.sampleRate}) {
				return // consumer gone, drop the rest
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				stream.Finish(nil)
				return
			}
			metrics.ProviderErrorsTotal.WithLabelValues("synthesize").Inc()
			stream.Finish(parseAPIError("synthesize stream", err, domain.ErrSynthesis))
			return
		}
	}
}
