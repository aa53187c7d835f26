package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/metrics"
)

// Transcriber converts caller audio segments to text via the audio
// transcription API.
type Transcriber struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewTranscriber creates a speech recognition adapter.
func NewTranscriber(client *openai.Client, model string, logger *zap.Logger) *Transcriber {
	return &Transcriber{client: client, model: model, logger: logger}
}

// Transcribe implements domain.Transcriber. The segment carries raw PCM16
// mono samples; the API wants a container, so a WAV header is prepended.
func (t *Transcriber) Transcribe(ctx context.Context, seg domain.AudioSegment) (string, error) {
	req := openai.AudioRequest{
		Model:    t.model,
		FilePath: "segment.wav",
		Reader:   bytes.NewReader(pcmToWAV(seg.Samples, seg.SampleRate)),
	}

	start := time.Now()

	resp, err := t.client.CreateTranscription(ctx, req)
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("transcribe").Inc()
		return "", parseAPIError("transcribe", err, domain.ErrTranscription)
	}

	metrics.ProviderRequestDuration.WithLabelValues("transcribe").Observe(time.Since(start).Seconds())

	return strings.TrimSpace(resp.Text), nil
}

// pcmToWAV wraps raw PCM16 mono samples with a 44-byte RIFF header.
func pcmToWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataLen := len(pcm)

	header := make([]byte, 44)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM sub-chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(header[22:24], channels)
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return append(header, pcm...)
}
