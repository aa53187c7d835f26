package turn

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/thread"
	"github.com/kailas-cloud/voxdex/internal/trace"
	"github.com/kailas-cloud/voxdex/internal/usecase/agent"
)

// --- Mocks ---

// mockTranscriber returns the segment bytes as the transcript unless a
// custom fn is set, so tests pass the "spoken" text as audio samples.
type mockTranscriber struct {
	transcribeFn func(ctx context.Context, seg domain.AudioSegment) (string, error)
	calls        atomic.Int32
}

func (m *mockTranscriber) Transcribe(ctx context.Context, seg domain.AudioSegment) (string, error) {
	m.calls.Add(1)
	if m.transcribeFn != nil {
		return m.transcribeFn(ctx, seg)
	}
	return string(seg.Samples), nil
}

// mockSynthesizer streams each utterance back as one chunk whose samples
// are the utterance bytes, so tests can read what was spoken.
type mockSynthesizer struct {
	synthesizeFn func(ctx context.Context, text string) (*domain.SynthesisStream, error)
	calls        atomic.Int32

	mu     sync.Mutex
	spoken []string
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, text string) (*domain.SynthesisStream, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	m.mu.Unlock()

	if m.synthesizeFn != nil {
		return m.synthesizeFn(ctx, text)
	}
	return textStream(text), nil
}

func (m *mockSynthesizer) utterances() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

type mockAgent struct {
	stepFn   func(ctx context.Context, th *thread.Thread, turnLog []domain.PromptMessage) (agent.StepResult, error)
	invokeFn func(ctx context.Context, call domain.ToolCall) (string, error)

	stepCalls   atomic.Int32
	invokeCalls atomic.Int32

	mu       sync.Mutex
	turnLogs [][]domain.PromptMessage
}

func (m *mockAgent) Step(ctx context.Context, th *thread.Thread, turnLog []domain.PromptMessage) (agent.StepResult, error) {
	m.stepCalls.Add(1)
	m.mu.Lock()
	m.turnLogs = append(m.turnLogs, append([]domain.PromptMessage(nil), turnLog...))
	m.mu.Unlock()

	if m.stepFn != nil {
		return m.stepFn(ctx, th, turnLog)
	}
	return agent.StepResult{FinalText: "Certainly."}, nil
}

func (m *mockAgent) Invoke(ctx context.Context, call domain.ToolCall) (string, error) {
	m.invokeCalls.Add(1)
	if m.invokeFn != nil {
		return m.invokeFn(ctx, call)
	}
	return "tool output", nil
}

func (m *mockAgent) loggedTurns() [][]domain.PromptMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]domain.PromptMessage(nil), m.turnLogs...)
}

type mockThreads struct {
	mu sync.Mutex
	m  map[string]*thread.Thread
}

func newMockThreads() *mockThreads {
	return &mockThreads{m: make(map[string]*thread.Thread)}
}

func (m *mockThreads) GetOrCreate(id string) (*thread.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if th, ok := m.m[id]; ok {
		return th, nil
	}
	th, err := thread.New(id)
	if err != nil {
		return nil, err
	}
	m.m[id] = th
	return th, nil
}

func (m *mockThreads) get(id string) *thread.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[id]
}

// --- Helpers ---

const testSampleRate = 8000

// textStream is a finished stream carrying the utterance as one chunk.
func textStream(text string) *domain.SynthesisStream {
	st := domain.NewSynthesisStream()
	go func() {
		st.Send(domain.AudioChunk{Samples: []byte(text), SampleRate: testSampleRate})
		st.Finish(nil)
	}()
	return st
}

func newTestService(t *testing.T, tr *mockTranscriber, sy *mockSynthesizer, ag *mockAgent) (*Service, *mockThreads) {
	t.Helper()

	if tr == nil {
		tr = &mockTranscriber{}
	}
	if sy == nil {
		sy = &mockSynthesizer{}
	}
	if ag == nil {
		ag = &mockAgent{}
	}

	threads := newMockThreads()
	cfg := Config{
		MaxIterations:        3,
		FillerThreshold:      30 * time.Millisecond,
		FillerPhrases:        []string{"One moment."},
		PleaseRepeat:         "Could you repeat that?",
		Apology:              "Sorry, something went wrong.",
		TranscriptionTimeout: 100 * time.Millisecond,
		SynthesisTimeout:     200 * time.Millisecond,
		ToolTimeout:          100 * time.Millisecond,
		SampleRate:           testSampleRate,
	}
	return New(tr, sy, ag, threads, trace.NewDisabled(), cfg, zap.NewNop()), threads
}

func segment(said string) domain.AudioSegment {
	return domain.AudioSegment{Samples: []byte(said), SampleRate: testSampleRate, Seq: 1}
}

// collect drains the reply stream and returns its chunks and terminal
// error.
func collect(t *testing.T, st *domain.SynthesisStream) ([]domain.AudioChunk, error) {
	t.Helper()

	var chunks []domain.AudioChunk
	deadline := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-st.Chunks():
			if !ok {
				return chunks, st.Err()
			}
			chunks = append(chunks, chunk)
		case <-deadline:
			t.Fatal("reply stream did not finish")
			return nil, nil
		}
	}
}

// waitIdle blocks until the thread's turn has fully unwound.
func waitIdle(t *testing.T, svc *Service, threadID string) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if svc.State(threadID) == StateIdle {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("turn for thread %s did not finish", threadID)
}

// runTurn starts a turn, drains the reply, and waits for the turn to
// unwind.
func runTurn(t *testing.T, svc *Service, threadID, said string) ([]domain.AudioChunk, error) {
	t.Helper()

	st, err := svc.HandleTurn(context.Background(), threadID, segment(said))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	chunks, terr := collect(t, st)
	waitIdle(t, svc, threadID)
	return chunks, terr
}

func texts(chunks []domain.AudioChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, string(c.Samples))
	}
	return out
}
