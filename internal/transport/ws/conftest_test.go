package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
)

const (
	testInRate  = 16000
	testOutRate = 24000
)

// --- Mocks ---

type mockTurns struct {
	handleFn func(ctx context.Context, threadID string, seg domain.AudioSegment) (*domain.SynthesisStream, error)

	mu      sync.Mutex
	calls   int
	threads []string
	segs    []domain.AudioSegment
}

func (m *mockTurns) HandleTurn(ctx context.Context, threadID string, seg domain.AudioSegment) (*domain.SynthesisStream, error) {
	m.mu.Lock()
	m.calls++
	m.threads = append(m.threads, threadID)
	m.segs = append(m.segs, seg)
	fn := m.handleFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, threadID, seg)
	}
	return speakStream("OK"), nil
}

func (m *mockTurns) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockTurns) segments() []domain.AudioSegment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AudioSegment(nil), m.segs...)
}

func (m *mockTurns) threadIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.threads...)
}

// speakStream returns a stream whose chunks carry the given texts as raw
// samples, finished cleanly.
func speakStream(texts ...string) *domain.SynthesisStream {
	st := domain.NewSynthesisStream()
	go func() {
		for _, text := range texts {
			if !st.Send(domain.AudioChunk{Samples: []byte(text), SampleRate: testOutRate}) {
				return
			}
		}
		st.Finish(nil)
	}()
	return st
}

// --- Harness ---

func testConfig() Config {
	return Config{
		InSampleRate:    testInRate,
		OutSampleRate:   testOutRate,
		SilenceCommit:   500 * time.Millisecond,
		MaxFrameBytes:   8 * 1024,
		MaxSegmentBytes: 64 * 1024,
		FramesPerSec:    1000,
		FrameBurst:      1000,
		HandshakeWait:   2 * time.Second,
		WriteTimeout:    2 * time.Second,
		PingInterval:    10 * time.Second,
	}
}

func newTestServer(t *testing.T, turns TurnStarter, cfg Config) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(New(turns, cfg, zap.NewNop()))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	return conn
}

func writeJSONFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func writeAudio(t *testing.T, conn *websocket.Conn, samples []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, samples); err != nil {
		t.Fatalf("write audio frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) (int, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return messageType, data
}

func readJSONFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	messageType, data := readFrame(t, conn, timeout)
	if messageType != websocket.TextMessage {
		t.Fatalf("expected a text frame, got type %d", messageType)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return out
}

// openSession dials, performs the hello handshake and returns the ack.
func openSession(t *testing.T, wsURL, threadID string) (*websocket.Conn, map[string]any) {
	t.Helper()
	conn := dialWS(t, wsURL)
	writeJSONFrame(t, conn, map[string]any{
		"type":        "hello",
		"thread_id":   threadID,
		"sample_rate": testInRate,
	})
	ack := readJSONFrame(t, conn, 2*time.Second)
	if ack["type"] != "hello_ack" {
		t.Fatalf("expected hello_ack, got %v", ack)
	}
	return conn, ack
}

func sendCommit(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSONFrame(t, conn, map[string]any{"type": "commit"})
}
