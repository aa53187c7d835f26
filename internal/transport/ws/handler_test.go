package ws

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHandshake_AckAdvertisesLimits(t *testing.T) {
	turns := &mockTurns{}
	srv, url := newTestServer(t, turns, testConfig())
	defer srv.Close()

	conn, ack := openSession(t, url, "caller-1")
	defer conn.Close()

	if id, _ := ack["session_id"].(string); id == "" {
		t.Error("expected a session id in the ack")
	}
	if got, _ := ack["out_sample_rate"].(float64); int(got) != testOutRate {
		t.Errorf("expected out_sample_rate=%d, got %v", testOutRate, ack["out_sample_rate"])
	}
	if got, _ := ack["silence_commit_ms"].(float64); int(got) != 500 {
		t.Errorf("expected silence_commit_ms=500, got %v", ack["silence_commit_ms"])
	}
	if got, _ := ack["max_frame_bytes"].(float64); int(got) != 8*1024 {
		t.Errorf("expected max_frame_bytes=%d, got %v", 8*1024, ack["max_frame_bytes"])
	}
}

func TestHandshake_FirstFrameMustBeHello(t *testing.T) {
	turns := &mockTurns{}
	srv, url := newTestServer(t, turns, testConfig())
	defer srv.Close()

	conn := dialWS(t, url)
	defer conn.Close()
	writeJSONFrame(t, conn, map[string]any{"type": "commit"})

	msg := readJSONFrame(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "bad_request" {
		t.Fatalf("expected bad_request error frame, got %v", msg)
	}
}

func TestHandshake_BinaryFirstFrameRejected(t *testing.T) {
	turns := &mockTurns{}
	srv, url := newTestServer(t, turns, testConfig())
	defer srv.Close()

	conn := dialWS(t, url)
	defer conn.Close()
	writeAudio(t, conn, []byte("audio before hello"))

	msg := readJSONFrame(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "bad_request" {
		t.Fatalf("expected bad_request error frame, got %v", msg)
	}
}

func TestHandshake_MissingThreadID(t *testing.T) {
	turns := &mockTurns{}
	srv, url := newTestServer(t, turns, testConfig())
	defer srv.Close()

	conn := dialWS(t, url)
	defer conn.Close()
	writeJSONFrame(t, conn, map[string]any{
		"type":        "hello",
		"thread_id":   "   ",
		"sample_rate": testInRate,
	})

	msg := readJSONFrame(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "bad_request" {
		t.Fatalf("expected bad_request error frame, got %v", msg)
	}
}

func TestHandshake_WrongSampleRate(t *testing.T) {
	turns := &mockTurns{}
	srv, url := newTestServer(t, turns, testConfig())
	defer srv.Close()

	conn := dialWS(t, url)
	defer conn.Close()
	writeJSONFrame(t, conn, map[string]any{
		"type":        "hello",
		"thread_id":   "caller-1",
		"sample_rate": 44100,
	})

	msg := readJSONFrame(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "unsupported" {
		t.Fatalf("expected unsupported error frame, got %v", msg)
	}
}

func TestHandshake_RejectionClosesConnection(t *testing.T) {
	turns := &mockTurns{}
	srv, url := newTestServer(t, turns, testConfig())
	defer srv.Close()

	conn := dialWS(t, url)
	defer conn.Close()
	writeJSONFrame(t, conn, map[string]any{"type": "hello", "sample_rate": testInRate})

	msg := readJSONFrame(t, conn, 2*time.Second)
	if msg["type"] != "error" {
		t.Fatalf("expected error frame, got %v", msg)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestHandshake_TimeoutWithoutHello(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeWait = 50 * time.Millisecond
	turns := &mockTurns{}
	srv, url := newTestServer(t, turns, cfg)
	defer srv.Close()

	conn := dialWS(t, url)
	defer conn.Close()

	msg := readJSONFrame(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "bad_request" {
		t.Fatalf("expected bad_request error frame, got %v", msg)
	}
}
