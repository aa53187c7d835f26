package voice

// Frame types of the session protocol. Audio travels as binary frames in
// both directions; everything else is a small JSON text frame.
const (
	frameHello       = "hello"
	frameCommit      = "commit"
	frameHelloAck    = "hello_ack"
	frameTurnStarted = "turn_started"
	frameTurnEnded   = "turn_ended"
	frameError       = "error"
)

// helloFrame opens a session. It must be the first frame on the wire.
type helloFrame struct {
	Type       string `json:"type"`
	ThreadID   string `json:"thread_id"`
	SampleRate int    `json:"sample_rate"`
}

// commitFrame closes the open audio segment.
type commitFrame struct {
	Type string `json:"type"`
}

// ackFrame confirms the session and advertises its limits.
type ackFrame struct {
	Type            string `json:"type"`
	SessionID       string `json:"session_id"`
	OutSampleRate   int    `json:"out_sample_rate"`
	SilenceCommitMS int    `json:"silence_commit_ms"`
	MaxFrameBytes   int    `json:"max_frame_bytes"`
}

// controlFrame is any post-handshake JSON frame from the server. Fields not
// used by a given frame type stay zero.
type controlFrame struct {
	Type    string `json:"type"`
	Turn    uint64 `json:"turn"`
	Outcome string `json:"outcome"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventKind discriminates session events.
type EventKind string

// Session event kinds.
const (
	// EventAudio carries one binary chunk of reply audio.
	EventAudio EventKind = "audio"
	// EventTurnStarted announces that reply audio for one committed segment follows.
	EventTurnStarted EventKind = "turn_started"
	// EventTurnEnded closes one reply with its outcome.
	EventTurnEnded EventKind = "turn_ended"
	// EventError reports a session-level fault from the server.
	EventError EventKind = "error"
)

// Turn outcomes reported on EventTurnEnded.
const (
	OutcomeOK       = "ok"
	OutcomeBargedIn = "barged_in"
	OutcomeError    = "error"
)

// Event is one server occurrence on the session stream.
type Event struct {
	Kind EventKind

	// Turn is the commit sequence the event belongs to. Audio events are
	// stamped with the turn of the preceding turn_started frame.
	Turn uint64

	// Outcome is OutcomeOK, OutcomeBargedIn or OutcomeError on turn_ended.
	Outcome string

	// Audio is the PCM16 reply chunk on audio events.
	Audio []byte

	// Code and Message describe error events.
	Code    string
	Message string
}
