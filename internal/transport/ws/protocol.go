package ws

// Control frame types. Audio travels as binary frames in both directions;
// everything else is a small JSON text frame.
const (
	frameHello       = "hello"
	frameCommit      = "commit"
	frameHelloAck    = "hello_ack"
	frameTurnStarted = "turn_started"
	frameTurnEnded   = "turn_ended"
	frameError       = "error"
)

// Reply outcomes reported in turn_ended frames.
const (
	turnOutcomeOK       = "ok"
	turnOutcomeBargedIn = "barged_in"
	turnOutcomeError    = "error"
)

// clientHello opens a session. It must be the first frame on the wire.
// The thread id ties the session to one conversation; the sample rate
// declares the caller's PCM16 input rate.
type clientHello struct {
	Type       string `json:"type"`
	ThreadID   string `json:"thread_id"`
	SampleRate int    `json:"sample_rate"`
}

// clientCommand is any post-handshake JSON frame from the caller.
type clientCommand struct {
	Type string `json:"type"`
}

// helloAck confirms the session and advertises its limits.
type helloAck struct {
	Type            string `json:"type"`
	SessionID       string `json:"session_id"`
	OutSampleRate   int    `json:"out_sample_rate"`
	SilenceCommitMS int    `json:"silence_commit_ms"`
	MaxFrameBytes   int    `json:"max_frame_bytes"`
}

// turnStarted announces that reply audio for one committed segment follows.
type turnStarted struct {
	Type string `json:"type"`
	Turn uint64 `json:"turn"`
}

// turnEnded closes one reply. Outcome is "ok", "barged_in" or "error".
type turnEnded struct {
	Type    string `json:"type"`
	Turn    uint64 `json:"turn"`
	Outcome string `json:"outcome"`
}

// serverError reports a session-level fault to the caller.
type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
