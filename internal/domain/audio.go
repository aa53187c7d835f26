package domain

import "strings"

// AudioSegment is a buffered span of caller audio for one turn.
// Samples are PCM16 little-endian mono bytes. Seq is monotonic per thread.
type AudioSegment struct {
	Samples    []byte
	SampleRate int
	Seq        uint64
}

// Empty reports whether the segment carries no audio.
func (s AudioSegment) Empty() bool { return len(s.Samples) == 0 }

// DurationMS returns the segment length in milliseconds (PCM16 mono).
func (s AudioSegment) DurationMS() int {
	if s.SampleRate <= 0 {
		return 0
	}
	return len(s.Samples) / 2 * 1000 / s.SampleRate
}

// AudioChunk is one streamable piece of synthesized speech.
type AudioChunk struct {
	Samples    []byte
	SampleRate int
}

// Role identifies the author of a conversation message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a thread's history.
type Message struct {
	Role Role
	Text string
}

// BlankText reports whether a transcript is empty or whitespace-only.
// A blank transcript is a defined turn outcome, not an error.
func BlankText(s string) bool { return strings.TrimSpace(s) == "" }
