package thread

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/voxdex/internal/domain"
)

// Thread is one caller's ongoing conversation: ordered message history,
// an optional rolling summary of compacted older turns, and the per-turn
// tool-call fingerprint set. A Thread is owned by the turn orchestrator
// for its caller; at most one turn mutates it at a time, so the aggregate
// itself carries no locking.
type Thread struct {
	id         string
	history    []domain.Message
	summary    string
	seen       map[string]bool
	turns      uint64
	lastActive time.Time
}

// New validates and creates an empty Thread.
func New(id string) (*Thread, error) {
	if id == "" {
		return nil, fmt.Errorf("thread ID is required")
	}
	if len(id) > 256 {
		return nil, fmt.Errorf("thread ID too long (max 256)")
	}
	return &Thread{
		id:         id,
		seen:       make(map[string]bool),
		lastActive: time.Now(),
	}, nil
}

// Reconstruct creates a Thread without validation (tests).
func Reconstruct(id string, history []domain.Message, summary string) *Thread {
	return &Thread{
		id:         id,
		history:    history,
		summary:    summary,
		seen:       make(map[string]bool),
		lastActive: time.Now(),
	}
}

// ID returns the thread identifier.
func (t *Thread) ID() string { return t.id }

// History returns the ordered message history.
func (t *Thread) History() []domain.Message { return t.history }

// Summary returns the rolling summary of compacted turns ("" if none).
func (t *Thread) Summary() string { return t.summary }

// Turns returns the number of turns started on this thread.
func (t *Thread) Turns() uint64 { return t.turns }

// LastActive returns the time of the last mutation.
func (t *Thread) LastActive() time.Time { return t.lastActive }

// BeginTurn starts a new turn: discards the previous turn's tool-call
// fingerprints and returns the new turn number.
func (t *Thread) BeginTurn() uint64 {
	t.seen = make(map[string]bool)
	t.turns++
	t.lastActive = time.Now()
	return t.turns
}

// MarkToolCall records a tool-call fingerprint for the current turn.
// Returns false if the fingerprint was already recorded this turn.
func (t *Thread) MarkToolCall(fingerprint string) bool {
	if t.seen[fingerprint] {
		return false
	}
	t.seen[fingerprint] = true
	return true
}

// Append adds a message to the history.
func (t *Thread) Append(msg domain.Message) {
	t.history = append(t.history, msg)
	t.lastActive = time.Now()
}

// Compact replaces all but the last keep messages with a rolling summary.
// Lossy and one-way: the compacted messages are gone.
func (t *Thread) Compact(summary string, keep int) {
	if keep < 0 {
		keep = 0
	}
	if keep < len(t.history) {
		t.history = append([]domain.Message(nil), t.history[len(t.history)-keep:]...)
	}
	t.summary = summary
	t.lastActive = time.Now()
}
