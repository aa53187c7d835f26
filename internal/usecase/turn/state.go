package turn

import (
	"context"
	"sync"
)

// State is one phase of the turn state machine.
type State string

// Turn states. A thread with no turn in flight is Idle.
const (
	StateIdle          State = "idle"
	StateTranscribing  State = "transcribing"
	StateReasoning     State = "reasoning"
	StateToolExecuting State = "tool_executing"
	StateSynthesizing  State = "synthesizing"
	StateStreaming     State = "streaming"
)

// activeTurn is one in-flight turn: its cancel handle, its observable
// state, and the predecessor it must wait out before touching the thread.
type activeTurn struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	prev   *activeTurn

	mu    sync.Mutex
	state State
}

func newActiveTurn(id string, cancel context.CancelFunc, prev *activeTurn) *activeTurn {
	return &activeTurn{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		prev:   prev,
		state:  StateTranscribing,
	}
}

func (t *activeTurn) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *activeTurn) currentState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
