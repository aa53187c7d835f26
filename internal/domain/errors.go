package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTranscription signals a speech recognition service fault.
	ErrTranscription = errors.New("transcription failed")
	// ErrReasoning signals a completion service fault or timeout.
	ErrReasoning = errors.New("reasoning failed")
	// ErrSynthesis signals a speech synthesis service fault.
	ErrSynthesis = errors.New("synthesis failed")
	// ErrToolTimeout signals a tool call that exceeded its deadline.
	ErrToolTimeout = errors.New("tool call timed out")
	// ErrInterpretation signals an unusable query parse; callers fall back
	// to a text-only query instead of propagating it.
	ErrInterpretation = errors.New("query interpretation failed")
	// ErrEmbedding signals an embedding provider fault. The fallback index
	// degrades to zero text sub-scores on it; filters still apply.
	ErrEmbedding = errors.New("embedding failed")
	// ErrEmbeddingQuotaExceeded signals a rejected embedding call because the
	// provider token budget is spent.
	ErrEmbeddingQuotaExceeded = errors.New("embedding token budget exhausted")
	// ErrIndexUnavailable signals that the live entity index is unreachable;
	// callers switch to the snapshot fallback instead of propagating it.
	ErrIndexUnavailable = errors.New("entity index unavailable")

	// ErrBargedIn marks a turn superseded by new caller audio. Not a fault.
	ErrBargedIn = errors.New("turn superseded by new audio")
	// ErrThreadNotFound signals a missing conversation thread.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrEntityNotFound signals a lookup for an entity that is not stored.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrUnknownTool signals a tool call for an unregistered tool name.
	ErrUnknownTool = errors.New("unknown tool")
)

// ToolTimeoutError wraps ErrToolTimeout with the offending tool name.
type ToolTimeoutError struct {
	Tool string
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("%s: %s", ErrToolTimeout.Error(), e.Tool)
}

func (e *ToolTimeoutError) Unwrap() error { return ErrToolTimeout }

// NewToolTimeout creates a tool timeout error.
func NewToolTimeout(tool string) error {
	return &ToolTimeoutError{Tool: tool}
}
