package domain

import "sync"

const streamBuffer = 64

// SynthesisStream delivers synthesized audio chunks as they are produced.
// Producers call Send and Finish; consumers range over Chunks and check
// Err after the channel closes.
type SynthesisStream struct {
	chunks chan AudioChunk
	done   chan struct{}

	mu  sync.Mutex
	err error

	closeOnce  sync.Once
	finishOnce sync.Once
}

// NewSynthesisStream creates a buffered synthesis stream.
func NewSynthesisStream() *SynthesisStream {
	return &SynthesisStream{
		chunks: make(chan AudioChunk, streamBuffer),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of audio chunks. Closed when production ends.
func (s *SynthesisStream) Chunks() <-chan AudioChunk { return s.chunks }

// Send delivers a chunk. Returns false if the consumer closed the stream.
func (s *SynthesisStream) Send(chunk AudioChunk) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// Finish signals that no more chunks will be sent. err may be nil.
func (s *SynthesisStream) Finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.chunks)
	})
}

// Close abandons the stream from the consumer side. Pending Sends unblock.
func (s *SynthesisStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done reports consumer-side closure to producers.
func (s *SynthesisStream) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, if any. Valid after Chunks closes.
func (s *SynthesisStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
