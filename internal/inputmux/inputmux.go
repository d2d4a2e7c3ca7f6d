// Package inputmux serializes bytes from multiple input producers
// (HTTP injection, attach clients, browser key events) into a single
// writer: the PTY's write half.
package inputmux

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// DefaultCapacity is the bounded channel depth before producers block.
const DefaultCapacity = 256

// HTTPSubmitDeadline is how long an HTTP producer waits before the
// caller should surface a 503 rather than block indefinitely.
const HTTPSubmitDeadline = 2 * time.Second

// ErrClosed is returned by Submit once the mux has been closed.
var ErrClosed = errors.New("inputmux: closed")

// ErrDeadlineExceeded is returned by SubmitWithDeadline when the
// channel stayed full past the deadline.
var ErrDeadlineExceeded = errors.New("inputmux: submit deadline exceeded")

type chunk struct {
	data []byte
}

// Mux merges input producers into a single write half in arrival
// order. Order is FIFO per producer; producers do not interleave
// according to any guaranteed global policy.
type Mux struct {
	ch     chan chunk
	done   chan struct{}
	closeOnce sync.Once
}

// New creates a Mux with the default bound.
func New() *Mux {
	return &Mux{
		ch:   make(chan chunk, DefaultCapacity),
		done: make(chan struct{}),
	}
}

// Submit enqueues bytes, blocking until there is room or the mux is
// closed.
func (m *Mux) Submit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)

	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.ch <- chunk{data: cp}:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// SubmitWithDeadline is Submit with a bounded wait, for HTTP
// producers that must surface backpressure as a 503 rather than hang.
func (m *Mux) SubmitWithDeadline(ctx context.Context, b []byte, deadline time.Duration) error {
	if len(b) == 0 {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case m.ch <- chunk{data: cp}:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrDeadlineExceeded
	}
}

// Run drains the mux into w until the mux is closed. On close it
// drains whatever is already buffered (cancellation drains outstanding
// messages) before returning, then the caller is responsible for
// closing w's write half.
func (m *Mux) Run(w io.Writer) {
	for {
		select {
		case c := <-m.ch:
			_, _ = w.Write(c.data)
		case <-m.done:
			m.drain(w)
			return
		}
	}
}

func (m *Mux) drain(w io.Writer) {
	for {
		select {
		case c := <-m.ch:
			_, _ = w.Write(c.data)
		default:
			return
		}
	}
}

// Close stops accepting new submissions. Idempotent.
func (m *Mux) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}
