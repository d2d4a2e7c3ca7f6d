// Package attach implements the per-session local stream-socket
// listener. Each accepted client both consumes the session's output
// stream (snapshot then tail) and feeds the session's input mux.
package attach

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/lineforge/lineforge/internal/inputmux"
	"github.com/lineforge/lineforge/internal/logring"
)

// DetachByte is the reserved in-band sentinel: the client disconnects
// without terminating the session.
const DetachByte = 0x1D

// Server is the per-session attach listener bound to a well-known
// socket path.
type Server struct {
	path     string
	listener net.Listener
	logger   *slog.Logger

	mu       sync.Mutex
	nextID   uint64
	clients  map[uint64]net.Conn
}

// Listen removes any stale socket file left by a prior crash and binds
// a new Unix domain socket listener at path. The caller does not
// proceed past spawn until this returns, so nothing can race an
// attach against an unbound listener.
func Listen(path string, logger *slog.Logger) (*Server, error) {
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}

	return &Server{
		path:     path,
		listener: ln,
		logger:   logger,
		clients:  make(map[uint64]net.Conn),
	}, nil
}

// Serve accepts clients until ctx is cancelled or Close is called.
// Each client gets a ring snapshot, a live tail, and has its input
// bytes forwarded to mux, with DetachByte triggering local detach.
func (s *Server) Serve(ctx context.Context, ring *logring.Ring, mux *inputmux.Mux) {
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("attach accept error", "error", err)
				continue
			}
		}

		s.mu.Lock()
		s.nextID++
		id := s.nextID
		s.clients[id] = conn
		s.mu.Unlock()

		go s.handleClient(ctx, id, conn, ring, mux)
	}
}

func (s *Server) handleClient(ctx context.Context, id uint64, conn net.Conn, ring *logring.Ring, mux *inputmux.Mux) {
	s.logger.Info("attach client connected", "client_id", id)
	defer func() {
		s.logger.Info("attach client disconnected", "client_id", id)
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	sub := ring.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	go s.forwardOutput(conn, ring, sub, done, closeDone)
	s.forwardInput(ctx, conn, mux, closeDone)
	<-done
}

// forwardOutput delivers the current snapshot then tails live entries
// until the client goes away. Always calls closeDone on return so a
// write failure here unblocks forwardInput's side too, not just the
// reverse.
func (s *Server) forwardOutput(conn net.Conn, ring *logring.Ring, sub *logring.Subscription, done <-chan struct{}, closeDone func()) {
	defer closeDone()

	_, entries := ring.Snapshot()
	for _, e := range entries {
		if _, err := conn.Write(e.Bytes); err != nil {
			return
		}
	}

	for {
		select {
		case item, ok := <-sub.C():
			if !ok {
				return
			}
			if item.Entry != nil {
				if _, err := conn.Write(item.Entry.Bytes); err != nil {
					return
				}
			}
			// Gap markers carry no bytes for a raw stream-socket
			// client; SSE collaborators surface them as their own
			// event kind (spec.md §6).
		case <-done:
			return
		}
	}
}

// forwardInput reads bytes from the client and submits them to mux,
// verbatim except for the reserved detach sentinel.
func (s *Server) forwardInput(ctx context.Context, conn net.Conn, mux *inputmux.Mux, closeDone func()) {
	defer closeDone()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if idx := bytes.IndexByte(chunk, DetachByte); idx >= 0 {
				if idx > 0 {
					_ = mux.Submit(chunk[:idx])
				}
				return // local detach: stop forwarding, session keeps running
			}
			_ = mux.Submit(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("attach client read error", "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Close stops accepting new clients, closes existing client
// connections (producing EOF on their side, never a reset), and
// removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()

	s.mu.Lock()
	for _, c := range s.clients {
		_ = c.Close()
	}
	s.mu.Unlock()

	_ = os.Remove(s.path)
	return err
}

// Addr returns the bound socket path.
func (s *Server) Addr() string {
	return s.path
}
