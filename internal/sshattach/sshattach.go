// Package sshattach provides an optional SSH attach transport, gated
// by the ssh_enabled config key, so a real terminal application can
// attach to a session with its native SSH client instead of dialing
// the raw stream socket directly.
package sshattach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	gliderssh "github.com/gliderlabs/ssh"

	"github.com/lineforge/lineforge/internal/logring"
	"github.com/lineforge/lineforge/internal/ptychild"
	"github.com/lineforge/lineforge/internal/registry"
	"github.com/lineforge/lineforge/internal/session"
)

// Server is an SSH server that attaches an incoming session directly
// to a lineforge session by id prefix, encoded in the SSH username.
type Server struct {
	listener net.Listener
	reg      *registry.Registry
	logger   *slog.Logger
}

// New creates an SSH attach server over listener, resolving usernames
// against reg.
func New(listener net.Listener, reg *registry.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{listener: listener, reg: reg, logger: logger}
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Other accept errors are logged and accepting continues. Each
// connection is routed to handleSession by the gliderlabs SSH server.
func (s *Server) Serve(ctx context.Context) error {
	srv := &gliderssh.Server{
		Handler: s.handleSession,
		PtyCallback: func(ctx gliderssh.Context, pty gliderssh.Pty) bool {
			return true
		},
		SubsystemHandlers: map[string]gliderssh.SubsystemHandler{
			"sftp": nil, // no file transfer subsystem
		},
	}

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	s.logger.Info("ssh attach server starting", "addr", s.listener.Addr())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				if errors.Is(err, net.ErrClosed) {
					return err
				}
				s.logger.Warn("ssh accept error", "error", err)
				continue
			}
		}
		go srv.HandleConn(conn)
	}
}

// handleSession resolves the SSH username as a session id or prefix
// and bridges the SSH session's PTY to the session's ring/mux, or
// lists known sessions when the username is empty.
func (s *Server) handleSession(sshSession gliderssh.Session) {
	user := sshSession.User()
	s.logger.Info("ssh attach session started", "user", user)
	defer s.logger.Info("ssh attach session ended", "user", user)

	if user == "" {
		s.listSessions(sshSession)
		return
	}

	sup, _, err := s.reg.Get(user)
	if err != nil {
		fmt.Fprintf(sshSession, "session %q: %v\n", user, err)
		sshSession.Exit(1)
		return
	}
	if sup == nil {
		fmt.Fprintf(sshSession, "session %q has already stopped\n", user)
		sshSession.Exit(1)
		return
	}

	_, winCh, isPty := sshSession.Pty()
	if isPty {
		go func() {
			for win := range winCh {
				if err := sup.Resize(ptychild.Size{Cols: uint16(win.Width), Rows: uint16(win.Height)}); err != nil {
					s.logger.Warn("ssh attach resize failed", "error", err)
				}
			}
		}()
	}

	ring := sup.Ring()
	sub := ring.Subscribe()

	_, entries := ring.Snapshot()
	for _, e := range entries {
		if _, err := sshSession.Write(e.Bytes); err != nil {
			sub.Close()
			return
		}
	}

	// Either direction ending (client disconnects, or a write to the
	// session fails) must unblock the other: streamRing only returns
	// once sub is closed, and closing sub here is what does that.
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	go func() {
		defer closeDone()
		streamRing(sshSession, sub)
	}()
	go func() {
		defer closeDone()
		streamInput(sshSession.Context(), sshSession, sup)
	}()

	<-done
	sub.Close()
}

func streamRing(w io.Writer, sub *logring.Subscription) {
	for item := range sub.C() {
		if item.Entry != nil {
			if _, err := w.Write(item.Entry.Bytes); err != nil {
				return
			}
		} else if item.Gap != nil {
			fmt.Fprintf(w, "\r\n[lineforge: missed %d entries]\r\n", item.Gap.Missed)
		}
	}
}

func streamInput(ctx context.Context, r io.Reader, sup *session.Supervisor) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := sup.WriteInput(ctx, append([]byte(nil), buf[:n]...)); werr != nil && !errors.Is(werr, context.Canceled) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) listSessions(w io.Writer) {
	list, err := s.reg.List()
	if err != nil || len(list) == 0 {
		fmt.Fprintln(w, "no sessions")
		return
	}
	fmt.Fprintln(w, "sessions:")
	for _, m := range list {
		fmt.Fprintf(w, "  ssh %s@<hostname>  (%s, %s)\n", m.ID, m.Tool, m.Status.Kind)
	}
}

// Close shuts down the listener.
func (s *Server) Close() error {
	return s.listener.Close()
}
