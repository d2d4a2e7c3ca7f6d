package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lineforge/lineforge/internal/attach"
	"github.com/lineforge/lineforge/internal/inputmux"
	"github.com/lineforge/lineforge/internal/logring"
	"github.com/lineforge/lineforge/internal/ptychild"
	"github.com/lineforge/lineforge/internal/sessionid"
)

// startedTimer is the fallback delay after which a session is
// considered Running even if the child has produced no output yet.
const startedTimer = 50 * time.Millisecond

// reapTimeout bounds how long the reaper waits for a graceful exit
// before escalating to SIGKILL.
const reapTimeout = 5 * time.Second

// Binaries maps a ToolKind to the executable lineforge launches. Tests
// may override entries.
var Binaries = map[ToolKind]string{
	ToolClaude: "claude",
	ToolCodex:  "codex",
}

// YoloEnvVar is appended to the child's environment when yolo mode is
// requested, instructing the tool to skip interactive approval
// prompts.
var YoloEnvVar = map[ToolKind]string{
	ToolClaude: "CLAUDE_AUTO_APPROVE=1",
	ToolCodex:  "CODEX_AUTO_APPROVE=1",
}

// Spec describes a spawn request.
type Spec struct {
	Label      string
	Tool       ToolKind
	WorkingDir string
	ArgvTail   []string
	Yolo       bool
	Size       ptychild.Size

	// StateDir is the session's persistent directory
	// (<state_dir>/sessions/<id>).
	StateDir string
	// SocketPath is the well-known attach socket path for this session.
	SocketPath string
	// RingCapacity overrides logring.DefaultCapacity when non-zero.
	RingCapacity int
}

// Supervisor is the composition root for one session: PTY child, log
// ring, input mux, attach server, and the status state machine.
type Supervisor struct {
	id     sessionid.ID
	logger *slog.Logger

	mu       sync.RWMutex
	meta     Meta
	metaPath string

	child  *ptychild.Child
	ring   *logring.Ring
	mux    *inputmux.Mux
	attach *attach.Server

	reapOnce sync.Once
	reaped   chan struct{}

	cancel context.CancelFunc
}

// Spawn builds and starts a new session. It does not return until the
// attach server's listener is bound and accepting. On a spawn failure
// the returned Supervisor is nil and the caller must not register the
// session (it was never started).
func Spawn(ctx context.Context, id sessionid.ID, spec Spec, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(spec.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create state dir: %w", err)
	}

	binary, ok := Binaries[spec.Tool]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, spec.Tool)
	}

	var env []string
	if spec.Yolo {
		if v, ok := YoloEnvVar[spec.Tool]; ok {
			env = append(env, v)
		}
	}

	now := time.Now()
	meta := Meta{
		ID:         id,
		Label:      spec.Label,
		Tool:       spec.Tool,
		WorkingDir: spec.WorkingDir,
		ArgvTail:   spec.ArgvTail,
		CreatedAt:  now,
		Status:     Status{Kind: StatusStarting},
		StatusAt:   now,
	}
	metaPath := filepath.Join(spec.StateDir, "meta.json")

	sup := &Supervisor{
		id:       id,
		logger:   logger.With("session_id", id.String()),
		meta:     meta,
		metaPath: metaPath,
		reaped:   make(chan struct{}),
	}
	if err := sup.persistLocked(); err != nil {
		sup.logger.Warn("failed to persist initial meta", "error", err)
	}

	child, err := ptychild.Spawn(ptychild.SpawnConfig{
		Binary: binary,
		Args:   spec.ArgvTail,
		Dir:    spec.WorkingDir,
		Env:    env,
		Size:   spec.Size,
	})
	if err != nil {
		sup.transitionFailed(err.Error())
		return nil, fmt.Errorf("session: spawn: %w", err)
	}
	sup.child = child

	logPath := filepath.Join(spec.StateDir, "output.log")
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		sup.logger.Warn("failed to open output log, continuing without persistence", "error", err)
	}
	sup.ring = logring.New(spec.RingCapacity, logFile)
	sup.mux = inputmux.New()

	attachSrv, err := attach.Listen(spec.SocketPath, sup.logger)
	if err != nil {
		_ = child.Signal(ptychild.SignalKill)
		child.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
		sup.transitionFailed(err.Error())
		return nil, fmt.Errorf("session: attach listen: %w", err)
	}
	sup.attach = attachSrv

	runCtx, cancel := context.WithCancel(ctx)
	sup.cancel = cancel

	go sup.mux.Run(sup.child)
	go sup.attach.Serve(runCtx, sup.ring, sup.mux)
	go sup.readLoop(runCtx)
	go sup.watchCancellation(runCtx)

	// Running transition: first byte read (signalled from readLoop) or
	// the 50ms fallback timer, whichever comes first.
	go func() {
		select {
		case <-time.After(startedTimer):
			sup.transitionRunning()
		case <-sup.reaped:
		}
	}()

	return sup, nil
}

// readLoop repeatedly reads from the PTY and appends to the ring. It
// terminates on EOF or a read error, then hands off to the reaper.
// Cancellation is not observed here: a child that ignores SIGTERM
// leaves this Read blocked indefinitely, so watchCancellation drives
// the reaper (and the eventual Close that unblocks this read)
// independently of whether this loop ever returns on its own.
func (sup *Supervisor) readLoop(ctx context.Context) {
	buf := make([]byte, 4096)
	first := true

	for {
		n, err := sup.child.Read(buf)
		if n > 0 {
			sup.ring.Append(buf[:n])
			if first {
				first = false
				sup.transitionRunning()
			}
		}
		if err != nil {
			sup.logger.Debug("pty read ended", "error", err)
			break
		}
	}

	sup.beginStop()
	sup.reap()
	if sup.cancel != nil {
		sup.cancel()
	}
}

// watchCancellation drives the reaper from cancellation (an explicit
// Stop or an outer context being cancelled) rather than from readLoop
// noticing the child has exited. readLoop's Read blocks until the
// child's PTY closes, which never happens on its own if the child
// ignores SIGTERM; reap's bounded wait and SIGKILL escalation must run
// regardless, and the Close it performs is what unblocks readLoop.
func (sup *Supervisor) watchCancellation(ctx context.Context) {
	<-ctx.Done()
	sup.beginStop()
	_ = sup.child.Signal(ptychild.SignalTerm)
	sup.reap()
}

// transitionRunning moves Starting -> Running. A no-op once the
// session has moved on.
func (sup *Supervisor) transitionRunning() {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if sup.meta.Status.Kind != StatusStarting {
		return
	}
	sup.setStatusLocked(Status{Kind: StatusRunning})
}

// transitionFailed moves Starting -> Failed. Only valid before
// Running is ever reached (a spawn-time failure).
func (sup *Supervisor) transitionFailed(reason string) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if sup.meta.Status.Kind != StatusStarting {
		return
	}
	sup.setStatusLocked(Status{Kind: StatusFailed, Reason: reason})
}

// beginStop moves any non-terminal status to Stopping. Both the
// explicit Stop() call and the read loop's EOF observation call this;
// it is idempotent, which is what makes the stop/exit race
// commutative.
func (sup *Supervisor) beginStop() {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if sup.meta.Status.Terminal() {
		return
	}
	if sup.meta.Status.Kind == StatusStopping {
		return
	}
	sup.setStatusLocked(Status{Kind: StatusStopping})
}

// reap waits for the child to exit, escalating to SIGKILL after
// reapTimeout, then makes the single terminal transition to Stopped.
// Safe to call from multiple goroutines; only the first call acts.
func (sup *Supervisor) reap() {
	sup.reapOnce.Do(func() {
		defer close(sup.reaped)

		waitDone := make(chan int, 1)
		go func() { waitDone <- sup.child.Wait() }()

		var code int
		select {
		case code = <-waitDone:
		case <-time.After(reapTimeout):
			sup.logger.Warn("graceful stop timed out, escalating to SIGKILL")
			_ = sup.child.Signal(ptychild.SignalKill)
			code = <-waitDone
		}

		_ = sup.child.Close()
		if sup.attach != nil {
			_ = sup.attach.Close()
		}
		sup.mux.Close()

		sup.mu.Lock()
		defer sup.mu.Unlock()
		if sup.meta.Status.Terminal() {
			return
		}
		ec := code
		sup.setStatusLocked(Status{Kind: StatusStopped, ExitCode: &ec})
	})
}

// setStatusLocked updates status and persists meta.json. Caller must
// hold sup.mu.
func (sup *Supervisor) setStatusLocked(status Status) {
	sup.meta.Status = status
	sup.meta.StatusAt = time.Now()
	if err := sup.persistLocked(); err != nil {
		sup.logger.Warn("failed to persist meta on status transition", "error", err, "status", status.Kind)
	}
}

func (sup *Supervisor) persistLocked() error {
	return WriteMetaFile(sup.metaPath, sup.meta)
}

// Stop requests termination: sets Stopping and sends SIGTERM. A
// second Stop on a Stopping or Stopped session is a no-op.
func (sup *Supervisor) Stop() {
	sup.mu.RLock()
	already := sup.meta.Status.Terminal() || sup.meta.Status.Kind == StatusStopping
	sup.mu.RUnlock()
	if already {
		return
	}

	sup.beginStop()
	_ = sup.child.Signal(ptychild.SignalTerm)
	if sup.cancel != nil {
		sup.cancel()
	}
}

// Meta returns a snapshot of the persisted metadata.
func (sup *Supervisor) Meta() Meta {
	sup.mu.RLock()
	defer sup.mu.RUnlock()
	return sup.meta
}

// ID returns the session id.
func (sup *Supervisor) ID() sessionid.ID { return sup.id }

// Ring exposes the log ring for SSE/attach collaborators.
func (sup *Supervisor) Ring() *logring.Ring { return sup.ring }

// WriteInput injects bytes from an HTTP or other producer.
func (sup *Supervisor) WriteInput(ctx context.Context, b []byte) error {
	return sup.mux.SubmitWithDeadline(ctx, b, inputmux.HTTPSubmitDeadline)
}

// Resize updates the PTY window size.
func (sup *Supervisor) Resize(size ptychild.Size) error {
	return sup.child.Resize(size)
}

// AttachAddr returns the bound attach socket path.
func (sup *Supervisor) AttachAddr() string {
	if sup.attach == nil {
		return ""
	}
	return sup.attach.Addr()
}

// Done returns a channel closed once the session has been reaped.
func (sup *Supervisor) Done() <-chan struct{} { return sup.reaped }

// ErrUnknownTool is returned by Spawn for an unrecognized ToolKind.
var ErrUnknownTool = errors.New("session: unknown tool kind")
