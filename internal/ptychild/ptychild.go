// Package ptychild owns a pseudo-terminal pair and the child process
// spawned inside it.
//
// It exposes exactly the four capabilities the spec calls for: read,
// write, resize, and signal. It never interprets the byte stream.
package ptychild

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Errors returned by Spawn, matching the spec's SpawnError enumeration.
var (
	ErrBinaryNotFound  = errors.New("ptychild: binary not found")
	ErrWorkingDirInvalid = errors.New("ptychild: working directory invalid")
	ErrPtyOpenFailed   = errors.New("ptychild: pty open failed")
	ErrForkFailed      = errors.New("ptychild: fork failed")
)

// Signal identifies a termination request.
type Signal int

const (
	// SignalTerm requests graceful shutdown (SIGTERM).
	SignalTerm Signal = iota
	// SignalKill forces immediate termination (SIGKILL).
	SignalKill
)

// Size is a terminal window size.
type Size struct {
	Cols uint16
	Rows uint16
}

// DefaultSize is used when the caller does not specify one.
var DefaultSize = Size{Cols: 80, Rows: 24}

// SpawnConfig describes the child process to launch.
type SpawnConfig struct {
	// Binary is the path to the tool executable.
	Binary string
	// Args is the argv tail (excludes argv[0]).
	Args []string
	// Dir is the working directory. Must exist.
	Dir string
	// Env is additional environment, appended to os.Environ().
	Env []string
	// Size is the initial pty window size.
	Size Size
}

// Child is a spawned PTY-backed process.
type Child struct {
	master *os.File
	cmd    *exec.Cmd

	mu   sync.Mutex
	size Size
}

// Spawn allocates a pty pair and starts cfg.Binary inside it with the
// slave side as its controlling terminal.
func Spawn(cfg SpawnConfig) (*Child, error) {
	if cfg.Dir != "" {
		info, err := os.Stat(cfg.Dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrWorkingDirInvalid, cfg.Dir)
		}
	}

	resolved, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, cfg.Binary)
	}

	size := cfg.Size
	if size.Cols == 0 || size.Rows == 0 {
		size = DefaultSize
	}

	cmd := exec.Command(resolved, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) && pathErr.Op == "fork/exec" {
			return nil, fmt.Errorf("%w: %v", ErrForkFailed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrPtyOpenFailed, err)
	}

	return &Child{master: master, cmd: cmd, size: size}, nil
}

// Read reads the next chunk of raw output bytes. It never assembles
// lines or validates UTF-8. Returns io.EOF (via the underlying pty
// file) once the child has closed its terminal side.
func (c *Child) Read(p []byte) (int, error) {
	return c.master.Read(p)
}

// Write sends bytes to the child's stdin. Writes are not coalesced,
// and need not be atomic with respect to other writers: the caller
// (the input mux) is the sole writer.
func (c *Child) Write(p []byte) (int, error) {
	return c.master.Write(p)
}

// Resize updates the pty window size and delivers SIGWINCH. A resize
// to identical dimensions is a no-op.
func (c *Child) Resize(size Size) error {
	c.mu.Lock()
	if c.size == size {
		c.mu.Unlock()
		return nil
	}
	c.size = size
	c.mu.Unlock()

	return pty.Setsize(c.master, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
}

// Size returns the current window size.
func (c *Child) Size() Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Signal sends a termination signal to the child. Term returns
// immediately after sending SIGTERM; Kill sends SIGKILL.
func (c *Child) Signal(sig Signal) error {
	if c.cmd.Process == nil {
		return nil
	}
	switch sig {
	case SignalKill:
		return c.cmd.Process.Kill()
	default:
		return c.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// Wait blocks until the child exits and returns its exit code. Safe
// to call exactly once.
func (c *Child) Wait() int {
	err := c.cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Close closes the master side of the pty.
func (c *Child) Close() error {
	return c.master.Close()
}
