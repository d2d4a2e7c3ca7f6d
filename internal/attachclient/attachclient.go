// Package attachclient implements the CLI side of the attach socket:
// dial, put the invoking terminal into raw mode, and relay bytes in
// both directions until the detach byte or an EOF ends the session.
package attachclient

import (
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/term"

	"github.com/lineforge/lineforge/internal/attach"
)

// stopChord is a client-local sentinel, never sent to the server: it
// triggers StopFunc (when set) before the client detaches. Distinct
// from attach.DetachByte, which only ever detaches.
const stopChord = 0x18 // Ctrl-X

// Options configures Run. StopFunc, when non-nil, is invoked when the
// user presses the stop chord (Ctrl-X), before the client detaches.
// Errors from StopFunc are written to Stderr but do not prevent
// detaching.
type Options struct {
	In     io.Reader
	Out    io.Writer
	Stderr io.Writer

	// StdinFd is the file descriptor checked for raw-mode eligibility.
	// Zero means skip raw mode entirely (used by tests and non-TTY
	// input).
	StdinFd int

	StopFunc func() error
}

// Run dials sockPath, puts stdin into raw mode for the duration of
// the attachment, and relays bytes until the remote closes the
// connection or the user sends the detach byte (Ctrl-]).
func Run(sockPath string) error {
	return RunWithOptions(sockPath, Options{
		In:      os.Stdin,
		Out:     os.Stdout,
		Stderr:  os.Stderr,
		StdinFd: int(os.Stdin.Fd()),
	})
}

// RunWithOptions is Run with explicit I/O and behavior, for tests and
// for CLI wiring that needs a stop callback.
func RunWithOptions(sockPath string, opts Options) error {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return fmt.Errorf("attachclient: dial: %w", err)
	}
	defer conn.Close()

	if opts.StdinFd != 0 && term.IsTerminal(opts.StdinFd) {
		oldState, err := term.MakeRaw(opts.StdinFd)
		if err != nil {
			return fmt.Errorf("attachclient: enter raw mode: %w", err)
		}
		defer term.Restore(opts.StdinFd, oldState)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(opts.Out, conn)
	}()

	// Copy stdin to the connection byte-by-byte so the detach byte
	// (0x1D) reaches the server in-band rather than only on a line
	// boundary. The stop chord never reaches the connection at all.
	buf := make([]byte, 1)
	for {
		n, err := opts.In.Read(buf)
		if n > 0 {
			if buf[0] == stopChord {
				if opts.StopFunc != nil {
					if serr := opts.StopFunc(); serr != nil && opts.Stderr != nil {
						fmt.Fprintf(opts.Stderr, "attachclient: stop request failed: %v\n", serr)
					}
				}
				break
			}
			if _, werr := conn.Write(buf[:n]); werr != nil {
				break
			}
			if buf[0] == attach.DetachByte {
				break
			}
		}
		if err != nil {
			break
		}
	}

	conn.Close()
	<-done
	return nil
}
