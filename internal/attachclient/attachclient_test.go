package attachclient

import (
	"bytes"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/lineforge/lineforge/internal/attach"
)

// echoServer accepts one connection on path and echoes everything it
// reads back to the same connection, until the connection closes.
func echoServer(t *testing.T, path string) {
	t.Helper()
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()
	t.Cleanup(func() { ln.Close() })
}

func TestRunRelaysBytesUntilDetach(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "attach.sock")
	echoServer(t, sockPath)

	in := bytes.NewBufferString("hello")
	in.WriteByte(attach.DetachByte)
	out := &bytes.Buffer{}

	err := RunWithOptions(sockPath, Options{In: in, Out: out})
	if err != nil {
		t.Fatalf("RunWithOptions: %v", err)
	}

	if got := out.String(); got != "hello" {
		t.Fatalf("expected echoed %q, got %q", "hello", got)
	}
}

func TestRunStopChordCallsStopFuncAndNeverReachesServer(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "attach.sock")
	echoServer(t, sockPath)

	in := bytes.NewBufferString("partial")
	in.WriteByte(stopChord)
	out := &bytes.Buffer{}

	stopCalled := make(chan struct{})
	err := RunWithOptions(sockPath, Options{
		In:  in,
		Out: out,
		StopFunc: func() error {
			close(stopCalled)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("RunWithOptions: %v", err)
	}

	select {
	case <-stopCalled:
	default:
		t.Fatalf("expected StopFunc to be called")
	}
}

func TestRunStopFuncErrorDoesNotPreventDetach(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "attach.sock")
	echoServer(t, sockPath)

	in := bytes.NewBufferString("")
	in.WriteByte(stopChord)
	out := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	done := make(chan error, 1)
	go func() {
		done <- RunWithOptions(sockPath, Options{
			In:     in,
			Out:    out,
			Stderr: stderr,
			StopFunc: func() error {
				return io.ErrClosedPipe
			},
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunWithOptions: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("RunWithOptions did not return after stop chord")
	}

	if stderr.Len() == 0 {
		t.Fatalf("expected stop error to be reported on stderr")
	}
}
