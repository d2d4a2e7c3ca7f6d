package attach

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lineforge/lineforge/internal/inputmux"
	"github.com/lineforge/lineforge/internal/logring"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientReceivesSnapshotThenLive(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "session.sock")

	ring := logring.New(100, nil)
	ring.Append([]byte("before-connect\n"))

	mux := inputmux.New()

	srv, err := Listen(sockPath, testLogger())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ring, mux)

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, len("before-connect\n"))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(buf) != "before-connect\n" {
		t.Fatalf("unexpected snapshot bytes: %q", buf)
	}

	time.Sleep(20 * time.Millisecond) // let the subscription register
	ring.Append([]byte("live\n"))

	buf2 := make([]byte, len("live\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, buf2); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if string(buf2) != "live\n" {
		t.Fatalf("unexpected live bytes: %q", buf2)
	}
}

func TestClientInputForwardedToMux(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "session.sock")

	ring := logring.New(100, nil)
	mux := inputmux.New()

	srv, err := Listen(sockPath, testLogger())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ring, mux)

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var got []byte
	gotCh := make(chan struct{})
	go func() {
		mux.Run(writerFunc(func(p []byte) (int, error) {
			got = append(got, p...)
			if len(got) >= len("hello") {
				close(gotCh)
			}
			return len(p), nil
		}))
	}()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-gotCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("input was not forwarded to mux")
	}
	if string(got) != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestDetachByteDisconnectsWithoutStoppingSession(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "session.sock")

	ring := logring.New(100, nil)
	mux := inputmux.New()
	go mux.Run(writerFunc(func(p []byte) (int, error) { return len(p), nil }))

	srv, err := Listen(sockPath, testLogger())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ring, mux)

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if _, err := conn.Write([]byte{DetachByte}); err != nil {
		t.Fatalf("write detach byte: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected EOF on detach, got %v", err)
	}

	// The server itself must remain alive (session keeps running).
	conn2, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("expected server still accepting after detach: %v", err)
	}
	conn2.Close()
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestStaleSocketRemovedBeforeBind(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "session.sock")

	if err := os.WriteFile(sockPath, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	srv, err := Listen(sockPath, testLogger())
	if err != nil {
		t.Fatalf("listen should remove stale file and bind: %v", err)
	}
	defer srv.Close()
}
