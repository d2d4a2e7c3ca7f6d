package ptychild

import (
	"bufio"
	"strings"
	"testing"
	"time"
)

func TestSpawnEchoAndReadOutput(t *testing.T) {
	child, err := Spawn(SpawnConfig{Binary: "/bin/echo", Args: []string{"hello"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer child.Close()

	reader := bufio.NewReader(child)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(line, "hello") {
		t.Fatalf("expected output to contain hello, got %q", line)
	}

	code := child.Wait()
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestSpawnBinaryNotFound(t *testing.T) {
	_, err := Spawn(SpawnConfig{Binary: "/no/such/binary-lineforge-test"})
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestSpawnWorkingDirInvalid(t *testing.T) {
	_, err := Spawn(SpawnConfig{Binary: "/bin/echo", Dir: "/no/such/dir-lineforge-test"})
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestWriteEchoedBack(t *testing.T) {
	child, err := Spawn(SpawnConfig{Binary: "/bin/cat"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer child.Close()

	if _, err := child.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader := bufio.NewReader(child)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(line) != "ping" {
		t.Fatalf("expected echo of ping, got %q", line)
	}

	if err := child.Signal(SignalTerm); err != nil {
		t.Fatalf("signal: %v", err)
	}
	done := make(chan int, 1)
	go func() { done <- child.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("child did not exit after SIGTERM")
	}
}

func TestResizeNoopOnIdenticalDimensions(t *testing.T) {
	child, err := Spawn(SpawnConfig{Binary: "/bin/cat", Size: Size{Cols: 80, Rows: 24}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer child.Close()
	defer func() { _ = child.Signal(SignalKill); child.Wait() }()

	if err := child.Resize(Size{Cols: 80, Rows: 24}); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if child.Size() != (Size{Cols: 80, Rows: 24}) {
		t.Fatalf("unexpected size: %+v", child.Size())
	}
}
