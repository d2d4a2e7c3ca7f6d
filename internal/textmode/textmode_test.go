package textmode

import (
	"strings"
	"testing"
	"time"

	"github.com/lineforge/lineforge/internal/logring"
)

func TestNewReplaysExistingRingContents(t *testing.T) {
	ring := logring.New(100, nil)
	ring.Append([]byte("Hello, World!"))

	v := New(ring, 80, 24)
	defer v.Close()

	snap := v.Snapshot()
	if !strings.Contains(snap.Lines[0], "Hello, World!") {
		t.Fatalf("expected replayed snapshot to contain %q, got %q", "Hello, World!", snap.Lines[0])
	}
}

func TestViewTailsLiveAppends(t *testing.T) {
	ring := logring.New(100, nil)
	v := New(ring, 80, 24)
	defer v.Close()

	ring.Append([]byte("Line 1\r\n"))
	ring.Append([]byte("Line 2"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := v.Snapshot()
		if strings.Contains(snap.Lines[0], "Line 1") && strings.Contains(snap.Lines[1], "Line 2") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for live tail, last lines: %v", snap.Lines[:2])
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestResizeChangesCellGridDimensions(t *testing.T) {
	ring := logring.New(100, nil)
	v := New(ring, 80, 24)
	defer v.Close()

	v.Resize(120, 40)

	snap := v.Snapshot()
	if len(snap.Cells) != 40 || len(snap.Cells[0]) != 120 {
		t.Fatalf("expected 120x40 cell grid after resize, got %dx%d", len(snap.Cells[0]), len(snap.Cells))
	}
}

func TestScreenHashChangesWithContent(t *testing.T) {
	ring := logring.New(100, nil)
	v := New(ring, 80, 24)
	defer v.Close()

	before := v.Snapshot().ScreenHash

	ring.Append([]byte("new content"))
	deadline := time.Now().Add(2 * time.Second)
	for {
		after := v.Snapshot().ScreenHash
		if after != before {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected screen hash to change after append")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
