package vt100

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	p := New(24, 80)

	rows, cols := p.Size()
	if rows != 24 {
		t.Errorf("rows = %d, want 24", rows)
	}
	if cols != 80 {
		t.Errorf("cols = %d, want 80", cols)
	}
}

func TestProcess(t *testing.T) {
	p := New(24, 80)

	p.Process([]byte("Hello, World!"))

	screen := p.GetScreen()
	if !strings.Contains(screen[0], "Hello, World!") {
		t.Errorf("screen[0] = %q, want to contain 'Hello, World!'", screen[0])
	}
}

func TestProcessMultipleLines(t *testing.T) {
	p := New(24, 80)

	p.Process([]byte("Line 1\r\nLine 2\r\nLine 3"))

	screen := p.GetScreen()
	if !strings.Contains(screen[0], "Line 1") {
		t.Errorf("screen[0] = %q, want to contain 'Line 1'", screen[0])
	}
	if !strings.Contains(screen[1], "Line 2") {
		t.Errorf("screen[1] = %q, want to contain 'Line 2'", screen[1])
	}
	if !strings.Contains(screen[2], "Line 3") {
		t.Errorf("screen[2] = %q, want to contain 'Line 3'", screen[2])
	}
}

func TestSetSize(t *testing.T) {
	p := New(24, 80)
	p.SetSize(40, 120)

	rows, cols := p.Size()
	if rows != 40 {
		t.Errorf("rows = %d, want 40", rows)
	}
	if cols != 120 {
		t.Errorf("cols = %d, want 120", cols)
	}
}

func TestCursorPosition(t *testing.T) {
	p := New(24, 80)

	row, col := p.CursorPosition()
	if row != 0 {
		t.Errorf("initial row = %d, want 0", row)
	}
	if col != 0 {
		t.Errorf("initial col = %d, want 0", col)
	}

	p.Process([]byte("Hello"))
	row, col = p.CursorPosition()
	if col != 5 {
		t.Errorf("col after 'Hello' = %d, want 5", col)
	}
}

func TestCursorMovement(t *testing.T) {
	p := New(24, 80)

	p.Process([]byte("\x1b[5;10H"))

	row, col := p.CursorPosition()
	if row != 4 { // 0-indexed
		t.Errorf("row = %d, want 4", row)
	}
	if col != 9 { // 0-indexed
		t.Errorf("col = %d, want 9", col)
	}
}

func TestGetScreenCells(t *testing.T) {
	p := New(24, 80)
	p.Process([]byte("\x1b[1mBold\x1b[0m"))

	cells := p.GetScreenCells()
	if len(cells) != 24 || len(cells[0]) != 80 {
		t.Fatalf("unexpected cell grid dimensions: %dx%d", len(cells), len(cells[0]))
	}
	if cells[0][0].Char != 'B' {
		t.Errorf("cells[0][0].Char = %q, want 'B'", cells[0][0].Char)
	}
	if !cells[0][0].Bold {
		t.Errorf("expected first cell to be bold")
	}
}

func TestGetScreenHash(t *testing.T) {
	p := New(24, 80)
	hash1 := p.GetScreenHash()

	p.Process([]byte("Some content"))
	hash2 := p.GetScreenHash()

	if hash1 == hash2 {
		t.Error("Hash should change after processing content")
	}
}

func TestGetScreenHashStable(t *testing.T) {
	p1 := New(24, 80)
	p2 := New(24, 80)

	p1.Process([]byte("Same content"))
	p2.Process([]byte("Same content"))

	hash1 := p1.GetScreenHash()
	hash2 := p2.GetScreenHash()

	if hash1 != hash2 {
		t.Error("Hash should be same for identical content")
	}
}

func TestClear(t *testing.T) {
	p := New(24, 80)
	p.Process([]byte("Some content to clear"))

	p.Clear()

	screen := p.GetScreen()
	trimmed := strings.TrimSpace(screen[0])
	if strings.Contains(trimmed, "content") {
		t.Errorf("screen[0] = %q, should be empty after clear", trimmed)
	}
}

func TestANSIColors(t *testing.T) {
	p := New(24, 80)

	p.Process([]byte("\x1b[31mRed text\x1b[0m"))

	screen := p.GetScreen()
	if !strings.Contains(screen[0], "Red text") {
		t.Errorf("screen should contain 'Red text'")
	}
}
