// Package textmode adapts a session's raw byte stream into a
// rendered-screen snapshot, for subscribers that want a terminal's
// current contents rather than its raw scrollback. It sits alongside
// the raw logring.Subscription path without changing what raw
// subscribers see.
package textmode

import (
	"image/color"

	"github.com/lineforge/lineforge/internal/logring"
	"github.com/lineforge/lineforge/internal/vt100"
)

// Cell mirrors vt100.CellInfo so callers do not need to import the
// vt100 package; colors are still exposed as image/color values.
type Cell struct {
	Char rune
	FG   color.Color
	BG   color.Color
	Bold bool
	Dim  bool
}

// Snapshot is a point-in-time rendering of the emulated screen.
type Snapshot struct {
	Lines      []string
	Cells      [][]Cell
	CursorRow  int
	CursorCol  int
	ScreenHash uint64
}

// View feeds a session's ring through a VT100 emulator and exposes the
// emulated screen. Its size changes only through Resize; it does not
// follow the session's PTY size on its own.
type View struct {
	ring   *logring.Ring
	sub    *logring.Subscription
	parser *vt100.Parser
	done   chan struct{}
}

// New opens a View over ring, sized cols x rows, replays the ring's
// current snapshot into the emulator, and starts tailing live entries.
func New(ring *logring.Ring, cols, rows int) *View {
	parser := vt100.New(rows, cols)

	_, entries := ring.Snapshot()
	for _, e := range entries {
		parser.Process(e.Bytes)
	}

	sub := ring.Subscribe()
	v := &View{ring: ring, sub: sub, parser: parser, done: make(chan struct{})}

	go v.pump()
	return v
}

func (v *View) pump() {
	for item := range v.sub.C() {
		if item.Entry != nil {
			v.parser.Process(item.Entry.Bytes)
		}
		// Gaps leave the emulator as-is: the next entries re-sync the
		// visible screen even though some history was skipped.
	}
	close(v.done)
}

// Resize adjusts the emulator's dimensions, mirroring a session resize.
func (v *View) Resize(cols, rows int) {
	v.parser.SetSize(rows, cols)
}

// Snapshot renders the current screen state.
func (v *View) Snapshot() Snapshot {
	cells := v.parser.GetScreenCells()
	out := make([][]Cell, len(cells))
	for y, row := range cells {
		out[y] = make([]Cell, len(row))
		for x, c := range row {
			out[y][x] = Cell{Char: c.Char, FG: c.FG, BG: c.BG, Bold: c.Bold, Dim: c.Dim}
		}
	}

	row, col := v.parser.CursorPosition()
	return Snapshot{
		Lines:      v.parser.GetScreen(),
		Cells:      out,
		CursorRow:  row,
		CursorCol:  col,
		ScreenHash: v.parser.GetScreenHash(),
	}
}

// Close releases the underlying ring subscription and waits for the
// pump goroutine to exit.
func (v *View) Close() {
	v.sub.Close()
	<-v.done
}
