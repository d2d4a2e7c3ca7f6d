// Package settingstui implements the `lineforge settings` curses-style
// editor: a list of config fields, navigated with the arrow keys and
// edited in place, saved back to disk with config.Save.
package settingstui

import (
	"fmt"
	"strconv"

	"github.com/gdamore/tcell/v2"

	"github.com/lineforge/lineforge/internal/config"
)

var (
	normalStyle = tcell.StyleDefault
	selectStyle = tcell.StyleDefault.Reverse(true).Bold(true)
	headerStyle = tcell.StyleDefault.Dim(true).Bold(true)
	helpStyle   = tcell.StyleDefault.Dim(true)
	titleStyle  = tcell.StyleDefault.Bold(true)
	errorStyle  = tcell.StyleDefault.Foreground(tcell.ColorRed)
)

// field binds one config.Config member to a label, a renderer, and a
// parser that validates and applies an edited string back onto cfg.
type field struct {
	label string
	get   func(*config.Config) string
	set   func(*config.Config, string) error
}

func fields() []field {
	return []field{
		{"Port", func(c *config.Config) string { return strconv.Itoa(c.Port) }, func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("port must be an integer between 1 and 65535")
			}
			c.Port = n
			return nil
		}},
		{"Bind", func(c *config.Config) string { return c.Bind }, func(c *config.Config, v string) error {
			if v == "" {
				return fmt.Errorf("bind cannot be empty")
			}
			c.Bind = v
			return nil
		}},
		{"DefaultTool", func(c *config.Config) string { return c.DefaultTool }, func(c *config.Config, v string) error {
			if v != "claude" && v != "codex" {
				return fmt.Errorf("default tool must be claude or codex")
			}
			c.DefaultTool = v
			return nil
		}},
		{"ToolPath", func(c *config.Config) string { return c.ToolPath }, func(c *config.Config, v string) error {
			c.ToolPath = v
			return nil
		}},
		{"ITermEnabled", func(c *config.Config) string { return strconv.FormatBool(c.ITermEnabled) }, boolSetter(func(c *config.Config, b bool) { c.ITermEnabled = b })},
		{"LogRetentionDays", func(c *config.Config) string { return strconv.Itoa(c.LogRetentionDays) }, func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("log retention days must be a non-negative integer")
			}
			c.LogRetentionDays = n
			return nil
		}},
		{"MaxLogLines", func(c *config.Config) string { return strconv.Itoa(c.MaxLogLines) }, func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("max log lines must be a positive integer")
			}
			c.MaxLogLines = n
			return nil
		}},
		{"YoloMode", func(c *config.Config) string { return strconv.FormatBool(c.YoloMode) }, boolSetter(func(c *config.Config, b bool) { c.YoloMode = b })},
		{"SSHEnabled", func(c *config.Config) string { return strconv.FormatBool(c.SSHEnabled) }, boolSetter(func(c *config.Config, b bool) { c.SSHEnabled = b })},
	}
}

func boolSetter(apply func(*config.Config, bool)) func(*config.Config, string) error {
	return func(c *config.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("value must be true or false")
		}
		apply(c, b)
		return nil
	}
}

type mode int

const (
	modeBrowse mode = iota
	modeEdit
)

// Editor is the settings screen's event loop and render state.
type Editor struct {
	screen tcell.Screen
	cfg    *config.Config

	fields   []field
	selected int

	mode        mode
	inputBuffer string
	errMsg      string

	width, height int
}

// Run loads the current config, opens a tcell screen, and runs the
// editor's event loop until the user quits. Changes are saved to disk
// immediately on each successful edit.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("settingstui: load config: %w", err)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("settingstui: create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("settingstui: init screen: %w", err)
	}

	w, h := screen.Size()
	e := &Editor{
		screen: screen,
		cfg:    cfg,
		fields: fields(),
		width:  w,
		height: h,
	}
	return e.run()
}

func (e *Editor) run() error {
	defer e.screen.Fini()

	for {
		e.render()

		ev := e.screen.PollEvent()
		if ev == nil {
			return nil
		}

		switch ev := ev.(type) {
		case *tcell.EventResize:
			e.width, e.height = ev.Size()
			e.screen.Sync()
		case *tcell.EventKey:
			if e.handleKey(ev) {
				return nil
			}
		}
	}
}

func (e *Editor) handleKey(ev *tcell.EventKey) (quit bool) {
	if e.mode == modeEdit {
		return e.handleEditKey(ev)
	}
	return e.handleBrowseKey(ev)
}

func (e *Editor) handleBrowseKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyUp:
		if e.selected > 0 {
			e.selected--
		}
	case tcell.KeyDown:
		if e.selected < len(e.fields)-1 {
			e.selected++
		}
	case tcell.KeyEnter:
		e.mode = modeEdit
		e.inputBuffer = e.fields[e.selected].get(e.cfg)
		e.errMsg = ""
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			return true
		case 'j':
			if e.selected < len(e.fields)-1 {
				e.selected++
			}
		case 'k':
			if e.selected > 0 {
				e.selected--
			}
		}
	}
	return false
}

func (e *Editor) handleEditKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEnter:
		f := e.fields[e.selected]
		if err := f.set(e.cfg, e.inputBuffer); err != nil {
			e.errMsg = err.Error()
			return false
		}
		if err := e.cfg.Save(); err != nil {
			e.errMsg = fmt.Sprintf("save failed: %v", err)
			return false
		}
		e.errMsg = ""
		e.mode = modeBrowse
	case tcell.KeyEscape:
		e.mode = modeBrowse
		e.errMsg = ""
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if len(e.inputBuffer) > 0 {
			e.inputBuffer = e.inputBuffer[:len(e.inputBuffer)-1]
		}
	case tcell.KeyRune:
		e.inputBuffer += string(ev.Rune())
	}
	return false
}

func (e *Editor) render() {
	e.screen.Clear()

	e.drawText(0, 0, "lineforge settings", titleStyle)
	e.drawText(0, 1, "↑/↓ select   Enter edit/confirm   Esc cancel   q quit", helpStyle)

	for i, f := range e.fields {
		row := 3 + i
		style := normalStyle
		if i == e.selected {
			style = selectStyle
		}
		value := f.get(e.cfg)
		if e.mode == modeEdit && i == e.selected {
			value = e.inputBuffer + "_"
		}
		line := fmt.Sprintf("%-20s %s", f.label, value)
		e.drawText(2, row, line, style)
	}

	if e.errMsg != "" {
		e.drawText(2, 4+len(e.fields), "error: "+e.errMsg, errorStyle)
	}

	e.drawText(0, e.height-1, "config saved to "+configPathHint(), headerStyle)

	e.screen.Show()
}

func configPathHint() string {
	path, err := config.ConfigPath()
	if err != nil {
		return "(unknown)"
	}
	return path
}

func (e *Editor) drawText(x, y int, text string, style tcell.Style) {
	for i, r := range text {
		e.screen.SetContent(x+i, y, r, nil, style)
	}
}
