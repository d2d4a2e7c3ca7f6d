// Package session implements the per-session composition root: the
// Supervisor that owns a PTY child, its log ring, its input mux and
// attach server, and enforces the session status state machine.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lineforge/lineforge/internal/sessionid"
)

// ToolKind selects the binary to launch and whether sidecar chat-state
// extraction is enabled.
type ToolKind string

const (
	ToolClaude ToolKind = "claude"
	ToolCodex  ToolKind = "codex"
)

// StatusKind is the tag of the SessionStatus variant.
type StatusKind string

const (
	StatusStarting StatusKind = "starting"
	StatusRunning  StatusKind = "running"
	StatusStopping StatusKind = "stopping"
	StatusStopped  StatusKind = "stopped"
	StatusFailed   StatusKind = "failed"
)

// Status is the tagged SessionStatus variant from spec.md §3. Status
// is monotonic along Starting -> Running -> Stopping -> {Stopped,
// Failed}, with the one documented exception that Starting may go
// directly to Failed on a spawn failure.
type Status struct {
	Kind     StatusKind `json:"kind"`
	ExitCode *int       `json:"exit_code,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

func (s Status) Terminal() bool {
	return s.Kind == StatusStopped || s.Kind == StatusFailed
}

// Meta is the persisted SessionMeta.
type Meta struct {
	ID         sessionid.ID `json:"id"`
	Label      string       `json:"label,omitempty"`
	Tool       ToolKind     `json:"tool"`
	WorkingDir string       `json:"working_dir"`
	ArgvTail   []string     `json:"argv_tail,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Status     Status       `json:"status"`
	StatusAt   time.Time    `json:"status_at"`
}

// WriteMetaFile marshals meta to path and fsyncs it, matching the
// spec's "every status transition fsyncs a new meta.json" invariant.
func WriteMetaFile(path string, meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal meta: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("session: open meta file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("session: write meta file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("session: fsync meta file: %w", err)
	}
	return nil
}

// ReadMetaFile loads a persisted Meta from disk.
func ReadMetaFile(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, fmt.Errorf("session: read meta file: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("session: unmarshal meta file: %w", err)
	}
	return meta, nil
}
