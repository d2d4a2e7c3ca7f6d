// Package registry implements the process-wide directory of sessions:
// create/lookup/list/remove, on-disk crash recovery, and snapshot
// views for the HTTP and CLI collaborators.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lineforge/lineforge/internal/ptychild"
	"github.com/lineforge/lineforge/internal/session"
	"github.com/lineforge/lineforge/internal/sessionid"
)

// Registry is the process-wide map from SessionId to live session,
// plus the on-disk sessions directory it is backed by.
type Registry struct {
	sessionsDir string
	socketsDir  string
	logger      *slog.Logger

	mu           sync.RWMutex
	live         map[sessionid.ID]*session.Supervisor
	ringCapacity int
}

// New creates a Registry rooted at sessionsDir (persisted metadata)
// and socketsDir (attach sockets).
func New(sessionsDir, socketsDir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessionsDir: sessionsDir,
		socketsDir:  socketsDir,
		logger:      logger,
		live:        make(map[sessionid.ID]*session.Supervisor),
	}
}

// SetRingCapacity overrides the log ring capacity (spec.md §6.1's
// max_log_lines) used for sessions created from this point on; a zero
// value keeps logring.DefaultCapacity. Safe to call concurrently with
// Create.
func (r *Registry) SetRingCapacity(n int) {
	r.mu.Lock()
	r.ringCapacity = n
	r.mu.Unlock()
}

// CreateSpec is the input to Create, mirroring spec.md §6's spawn
// interface.
type CreateSpec struct {
	Label      string
	Tool       session.ToolKind
	WorkingDir string
	ArgvTail   []string
	Yolo       bool
	Size       ptychild.Size
}

// Create instantiates a Supervisor, waits for its attach server to be
// ready, registers it, and returns its id. On spawn failure the
// session is never registered.
func (r *Registry) Create(ctx context.Context, spec CreateSpec) (sessionid.ID, error) {
	id := sessionid.New()

	stateDir := filepath.Join(r.sessionsDir, id.String())
	socketPath := filepath.Join(r.socketsDir, id.String()+".sock")

	r.mu.RLock()
	ringCapacity := r.ringCapacity
	r.mu.RUnlock()

	sup, err := session.Spawn(ctx, id, session.Spec{
		Label:        spec.Label,
		Tool:         spec.Tool,
		WorkingDir:   spec.WorkingDir,
		ArgvTail:     spec.ArgvTail,
		Yolo:         spec.Yolo,
		Size:         spec.Size,
		StateDir:     stateDir,
		SocketPath:   socketPath,
		RingCapacity: ringCapacity,
	}, r.logger)
	if err != nil {
		return "", fmt.Errorf("registry: create: %w", err)
	}

	r.mu.Lock()
	r.live[id] = sup
	r.mu.Unlock()

	go func() {
		<-sup.Done()
		// The Supervisor stays discoverable via list() after it ends
		// (spec.md §4.6 merges live and persisted-but-terminated
		// sessions); we only drop it from the live map so a future
		// attach to its socket correctly fails instead of dialing a
		// closed listener.
		r.mu.Lock()
		delete(r.live, id)
		r.mu.Unlock()
	}()

	return id, nil
}

// Lookup errors.
var (
	ErrNotFound        = sessionid.ErrNotFound
	ErrAmbiguousPrefix = sessionid.ErrAmbiguousPrefix
)

// Get resolves idOrPrefix against both live sessions and persisted
// metadata, returning the live Supervisor if the session is still
// running or just its Meta if it has terminated.
func (r *Registry) Get(idOrPrefix string) (*session.Supervisor, session.Meta, error) {
	all, err := r.allMeta()
	if err != nil {
		return nil, session.Meta{}, err
	}

	ids := make([]sessionid.ID, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}

	resolved, err := sessionid.Resolve(idOrPrefix, ids)
	if err != nil {
		return nil, session.Meta{}, err
	}

	r.mu.RLock()
	sup, live := r.live[resolved]
	r.mu.RUnlock()
	if live {
		return sup, sup.Meta(), nil
	}
	return nil, all[resolved], nil
}

// List returns every known session (live and persisted-but-terminated)
// ordered by created-at descending.
func (r *Registry) List() ([]session.Meta, error) {
	all, err := r.allMeta()
	if err != nil {
		return nil, err
	}

	out := make([]session.Meta, 0, len(all))
	for _, m := range all {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// allMeta merges live session metadata with persisted metadata from
// disk, live sessions taking precedence for freshness.
func (r *Registry) allMeta() (map[sessionid.ID]session.Meta, error) {
	out := make(map[sessionid.ID]session.Meta)

	entries, err := os.ReadDir(r.sessionsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("registry: read sessions dir: %w", err)
		}
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		metaPath := filepath.Join(r.sessionsDir, e.Name(), "meta.json")
		m, err := session.ReadMetaFile(metaPath)
		if err != nil {
			r.logger.Debug("skipping unreadable session meta", "dir", e.Name(), "error", err)
			continue
		}
		out[m.ID] = m
	}

	r.mu.RLock()
	for id, sup := range r.live {
		out[id] = sup.Meta()
	}
	r.mu.RUnlock()

	return out, nil
}

// Stop forwards a stop request to the session's Supervisor. A stop on
// an already-stopped or unknown-but-persisted-terminal session is a
// no-op.
func (r *Registry) Stop(idOrPrefix string) error {
	sup, _, err := r.Get(idOrPrefix)
	if err != nil {
		return err
	}
	if sup == nil {
		return nil // already terminal, nothing to signal
	}
	sup.Stop()
	return nil
}

// RestoreOnStartup scans the persisted sessions directory, rewrites
// any Running/Stopping meta to Stopped{exit_code: unknown} (the
// owning process is gone), and removes stale attach sockets.
func (r *Registry) RestoreOnStartup() error {
	entries, err := os.ReadDir(r.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("registry: restore: read sessions dir: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		metaPath := filepath.Join(r.sessionsDir, e.Name(), "meta.json")
		m, err := session.ReadMetaFile(metaPath)
		if err != nil {
			continue
		}
		if m.Status.Kind == session.StatusRunning || m.Status.Kind == session.StatusStopping {
			m.Status = session.Status{Kind: session.StatusStopped, ExitCode: nil}
			m.StatusAt = time.Now()
			if err := session.WriteMetaFile(metaPath, m); err != nil {
				r.logger.Warn("failed to rewrite crashed session meta", "id", m.ID, "error", err)
			}
		}
	}

	socketEntries, err := os.ReadDir(r.socketsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("registry: restore: read sockets dir: %w", err)
	}
	for _, e := range socketEntries {
		_ = os.Remove(filepath.Join(r.socketsDir, e.Name()))
	}

	return nil
}

// SweepRetention removes terminal session directories whose
// last-status-at predates the retention threshold, exempting any
// session still present in the live map.
func (r *Registry) SweepRetention(now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	threshold := now.AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(r.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("registry: sweep: read sessions dir: %w", err)
	}

	r.mu.RLock()
	live := make(map[sessionid.ID]struct{}, len(r.live))
	for id := range r.live {
		live[id] = struct{}{}
	}
	r.mu.RUnlock()

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		metaPath := filepath.Join(r.sessionsDir, e.Name(), "meta.json")
		m, err := session.ReadMetaFile(metaPath)
		if err != nil {
			continue
		}
		if _, ok := live[m.ID]; ok {
			continue
		}
		if !m.Status.Terminal() {
			continue
		}
		if m.StatusAt.After(threshold) {
			continue
		}
		dir := filepath.Join(r.sessionsDir, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to sweep session directory", "dir", dir, "error", err)
			continue
		}
		r.logger.Info("swept expired session directory", "id", m.ID, "status_at", m.StatusAt)
	}
	return nil
}
