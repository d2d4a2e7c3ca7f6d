// Package httpapi exposes lineforge's Registry over HTTP: session
// spawn, input injection, a Server-Sent Events output stream, and an
// optional duplex WebSocket transport for browser terminal emulators
// that prefer a single socket over the SSE+POST pair.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lineforge/lineforge/internal/logring"
	"github.com/lineforge/lineforge/internal/ptychild"
	"github.com/lineforge/lineforge/internal/registry"
	"github.com/lineforge/lineforge/internal/session"
	"github.com/lineforge/lineforge/internal/textmode"
)

// tailnetInfo is anything that can report the tsnet identity the
// server is bound to. *tailnetbind.Bind satisfies this; kept as an
// interface here to avoid an import cycle back to tailnetbind.
type tailnetInfo interface {
	Hostname() string
	TailscaleIPs() []string
}

// Server wires a Registry to the HTTP surface described in spec.md §6.
type Server struct {
	reg      *registry.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	tailnet tailnetInfo
}

// New builds a Server over reg.
func New(reg *registry.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		reg:    reg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the composed mux. Mount at the root of an
// http.Server, or behind a tsnet listener when bind=tailscale.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleSpawn)
	mux.HandleFunc("GET /sessions", s.handleList)
	mux.HandleFunc("POST /sessions/{id}/input", s.handleInput)
	mux.HandleFunc("POST /sessions/{id}/resize", s.handleResize)
	mux.HandleFunc("POST /sessions/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /sessions/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /sessions/{id}/ws", s.handleWebSocket)
	mux.HandleFunc("GET /sessions/{id}/screen", s.handleScreen)
	mux.HandleFunc("GET /tailnet", s.handleTailnet)
	return mux
}

// SetTailnet records the active tsnet bind, if any, so /tailnet can
// report it. Safe to call concurrently with request handling.
func (s *Server) SetTailnet(t tailnetInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tailnet = t
}

func (s *Server) handleTailnet(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	t := s.tailnet
	s.mu.RUnlock()

	if t == nil {
		writeError(w, http.StatusNotFound, "not bound to a tailnet")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Hostname string   `json:"hostname"`
		IPs      []string `json:"ips"`
	}{Hostname: t.Hostname(), IPs: t.TailscaleIPs()})
}

type spawnRequest struct {
	Label      string   `json:"label,omitempty"`
	Tool       string   `json:"tool"`
	WorkingDir string   `json:"working_dir,omitempty"`
	ExtraArgs  []string `json:"extra_args,omitempty"`
	Yolo       bool     `json:"yolo,omitempty"`
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	id, err := s.reg.Create(r.Context(), registry.CreateSpec{
		Label:      req.Label,
		Tool:       session.ToolKind(req.Tool),
		WorkingDir: req.WorkingDir,
		ArgvTail:   req.ExtraArgs,
		Yolo:       req.Yolo,
		Size:       ptychild.DefaultSize,
	})
	if err != nil {
		s.logger.Warn("spawn failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, meta, err := s.reg.Get(id.String())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.reg.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type inputRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	sup, _, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if sup == nil {
		writeError(w, http.StatusConflict, "session has already stopped")
		return
	}

	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := sup.WriteInput(r.Context(), []byte(req.Text)); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	sup, _, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if sup == nil {
		writeError(w, http.StatusConflict, "session has already stopped")
		return
	}

	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := sup.Resize(ptychild.Size{Cols: req.Cols, Rows: req.Rows}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Stop(r.PathValue("id")); err != nil {
		writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream serves the Server-Sent Events output stream: a ring
// snapshot replayed as log events, then a live tail, with gap markers
// surfaced verbatim.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sup, _, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if sup == nil {
		writeError(w, http.StatusConflict, "session has already stopped")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ring := sup.Ring()
	sub := ring.Subscribe()
	defer sub.Close()

	_, entries := ring.Snapshot()
	for _, e := range entries {
		writeLogEvent(w, e.Sequence, e.Bytes)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-sub.C():
			if !ok {
				return
			}
			if item.Entry != nil {
				writeLogEvent(w, item.Entry.Sequence, item.Entry.Bytes)
			} else if item.Gap != nil {
				fmt.Fprintf(w, "event: gap\ndata: missed %d entries\n\n", item.Gap.Missed)
			}
			flusher.Flush()
		}
	}
}

// screenResponse is the rendered-screen counterpart to the raw
// stream/ws transports: a point-in-time snapshot of the emulated
// terminal rather than its byte history.
type screenResponse struct {
	Lines      []string `json:"lines"`
	CursorRow  int      `json:"cursor_row"`
	CursorCol  int      `json:"cursor_col"`
	ScreenHash uint64   `json:"screen_hash"`
}

// handleScreen serves a one-shot rendered-screen snapshot for
// subscribers that want the terminal's current contents (e.g. a thin
// client polling for a refresh) rather than a raw log stream. It opens
// a textmode.View over the ring's current snapshot, so the emulator
// reflects exactly the history the raw transports would replay.
func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	sup, _, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if sup == nil {
		writeError(w, http.StatusConflict, "session has already stopped")
		return
	}

	cols := queryInt(r, "cols", int(ptychild.DefaultSize.Cols))
	rows := queryInt(r, "rows", int(ptychild.DefaultSize.Rows))

	view := textmode.New(sup.Ring(), cols, rows)
	defer view.Close()

	snap := view.Snapshot()
	writeJSON(w, http.StatusOK, screenResponse{
		Lines:      snap.Lines,
		CursorRow:  snap.CursorRow,
		CursorCol:  snap.CursorCol,
		ScreenHash: snap.ScreenHash,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeLogEvent(w io.Writer, sequence uint64, data []byte) {
	payload, _ := json.Marshal(struct {
		Sequence uint64 `json:"sequence"`
		Data     string `json:"data"`
	}{Sequence: sequence, Data: string(data)})
	fmt.Fprintf(w, "event: log\ndata: %s\n\n", payload)
}

// wsMessage is the duplex frame shape for the WebSocket transport: one
// of input, output, resize, or gap.
type wsMessage struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Cols  uint16 `json:"cols,omitempty"`
	Rows  uint16 `json:"rows,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleWebSocket is the duplex alternative to the SSE+POST pair: one
// socket carries both the output stream and input injection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sup, _, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), lookupStatus(err))
		return
	}
	if sup == nil {
		http.Error(w, "session has already stopped", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ring := sup.Ring()
	sub := ring.Subscribe()
	defer sub.Close()

	_, entries := ring.Snapshot()
	for _, e := range entries {
		if err := conn.WriteJSON(wsMessage{Type: "output", Data: string(e.Bytes)}); err != nil {
			return
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.wsWritePump(ctx, cancel, conn, sub)
	s.wsReadPump(ctx, cancel, conn, sup)
}

func (s *Server) wsWritePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *logring.Subscription) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-sub.C():
			if !ok {
				return
			}
			var msg wsMessage
			if item.Entry != nil {
				msg = wsMessage{Type: "output", Data: string(item.Entry.Bytes)}
			} else if item.Gap != nil {
				msg = wsMessage{Type: "gap", Data: fmt.Sprintf("missed %d entries", item.Gap.Missed)}
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) wsReadPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sup *session.Supervisor) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "input":
			if err := sup.WriteInput(ctx, []byte(msg.Data)); err != nil {
				s.logger.Warn("ws input write failed", "error", err)
			}
		case "resize":
			if msg.Cols > 0 && msg.Rows > 0 {
				if err := sup.Resize(ptychild.Size{Cols: msg.Cols, Rows: msg.Rows}); err != nil {
					s.logger.Warn("ws resize failed", "error", err)
				}
			}
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func lookupStatus(err error) int {
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrAmbiguousPrefix) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeLookupError(w http.ResponseWriter, err error) {
	writeError(w, lookupStatus(err), strings.TrimSpace(err.Error()))
}
