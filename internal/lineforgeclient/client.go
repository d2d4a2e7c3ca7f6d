// Package lineforgeclient is the CLI side's HTTP client for talking
// to a running `lineforge serve` daemon: spawn, list, input, resize,
// and stop, mirroring the routes internal/httpapi exposes.
package lineforgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lineforge/lineforge/internal/session"
)

// ErrUnreachable wraps any error reaching the server at all (refused
// connection, DNS failure, timeout), distinct from an error response
// the server itself returned.
var ErrUnreachable = fmt.Errorf("lineforgeclient: server unreachable")

// Client talks to a lineforge daemon's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for a daemon listening at baseURL (e.g.
// "http://127.0.0.1:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SpawnRequest mirrors httpapi's spawnRequest wire shape.
type SpawnRequest struct {
	Label      string   `json:"label,omitempty"`
	Tool       string   `json:"tool"`
	WorkingDir string   `json:"working_dir,omitempty"`
	ExtraArgs  []string `json:"extra_args,omitempty"`
	Yolo       bool     `json:"yolo,omitempty"`
}

// Spawn creates a new session and returns its persisted metadata.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (session.Meta, error) {
	var meta session.Meta
	body, err := json.Marshal(req)
	if err != nil {
		return meta, fmt.Errorf("lineforgeclient: marshal spawn request: %w", err)
	}
	err = c.do(ctx, http.MethodPost, "/sessions", bytes.NewReader(body), &meta)
	return meta, err
}

// List returns every known session.
func (c *Client) List(ctx context.Context) ([]session.Meta, error) {
	var list []session.Meta
	err := c.do(ctx, http.MethodGet, "/sessions", nil, &list)
	return list, err
}

// Input submits text to the session's stdin.
func (c *Client) Input(ctx context.Context, id, text string) error {
	body, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	return c.do(ctx, http.MethodPost, "/sessions/"+id+"/input", bytes.NewReader(body), nil)
}

// Resize updates the session's PTY window size.
func (c *Client) Resize(ctx context.Context, id string, cols, rows uint16) error {
	body, _ := json.Marshal(struct {
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	}{Cols: cols, Rows: rows})
	return c.do(ctx, http.MethodPost, "/sessions/"+id+"/resize", bytes.NewReader(body), nil)
}

// Stop requests the session terminate.
func (c *Client) Stop(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+id+"/stop", nil, nil)
}

// TailnetInfo is the daemon's tsnet identity, used to build an attach
// URL for qrpair. Only populated when the daemon's bind is "tailscale".
type TailnetInfo struct {
	Hostname string   `json:"hostname"`
	IPs      []string `json:"ips"`
}

// Tailnet reports the daemon's tsnet identity. NotFound(err) is true
// when the daemon is not bound to a tailnet.
func (c *Client) Tailnet(ctx context.Context) (TailnetInfo, error) {
	var info TailnetInfo
	err := c.do(ctx, http.MethodGet, "/tailnet", nil, &info)
	return info, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("lineforgeclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &errResp)
		if errResp.Error == "" {
			errResp.Error = string(data)
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError is returned for any non-2xx HTTP response the server
// sends back (as opposed to a failure to reach it at all).
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// NotFound reports whether err represents a 404 (unknown id or
// ambiguous prefix), matching the HTTP API's lookupStatus mapping.
func NotFound(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound
	}
	return false
}
