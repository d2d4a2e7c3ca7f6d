// Package tailnetbind resolves the configuration's bind = "tailscale"
// token into a real net.Listener, by standing up an ephemeral
// tsnet.Server and joining the tailnet userspace.
//
// Userspace networking means no root/admin is required and no
// external tailscale binary needs to be installed.
package tailnetbind

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"
)

// Bind wraps a tsnet.Server providing the listener lineforge's HTTP
// and attach surfaces bind to when the configured bind address is the
// "tailscale" token.
type Bind struct {
	server *tsnet.Server
	id     string
	logger *slog.Logger
}

// Config configures a tailnet bind.
type Config struct {
	// ID identifies this lineforge instance's tailnet node, used to
	// derive both the hostname and the default state directory.
	ID string

	// ControlURL is the Tailscale (or Headscale) control server URL.
	// Empty uses the default upstream Tailscale coordination server.
	ControlURL string

	// AuthKey is the pre-auth key for joining the tailnet.
	AuthKey string

	// StateDir is the directory for tsnet state. Defaults to
	// <os.UserConfigDir()>/lineforge/tsnet/<id>.
	StateDir string

	// Ephemeral marks the node for automatic removal on disconnect.
	Ephemeral bool
}

// New prepares a Bind; it does not connect until Up is called.
func New(cfg Config, logger *slog.Logger) (*Bind, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("tailnetbind: id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("tailnetbind: determine user config dir: %w", err)
		}
		stateDir = filepath.Join(base, "lineforge", "tsnet", cfg.ID)
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("tailnetbind: create state directory: %w", err)
	}

	hostname := "lineforge-" + shortID(cfg.ID)

	server := &tsnet.Server{
		Hostname:   hostname,
		Dir:        stateDir,
		ControlURL: cfg.ControlURL,
		AuthKey:    cfg.AuthKey,
		Ephemeral:  cfg.Ephemeral,
		Logf:       func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) },
	}

	return &Bind{server: server, id: cfg.ID, logger: logger}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Up joins the tailnet.
func (b *Bind) Up(ctx context.Context) error {
	b.logger.Info("joining tailnet", "hostname", b.server.Hostname, "control_url", b.server.ControlURL)

	status, err := b.server.Up(ctx)
	if err != nil {
		return fmt.Errorf("tailnetbind: up: %w", err)
	}

	b.logger.Info("joined tailnet", "tailscale_ips", status.TailscaleIPs, "backend_state", status.BackendState)
	return nil
}

// Close shuts down the tailnet connection and releases its state.
func (b *Bind) Close() error {
	b.logger.Info("leaving tailnet")
	return b.server.Close()
}

// Listen creates a listener on the tailnet, for the HTTP/attach
// surfaces to bind to in place of a plain TCP listener.
func (b *Bind) Listen(network, addr string) (net.Listener, error) {
	return b.server.Listen(network, addr)
}

// TailscaleIPs returns this node's tailnet addresses, used to build
// the attach URL shown by qrpair.
func (b *Bind) TailscaleIPs() []string {
	ip4, ip6 := b.server.TailscaleIPs()
	var out []string
	if ip4.IsValid() {
		out = append(out, ip4.String())
	}
	if ip6.IsValid() {
		out = append(out, ip6.String())
	}
	return out
}

// Hostname returns the tailnet hostname this node registered.
func (b *Bind) Hostname() string {
	return b.server.Hostname
}
