// Lineforge manages long-lived interactive AI coding assistant
// sessions behind a single daemon, reachable over a local Unix socket,
// HTTP/SSE/WebSocket, SSH, or a Tailscale tailnet.
//
// This is the CLI entry point: it either runs the daemon (`serve`),
// talks to an already-running one (`new`, `new-session`, `attach`,
// `list`, `kill`), or edits the local config file (`settings`).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lineforge/lineforge/internal/attachclient"
	"github.com/lineforge/lineforge/internal/config"
	"github.com/lineforge/lineforge/internal/httpapi"
	"github.com/lineforge/lineforge/internal/lineforgeclient"
	"github.com/lineforge/lineforge/internal/qrpair"
	"github.com/lineforge/lineforge/internal/registry"
	"github.com/lineforge/lineforge/internal/session"
	"github.com/lineforge/lineforge/internal/settingstui"
	"github.com/lineforge/lineforge/internal/sshattach"
	"github.com/lineforge/lineforge/internal/tailnetbind"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Exit codes per the CLI's contract with a running daemon: 0 success,
// 2 session not found or an ambiguous prefix, 3 daemon unreachable, 1
// anything else.
const (
	exitOK          = 0
	exitUsage       = 1
	exitNotFound    = 2
	exitUnreachable = 3
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Print("\033[?1049l") // exit alt screen, in case a TUI crashed mid-frame
			fmt.Print("\033[?25h")   // show cursor
			fmt.Print("\033[0m")     // reset colors
			fmt.Fprintf(os.Stderr, "\n\nPANIC: %v\n", r)
			os.Exit(exitUsage)
		}
	}()

	logFile, err := os.OpenFile("/tmp/lineforge.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(exitUsage)
	}
	defer logFile.Close()

	logLevel := slog.LevelInfo
	if os.Getenv("LINEFORGE_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:     "lineforge",
		Short:   "Run and attach to long-lived AI coding assistant sessions",
		Version: Version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lineforge daemon in the foreground",
		RunE:  runServe(logger),
	}
	root.AddCommand(serveCmd)

	var newTool, newDir string
	var newYolo bool
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Spawn a session and attach to it immediately",
		RunE:  runNew(logger, &newTool, &newDir, &newYolo, true),
	}
	newCmd.Flags().StringVar(&newTool, "tool", "", "tool to run (default: config default_tool)")
	newCmd.Flags().StringVar(&newDir, "dir", "", "working directory (default: current directory)")
	newCmd.Flags().BoolVar(&newYolo, "yolo", false, "auto-approve mode")
	root.AddCommand(newCmd)

	var newSessionTool, newSessionDir string
	var newSessionYolo bool
	newSessionCmd := &cobra.Command{
		Use:   "new-session",
		Short: "Spawn a session and print its id, without attaching",
		RunE:  runNew(logger, &newSessionTool, &newSessionDir, &newSessionYolo, false),
	}
	newSessionCmd.Flags().StringVar(&newSessionTool, "tool", "", "tool to run (default: config default_tool)")
	newSessionCmd.Flags().StringVar(&newSessionDir, "dir", "", "working directory (default: current directory)")
	newSessionCmd.Flags().BoolVar(&newSessionYolo, "yolo", false, "auto-approve mode")
	root.AddCommand(newSessionCmd)

	attachCmd := &cobra.Command{
		Use:   "attach <id>",
		Short: "Attach to a running session by id or unambiguous prefix",
		Args:  cobra.ExactArgs(1),
		RunE:  runAttach(logger),
	}
	root.AddCommand(attachCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
		RunE:  runList(logger),
	}
	listCmd.Flags().Bool("json", false, "print sessions as JSON")
	root.AddCommand(listCmd)

	killCmd := &cobra.Command{
		Use:   "kill <id>",
		Short: "Stop a session by id or unambiguous prefix",
		Args:  cobra.ExactArgs(1),
		RunE:  runKill(logger),
	}
	root.AddCommand(killCmd)

	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Edit configuration in a curses-style editor",
		RunE:  runSettings,
	}
	root.AddCommand(settingsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a command error to the CLI's exit-code contract.
func exitCodeFor(err error) int {
	if lineforgeclient.NotFound(err) {
		return exitNotFound
	}
	if errors.Is(err, lineforgeclient.ErrUnreachable) {
		return exitUnreachable
	}
	return exitUsage
}

// baseURL derives the daemon's loopback control address from config.
// A "tailscale" bind still always also exposes a loopback listener
// (see runServe), so CLI commands never need tailnet reachability.
func baseURL(cfg *config.Config) string {
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
}

func socketPath(id string) (string, error) {
	sockets, err := config.SocketsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(sockets, id+".sock"), nil
}

func runServe(logger *slog.Logger) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sessionsDir, err := config.SessionsDir()
		if err != nil {
			return err
		}
		socketsDir, err := config.SocketsDir()
		if err != nil {
			return err
		}

		reg := registry.New(sessionsDir, socketsDir, logger)
		reg.SetRingCapacity(cfg.MaxLogLines)
		if err := reg.RestoreOnStartup(); err != nil {
			return fmt.Errorf("restore sessions: %w", err)
		}

		api := httpapi.New(reg, logger)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		listeners, cleanup, err := bindListeners(ctx, cfg, api, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		for _, ln := range listeners {
			ln := ln
			go func() {
				if serveErr := http.Serve(ln, api.Handler()); serveErr != nil && !errors.Is(serveErr, net.ErrClosed) {
					logger.Warn("http listener stopped", "addr", ln.Addr(), "error", serveErr)
				}
			}()
			logger.Info("lineforge listening", "addr", ln.Addr())
			fmt.Printf("lineforge listening on %s\n", ln.Addr())
		}

		if cfg.SSHEnabled {
			sshLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", hostOnly(cfg.Bind), cfg.Port+1))
			if err != nil {
				logger.Warn("ssh attach listener failed", "error", err)
			} else {
				sshSrv := sshattach.New(sshLn, reg, logger)
				go func() {
					if err := sshSrv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Warn("ssh attach server stopped", "error", err)
					}
				}()
				fmt.Printf("ssh attach listening on %s\n", sshLn.Addr())
			}
		}

		go runRetentionSweep(ctx, reg, cfg, logger)

		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	}
}

// bindListeners sets up the primary HTTP listener per cfg.Bind, plus
// (when bind is "tailscale") an always-present loopback listener so
// local CLI commands never need tailnet connectivity themselves.
func bindListeners(ctx context.Context, cfg *config.Config, api *httpapi.Server, logger *slog.Logger) ([]net.Listener, func(), error) {
	if cfg.Bind != "tailscale" {
		ln, err := net.Listen("tcp", resolveBindAddr(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("listen: %w", err)
		}
		return []net.Listener{ln}, func() { ln.Close() }, nil
	}

	bind, err := tailnetbind.New(tailnetbind.Config{ID: "daemon", Ephemeral: true}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare tailnet bind: %w", err)
	}
	if err := bind.Up(ctx); err != nil {
		return nil, nil, fmt.Errorf("join tailnet: %w", err)
	}
	api.SetTailnet(bind)

	tsLn, err := bind.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		bind.Close()
		return nil, nil, fmt.Errorf("listen on tailnet: %w", err)
	}

	loopLn, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port))
	if err != nil {
		tsLn.Close()
		bind.Close()
		return nil, nil, fmt.Errorf("listen on loopback: %w", err)
	}

	cleanup := func() {
		tsLn.Close()
		loopLn.Close()
		bind.Close()
	}
	return []net.Listener{tsLn, loopLn}, cleanup, nil
}

func resolveBindAddr(cfg *config.Config) string {
	addr := cfg.Bind
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = fmt.Sprintf("%s:%d", addr, cfg.Port)
	}
	return addr
}

func hostOnly(bind string) string {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return bind
	}
	return host
}

func runRetentionSweep(ctx context.Context, reg *registry.Registry, cfg *config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reg.SweepRetention(time.Now(), cfg.LogRetentionDays); err != nil {
				logger.Warn("retention sweep failed", "error", err)
			}
		}
	}
}

func runNew(logger *slog.Logger, tool, dir *string, yolo *bool, attachAfter bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		client := lineforgeclient.New(baseURL(cfg))
		req := lineforgeclient.SpawnRequest{
			Tool: *tool,
			Yolo: *yolo,
		}
		if req.Tool == "" {
			req.Tool = cfg.DefaultTool
		}
		if *dir != "" {
			req.WorkingDir = *dir
		} else if wd, err := os.Getwd(); err == nil {
			req.WorkingDir = wd
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		meta, err := client.Spawn(ctx, req)
		if err != nil {
			return fmt.Errorf("spawn session: %w", err)
		}
		fmt.Printf("session %s started (%s)\n", meta.ID, meta.Tool)

		if cfg.Bind == "tailscale" {
			printQR(ctx, client, meta.ID.String(), cfg.Port)
		}

		if !attachAfter {
			return nil
		}

		sockPath, err := socketPath(meta.ID.String())
		if err != nil {
			return err
		}
		return attachToSocket(client, sockPath, meta.ID.String())
	}
}

func printQR(ctx context.Context, client *lineforgeclient.Client, id string, port int) {
	info, err := client.Tailnet(ctx)
	if err != nil || len(info.IPs) == 0 {
		return
	}
	url := fmt.Sprintf("http://%s:%d/sessions/%s/stream", info.IPs[0], port, id)
	lines := qrpair.GenerateLines(url, 80, 24, false)
	for _, line := range lines {
		fmt.Println(line)
	}
	fmt.Println(url)
}

func runAttach(logger *slog.Logger) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		client := lineforgeclient.New(baseURL(cfg))
		ctx := context.Background()

		list, err := client.List(ctx)
		if err != nil {
			return err
		}
		id, err := resolvePrefix(args[0], list)
		if err != nil {
			return err
		}

		sockPath, err := socketPath(id)
		if err != nil {
			return err
		}
		return attachToSocket(client, sockPath, id)
	}
}

// resolvePrefix mirrors sessionid.Resolve client-side, since the CLI
// only has the session list the HTTP API hands back, not direct
// access to the daemon's registry: case-insensitive prefix match, with
// an exact match always winning even if it is also a prefix of other
// candidates.
func resolvePrefix(prefix string, list []session.Meta) (string, error) {
	for _, m := range list {
		id := m.ID.String()
		if strings.EqualFold(id, prefix) {
			return id, nil
		}
	}

	var matches []string
	for _, m := range list {
		id := m.ID.String()
		if len(prefix) <= len(id) && strings.EqualFold(id[:len(prefix)], prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", &lineforgeclient.StatusError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("no session matches %q", prefix)}
	case 1:
		return matches[0], nil
	default:
		return "", &lineforgeclient.StatusError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("prefix %q is ambiguous", prefix)}
	}
}

func attachToSocket(client *lineforgeclient.Client, sockPath, id string) error {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		stdinFd = 0
	}
	return attachclient.RunWithOptions(sockPath, attachclient.Options{
		In:      os.Stdin,
		Out:     os.Stdout,
		Stderr:  os.Stderr,
		StdinFd: stdinFd,
		StopFunc: func() error {
			return client.Stop(context.Background(), id)
		},
	})
}

func runList(logger *slog.Logger) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client := lineforgeclient.New(baseURL(cfg))

		list, err := client.List(context.Background())
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}

		for _, m := range list {
			fmt.Printf("%-10s %-8s %-8s %s\n", m.ID, m.Tool, m.Status.Kind, m.WorkingDir)
		}
		return nil
	}
}

func runKill(logger *slog.Logger) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client := lineforgeclient.New(baseURL(cfg))

		list, err := client.List(context.Background())
		if err != nil {
			return err
		}
		id, err := resolvePrefix(args[0], list)
		if err != nil {
			return err
		}

		if err := client.Stop(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("session %s stopped\n", id)
		return nil
	}
}

func runSettings(cmd *cobra.Command, args []string) error {
	return settingstui.Run()
}
