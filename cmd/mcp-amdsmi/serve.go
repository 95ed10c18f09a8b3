package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/config"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/transport"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var (
		transportName  string
		host           string
		port           int
		mode           string
		backend        string
		sessionTimeout time.Duration
		defaultDevice  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the MCP server on stdio (the default, for clients that spawn the
server) or on streamable HTTP with session management.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("transport") {
				cfg.Server.Transport = transportName
			}
			if flags.Changed("host") {
				cfg.Server.Host = host
			}
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("mode") {
				cfg.Source.Mode = gpu.Mode(mode)
			}
			if flags.Changed("backend") {
				cfg.Source.Backend = backend
			}
			if flags.Changed("session-timeout") {
				cfg.Session.Timeout = sessionTimeout
			}
			if flags.Changed("default-device") {
				cfg.DefaultDevice = defaultDevice
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := newLogger(cfg.Log, cmd.ErrOrStderr())
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, logger, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&transportName, "transport", "t", config.TransportStdio, "Transport (stdio, http)")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "HTTP bind host")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "HTTP port")
	cmd.Flags().StringVar(&mode, "mode", string(gpu.ModeAuto), "Metric source (auto, live, demo)")
	cmd.Flags().StringVar(&backend, "backend", gpu.BackendAuto, "GPU backend (auto, sysfs, nvml, fake)")
	cmd.Flags().DurationVar(&sessionTimeout, "session-timeout", time.Hour, "Idle timeout for HTTP sessions")
	cmd.Flags().StringVar(&defaultDevice, "default-device", "0", "Device used when a tool call has no device_id")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, banner io.Writer) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	impl := transport.Implementation{Name: "mcp-amdsmi", Version: version}
	logger.Info("starting mcp-amdsmi",
		slog.String("version", version),
		slog.String("transport", cfg.Server.Transport),
		slog.String("source", string(a.source.Mode())),
	)

	if cfg.Server.Transport == config.TransportStdio {
		return transport.NewStdioServer(a.dispatcher, impl).Serve(ctx)
	}

	printBanner(banner, cfg, a.source.Mode())
	srv := transport.NewHTTPServer(a.dispatcher, a.sessions, transport.HTTPConfig{
		Addr:            cfg.Server.Addr(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Server:          impl,
		Gatherer:        a.registry,
	}, logger)
	return srv.ListenAndServe(ctx)
}

func printBanner(w io.Writer, cfg *config.Config, mode gpu.Mode) {
	content := fmt.Sprintf(
		"Endpoint: http://%s/mcp\nHealth:   http://%s/health\nMetrics:  http://%s/metrics\nSource:   %s\nSessions: %s idle timeout",
		cfg.Server.Addr(), cfg.Server.Addr(), cfg.Server.Addr(), mode, cfg.Session.Timeout,
	)
	fmt.Fprintln(w, pterm.DefaultBox.WithTitle("mcp-amdsmi "+version).WithTitleTopCenter().Sprint(content))
}
