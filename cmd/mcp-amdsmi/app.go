package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/config"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/metrics"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/scoring"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/tools"
)

// app is the wired server core shared by serve and tool.
type app struct {
	source     gpu.Source
	dispatcher *tools.Dispatcher
	sessions   *session.Registry
	metrics    *metrics.PrometheusMetrics
	registry   *prometheus.Registry
	logger     *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	var backend gpu.Backend
	if cfg.Source.Mode != gpu.ModeDemo {
		b, err := gpu.NewBackend(cfg.Source.Backend, cfg.Source.SysfsRoot)
		switch {
		case err == nil:
			backend = b
		case cfg.Source.Mode == gpu.ModeLive:
			return nil, fmt.Errorf("gpu backend: %w", err)
		default:
			logger.Warn("gpu backend unavailable", slog.String("backend", cfg.Source.Backend), slog.String("error", err.Error()))
		}
	}

	source, err := gpu.OpenSource(ctx, cfg.Source.Mode, backend, cfg.Source.Live(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening gpu source: %w", err)
	}

	engine, err := scoring.NewEngine(cfg.Scoring)
	if err != nil {
		closeSource(source, logger)
		return nil, err
	}

	dispatcher := tools.NewDispatcher(source, engine, tools.Config{DefaultDevice: cfg.DefaultDevice}, logger)
	sessions := session.NewRegistry(cfg.Session.Registry(), logger)

	pm := metrics.NewPrometheusMetrics(sessions, source.Mode())
	dispatcher.SetObserver(pm)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		pm,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		source:     source,
		dispatcher: dispatcher,
		sessions:   sessions,
		metrics:    pm,
		registry:   registry,
		logger:     logger,
	}, nil
}

func (a *app) close() {
	closeSource(a.source, a.logger)
}

func closeSource(source gpu.Source, logger *slog.Logger) {
	c, ok := source.(interface{ Close(context.Context) error })
	if !ok {
		return
	}
	if err := c.Close(context.Background()); err != nil {
		logger.Warn("error closing gpu source", slog.String("error", err.Error()))
	}
}
