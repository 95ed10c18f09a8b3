package gpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/clock"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/retry"
)

// LiveConfig configures a Live source.
type LiveConfig struct {
	// ReadTimeout bounds each backend read. A read that takes longer is
	// reported as NotAvailable. Default: 2 seconds.
	ReadTimeout time.Duration

	// InitRetry controls how Open retries backend initialization.
	InitRetry retry.Config

	// Clock is used for reading timestamps. If nil, uses real time.
	Clock clock.Clock
}

// DefaultLiveConfig returns sensible defaults.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		ReadTimeout: 2 * time.Second,
		InitRetry:   retry.BackendInitConfig(),
	}
}

// Live serves readings from a vendor backend.
type Live struct {
	backend Backend
	config  LiveConfig
	clock   clock.Clock
	logger  *slog.Logger

	mu      sync.RWMutex
	ready   bool
	devices []Device
}

// NewLive creates a Live source over backend. Call Open before use.
func NewLive(backend Backend, config LiveConfig, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultLiveConfig().ReadTimeout
	}
	if config.InitRetry.MaxAttempts == 0 {
		config.InitRetry = DefaultLiveConfig().InitRetry
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.System()
	}
	if config.InitRetry.Clock == nil {
		config.InitRetry.Clock = clk
	}

	return &Live{
		backend: backend,
		config:  config,
		clock:   clk,
		logger:  logger.With(slog.String("component", "live-source"), slog.String("backend", backend.Name())),
	}
}

// Open initializes the backend, retrying with backoff, and caches the
// device list. On failure the source stays unreachable and every call
// returns ErrCollaboratorUnavailable.
func (l *Live) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready {
		return nil
	}

	cfg := l.config.InitRetry
	// A backend without its library or driver will not recover by waiting.
	cfg.Retryable = func(err error) bool { return !errors.Is(err, ErrNotSupported) }
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		l.logger.Warn("backend initialization failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}

	if err := retry.Do(ctx, cfg, l.backend.Initialize); err != nil {
		return fmt.Errorf("%w: initialize %s: %v", ErrCollaboratorUnavailable, l.backend.Name(), err)
	}

	devices, err := l.enumerate(ctx)
	if err != nil {
		_ = l.backend.Shutdown(ctx)
		return fmt.Errorf("%w: enumerate devices: %v", ErrCollaboratorUnavailable, err)
	}

	l.devices = devices
	l.ready = true
	l.logger.Info("backend ready", slog.Int("devices", len(devices)))
	return nil
}

// Close shuts the backend down.
func (l *Live) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ready {
		return nil
	}
	l.ready = false
	l.devices = nil
	return l.backend.Shutdown(ctx)
}

func (l *Live) opened() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready
}

// Mode implements Source.
func (l *Live) Mode() Mode { return ModeLive }

// Discover re-enumerates devices from the backend. Enumeration runs
// without holding the device lock and is bounded by ReadTimeout; when it
// overruns, the devices found at the last successful enumeration are
// returned.
func (l *Live) Discover(ctx context.Context) (*Inventory, error) {
	if !l.opened() {
		return nil, fmt.Errorf("%w: %s not open", ErrCollaboratorUnavailable, l.backend.Name())
	}

	devices, err := l.enumerate(ctx)
	switch {
	case err == nil:
		l.mu.Lock()
		l.devices = devices
		l.mu.Unlock()
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		l.logger.Warn("device enumeration timed out, serving cached devices",
			slog.Duration("timeout", l.config.ReadTimeout),
		)
		l.mu.RLock()
		devices = l.devices
		l.mu.RUnlock()
	default:
		return nil, fmt.Errorf("%w: enumerate devices: %v", ErrCollaboratorUnavailable, err)
	}

	out := make([]Device, len(devices))
	copy(out, devices)
	return &Inventory{Devices: out}, nil
}

type devicesResult struct {
	devices []Device
	err     error
}

// enumerate asks the backend for its devices, giving up after ReadTimeout.
// An overrunning call is left to finish in the background.
func (l *Live) enumerate(ctx context.Context) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.ReadTimeout)
	defer cancel()

	ch := make(chan devicesResult, 1)
	go func() {
		devices, err := l.backend.Devices(ctx)
		ch <- devicesResult{devices: devices, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.devices, res.err
	}
}

// Read implements Source.
func (l *Live) Read(ctx context.Context, deviceID string, kind Kind) (Value, error) {
	dev, err := l.lookup(deviceID)
	if err != nil {
		return NotAvailable(), err
	}
	return l.read(ctx, dev.Index, kind), nil
}

// Snapshot reads kinds concurrently. Each read has its own timeout.
func (l *Live) Snapshot(ctx context.Context, deviceID string, kinds []Kind) (*Snapshot, error) {
	dev, err := l.lookup(deviceID)
	if err != nil {
		return nil, err
	}

	values := make([]Value, len(kinds))
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind Kind) {
			defer wg.Done()
			values[i] = l.read(ctx, dev.Index, kind)
		}(i, kind)
	}
	wg.Wait()

	snap := &Snapshot{
		Device:    dev,
		Values:    make(map[Kind]Value, len(kinds)),
		Timestamp: l.clock.Now(),
	}
	for i, kind := range kinds {
		snap.Values[kind] = values[i]
	}
	return snap, nil
}

func (l *Live) lookup(deviceID string) (Device, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.ready {
		return Device{}, fmt.Errorf("%w: %s not open", ErrCollaboratorUnavailable, l.backend.Name())
	}

	for _, d := range l.devices {
		if d.ID == deviceID {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, deviceID)
}

type readResult struct {
	v   float64
	err error
}

// read never blocks longer than ReadTimeout. The backend call keeps
// running in the background if it overruns; its result is dropped.
func (l *Live) read(ctx context.Context, index int, kind Kind) Value {
	ctx, cancel := context.WithTimeout(ctx, l.config.ReadTimeout)
	defer cancel()

	ch := make(chan readResult, 1)
	go func() {
		v, err := l.backend.Read(ctx, index, kind)
		ch <- readResult{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		l.logger.Debug("metric read timed out",
			slog.Int("device", index),
			slog.String("metric", string(kind)),
		)
		return NotAvailable()
	case res := <-ch:
		if res.err != nil {
			if !errors.Is(res.err, ErrNotSupported) {
				l.logger.Debug("metric read failed",
					slog.Int("device", index),
					slog.String("metric", string(kind)),
					slog.String("error", res.err.Error()),
				)
			}
			return NotAvailable()
		}
		return Available(res.v)
	}
}
