package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/render"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/scoring"
)

// Observer is notified of every dispatched call. Implementations must be
// safe for concurrent use.
type Observer interface {
	// ToolCalled reports a finished call. outcome is "ok" or an error kind.
	ToolCalled(tool, outcome string, elapsed time.Duration, demo bool)

	// Assessed reports an overall assessment produced for a device.
	Assessed(deviceID string, a *scoring.Assessment)
}

// Config configures the dispatcher.
type Config struct {
	// DefaultDevice is used when a call has no device_id. Default: "0".
	DefaultDevice string
}

// Result is the outcome of a tool call.
type Result struct {
	Tool   string      `json:"tool"`
	Device *gpu.Device `json:"device,omitempty"`
	Demo   bool        `json:"demo"`
	Data   any         `json:"data"`

	// Text is the human-readable rendering of Data.
	Text string `json:"-"`
}

// StatusReport is the payload of the status tool.
type StatusReport struct {
	Readings  map[gpu.Kind]gpu.Value `json:"readings"`
	Timestamp time.Time              `json:"timestamp"`
	Health    *scoring.Assessment    `json:"health"`
}

// Dispatcher routes tool calls to the source and scoring engine.
type Dispatcher struct {
	source   gpu.Source
	engine   *scoring.Engine
	config   Config
	logger   *slog.Logger
	observer Observer
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(source gpu.Source, engine *scoring.Engine, config Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DefaultDevice == "" {
		config.DefaultDevice = "0"
	}
	return &Dispatcher{
		source: source,
		engine: engine,
		config: config,
		logger: logger.With(slog.String("component", "tool-dispatcher")),
	}
}

// SetObserver sets the observer notified of every call.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// Source returns the metric source the dispatcher reads from.
func (d *Dispatcher) Source() gpu.Source {
	return d.source
}

// Call resolves name and runs the tool with raw arguments.
func (d *Dispatcher) Call(ctx context.Context, name string, raw map[string]any) (*Result, error) {
	tool, ok := Lookup(name)
	if !ok {
		d.observe(name, ErrorKind(ErrUnknownTool), 0, false)
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	args, err := ParseArgs(raw)
	if err != nil {
		d.observe(tool.Name, ErrorKind(err), 0, false)
		return nil, err
	}
	return d.invoke(ctx, tool, args)
}

// invoke runs a resolved tool.
func (d *Dispatcher) invoke(ctx context.Context, tool Tool, args Args) (*Result, error) {
	start := time.Now()
	deviceID := args.DeviceID
	if deviceID == "" {
		deviceID = d.config.DefaultDevice
	}

	res, err := d.run(ctx, tool, deviceID)
	elapsed := time.Since(start)

	if err != nil {
		kind := ErrorKind(err)
		d.observe(tool.Name, kind, elapsed, false)
		d.logger.Debug("tool call failed",
			slog.String("tool", tool.Name),
			slog.String("device_id", deviceID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	d.observe(tool.Name, "ok", elapsed, res.Demo)
	d.logger.Debug("tool call completed",
		slog.String("tool", tool.Name),
		slog.String("device_id", deviceID),
		slog.Bool("demo", res.Demo),
		slog.Duration("elapsed", elapsed),
	)
	return res, nil
}

func (d *Dispatcher) run(ctx context.Context, tool Tool, deviceID string) (*Result, error) {
	if tool.Operation == OpDiscover {
		inv, err := d.source.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover devices: %w", err)
		}
		return &Result{Tool: tool.Name, Demo: inv.Demo, Data: inv, Text: render.Discovery(inv)}, nil
	}

	snap, err := d.source.Snapshot(ctx, deviceID, tool.Kinds)
	if err != nil {
		return nil, fmt.Errorf("read device %q: %w", deviceID, err)
	}

	res := &Result{Tool: tool.Name, Device: &snap.Device, Demo: snap.Demo}
	switch tool.Operation {
	case OpStatus:
		a := d.engine.Status(snap)
		d.assessed(snap.Device.ID, a)
		res.Data = &StatusReport{Readings: snap.Values, Timestamp: snap.Timestamp, Health: a}
		res.Text = render.Status(snap, a)
	case OpPerformance:
		r := d.engine.Performance(snap)
		res.Data = r
		res.Text = render.Performance(snap.Device, r)
	case OpMemoryAnalysis:
		r := d.engine.MemoryAnalysis(snap)
		res.Data = r
		res.Text = render.MemoryReport(snap.Device, r)
	case OpPowerThermal:
		r := d.engine.PowerThermal(snap)
		res.Data = r
		res.Text = render.PowerThermal(snap.Device, r)
	case OpHealthCheck:
		a := d.engine.Health(snap)
		d.assessed(snap.Device.ID, a)
		res.Data = a
		res.Text = render.Health(snap.Device, a)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tool.Name)
	}
	return res, nil
}

func (d *Dispatcher) observe(tool, outcome string, elapsed time.Duration, demo bool) {
	if d.observer != nil {
		d.observer.ToolCalled(tool, outcome, elapsed, demo)
	}
}

func (d *Dispatcher) assessed(deviceID string, a *scoring.Assessment) {
	if d.observer != nil {
		d.observer.Assessed(deviceID, a)
	}
}
