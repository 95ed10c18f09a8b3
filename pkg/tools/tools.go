// Package tools implements the fixed set of GPU tools exposed over MCP.
//
// Every tool is a read-only pipeline: look up the device, snapshot the
// metric kinds the tool needs from the source, score the snapshot, and
// render the result. Tools never change shared state.
package tools

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
)

var (
	// ErrUnknownTool is returned for a tool name that is not in the catalog.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when tool arguments have the wrong shape.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Operation identifies what a tool does.
type Operation string

const (
	OpDiscover       Operation = "discover"
	OpStatus         Operation = "status"
	OpPerformance    Operation = "performance"
	OpMemoryAnalysis Operation = "memory_analysis"
	OpPowerThermal   Operation = "power_thermal"
	OpHealthCheck    Operation = "health_check"
)

// Tool describes one entry of the catalog.
type Tool struct {
	// Name is the MCP tool name.
	Name string
	// Operation doubles as a short alias for Name.
	Operation   Operation
	Description string
	TakesDevice bool
	Kinds       []gpu.Kind
}

var (
	temperatureKinds = []gpu.Kind{gpu.TemperatureCurrent, gpu.TemperatureCritical, gpu.TemperatureEmergency}
	powerKinds       = []gpu.Kind{gpu.PowerCurrent, gpu.PowerAverage, gpu.PowerCap}
	memoryKinds      = []gpu.Kind{gpu.MemoryUsed, gpu.MemoryTotal, gpu.MemoryFree}
	clockKinds       = []gpu.Kind{gpu.ClockSystem, gpu.ClockMemory, gpu.ClockFabric}
	utilKinds        = []gpu.Kind{gpu.UtilizationGPU, gpu.UtilizationMemory}
	fanKinds         = []gpu.Kind{gpu.FanRPM, gpu.FanPercent}
)

func kinds(groups ...[]gpu.Kind) []gpu.Kind {
	var out []gpu.Kind
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var catalog = []Tool{
	{
		Name:        "get_gpu_discovery",
		Operation:   OpDiscover,
		Description: "Discover available AMD GPUs and their basic information",
	},
	{
		Name:        "get_gpu_status",
		Operation:   OpStatus,
		Description: "Get current GPU status: temperature, power, utilization, memory, clocks, fan and overall health score",
		TakesDevice: true,
		Kinds:       gpu.AllKinds(),
	},
	{
		Name:        "get_gpu_performance",
		Operation:   OpPerformance,
		Description: "Analyze GPU performance: utilization, clocks, efficiency and bottleneck classification",
		TakesDevice: true,
		Kinds:       kinds(utilKinds, clockKinds, powerKinds, temperatureKinds, memoryKinds[:2]),
	},
	{
		Name:        "analyze_gpu_memory",
		Operation:   OpMemoryAnalysis,
		Description: "Analyze GPU memory usage and classify the usage pattern",
		TakesDevice: true,
		Kinds:       kinds(memoryKinds, []gpu.Kind{gpu.UtilizationMemory}),
	},
	{
		Name:        "monitor_power_thermal",
		Operation:   OpPowerThermal,
		Description: "Monitor GPU power consumption and thermal status with warnings",
		TakesDevice: true,
		Kinds:       kinds(temperatureKinds, powerKinds, fanKinds),
	},
	{
		Name:        "check_gpu_health",
		Operation:   OpHealthCheck,
		Description: "Comprehensive GPU health assessment with recommendations",
		TakesDevice: true,
		Kinds:       gpu.AllKinds(),
	},
}

// Catalog returns every tool in a fixed order.
func Catalog() []Tool {
	out := make([]Tool, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a tool by MCP name or by operation alias.
func Lookup(name string) (Tool, bool) {
	for _, t := range catalog {
		if t.Name == name || string(t.Operation) == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Args are the arguments accepted by device tools.
type Args struct {
	DeviceID string `json:"device_id,omitempty"`
}

// ParseArgs reads tool arguments. A device_id may be given as a string or
// as a non-negative integer.
func ParseArgs(raw map[string]any) (Args, error) {
	var args Args
	v, ok := raw["device_id"]
	if !ok || v == nil {
		return args, nil
	}

	switch id := v.(type) {
	case string:
		args.DeviceID = id
	case float64:
		if id < 0 || id != math.Trunc(id) || math.IsInf(id, 0) {
			return args, fmt.Errorf("%w: device_id must be a non-negative integer, got %v", ErrInvalidArguments, id)
		}
		args.DeviceID = strconv.FormatInt(int64(id), 10)
	case int:
		if id < 0 {
			return args, fmt.Errorf("%w: device_id must be non-negative, got %d", ErrInvalidArguments, id)
		}
		args.DeviceID = strconv.Itoa(id)
	default:
		return args, fmt.Errorf("%w: device_id must be a string, got %T", ErrInvalidArguments, v)
	}
	return args, nil
}

// Error kinds reported to clients.
const (
	KindDeviceNotFound   = "device_not_found"
	KindInvalidArguments = "invalid_arguments"
	KindUnknownTool      = "unknown_tool"
	KindUnavailable      = "collaborator_unavailable"
	KindInternal         = "internal"
)

// ErrorKind classifies a dispatch error for clients and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gpu.ErrDeviceNotFound):
		return KindDeviceNotFound
	case errors.Is(err, ErrInvalidArguments):
		return KindInvalidArguments
	case errors.Is(err, ErrUnknownTool):
		return KindUnknownTool
	case errors.Is(err, gpu.ErrCollaboratorUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}
