//go:build linux && cgo

package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVML is a backend for NVIDIA GPUs using NVIDIA's NVML library.
type NVML struct {
	mu          sync.RWMutex
	initialized bool
	driver      string
}

// nvmlBackend returns an NVML backend. With verify set it first checks that
// the library loads and a driver answers.
func nvmlBackend(verify bool) (Backend, bool) {
	if verify {
		if ret := nvml.Init(); ret != nvml.SUCCESS {
			return nil, false
		}
		nvml.Shutdown()
	}
	return &NVML{}, true
}

// Name implements Backend.
func (n *NVML) Name() string { return "nvml" }

// Initialize initializes the NVML library.
func (n *NVML) Initialize(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.initialized {
		return nil
	}

	switch ret := nvml.Init(); ret {
	case nvml.SUCCESS:
	case nvml.ERROR_LIBRARY_NOT_FOUND, nvml.ERROR_DRIVER_NOT_LOADED:
		return fmt.Errorf("initialize NVML: %w: %v", ErrNotSupported, nvml.ErrorString(ret))
	default:
		return fmt.Errorf("initialize NVML: %v", nvml.ErrorString(ret))
	}

	if v, ret := nvml.SystemGetDriverVersion(); ret == nvml.SUCCESS {
		n.driver = v
	}
	n.initialized = true
	return nil
}

// Shutdown shuts down the NVML library.
func (n *NVML) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.initialized {
		return ErrNotInitialized
	}
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to shutdown NVML: %v", nvml.ErrorString(ret))
	}
	n.initialized = false
	return nil
}

// Devices enumerates NVIDIA GPUs.
func (n *NVML) Devices(ctx context.Context) ([]Device, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.initialized {
		return nil, ErrNotInitialized
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to get device count: %v", nvml.ErrorString(ret))
	}

	devices := make([]Device, 0, count)
	for i := 0; i < count; i++ {
		device, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("failed to get device handle %d: %v", i, nvml.ErrorString(ret))
		}

		d := Device{ID: DeviceID(i), Index: i, DriverVersion: n.driver}
		if name, ret := device.GetName(); ret == nvml.SUCCESS {
			d.Name = name
		}
		if uuid, ret := device.GetUUID(); ret == nvml.SUCCESS {
			d.UUID = uuid
		}
		if vbios, ret := device.GetVbiosVersion(); ret == nvml.SUCCESS {
			d.VBIOSVersion = vbios
		}
		if pci, ret := device.GetPciInfo(); ret == nvml.SUCCESS {
			var b []byte
			for _, c := range pci.BusId {
				if c == 0 {
					break
				}
				b = append(b, byte(c))
			}
			d.PCIBusID = string(b)
		}
		if mem, ret := device.GetMemoryInfo(); ret == nvml.SUCCESS {
			d.VRAMBytes = mem.Total
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// nvmlClocks maps clock kinds to NVML clock domains. NVIDIA parts expose
// no fabric clock, so ClockFabric is unsupported.
var nvmlClocks = map[Kind]nvml.ClockType{
	ClockSystem: nvml.CLOCK_GRAPHICS,
	ClockMemory: nvml.CLOCK_MEM,
}

// Read returns one metric for a device.
func (n *NVML) Read(ctx context.Context, index int, kind Kind) (float64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.initialized {
		return 0, ErrNotInitialized
	}

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("%w: index %d: %v", ErrDeviceNotFound, index, nvml.ErrorString(ret))
	}

	var v uint32
	switch kind {
	case TemperatureCurrent:
		v, ret = device.GetTemperature(nvml.TEMPERATURE_GPU)
	case TemperatureCritical:
		v, ret = device.GetTemperatureThreshold(nvml.TEMPERATURE_THRESHOLD_SLOWDOWN)
	case TemperatureEmergency:
		v, ret = device.GetTemperatureThreshold(nvml.TEMPERATURE_THRESHOLD_SHUTDOWN)
	case PowerCurrent, PowerAverage:
		v, ret = device.GetPowerUsage()
		return milliwatts(v, ret)
	case PowerCap:
		v, ret = device.GetEnforcedPowerLimit()
		return milliwatts(v, ret)
	case UtilizationGPU, UtilizationMemory:
		util, r := device.GetUtilizationRates()
		if r != nvml.SUCCESS {
			return 0, nvmlErr(r)
		}
		if kind == UtilizationGPU {
			return float64(util.Gpu), nil
		}
		return float64(util.Memory), nil
	case MemoryUsed, MemoryTotal, MemoryFree:
		mem, r := device.GetMemoryInfo()
		if r != nvml.SUCCESS {
			return 0, nvmlErr(r)
		}
		const mib = 1024 * 1024
		switch kind {
		case MemoryUsed:
			return float64(mem.Used) / mib, nil
		case MemoryTotal:
			return float64(mem.Total) / mib, nil
		default:
			return float64(mem.Free) / mib, nil
		}
	case ClockSystem, ClockMemory:
		v, ret = device.GetClockInfo(nvmlClocks[kind])
	case FanPercent:
		v, ret = device.GetFanSpeed()
	default:
		return 0, ErrNotSupported
	}

	if err := nvmlErr(ret); err != nil {
		return 0, err
	}
	return float64(v), nil
}

func milliwatts(v uint32, ret nvml.Return) (float64, error) {
	if err := nvmlErr(ret); err != nil {
		return 0, err
	}
	return float64(v) / 1000.0, nil
}

func nvmlErr(ret nvml.Return) error {
	switch ret {
	case nvml.SUCCESS:
		return nil
	case nvml.ERROR_NOT_SUPPORTED:
		return ErrNotSupported
	default:
		return fmt.Errorf("nvml: %v", nvml.ErrorString(ret))
	}
}
