package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory backend for tests and development. Readings can be
// set or removed per device, and failures and latency can be injected.
type Fake struct {
	mu          sync.RWMutex
	devices     []Device
	readings    []map[Kind]float64
	initialized bool

	initErr      error
	initFailures int // remaining Initialize calls that return initErr
	initCalls    int
	devicesErr   error
	readErrs     map[Kind]error
	readDelay    time.Duration
}

// NewFake creates a fake backend with deviceCount identical accelerators
// at a moderate load.
func NewFake(deviceCount int) *Fake {
	f := &Fake{
		devices:  make([]Device, deviceCount),
		readings: make([]map[Kind]float64, deviceCount),
		readErrs: make(map[Kind]error),
	}
	for i := 0; i < deviceCount; i++ {
		f.devices[i] = Device{
			ID:            DeviceID(i),
			Index:         i,
			Name:          "AMD Instinct MI250X",
			UUID:          fmt.Sprintf("fake-%08d-0000-0000-0000-%012d", i, i),
			PCIBusID:      fmt.Sprintf("0000:%02x:00.0", i+1),
			ASICFamily:    "CDNA2",
			VBIOSVersion:  "113-D65201-X",
			DriverVersion: "6.2.4",
			VRAMBytes:     128 * 1024 * 1024 * 1024,
		}
		f.readings[i] = map[Kind]float64{
			TemperatureCurrent:   55,
			TemperatureCritical:  90,
			TemperatureEmergency: 95,
			PowerCurrent:         300,
			PowerAverage:         290,
			PowerCap:             500,
			UtilizationGPU:       75,
			UtilizationMemory:    60,
			MemoryUsed:           65536,
			MemoryTotal:          131072,
			MemoryFree:           65536,
			ClockSystem:          1700,
			ClockMemory:          1600,
			ClockFabric:          1400,
			FanRPM:               2200,
			FanPercent:           45,
		}
	}
	return f
}

// Name implements Backend.
func (f *Fake) Name() string { return "fake" }

// Set sets a reading.
func (f *Fake) Set(index int, kind Kind, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings[index][kind] = v
}

// Unset removes a reading so it reads as unsupported.
func (f *Fake) Unset(index int, kind Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.readings[index], kind)
}

// FailInit makes the next n Initialize calls return err. n < 0 fails forever.
func (f *Fake) FailInit(err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErr = err
	f.initFailures = n
}

// FailDevices makes Devices return err until cleared with nil.
func (f *Fake) FailDevices(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devicesErr = err
}

// FailRead makes reads of kind return err until cleared with nil.
func (f *Fake) FailRead(kind Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.readErrs, kind)
		return
	}
	f.readErrs[kind] = err
}

// SetReadDelay delays every read by d, honoring context cancellation.
func (f *Fake) SetReadDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readDelay = d
}

// InitCalls returns how many times Initialize was called.
func (f *Fake) InitCalls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.initCalls
}

// Initialize implements Backend.
func (f *Fake) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.initCalls++
	if f.initErr != nil && f.initFailures != 0 {
		if f.initFailures > 0 {
			f.initFailures--
		}
		return f.initErr
	}
	if f.initialized {
		return errors.New("already initialized")
	}

	f.initialized = true
	return nil
}

// Shutdown implements Backend.
func (f *Fake) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return ErrNotInitialized
	}
	f.initialized = false
	return nil
}

// Devices implements Backend.
func (f *Fake) Devices(ctx context.Context) ([]Device, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.initialized {
		return nil, ErrNotInitialized
	}
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}

	out := make([]Device, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

// Read implements Backend.
func (f *Fake) Read(ctx context.Context, index int, kind Kind) (float64, error) {
	f.mu.RLock()
	delay := f.readDelay
	f.mu.RUnlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.initialized {
		return 0, ErrNotInitialized
	}
	if index < 0 || index >= len(f.devices) {
		return 0, fmt.Errorf("%w: index %d", ErrDeviceNotFound, index)
	}
	if err := f.readErrs[kind]; err != nil {
		return 0, err
	}

	v, ok := f.readings[index][kind]
	if !ok {
		return 0, ErrNotSupported
	}
	return v, nil
}
