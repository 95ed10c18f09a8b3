// Package gpu reads raw GPU telemetry through a uniform source contract.
//
// A Source answers two questions: which devices exist, and what a given
// metric reads on a given device right now. Readings that cannot be
// obtained come back as NotAvailable rather than as errors. Live sources
// wrap a vendor Backend (amdgpu sysfs, NVML, or a fake); the Demo source
// serves a fixed dataset when no backend can be reached.
package gpu

import (
	"context"
	"errors"
	"strconv"
)

var (
	// ErrNotSupported is returned by a backend for a metric it cannot read
	// on a device. Sources turn it into NotAvailable.
	ErrNotSupported = errors.New("metric not supported")

	// ErrDeviceNotFound is returned when a device id does not match any
	// discovered device.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrCollaboratorUnavailable is returned when the vendor library or
	// driver cannot be reached at all.
	ErrCollaboratorUnavailable = errors.New("gpu collaborator unavailable")

	// ErrNotInitialized is returned by backends used before Initialize.
	ErrNotInitialized = errors.New("not initialized")
)

// Device describes a GPU. It is immutable once discovered.
type Device struct {
	ID            string `json:"id"`
	Index         int    `json:"index"`
	Name          string `json:"name"`
	UUID          string `json:"uuid,omitempty"`
	PCIBusID      string `json:"pci_bus_id,omitempty"`
	ASICFamily    string `json:"asic_family,omitempty"`
	VBIOSVersion  string `json:"vbios_version,omitempty"`
	DriverVersion string `json:"driver_version,omitempty"`
	VRAMBytes     uint64 `json:"vram_bytes"`
}

// VRAMMiB returns the device VRAM size in MiB.
func (d Device) VRAMMiB() float64 {
	return float64(d.VRAMBytes) / (1024 * 1024)
}

// DeviceID formats a device index as the string id clients use.
func DeviceID(index int) string {
	return strconv.Itoa(index)
}

// Backend is the capability set a vendor library exposes.
// Implementations must be safe for concurrent use after Initialize.
type Backend interface {
	// Name identifies the backend in logs and health output.
	Name() string

	// Initialize opens the underlying library or driver.
	Initialize(ctx context.Context) error

	// Shutdown releases the underlying library.
	Shutdown(ctx context.Context) error

	// Devices enumerates the GPUs, ordered by index.
	Devices(ctx context.Context) ([]Device, error)

	// Read returns one raw metric for the device at index.
	// It returns ErrNotSupported when the metric has no value on this device.
	Read(ctx context.Context, index int, kind Kind) (float64, error)
}

// Mode says which variant served a response.
type Mode string

const (
	ModeLive Mode = "live"
	ModeDemo Mode = "demo"
	ModeAuto Mode = "auto"
)

// Source is the metric source contract used by the tool dispatcher.
type Source interface {
	// Discover lists the devices in index order.
	Discover(ctx context.Context) (*Inventory, error)

	// Read returns one metric for a device. Missing hardware support is a
	// NotAvailable value, not an error; errors are ErrDeviceNotFound or
	// ErrCollaboratorUnavailable.
	Read(ctx context.Context, deviceID string, kind Kind) (Value, error)

	// Snapshot reads several metrics for one device from a single variant.
	Snapshot(ctx context.Context, deviceID string, kinds []Kind) (*Snapshot, error)

	// Mode reports the configured variant.
	Mode() Mode
}

// Inventory is the result of discovery.
type Inventory struct {
	Devices []Device `json:"devices"`
	Demo    bool     `json:"demo"`
}

// Find returns the device with the given id.
func (inv *Inventory) Find(deviceID string) (Device, bool) {
	for _, d := range inv.Devices {
		if d.ID == deviceID {
			return d, true
		}
	}
	return Device{}, false
}
