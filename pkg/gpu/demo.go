package gpu

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/clock"
)

// demoNamespace seeds deterministic demo device UUIDs.
var demoNamespace = uuid.MustParse("6f1c2a7e-4d1b-4b8e-9a57-0d7c3e2f9b10")

type demoDevice struct {
	info     Device
	readings map[Kind]float64
}

// Demo serves a fixed dataset. Every response it produces is flagged as
// demo-sourced. Kinds missing from a device's dataset read as NotAvailable.
type Demo struct {
	devices []demoDevice
	clock   clock.Clock
}

// NewDemo returns the built-in demo dataset: two MI300X accelerators, one
// running a steady training job and one running hot.
func NewDemo(clk clock.Clock) *Demo {
	if clk == nil {
		clk = clock.System()
	}

	const vram = 192 * 1024 * 1024 * 1024
	mk := func(index int, bdf string) Device {
		return Device{
			ID:            DeviceID(index),
			Index:         index,
			Name:          "AMD Instinct MI300X",
			UUID:          uuid.NewSHA1(demoNamespace, []byte(bdf)).String(),
			PCIBusID:      bdf,
			ASICFamily:    "CDNA3",
			VBIOSVersion:  "113-M3000100-102",
			DriverVersion: "6.7.0",
			VRAMBytes:     vram,
		}
	}

	return &Demo{
		clock: clk,
		devices: []demoDevice{
			{
				info: mk(0, "0000:0c:00.0"),
				readings: map[Kind]float64{
					TemperatureCurrent:   65,
					TemperatureCritical:  90,
					TemperatureEmergency: 95,
					PowerCurrent:         480,
					PowerAverage:         465,
					PowerCap:             750,
					UtilizationGPU:       85.5,
					UtilizationMemory:    70.2,
					MemoryUsed:           122880,
					MemoryTotal:          196608,
					MemoryFree:           73728,
					ClockSystem:          2100,
					ClockMemory:          1300,
					ClockFabric:          1600,
				},
			},
			{
				info: mk(1, "0000:22:00.0"),
				readings: map[Kind]float64{
					TemperatureCurrent:   88,
					TemperatureCritical:  90,
					TemperatureEmergency: 95,
					PowerCurrent:         728,
					PowerAverage:         716,
					PowerCap:             750,
					UtilizationGPU:       99,
					UtilizationMemory:    94.5,
					MemoryUsed:           188416,
					MemoryTotal:          196608,
					MemoryFree:           8192,
					ClockSystem:          1850,
					ClockMemory:          1300,
					ClockFabric:          1600,
				},
			},
		},
	}
}

// Mode implements Source.
func (d *Demo) Mode() Mode { return ModeDemo }

// Discover implements Source.
func (d *Demo) Discover(ctx context.Context) (*Inventory, error) {
	out := make([]Device, len(d.devices))
	for i, dev := range d.devices {
		out[i] = dev.info
	}
	return &Inventory{Devices: out, Demo: true}, nil
}

// Read implements Source.
func (d *Demo) Read(ctx context.Context, deviceID string, kind Kind) (Value, error) {
	dev, err := d.lookup(deviceID)
	if err != nil {
		return NotAvailable(), err
	}
	v, ok := dev.readings[kind]
	if !ok {
		return NotAvailable(), nil
	}
	return Available(v), nil
}

// Snapshot implements Source.
func (d *Demo) Snapshot(ctx context.Context, deviceID string, kinds []Kind) (*Snapshot, error) {
	dev, err := d.lookup(deviceID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Device:    dev.info,
		Values:    make(map[Kind]Value, len(kinds)),
		Timestamp: d.clock.Now(),
		Demo:      true,
	}
	for _, kind := range kinds {
		if v, ok := dev.readings[kind]; ok {
			snap.Values[kind] = Available(v)
		} else {
			snap.Values[kind] = NotAvailable()
		}
	}
	return snap, nil
}

func (d *Demo) lookup(deviceID string) (*demoDevice, error) {
	for i := range d.devices {
		if d.devices[i].info.ID == deviceID {
			return &d.devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, deviceID)
}
