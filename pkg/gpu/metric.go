package gpu

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// Kind names a raw metric.
type Kind string

const (
	TemperatureCurrent   Kind = "temperature.current"
	TemperatureCritical  Kind = "temperature.critical"
	TemperatureEmergency Kind = "temperature.emergency"

	PowerCurrent Kind = "power.current"
	PowerAverage Kind = "power.average"
	PowerCap     Kind = "power.cap"

	UtilizationGPU        Kind = "utilization.gpu"
	UtilizationMemory     Kind = "utilization.memory"
	UtilizationMultimedia Kind = "utilization.multimedia"

	// Memory sizes are in MiB.
	MemoryUsed  Kind = "memory.used"
	MemoryTotal Kind = "memory.total"
	MemoryFree  Kind = "memory.free"

	// Clocks are in MHz.
	ClockSystem Kind = "clock.sclk"
	ClockMemory Kind = "clock.mclk"
	ClockFabric Kind = "clock.fclk"

	FanRPM     Kind = "fan.rpm"
	FanPercent Kind = "fan.percent"
)

var allKinds = []Kind{
	TemperatureCurrent, TemperatureCritical, TemperatureEmergency,
	PowerCurrent, PowerAverage, PowerCap,
	UtilizationGPU, UtilizationMemory, UtilizationMultimedia,
	MemoryUsed, MemoryTotal, MemoryFree,
	ClockSystem, ClockMemory, ClockFabric,
	FanRPM, FanPercent,
}

// AllKinds returns every metric kind in display order.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

func kindOrder(k Kind) int {
	for i, known := range allKinds {
		if known == k {
			return i
		}
	}
	return len(allKinds)
}

// Value is a metric value or the NotAvailable marker.
// The zero Value is NotAvailable.
type Value struct {
	v  float64
	ok bool
}

// Available wraps a present reading. NaN and infinities are treated as
// NotAvailable.
func Available(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{v: v, ok: true}
}

// NotAvailable returns the marker for a reading that could not be obtained.
func NotAvailable() Value {
	return Value{}
}

// Get returns the reading and whether it is present.
func (v Value) Get() (float64, bool) {
	return v.v, v.ok
}

// IsAvailable reports whether the reading is present.
func (v Value) IsAvailable() bool {
	return v.ok
}

// Or returns the reading, or def when it is NotAvailable.
func (v Value) Or(def float64) float64 {
	if !v.ok {
		return def
	}
	return v.v
}

// MarshalJSON encodes NotAvailable as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// UnmarshalJSON decodes null as NotAvailable.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Available(f)
	return nil
}

// Reading is a single metric read from a device.
type Reading struct {
	Device    string    `json:"device"`
	Kind      Kind      `json:"kind"`
	Value     Value     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a set of readings for one device, all from the same variant.
type Snapshot struct {
	Device    Device         `json:"device"`
	Values    map[Kind]Value `json:"readings"`
	Timestamp time.Time      `json:"timestamp"`
	Demo      bool           `json:"demo"`
}

// Get returns the reading for kind, NotAvailable if it was not requested
// or could not be read.
func (s *Snapshot) Get(kind Kind) Value {
	if s == nil || s.Values == nil {
		return NotAvailable()
	}
	return s.Values[kind]
}

// Readings lists the snapshot in display order.
func (s *Snapshot) Readings() []Reading {
	out := make([]Reading, 0, len(s.Values))
	for k, v := range s.Values {
		out = append(out, Reading{Device: s.Device.ID, Kind: k, Value: v, Timestamp: s.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool {
		return kindOrder(out[i].Kind) < kindOrder(out[j].Kind)
	})
	return out
}
