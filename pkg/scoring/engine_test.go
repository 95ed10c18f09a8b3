package scoring

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func snapshot(values map[gpu.Kind]float64) *gpu.Snapshot {
	s := &gpu.Snapshot{
		Device:    gpu.Device{ID: "0", Name: "test"},
		Values:    make(map[gpu.Kind]gpu.Value),
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, k := range gpu.AllKinds() {
		s.Values[k] = gpu.NotAvailable()
	}
	for k, v := range values {
		s.Values[k] = gpu.Available(v)
	}
	return s
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func TestHealth_AllNotAvailableIsNeutral(t *testing.T) {
	e := newEngine(t)

	a := e.Health(snapshot(nil))
	if a.Score != 80.0 {
		t.Errorf("Score = %v, want exactly 80.0", a.Score)
	}
	if a.Status != StatusGood {
		t.Errorf("Status = %v, want good", a.Status)
	}
	for _, cs := range a.Components {
		if cs.Available {
			t.Errorf("component %s unexpectedly available", cs.Component)
		}
		if cs.Score != 80.0 {
			t.Errorf("component %s score = %v, want 80", cs.Component, cs.Score)
		}
	}
	if len(a.Recommendations) != 0 {
		t.Errorf("Recommendations = %+v, want none", a.Recommendations)
	}
}

func TestHealth_NilSnapshot(t *testing.T) {
	e := newEngine(t)
	if a := e.Health(nil); a.Score != 80.0 {
		t.Errorf("Score = %v, want 80", a.Score)
	}
}

func TestThermal_Breakpoints(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name string
		temp float64
		want float64
	}{
		{"cool", 40, 100},
		{"at safe breakpoint", 66.5, 100}, // 0.70 * 95
		{"midway", 80.75, 50},
		{"at limit", 95, 0},
		{"beyond limit", 110, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := e.Thermal(snapshot(map[gpu.Kind]float64{
				gpu.TemperatureCurrent:   tt.temp,
				gpu.TemperatureEmergency: 95,
			}))
			if !cs.Available {
				t.Fatal("expected available")
			}
			if !approx(cs.Score, tt.want) {
				t.Errorf("Score = %v, want %v", cs.Score, tt.want)
			}
			if cs.Score < 0 || cs.Score > 100 {
				t.Errorf("Score %v outside [0,100]", cs.Score)
			}
		})
	}
}

func TestHealth_HotDeviceIsCritical(t *testing.T) {
	e := newEngine(t)

	a := e.Health(snapshot(map[gpu.Kind]float64{
		gpu.TemperatureCurrent:   90,
		gpu.TemperatureEmergency: 95,
	}))

	thermal := a.Components[0]
	if thermal.Component != Thermal {
		t.Fatalf("first component = %s, want thermal", thermal.Component)
	}
	if !approx(thermal.Score, 17.54) {
		t.Errorf("thermal score = %v, want about 17.54", thermal.Score)
	}

	// Only thermal is present, so it alone decides the overall score.
	if a.Score != thermal.Score {
		t.Errorf("Score = %v, want %v", a.Score, thermal.Score)
	}
	if a.Status != StatusCritical {
		t.Errorf("Status = %v, want critical", a.Status)
	}

	if len(a.Recommendations) == 0 {
		t.Fatal("expected recommendations")
	}
	first := a.Recommendations[0]
	if first.Severity != SeverityCritical || first.Component != Thermal {
		t.Errorf("first recommendation = %+v, want critical thermal", first)
	}
}

func TestOverall_RenormalizesWeights(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name   string
		values map[gpu.Kind]float64
		want   float64
	}{
		{
			name:   "thermal only",
			values: map[gpu.Kind]float64{gpu.TemperatureCurrent: 50, gpu.TemperatureEmergency: 100},
			want:   100,
		},
		{
			name: "thermal and power",
			values: map[gpu.Kind]float64{
				gpu.TemperatureCurrent: 50, gpu.TemperatureEmergency: 100,
				gpu.PowerCurrent: 95, gpu.PowerCap: 100,
			},
			want: (100*0.30 + 60*0.25) / 0.55,
		},
		{
			name:   "fan has zero weight",
			values: map[gpu.Kind]float64{gpu.FanPercent: 100},
			want:   80,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Overall(e.Breakdown(snapshot(tt.values)))
			if !approx(got, tt.want) {
				t.Errorf("Overall = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLimits_Precedence(t *testing.T) {
	e := newEngine(t)

	l := e.Limits(snapshot(nil))
	if l.MaxTemperatureC.Or(0) != 95 || l.MaxPowerW.Or(0) != 300 {
		t.Errorf("config defaults not used: %+v", l)
	}
	if l.TotalMemoryMiB.IsAvailable() {
		t.Error("total memory should be unknown without readings or config")
	}

	s := snapshot(map[gpu.Kind]float64{gpu.TemperatureCritical: 90, gpu.PowerCap: 750})
	s.Device.VRAMBytes = 64 * 1024 * 1024 * 1024
	l = e.Limits(s)
	if l.MaxTemperatureC.Or(0) != 90 {
		t.Errorf("MaxTemperatureC = %v, want critical reading 90", l.MaxTemperatureC.Or(0))
	}
	if l.MaxPowerW.Or(0) != 750 {
		t.Errorf("MaxPowerW = %v, want cap 750", l.MaxPowerW.Or(0))
	}
	if l.TotalMemoryMiB.Or(0) != 65536 {
		t.Errorf("TotalMemoryMiB = %v, want device VRAM 65536", l.TotalMemoryMiB.Or(0))
	}

	s.Values[gpu.TemperatureEmergency] = gpu.Available(105)
	s.Values[gpu.MemoryTotal] = gpu.Available(32768)
	l = e.Limits(s)
	if l.MaxTemperatureC.Or(0) != 105 {
		t.Errorf("MaxTemperatureC = %v, want emergency reading 105", l.MaxTemperatureC.Or(0))
	}
	if l.TotalMemoryMiB.Or(0) != 32768 {
		t.Errorf("TotalMemoryMiB = %v, want memory.total reading", l.TotalMemoryMiB.Or(0))
	}
}

func TestHealth_Idempotent(t *testing.T) {
	e := newEngine(t)
	s := snapshot(map[gpu.Kind]float64{
		gpu.TemperatureCurrent: 88, gpu.TemperatureCritical: 90, gpu.TemperatureEmergency: 95,
		gpu.PowerCurrent: 728, gpu.PowerCap: 750,
		gpu.MemoryUsed: 188416, gpu.MemoryTotal: 196608,
		gpu.UtilizationGPU: 99, gpu.UtilizationMemory: 94.5,
	})

	first, err := json.Marshal(e.Health(s))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(e.Health(s))
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("assessment %d differs:\n%s\n%s", i, first, again)
		}
	}
}

func TestHealth_RecommendationOrder(t *testing.T) {
	e := newEngine(t)
	a := e.Health(snapshot(map[gpu.Kind]float64{
		gpu.TemperatureCurrent: 88, gpu.TemperatureCritical: 90, gpu.TemperatureEmergency: 95,
		gpu.PowerCurrent: 728, gpu.PowerCap: 750,
		gpu.MemoryUsed: 188416, gpu.MemoryTotal: 196608,
		gpu.UtilizationGPU: 99,
	}))

	if a.Status != StatusPoor {
		t.Errorf("Status = %v (score %.2f), want poor", a.Status, a.Score)
	}
	for i := 1; i < len(a.Recommendations); i++ {
		prev, cur := a.Recommendations[i-1], a.Recommendations[i]
		if severityRank(prev.Severity) > severityRank(cur.Severity) {
			t.Errorf("recommendation %d (%s) sorted after less severe %s", i, cur.Severity, prev.Severity)
		}
		if prev.Severity == cur.Severity && orderOf(prev.Component) > orderOf(cur.Component) {
			t.Errorf("recommendation %d component %s sorted after %s", i, cur.Component, prev.Component)
		}
	}

	var sawRule bool
	for _, r := range a.Recommendations {
		if r.Rule == "very-high-gpu-utilization" {
			sawRule = true
		}
		if r.Rule == "low-gpu-utilization" {
			t.Error("performance-only rule fired in health check")
		}
	}
	if !sawRule {
		t.Error("expected very-high-gpu-utilization advisory")
	}
}

func TestHealth_DemoFlag(t *testing.T) {
	e := newEngine(t)
	s := snapshot(nil)
	s.Demo = true
	if !e.Health(s).Demo {
		t.Error("demo flag not carried into assessment")
	}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NeutralScore = 120
	if _, err := NewEngine(cfg); err == nil {
		t.Error("expected error for neutral score outside [0,100]")
	}

	cfg = DefaultConfig()
	cfg.Rules = []Rule{{Name: "bad", Condition: "gpu.temperature >", Severity: SeverityInfo, Message: "x"}}
	if _, err := NewEngine(cfg); err == nil {
		t.Error("expected error for rule that does not compile")
	}
}
