package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/scoring"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
)

type staticStats session.Stats

func (s staticStats) Stats() session.Stats { return session.Stats(s) }

func newRegistry(t *testing.T, pm *PrometheusMetrics) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	registry.MustRegister(pm)
	return registry
}

func TestPrometheusMetrics_Sessions(t *testing.T) {
	pm := NewPrometheusMetrics(staticStats{Active: 2, Created: 5, Expired: 1, Terminated: 2}, gpu.ModeLive)
	registry := newRegistry(t, pm)

	expected := `
# HELP mcp_amdsmi_sessions_active Number of live sessions
# TYPE mcp_amdsmi_sessions_active gauge
mcp_amdsmi_sessions_active 2
# HELP mcp_amdsmi_sessions_created_total Total number of sessions created
# TYPE mcp_amdsmi_sessions_created_total counter
mcp_amdsmi_sessions_created_total 5
`
	err := testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"mcp_amdsmi_sessions_active", "mcp_amdsmi_sessions_created_total")
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestPrometheusMetrics_RegistryStats(t *testing.T) {
	reg := session.NewRegistry(session.DefaultConfig(), nil)
	reg.Create(session.ClientInfo{Name: "test"})
	s := reg.Create(session.ClientInfo{Name: "test"})
	reg.Terminate(s.ID)

	registry := newRegistry(t, NewPrometheusMetrics(reg, gpu.ModeDemo))

	expected := `
# HELP mcp_amdsmi_sessions_active Number of live sessions
# TYPE mcp_amdsmi_sessions_active gauge
mcp_amdsmi_sessions_active 1
# HELP mcp_amdsmi_sessions_terminated_total Total number of sessions terminated by clients
# TYPE mcp_amdsmi_sessions_terminated_total counter
mcp_amdsmi_sessions_terminated_total 1
`
	err := testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"mcp_amdsmi_sessions_active", "mcp_amdsmi_sessions_terminated_total")
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestPrometheusMetrics_NilSessions(t *testing.T) {
	registry := newRegistry(t, NewPrometheusMetrics(nil, gpu.ModeDemo))

	count, err := testutil.GatherAndCount(registry, "mcp_amdsmi_sessions_active")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 0 {
		t.Errorf("sessions_active count = %d, want 0", count)
	}

	count, err = testutil.GatherAndCount(registry, "mcp_amdsmi_source_info")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 1 {
		t.Errorf("source_info count = %d, want 1", count)
	}
}

func TestPrometheusMetrics_ToolCalled(t *testing.T) {
	pm := NewPrometheusMetrics(nil, gpu.ModeAuto)
	registry := newRegistry(t, pm)

	pm.ToolCalled("check_gpu_health", "ok", 3*time.Millisecond, false)
	pm.ToolCalled("check_gpu_health", "ok", 2*time.Millisecond, true)
	pm.ToolCalled("check_gpu_health", "device_not_found", time.Millisecond, false)
	pm.ToolCalled("overclock", "unknown_tool", 0, false)

	if got := testutil.ToFloat64(pm.toolCalls.WithLabelValues("check_gpu_health", "ok")); got != 2 {
		t.Errorf("ok calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pm.demoResponses.WithLabelValues("check_gpu_health")); got != 1 {
		t.Errorf("demo responses = %v, want 1", got)
	}

	count, err := testutil.GatherAndCount(registry, "mcp_amdsmi_tool_calls_total")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 3 {
		t.Errorf("tool_calls_total series = %d, want 3", count)
	}

	// Zero-duration calls are not observed.
	count, err = testutil.GatherAndCount(registry, "mcp_amdsmi_tool_call_duration_seconds")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 1 {
		t.Errorf("duration series = %d, want 1", count)
	}
}

func TestPrometheusMetrics_Assessed(t *testing.T) {
	pm := NewPrometheusMetrics(nil, gpu.ModeLive)
	registry := newRegistry(t, pm)

	pm.Assessed("0", &scoring.Assessment{
		Score:  72.5,
		Status: scoring.StatusGood,
		Components: []scoring.ComponentScore{
			{Component: scoring.Thermal, Score: 60, Available: true},
			{Component: scoring.Fan, Score: 80, Available: false},
		},
	})
	pm.Assessed("0", &scoring.Assessment{
		Score:  40,
		Status: scoring.StatusPoor,
		Components: []scoring.ComponentScore{
			{Component: scoring.Thermal, Score: 20, Available: true},
		},
	})
	pm.Assessed("1", nil)

	count, err := testutil.GatherAndCount(registry, "mcp_amdsmi_gpu_health_score")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 1 {
		t.Errorf("health score series = %d, want 1 (status label replaced)", count)
	}
	if got := testutil.ToFloat64(pm.healthScore.WithLabelValues("0", "poor")); got != 40 {
		t.Errorf("health score = %v, want 40", got)
	}

	count, err = testutil.GatherAndCount(registry, "mcp_amdsmi_gpu_component_score")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 1 {
		t.Errorf("component series = %d, want 1 (unavailable fan skipped)", count)
	}
}
