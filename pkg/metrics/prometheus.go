// Package metrics exposes server metrics in Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/scoring"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
)

const namespace = "mcp_amdsmi"

// SessionStats reports session registry counters.
type SessionStats interface {
	Stats() session.Stats
}

// PrometheusMetrics collects session, tool and health metrics. It
// implements prometheus.Collector and the tool dispatcher's Observer.
type PrometheusMetrics struct {
	sessions SessionStats

	// Session metrics, read from the registry at scrape time
	sessionsActive     *prometheus.Desc
	sessionsCreated    *prometheus.Desc
	sessionsExpired    *prometheus.Desc
	sessionsTerminated *prometheus.Desc

	sourceInfo *prometheus.GaugeVec

	// Tool metrics
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	demoResponses *prometheus.CounterVec

	// Health metrics
	healthScore    *prometheus.GaugeVec
	componentScore *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance. sessions
// may be nil when the server runs without a session registry (stdio).
func NewPrometheusMetrics(sessions SessionStats, mode gpu.Mode) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		sessions: sessions,
		sessionsActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_active"),
			"Number of live sessions",
			nil, nil,
		),
		sessionsCreated: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_created_total"),
			"Total number of sessions created",
			nil, nil,
		),
		sessionsExpired: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_expired_total"),
			"Total number of sessions removed after their timeout",
			nil, nil,
		),
		sessionsTerminated: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_terminated_total"),
			"Total number of sessions terminated by clients",
			nil, nil,
		),
		sourceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "source_info",
				Help:      "Configured metric source mode (always 1)",
			},
			[]string{"mode"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Tool call latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"tool"},
		),
		demoResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "demo_responses_total",
				Help:      "Total number of tool responses served from demo data",
			},
			[]string{"tool"},
		),
		healthScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gpu_health_score",
				Help:      "Last overall health score computed for each device (0-100)",
			},
			[]string{"device", "status"},
		),
		componentScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gpu_component_score",
				Help:      "Last component score computed for each device (0-100)",
			},
			[]string{"device", "component"},
		),
	}

	if mode == "" {
		mode = gpu.ModeAuto
	}
	pm.sourceInfo.WithLabelValues(string(mode)).Set(1)

	return pm
}

// Describe implements prometheus.Collector.
func (pm *PrometheusMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- pm.sessionsActive
	ch <- pm.sessionsCreated
	ch <- pm.sessionsExpired
	ch <- pm.sessionsTerminated
	pm.sourceInfo.Describe(ch)
	pm.toolCalls.Describe(ch)
	pm.toolDuration.Describe(ch)
	pm.demoResponses.Describe(ch)
	pm.healthScore.Describe(ch)
	pm.componentScore.Describe(ch)
}

// Collect implements prometheus.Collector and reads session counters from
// the registry.
func (pm *PrometheusMetrics) Collect(ch chan<- prometheus.Metric) {
	pm.collectSessionMetrics(ch)

	pm.sourceInfo.Collect(ch)
	pm.toolCalls.Collect(ch)
	pm.toolDuration.Collect(ch)
	pm.demoResponses.Collect(ch)
	pm.healthScore.Collect(ch)
	pm.componentScore.Collect(ch)
}

func (pm *PrometheusMetrics) collectSessionMetrics(ch chan<- prometheus.Metric) {
	if pm.sessions == nil {
		return
	}
	stats := pm.sessions.Stats()
	ch <- prometheus.MustNewConstMetric(pm.sessionsActive, prometheus.GaugeValue, float64(stats.Active))
	ch <- prometheus.MustNewConstMetric(pm.sessionsCreated, prometheus.CounterValue, float64(stats.Created))
	ch <- prometheus.MustNewConstMetric(pm.sessionsExpired, prometheus.CounterValue, float64(stats.Expired))
	ch <- prometheus.MustNewConstMetric(pm.sessionsTerminated, prometheus.CounterValue, float64(stats.Terminated))
}

// ToolCalled records a finished tool call.
func (pm *PrometheusMetrics) ToolCalled(tool, outcome string, elapsed time.Duration, demo bool) {
	pm.toolCalls.WithLabelValues(tool, outcome).Inc()
	if elapsed > 0 {
		pm.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
	if demo {
		pm.demoResponses.WithLabelValues(tool).Inc()
	}
}

// Assessed records the latest assessment for a device.
func (pm *PrometheusMetrics) Assessed(deviceID string, a *scoring.Assessment) {
	if a == nil {
		return
	}

	pm.healthScore.DeletePartialMatch(prometheus.Labels{"device": deviceID})
	pm.healthScore.WithLabelValues(deviceID, string(a.Status)).Set(a.Score)

	for _, cs := range a.Components {
		if !cs.Available {
			pm.componentScore.DeleteLabelValues(deviceID, string(cs.Component))
			continue
		}
		pm.componentScore.WithLabelValues(deviceID, string(cs.Component)).Set(cs.Score)
	}
}
