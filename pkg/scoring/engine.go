// Package scoring turns raw GPU readings into bounded health and
// performance scores with recommendations.
//
// The engine is stateless: every function is a pure transform of a
// snapshot and the configured policy, so identical inputs always produce
// identical assessments. Missing readings never fail a computation; a
// component without a reading reports the neutral score and is left out
// of the weighted average.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
)

// Component is one dimension of device health.
type Component string

const (
	Thermal     Component = "thermal"
	Power       Component = "power"
	Memory      Component = "memory"
	Utilization Component = "utilization"
	Fan         Component = "fan"
)

var components = []Component{Thermal, Power, Memory, Utilization, Fan}

// Components returns all components in display order.
func Components() []Component {
	out := make([]Component, len(components))
	copy(out, components)
	return out
}

func componentRank(c Component) int {
	for i, known := range components {
		if known == c {
			return i
		}
	}
	return -1
}

// Severity of a recommendation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities most severe first; -1 for unknown.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	}
	return -1
}

// Status is the label of an overall score.
type Status string

const (
	StatusExcellent Status = "excellent"
	StatusGood      Status = "good"
	StatusModerate  Status = "moderate"
	StatusPoor      Status = "poor"
	StatusCritical  Status = "critical"
)

// Recommendation is an actionable message attached to an assessment.
type Recommendation struct {
	Severity  Severity  `json:"severity"`
	Component Component `json:"component,omitempty"`
	Rule      string    `json:"rule,omitempty"`
	Message   string    `json:"message"`
}

// ComponentScore is the score of one component. When Available is false
// the reading was missing and Score holds the neutral score.
type ComponentScore struct {
	Component Component `json:"component"`
	Score     float64   `json:"score"`
	Available bool      `json:"available"`
	Reading   gpu.Value `json:"reading"`
	Limit     gpu.Value `json:"limit"`
	Ratio     gpu.Value `json:"ratio"`
	Weight    float64   `json:"weight"`
}

// RatedLimits are the limits readings are scored against.
type RatedLimits struct {
	MaxTemperatureC gpu.Value `json:"max_temperature_c"`
	MaxPowerW       gpu.Value `json:"max_power_w"`
	TotalMemoryMiB  gpu.Value `json:"total_memory_mib"`
}

// Assessment is an overall score with its breakdown and recommendations.
type Assessment struct {
	Score           float64          `json:"score"`
	Status          Status           `json:"status"`
	Components      []ComponentScore `json:"components"`
	Limits          RatedLimits      `json:"limits"`
	Recommendations []Recommendation `json:"recommendations"`
	Demo            bool             `json:"demo"`
}

// Engine scores snapshots against a fixed policy.
type Engine struct {
	config Config
	rules  *RuleSet
}

// NewEngine validates cfg and compiles its advisory rules.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}

	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	rs, err := CompileRules(rules)
	if err != nil {
		return nil, err
	}

	return &Engine{config: cfg, rules: rs}, nil
}

// Config returns the engine's policy.
func (e *Engine) Config() Config {
	return e.config
}

// Limits resolves the rated limits for a snapshot. Device readings take
// precedence over configured defaults.
func (e *Engine) Limits(snap *gpu.Snapshot) RatedLimits {
	var l RatedLimits

	l.MaxTemperatureC = firstPositive(
		snap.Get(gpu.TemperatureEmergency),
		snap.Get(gpu.TemperatureCritical),
		gpu.Available(e.config.Limits.MaxTemperatureC),
	)
	l.MaxPowerW = firstPositive(
		snap.Get(gpu.PowerCap),
		gpu.Available(e.config.Limits.MaxPowerW),
	)

	var vram gpu.Value
	if snap != nil && snap.Device.VRAMBytes > 0 {
		vram = gpu.Available(snap.Device.VRAMMiB())
	}
	l.TotalMemoryMiB = firstPositive(
		snap.Get(gpu.MemoryTotal),
		vram,
		gpu.Available(e.config.Limits.TotalMemoryMiB),
	)
	return l
}

func firstPositive(values ...gpu.Value) gpu.Value {
	for _, v := range values {
		if f, ok := v.Get(); ok && f > 0 {
			return v
		}
	}
	return gpu.NotAvailable()
}

// powerReading prefers the instantaneous reading over the average.
func powerReading(snap *gpu.Snapshot) gpu.Value {
	if v := snap.Get(gpu.PowerCurrent); v.IsAvailable() {
		return v
	}
	return snap.Get(gpu.PowerAverage)
}

func (e *Engine) score(comp Component, reading, limit gpu.Value) ComponentScore {
	cs := ComponentScore{
		Component: comp,
		Score:     e.config.NeutralScore,
		Reading:   reading,
		Limit:     limit,
		Weight:    e.config.Weights.of(comp),
	}

	r, okR := reading.Get()
	l, okL := limit.Get()
	if !okR || !okL || l <= 0 {
		return cs
	}

	ratio := r / l
	cs.Ratio = gpu.Available(ratio)
	cs.Score = clamp(e.config.Curves.of(comp).Eval(ratio))
	cs.Available = true
	return cs
}

// Thermal scores the current temperature against the rated maximum.
func (e *Engine) Thermal(snap *gpu.Snapshot) ComponentScore {
	return e.score(Thermal, snap.Get(gpu.TemperatureCurrent), e.Limits(snap).MaxTemperatureC)
}

// Power scores power draw against the power cap.
func (e *Engine) Power(snap *gpu.Snapshot) ComponentScore {
	return e.score(Power, powerReading(snap), e.Limits(snap).MaxPowerW)
}

// Memory scores VRAM usage against total VRAM.
func (e *Engine) Memory(snap *gpu.Snapshot) ComponentScore {
	return e.score(Memory, snap.Get(gpu.MemoryUsed), e.Limits(snap).TotalMemoryMiB)
}

// Utilization scores GPU busy percentage. Higher is better.
func (e *Engine) Utilization(snap *gpu.Snapshot) ComponentScore {
	return e.score(Utilization, snap.Get(gpu.UtilizationGPU), gpu.Available(100))
}

// Fan scores fan duty cycle.
func (e *Engine) Fan(snap *gpu.Snapshot) ComponentScore {
	return e.score(Fan, snap.Get(gpu.FanPercent), gpu.Available(100))
}

// Breakdown scores every component in display order.
func (e *Engine) Breakdown(snap *gpu.Snapshot) []ComponentScore {
	return []ComponentScore{
		e.Thermal(snap),
		e.Power(snap),
		e.Memory(snap),
		e.Utilization(snap),
		e.Fan(snap),
	}
}

// Overall is the weighted mean of the available components, with weights
// renormalized over them. With nothing available it is the neutral score.
func (e *Engine) Overall(scores []ComponentScore) float64 {
	var sum, weight float64
	for _, cs := range scores {
		if !cs.Available || cs.Weight <= 0 {
			continue
		}
		sum += cs.Score * cs.Weight
		weight += cs.Weight
	}
	if weight == 0 {
		return e.config.NeutralScore
	}
	return clamp(sum / weight)
}

// Health produces the full assessment used by the health check.
func (e *Engine) Health(snap *gpu.Snapshot) *Assessment {
	return e.assess(snap, "health_check")
}

// Status produces the assessment shown alongside a status snapshot.
func (e *Engine) Status(snap *gpu.Snapshot) *Assessment {
	return e.assess(snap, "status")
}

func (e *Engine) assess(snap *gpu.Snapshot, tool string) *Assessment {
	breakdown := e.Breakdown(snap)
	score := e.Overall(breakdown)

	recs := e.thresholdRecommendations(breakdown)
	recs = append(recs, e.rules.Evaluate(tool, e.vars(snap))...)

	return &Assessment{
		Score:           score,
		Status:          e.config.status(score),
		Components:      breakdown,
		Limits:          e.Limits(snap),
		Recommendations: sortRecommendations(recs),
		Demo:            snap != nil && snap.Demo,
	}
}

// thresholdRecommendations flags components whose score fell below the
// configured thresholds.
func (e *Engine) thresholdRecommendations(scores []ComponentScore) []Recommendation {
	var recs []Recommendation
	for _, cs := range scores {
		if !cs.Available {
			continue
		}
		switch {
		case cs.Score < e.config.Recommend.CriticalBelow:
			recs = append(recs, Recommendation{
				Severity:  SeverityCritical,
				Component: cs.Component,
				Message:   componentMessage(cs, SeverityCritical, e.config.Recommend.CriticalBelow),
			})
		case cs.Score < e.config.Recommend.WarningBelow:
			recs = append(recs, Recommendation{
				Severity:  SeverityWarning,
				Component: cs.Component,
				Message:   componentMessage(cs, SeverityWarning, e.config.Recommend.WarningBelow),
			})
		}
	}
	return recs
}

func componentMessage(cs ComponentScore, sev Severity, threshold float64) string {
	r := cs.Reading.Or(0)
	l := cs.Limit.Or(0)
	pct := cs.Ratio.Or(0) * 100
	critical := sev == SeverityCritical

	var msg string
	switch cs.Component {
	case Thermal:
		msg = fmt.Sprintf("Temperature %.1f°C is %.0f%% of the %.0f°C limit", r, pct, l)
		if critical {
			msg += " - check cooling system and reduce workload immediately"
		} else {
			msg += " - monitor cooling system and consider workload optimization"
		}
	case Power:
		msg = fmt.Sprintf("Power draw %.1fW is %.0f%% of the %.0fW cap - consider reducing workload or optimizing power settings", r, pct, l)
	case Memory:
		msg = fmt.Sprintf("VRAM usage %.0f MiB is %.0f%% of %.0f MiB", r, pct, l)
		if critical {
			msg += " - free up memory or reduce batch size"
		} else {
			msg += " - monitor memory usage and consider optimization"
		}
	case Utilization:
		msg = fmt.Sprintf("GPU utilization %.1f%% is low - consider increasing workload", r)
	case Fan:
		msg = fmt.Sprintf("Fan speed %.0f%% is high - check airflow and cooling", r)
	default:
		msg = fmt.Sprintf("%s reading %.1f", cs.Component, r)
	}
	return fmt.Sprintf("%s (%s score %.1f below %.0f)", msg, cs.Component, cs.Score, threshold)
}

// sortRecommendations orders by severity, then component. Ties keep their
// order, which for rules is priority order.
func sortRecommendations(recs []Recommendation) []Recommendation {
	if recs == nil {
		return []Recommendation{}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		si, sj := severityRank(recs[i].Severity), severityRank(recs[j].Severity)
		if si != sj {
			return si < sj
		}
		return orderOf(recs[i].Component) < orderOf(recs[j].Component)
	})
	return recs
}

func orderOf(c Component) int {
	if r := componentRank(c); r >= 0 {
		return r
	}
	return len(components)
}

// vars builds the variables advisory rules see. Only available readings
// are included.
func (e *Engine) vars(snap *gpu.Snapshot) map[string]any {
	limits := e.Limits(snap)
	v := map[string]any{"demo": snap != nil && snap.Demo}

	put := func(key string, val gpu.Value) {
		if f, ok := val.Get(); ok {
			v[key] = f
		}
	}
	ratio := func(key string, num, den gpu.Value) {
		n, okN := num.Get()
		d, okD := den.Get()
		if okN && okD && d > 0 {
			v[key] = n / d
		}
	}

	temp := snap.Get(gpu.TemperatureCurrent)
	critical := firstPositive(snap.Get(gpu.TemperatureCritical), limits.MaxTemperatureC)
	put("temperature", temp)
	put("temperature_critical", critical)
	ratio("temperature_ratio", temp, limits.MaxTemperatureC)

	power := powerReading(snap)
	put("power", power)
	put("power_cap", limits.MaxPowerW)
	ratio("power_ratio", power, limits.MaxPowerW)

	put("gpu_util", snap.Get(gpu.UtilizationGPU))
	put("mem_util", snap.Get(gpu.UtilizationMemory))

	used := snap.Get(gpu.MemoryUsed)
	put("memory_used", used)
	put("memory_total", limits.TotalMemoryMiB)
	ratio("memory_ratio", used, limits.TotalMemoryMiB)

	put("sclk", snap.Get(gpu.ClockSystem))
	put("mclk", snap.Get(gpu.ClockMemory))
	put("fan_percent", snap.Get(gpu.FanPercent))
	return v
}

func clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(100, score))
}
