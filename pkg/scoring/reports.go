package scoring

import (
	"fmt"
	"math"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
)

// Bottleneck classifies what limits a device's throughput.
type Bottleneck string

const (
	BottleneckIdle     Bottleneck = "idle"
	BottleneckCompute  Bottleneck = "compute-bound"
	BottleneckMemory   Bottleneck = "memory-bound"
	BottleneckPower    Bottleneck = "power-limited"
	BottleneckThermal  Bottleneck = "thermal-limited"
	BottleneckBalanced Bottleneck = "balanced"
	BottleneckUnknown  Bottleneck = "unknown"
)

// PerformanceReport is the utilization-focused assessment.
type PerformanceReport struct {
	GPUUtilization    gpu.Value        `json:"gpu_utilization"`
	MemoryUtilization gpu.Value        `json:"memory_utilization"`
	ClockSystemMHz    gpu.Value        `json:"sclk_mhz"`
	ClockMemoryMHz    gpu.Value        `json:"mclk_mhz"`
	ClockFabricMHz    gpu.Value        `json:"fclk_mhz"`
	PowerW            gpu.Value        `json:"power_w"`
	Efficiency        float64          `json:"efficiency_score"`
	Balance           gpu.Value        `json:"balance_score"`
	Bottleneck        Bottleneck       `json:"bottleneck"`
	Utilization       ComponentScore   `json:"utilization"`
	Recommendations   []Recommendation `json:"recommendations"`
	Demo              bool             `json:"demo"`
}

// Performance analyzes utilization, clocks and power efficiency.
func (e *Engine) Performance(snap *gpu.Snapshot) *PerformanceReport {
	limits := e.Limits(snap)
	gpuUtil := snap.Get(gpu.UtilizationGPU)
	memUtil := snap.Get(gpu.UtilizationMemory)

	r := &PerformanceReport{
		GPUUtilization:    gpuUtil,
		MemoryUtilization: memUtil,
		ClockSystemMHz:    snap.Get(gpu.ClockSystem),
		ClockMemoryMHz:    snap.Get(gpu.ClockMemory),
		ClockFabricMHz:    snap.Get(gpu.ClockFabric),
		PowerW:            powerReading(snap),
		Balance:           balance(gpuUtil, memUtil),
		Utilization:       e.Utilization(snap),
		Demo:              snap != nil && snap.Demo,
	}
	r.Efficiency = e.efficiency(snap, limits)
	r.Bottleneck = e.bottleneck(snap, limits)

	recs := e.thresholdRecommendations([]ComponentScore{r.Utilization})
	recs = append(recs, e.rules.Evaluate("performance", e.vars(snap))...)
	r.Recommendations = sortRecommendations(recs)
	return r
}

// balance is 100 when GPU and memory utilization match, falling by one
// point per percentage point of difference.
func balance(gpuUtil, memUtil gpu.Value) gpu.Value {
	g, okG := gpuUtil.Get()
	m, okM := memUtil.Get()
	if !okG || !okM {
		return gpu.NotAvailable()
	}
	if g == 0 && m == 0 {
		return gpu.Available(0)
	}
	return gpu.Available(math.Max(0, 100-math.Abs(g-m)))
}

// efficiency averages the utilization, memory, power and clock efficiency
// scores that can be computed. With none it is the neutral score.
func (e *Engine) efficiency(snap *gpu.Snapshot, limits RatedLimits) float64 {
	var scores []float64

	if g, ok := snap.Get(gpu.UtilizationGPU).Get(); ok {
		avg := g
		if m, ok := snap.Get(gpu.UtilizationMemory).Get(); ok {
			avg = (g + m) / 2
		}
		scores = append(scores, utilizationEfficiency(avg))
	}

	if used, ok := snap.Get(gpu.MemoryUsed).Get(); ok {
		if total, ok := limits.TotalMemoryMiB.Get(); ok && total > 0 {
			scores = append(scores, memoryEfficiency(used/total))
		}
	}

	if p, ok := powerReading(snap).Get(); ok {
		capW, okC := limits.MaxPowerW.Get()
		g, okG := snap.Get(gpu.UtilizationGPU).Get()
		if okC && okG && capW > 0 && g > 0 && p > 0 {
			// Utilization delivered per percent of the power budget.
			scores = append(scores, math.Min(100, g/(p/capW*100)*100))
		}
	}

	sclk, okS := snap.Get(gpu.ClockSystem).Get()
	mclk, okM := snap.Get(gpu.ClockMemory).Get()
	if okS && okM {
		switch {
		case sclk > 1000 && mclk > 1000:
			scores = append(scores, 90)
		case sclk > 500 && mclk > 500:
			scores = append(scores, 70)
		default:
			scores = append(scores, 50)
		}
	}

	if len(scores) == 0 {
		return e.config.NeutralScore
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return clamp(sum / float64(len(scores)))
}

func utilizationEfficiency(avg float64) float64 {
	switch {
	case avg > 80:
		return 100
	case avg > 60:
		return 80 + 20*(avg-60)/20
	default:
		return 60 * avg / 60
	}
}

// memoryEfficiency is highest for moderate usage.
func memoryEfficiency(ratio float64) float64 {
	switch {
	case ratio >= 0.4 && ratio <= 0.8:
		return 100
	case ratio < 0.4:
		return 50 + 50*ratio/0.4
	default:
		return clamp(100 - 50*(ratio-0.8)/0.2)
	}
}

func (e *Engine) bottleneck(snap *gpu.Snapshot, limits RatedLimits) Bottleneck {
	g, ok := snap.Get(gpu.UtilizationGPU).Get()
	if !ok {
		return BottleneckUnknown
	}
	m, okM := snap.Get(gpu.UtilizationMemory).Get()

	if t, ok := snap.Get(gpu.TemperatureCurrent).Get(); ok {
		if maxT, ok := limits.MaxTemperatureC.Get(); ok && t/maxT >= 0.95 {
			return BottleneckThermal
		}
	}
	if p, ok := powerReading(snap).Get(); ok {
		if capW, ok := limits.MaxPowerW.Get(); ok && p/capW >= 0.95 {
			return BottleneckPower
		}
	}
	if g < 10 && (!okM || m < 10) {
		return BottleneckIdle
	}
	if used, ok := snap.Get(gpu.MemoryUsed).Get(); ok {
		if total, ok := limits.TotalMemoryMiB.Get(); ok && used/total >= 0.95 {
			return BottleneckMemory
		}
	}
	if okM && m >= 80 && m-g >= 15 {
		return BottleneckMemory
	}
	if g >= 80 && (!okM || g-m >= 15) {
		return BottleneckCompute
	}
	return BottleneckBalanced
}

// MemoryHealth labels VRAM usage.
type MemoryHealth string

const (
	MemoryHealthy  MemoryHealth = "healthy"
	MemoryModerate MemoryHealth = "moderate"
	MemoryHigh     MemoryHealth = "high"
	MemoryCritical MemoryHealth = "critical"
	MemoryUnknown  MemoryHealth = "unknown"
)

// UsagePattern classifies how a workload uses VRAM.
type UsagePattern string

const (
	PatternUnderutilized UsagePattern = "underutilized"
	PatternBalanced      UsagePattern = "balanced"
	PatternHigh          UsagePattern = "high"
	PatternSaturated     UsagePattern = "saturated"
	PatternUnknown       UsagePattern = "unknown"
)

// MemoryReport is the VRAM usage assessment.
type MemoryReport struct {
	UsedMiB         gpu.Value        `json:"used_mib"`
	TotalMiB        gpu.Value        `json:"total_mib"`
	FreeMiB         gpu.Value        `json:"free_mib"`
	UsageRatio      gpu.Value        `json:"usage_ratio"`
	MemoryBusy      gpu.Value        `json:"memory_busy_percent"`
	Efficiency      gpu.Value        `json:"efficiency_score"`
	Health          MemoryHealth     `json:"health"`
	Pattern         UsagePattern     `json:"pattern"`
	Memory          ComponentScore   `json:"memory"`
	Recommendations []Recommendation `json:"recommendations"`
	Demo            bool             `json:"demo"`
}

// MemoryAnalysis analyzes VRAM usage.
func (e *Engine) MemoryAnalysis(snap *gpu.Snapshot) *MemoryReport {
	limits := e.Limits(snap)
	cs := e.Memory(snap)

	r := &MemoryReport{
		UsedMiB:    snap.Get(gpu.MemoryUsed),
		TotalMiB:   limits.TotalMemoryMiB,
		FreeMiB:    snap.Get(gpu.MemoryFree),
		UsageRatio: cs.Ratio,
		MemoryBusy: snap.Get(gpu.UtilizationMemory),
		Health:     MemoryUnknown,
		Pattern:    PatternUnknown,
		Memory:     cs,
		Demo:       snap != nil && snap.Demo,
	}

	if !r.FreeMiB.IsAvailable() {
		used, okU := r.UsedMiB.Get()
		total, okT := r.TotalMiB.Get()
		if okU && okT {
			r.FreeMiB = gpu.Available(math.Max(0, total-used))
		}
	}

	if ratio, ok := cs.Ratio.Get(); ok {
		r.Efficiency = gpu.Available(memoryEfficiency(ratio))
		r.Health = memoryHealth(ratio)
		r.Pattern = usagePattern(ratio)
	}

	recs := e.thresholdRecommendations([]ComponentScore{cs})
	recs = append(recs, e.rules.Evaluate("memory_analysis", e.vars(snap))...)
	r.Recommendations = sortRecommendations(recs)
	return r
}

func memoryHealth(ratio float64) MemoryHealth {
	switch {
	case ratio < 0.75:
		return MemoryHealthy
	case ratio < 0.85:
		return MemoryModerate
	case ratio < 0.95:
		return MemoryHigh
	default:
		return MemoryCritical
	}
}

func usagePattern(ratio float64) UsagePattern {
	switch {
	case ratio < 0.3:
		return PatternUnderutilized
	case ratio < 0.8:
		return PatternBalanced
	case ratio < 0.95:
		return PatternHigh
	default:
		return PatternSaturated
	}
}

// PowerThermalReport is the combined power and thermal assessment.
type PowerThermalReport struct {
	TemperatureC      gpu.Value        `json:"temperature_c"`
	CriticalC         gpu.Value        `json:"critical_c"`
	EmergencyC        gpu.Value        `json:"emergency_c"`
	ThermalMarginC    gpu.Value        `json:"thermal_margin_c"`
	ThermalEfficiency gpu.Value        `json:"thermal_efficiency"`
	PowerW            gpu.Value        `json:"power_w"`
	PowerCapW         gpu.Value        `json:"power_cap_w"`
	PowerRatio        gpu.Value        `json:"power_ratio"`
	FanRPM            gpu.Value        `json:"fan_rpm"`
	FanPercent        gpu.Value        `json:"fan_percent"`
	Score             float64          `json:"score"`
	Thermal           ComponentScore   `json:"thermal"`
	Power             ComponentScore   `json:"power"`
	Warnings          []string         `json:"warnings"`
	Recommendations   []Recommendation `json:"recommendations"`
	Demo              bool             `json:"demo"`
}

// PowerThermal analyzes power draw and temperature together.
func (e *Engine) PowerThermal(snap *gpu.Snapshot) *PowerThermalReport {
	limits := e.Limits(snap)
	thermal := e.Thermal(snap)
	power := e.Power(snap)

	r := &PowerThermalReport{
		TemperatureC: snap.Get(gpu.TemperatureCurrent),
		CriticalC:    firstPositive(snap.Get(gpu.TemperatureCritical), limits.MaxTemperatureC),
		EmergencyC:   snap.Get(gpu.TemperatureEmergency),
		PowerW:       power.Reading,
		PowerCapW:    limits.MaxPowerW,
		PowerRatio:   power.Ratio,
		FanRPM:       snap.Get(gpu.FanRPM),
		FanPercent:   snap.Get(gpu.FanPercent),
		Thermal:      thermal,
		Power:        power,
		Warnings:     []string{},
		Demo:         snap != nil && snap.Demo,
	}
	r.Score = e.Overall([]ComponentScore{thermal, power})

	t, okT := r.TemperatureC.Get()
	crit, okC := r.CriticalC.Get()
	if okT && okC {
		r.ThermalMarginC = gpu.Available(crit - t)
		r.ThermalEfficiency = gpu.Available(thermalEfficiency(t / crit))
	}

	if ratio, ok := thermal.Ratio.Get(); ok {
		limit := thermal.Limit.Or(0)
		switch {
		case ratio > 0.95:
			r.Warnings = append(r.Warnings, fmt.Sprintf("Critical temperature: %.1f°C (%.0f%% of %.0f°C limit)", t, ratio*100, limit))
		case ratio > 0.85:
			r.Warnings = append(r.Warnings, fmt.Sprintf("High temperature: %.1f°C (%.0f%% of %.0f°C limit)", t, ratio*100, limit))
		}
	}
	if ratio, ok := power.Ratio.Get(); ok && ratio > 0.95 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("High power consumption: %.1fW (%.1f%% of cap)", power.Reading.Or(0), ratio*100))
	}

	recs := e.thresholdRecommendations([]ComponentScore{thermal, power})
	recs = append(recs, e.rules.Evaluate("power_thermal", e.vars(snap))...)
	r.Recommendations = sortRecommendations(recs)
	return r
}

// thermalEfficiency is 100 below 70% of the critical temperature, 50 at
// 90% and 0 at the critical temperature.
func thermalEfficiency(ratio float64) float64 {
	switch {
	case ratio < 0.7:
		return 100
	case ratio < 0.9:
		return 100 - 50*(ratio-0.7)/0.2
	default:
		return clamp(50 - 50*(ratio-0.9)/0.1)
	}
}
