// Package render formats tool results as plain text for MCP clients.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/scoring"
)

const na = "N/A"

// demoNotice is prepended to every report built from demo data.
const demoNotice = "Note: GPU driver unavailable, showing demo data."

type report struct {
	b strings.Builder
}

func (r *report) header(title string, level int) {
	if r.b.Len() > 0 {
		r.b.WriteString("\n")
	}
	switch level {
	case 1:
		fmt.Fprintf(&r.b, "%s\n%s\n", title, strings.Repeat("=", len([]rune(title))))
	default:
		fmt.Fprintf(&r.b, "%s\n%s\n", title, strings.Repeat("-", len([]rune(title))))
	}
}

func (r *report) line(format string, args ...any) {
	fmt.Fprintf(&r.b, format, args...)
	r.b.WriteString("\n")
}

func (r *report) bullets(title string, items []string) {
	if len(items) == 0 {
		return
	}
	r.header(title, 2)
	for _, item := range items {
		r.line("- %s", item)
	}
}

func (r *report) recommendations(recs []scoring.Recommendation) {
	items := make([]string, len(recs))
	for i, rec := range recs {
		items[i] = fmt.Sprintf("[%s] %s", rec.Severity, rec.Message)
	}
	r.bullets("Recommendations", items)
}

func (r *report) String() string {
	return r.b.String()
}

func begin(title string, demo bool) *report {
	r := &report{}
	if demo {
		r.line("%s", demoNotice)
		r.line("")
	}
	r.header(title, 1)
	return r
}

// HealthScore formats a score with its status label.
func HealthScore(score float64, status scoring.Status) string {
	label := string(status)
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return fmt.Sprintf("%.1f/100 (%s)", score, label)
}

// Number formats an optional reading.
func Number(v gpu.Value, format string) string {
	f, ok := v.Get()
	if !ok {
		return na
	}
	return fmt.Sprintf(format, f)
}

// Temperature formats the current temperature and its critical margin.
func Temperature(current, critical gpu.Value) string {
	t, ok := current.Get()
	if !ok {
		return "Temperature: " + na
	}
	s := fmt.Sprintf("Temperature: %.1f°C", t)
	if c, ok := critical.Get(); ok && c > 0 {
		s += fmt.Sprintf(" (Critical: %.0f°C, Margin: %.1f°C)", c, c-t)
	}
	switch {
	case t > 90:
		s += " - Critical"
	case t > 80:
		s += " - High"
	case t > 70:
		s += " - Warm"
	default:
		s += " - Normal"
	}
	return s
}

// Power formats power draw against the cap.
func Power(current, capW gpu.Value) string {
	p, ok := current.Get()
	if !ok {
		return "Power: " + na
	}
	s := fmt.Sprintf("Power: %.1fW", p)
	if c, ok := capW.Get(); ok && c > 0 {
		pct := p / c * 100
		s += fmt.Sprintf(" / %.0fW (%.1f%%)", c, pct)
		switch {
		case pct > 95:
			s += " - Very High"
		case pct > 85:
			s += " - High"
		case pct > 80:
			s += " - Elevated"
		default:
			s += " - Normal"
		}
	}
	return s
}

// Memory formats VRAM usage in GiB.
func Memory(used, total gpu.Value) string {
	u, okU := used.Get()
	t, okT := total.Get()
	if !okU || !okT || t <= 0 {
		return "Memory: " + na
	}
	pct := u / t * 100
	s := fmt.Sprintf("Memory: %.1fGB / %.1fGB (%.1f%%)", u/1024, t/1024, pct)
	switch {
	case pct > 95:
		s += " - Critical"
	case pct > 90:
		s += " - High"
	case pct > 75:
		s += " - Moderate"
	default:
		s += " - Normal"
	}
	return s
}

// Utilization formats GPU and memory controller busy percentages.
func Utilization(gpuUtil, memUtil gpu.Value) string {
	g, ok := gpuUtil.Get()
	if !ok {
		return "Utilization: " + na
	}
	s := fmt.Sprintf("Utilization: GPU %.1f%%, Memory %s", g, Number(memUtil, "%.1f%%"))
	switch {
	case g >= 95:
		s += " - Very High"
	case g > 80:
		s += " - High"
	case g > 50:
		s += " - Moderate"
	case g > 20:
		s += " - Low"
	default:
		s += " - Idle"
	}
	return s
}

// Clocks formats the shader, memory and fabric clocks that are present.
func Clocks(sclk, mclk, fclk gpu.Value) string {
	var parts []string
	if v, ok := sclk.Get(); ok {
		parts = append(parts, fmt.Sprintf("GPU %.0fMHz", v))
	}
	if v, ok := mclk.Get(); ok {
		parts = append(parts, fmt.Sprintf("Memory %.0fMHz", v))
	}
	if v, ok := fclk.Get(); ok {
		parts = append(parts, fmt.Sprintf("Fabric %.0fMHz", v))
	}
	if len(parts) == 0 {
		return "Clock Speeds: " + na
	}
	return "Clock Speeds: " + strings.Join(parts, ", ")
}

// Fan formats fan duty cycle and speed.
func Fan(percent, rpm gpu.Value) string {
	p, okP := percent.Get()
	r, okR := rpm.Get()
	switch {
	case okP && okR:
		return fmt.Sprintf("Fan: %.0f%% (%.0f RPM)", p, r)
	case okP:
		return fmt.Sprintf("Fan: %.0f%%", p)
	case okR:
		return fmt.Sprintf("Fan: %.0f RPM", r)
	}
	return "Fan: " + na
}

func deviceLine(d gpu.Device) string {
	s := fmt.Sprintf("Device %s: %s", d.ID, d.Name)
	if d.DriverVersion != "" {
		s += fmt.Sprintf(" (Driver: %s)", d.DriverVersion)
	}
	return s
}

// Discovery lists discovered devices.
func Discovery(inv *gpu.Inventory) string {
	r := begin("GPU Discovery", inv.Demo)
	if len(inv.Devices) == 0 {
		r.line("No GPUs found.")
		return r.String()
	}
	r.line("Found %d GPU(s)", len(inv.Devices))
	for _, d := range inv.Devices {
		r.header(deviceLine(d), 2)
		if d.PCIBusID != "" {
			r.line("PCI Bus: %s", d.PCIBusID)
		}
		if d.UUID != "" {
			r.line("UUID: %s", d.UUID)
		}
		if d.ASICFamily != "" {
			r.line("Family: %s", d.ASICFamily)
		}
		if d.VBIOSVersion != "" {
			r.line("VBIOS: %s", d.VBIOSVersion)
		}
		if d.VRAMBytes > 0 {
			r.line("VRAM: %.1fGB", d.VRAMMiB()/1024)
		}
	}
	return r.String()
}

// Status renders a full snapshot with the overall health score.
func Status(snap *gpu.Snapshot, a *scoring.Assessment) string {
	r := begin("GPU Status", snap.Demo)
	r.line("%s", deviceLine(snap.Device))
	r.line("Timestamp: %s", snap.Timestamp.UTC().Format(time.RFC3339))
	r.line("Health Score: %s", HealthScore(a.Score, a.Status))

	r.header("Metrics", 2)
	r.line("%s", Temperature(snap.Get(gpu.TemperatureCurrent), a.Limits.MaxTemperatureC))
	r.line("%s", Power(snap.Get(gpu.PowerCurrent), a.Limits.MaxPowerW))
	r.line("%s", Utilization(snap.Get(gpu.UtilizationGPU), snap.Get(gpu.UtilizationMemory)))
	r.line("%s", Memory(snap.Get(gpu.MemoryUsed), a.Limits.TotalMemoryMiB))
	r.line("%s", Clocks(snap.Get(gpu.ClockSystem), snap.Get(gpu.ClockMemory), snap.Get(gpu.ClockFabric)))
	r.line("%s", Fan(snap.Get(gpu.FanPercent), snap.Get(gpu.FanRPM)))

	r.recommendations(a.Recommendations)
	return r.String()
}

// Health renders the health check with its component breakdown.
func Health(dev gpu.Device, a *scoring.Assessment) string {
	r := begin("GPU Health Check", a.Demo)
	r.line("%s", deviceLine(dev))
	r.line("Overall Health: %s", HealthScore(a.Score, a.Status))

	r.header("Components", 2)
	for _, cs := range a.Components {
		if !cs.Available {
			r.line("%-12s %5.1f (no reading)", cs.Component, cs.Score)
			continue
		}
		r.line("%-12s %5.1f (%.0f%% of limit)", cs.Component, cs.Score, cs.Ratio.Or(0)*100)
	}

	var issues []string
	for _, rec := range a.Recommendations {
		if rec.Severity != scoring.SeverityInfo && rec.Rule == "" {
			issues = append(issues, rec.Message)
		}
	}
	r.bullets("Issues Detected", issues)
	r.recommendations(a.Recommendations)
	if len(a.Recommendations) == 0 {
		r.line("")
		r.line("No issues detected.")
	}
	return r.String()
}

// Performance renders the performance report.
func Performance(dev gpu.Device, p *scoring.PerformanceReport) string {
	r := begin("GPU Performance", p.Demo)
	r.line("%s", deviceLine(dev))
	r.line("Efficiency Score: %.1f/100", p.Efficiency)
	r.line("Bottleneck: %s", p.Bottleneck)

	r.header("Utilization", 2)
	r.line("%s", Utilization(p.GPUUtilization, p.MemoryUtilization))
	r.line("Balance Score: %s", Number(p.Balance, "%.1f/100"))
	r.line("%s", Clocks(p.ClockSystemMHz, p.ClockMemoryMHz, p.ClockFabricMHz))
	r.line("Power: %s", Number(p.PowerW, "%.1fW"))

	r.recommendations(p.Recommendations)
	return r.String()
}

// MemoryReport renders the VRAM analysis.
func MemoryReport(dev gpu.Device, m *scoring.MemoryReport) string {
	r := begin("GPU Memory Analysis", m.Demo)
	r.line("%s", deviceLine(dev))
	r.line("%s", Memory(m.UsedMiB, m.TotalMiB))
	r.line("Free: %s", Number(m.FreeMiB, "%.0f MiB"))
	r.line("Memory Controller Busy: %s", Number(m.MemoryBusy, "%.1f%%"))
	r.line("Health: %s", m.Health)
	r.line("Usage Pattern: %s", m.Pattern)
	r.line("Efficiency Score: %s", Number(m.Efficiency, "%.1f/100"))

	r.recommendations(m.Recommendations)
	return r.String()
}

// PowerThermal renders the power and thermal report.
func PowerThermal(dev gpu.Device, p *scoring.PowerThermalReport) string {
	r := begin("GPU Power & Thermal", p.Demo)
	r.line("%s", deviceLine(dev))
	r.line("Power/Thermal Score: %.1f/100", p.Score)

	r.header("Thermal", 2)
	r.line("%s", Temperature(p.TemperatureC, p.CriticalC))
	r.line("Emergency: %s", Number(p.EmergencyC, "%.0f°C"))
	r.line("Thermal Efficiency: %s", Number(p.ThermalEfficiency, "%.1f/100"))
	r.line("%s", Fan(p.FanPercent, p.FanRPM))

	r.header("Power", 2)
	r.line("%s", Power(p.PowerW, p.PowerCapW))

	r.bullets("Warnings", p.Warnings)
	r.recommendations(p.Recommendations)
	return r.String()
}
