package scoring

// DefaultRules returns the built-in advisory rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "temperature-near-critical",
			Condition: `has(gpu.temperature) && has(gpu.temperature_critical) && gpu.temperature > gpu.temperature_critical * 0.9`,
			Severity:  SeverityWarning,
			Component: Thermal,
			Message:   "Temperature is approaching critical levels - check cooling system",
			Priority:  100,
			Tools:     []string{"power_thermal", "health_check"},
		},
		{
			Name: "temperature-high",
			Condition: `has(gpu.temperature) && has(gpu.temperature_critical) &&
				gpu.temperature > gpu.temperature_critical * 0.8 && gpu.temperature <= gpu.temperature_critical * 0.9`,
			Severity:  SeverityInfo,
			Component: Thermal,
			Message:   "Temperature is high - monitor cooling and consider workload optimization",
			Priority:  90,
			Tools:     []string{"power_thermal", "health_check"},
		},
		{
			Name:      "power-near-cap",
			Condition: `has(gpu.power_ratio) && gpu.power_ratio > 0.95`,
			Severity:  SeverityWarning,
			Component: Power,
			Message:   "Power draw is near the cap - consider reducing workload or optimizing power settings",
			Priority:  100,
			Tools:     []string{"power_thermal", "health_check"},
		},
		{
			Name:      "very-high-vram-usage",
			Condition: `has(gpu.memory_ratio) && gpu.memory_ratio > 0.9`,
			Severity:  SeverityWarning,
			Component: Memory,
			Message:   "Memory usage is very high - consider reducing batch size or optimizing memory usage",
			Priority:  100,
			Tools:     []string{"memory_analysis", "health_check"},
		},
		{
			Name:      "low-vram-usage",
			Condition: `has(gpu.memory_ratio) && gpu.memory_ratio < 0.3`,
			Severity:  SeverityInfo,
			Component: Memory,
			Message:   "Memory usage is low - consider increasing batch size or data size",
			Priority:  50,
			Tools:     []string{"memory_analysis"},
		},
		{
			Name:      "very-high-gpu-utilization",
			Condition: `has(gpu.gpu_util) && gpu.gpu_util > 95.0`,
			Severity:  SeverityWarning,
			Component: Utilization,
			Message:   "GPU utilization is very high - monitor for performance bottlenecks",
			Priority:  100,
			Tools:     []string{"performance", "health_check"},
		},
		{
			Name:      "low-gpu-utilization",
			Condition: `has(gpu.gpu_util) && gpu.gpu_util < 50.0`,
			Severity:  SeverityInfo,
			Component: Utilization,
			Message:   "GPU utilization is low - consider increasing workload",
			Priority:  50,
			Tools:     []string{"performance"},
		},
		{
			Name:      "very-high-memory-utilization",
			Condition: `has(gpu.mem_util) && gpu.mem_util > 90.0`,
			Severity:  SeverityWarning,
			Component: Utilization,
			Message:   "Memory utilization is very high - consider reducing batch size",
			Priority:  90,
			Tools:     []string{"performance"},
		},
		{
			Name:      "low-memory-utilization",
			Condition: `has(gpu.mem_util) && gpu.mem_util < 30.0`,
			Severity:  SeverityInfo,
			Component: Utilization,
			Message:   "Memory utilization is low - consider larger batch sizes",
			Priority:  40,
			Tools:     []string{"performance"},
		},
	}
}
