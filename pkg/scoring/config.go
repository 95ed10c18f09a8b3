package scoring

import (
	"fmt"
	"math"
)

// Point is one breakpoint of a Curve: the score at a given ratio of a
// reading to its rated limit.
type Point struct {
	At    float64 `yaml:"at" json:"at"`
	Score float64 `yaml:"score" json:"score"`
}

// Curve is a piecewise-linear mapping from ratio to score. Scores are
// interpolated between points and clamped to the end points outside them.
type Curve struct {
	Points []Point `yaml:"points" json:"points"`
}

// Eval returns the score for ratio x.
func (c Curve) Eval(x float64) float64 {
	pts := c.Points
	if len(pts) == 0 {
		return 0
	}
	if x <= pts[0].At {
		return pts[0].Score
	}
	for i := 1; i < len(pts); i++ {
		if x <= pts[i].At {
			lo, hi := pts[i-1], pts[i]
			t := (x - lo.At) / (hi.At - lo.At)
			return lo.Score + t*(hi.Score-lo.Score)
		}
	}
	return pts[len(pts)-1].Score
}

func (c Curve) validate() error {
	if len(c.Points) == 0 {
		return fmt.Errorf("at least one point is required")
	}
	for i, p := range c.Points {
		if math.IsNaN(p.At) || math.IsInf(p.At, 0) {
			return fmt.Errorf("point %d: invalid ratio", i)
		}
		if p.Score < 0 || p.Score > 100 {
			return fmt.Errorf("point %d: score %v outside [0,100]", i, p.Score)
		}
		if i > 0 && p.At <= c.Points[i-1].At {
			return fmt.Errorf("point %d: ratios must be strictly increasing", i)
		}
	}
	return nil
}

// Weights are the relative weights of each component in the overall score.
// They are renormalized over the components that have a reading.
type Weights struct {
	Thermal     float64 `yaml:"thermal" json:"thermal"`
	Power       float64 `yaml:"power" json:"power"`
	Memory      float64 `yaml:"memory" json:"memory"`
	Utilization float64 `yaml:"utilization" json:"utilization"`
	Fan         float64 `yaml:"fan" json:"fan"`
}

func (w Weights) of(c Component) float64 {
	switch c {
	case Thermal:
		return w.Thermal
	case Power:
		return w.Power
	case Memory:
		return w.Memory
	case Utilization:
		return w.Utilization
	case Fan:
		return w.Fan
	}
	return 0
}

// Curves holds the scoring curve of each component.
type Curves struct {
	Thermal     Curve `yaml:"thermal" json:"thermal"`
	Power       Curve `yaml:"power" json:"power"`
	Memory      Curve `yaml:"memory" json:"memory"`
	Utilization Curve `yaml:"utilization" json:"utilization"`
	Fan         Curve `yaml:"fan" json:"fan"`
}

func (c Curves) of(comp Component) Curve {
	switch comp {
	case Thermal:
		return c.Thermal
	case Power:
		return c.Power
	case Memory:
		return c.Memory
	case Utilization:
		return c.Utilization
	case Fan:
		return c.Fan
	}
	return Curve{}
}

// Thresholds decide when a component score produces a recommendation.
type Thresholds struct {
	WarningBelow  float64 `yaml:"warning_below" json:"warning_below"`
	CriticalBelow float64 `yaml:"critical_below" json:"critical_below"`
}

// StatusBands are the lower bounds of each overall status label.
type StatusBands struct {
	Excellent float64 `yaml:"excellent" json:"excellent"`
	Good      float64 `yaml:"good" json:"good"`
	Moderate  float64 `yaml:"moderate" json:"moderate"`
	Poor      float64 `yaml:"poor" json:"poor"`
}

// Limits are the rated limits used when a device does not report its own.
// Zero means unknown.
type Limits struct {
	MaxTemperatureC float64 `yaml:"max_temperature_c" json:"max_temperature_c"`
	MaxPowerW       float64 `yaml:"max_power_w" json:"max_power_w"`
	TotalMemoryMiB  float64 `yaml:"total_memory_mib" json:"total_memory_mib"`
}

// Config is the scoring policy.
type Config struct {
	NeutralScore float64     `yaml:"neutral_score" json:"neutral_score"`
	Weights      Weights     `yaml:"weights" json:"weights"`
	Curves       Curves      `yaml:"curves" json:"curves"`
	Recommend    Thresholds  `yaml:"recommend" json:"recommend"`
	StatusBands  StatusBands `yaml:"status_bands" json:"status_bands"`
	Limits       Limits      `yaml:"limits" json:"limits"`

	// Rules are advisory recommendation rules. Nil means DefaultRules.
	Rules []Rule `yaml:"rules,omitempty" json:"rules,omitempty"`

	// RulesFile, if set, replaces Rules with the rules in that YAML file.
	RulesFile string `yaml:"rules_file,omitempty" json:"rules_file,omitempty"`
}

// DefaultConfig returns the built-in scoring policy.
func DefaultConfig() Config {
	return Config{
		NeutralScore: 80.0,
		Weights: Weights{
			Thermal:     0.30,
			Power:       0.25,
			Memory:      0.25,
			Utilization: 0.20,
			Fan:         0,
		},
		Curves: Curves{
			Thermal:     Curve{Points: []Point{{0.70, 100}, {1.00, 0}}},
			Power:       Curve{Points: []Point{{0.85, 100}, {0.95, 60}, {1.00, 0}}},
			Memory:      Curve{Points: []Point{{0.75, 100}, {0.85, 75}, {0.95, 40}, {1.00, 0}}},
			Utilization: Curve{Points: []Point{{0.00, 50}, {0.50, 80}, {0.80, 100}}},
			Fan:         Curve{Points: []Point{{0.60, 100}, {0.80, 80}, {1.00, 50}}},
		},
		Recommend: Thresholds{
			WarningBelow:  50,
			CriticalBelow: 20,
		},
		StatusBands: StatusBands{
			Excellent: 90,
			Good:      75,
			Moderate:  50,
			Poor:      25,
		},
		Limits: Limits{
			MaxTemperatureC: 95,
			MaxPowerW:       300,
		},
	}
}

// Validate checks that the policy is well-formed.
func (c *Config) Validate() error {
	if c.NeutralScore < 0 || c.NeutralScore > 100 {
		return fmt.Errorf("neutral_score %v outside [0,100]", c.NeutralScore)
	}

	for _, comp := range Components() {
		if w := c.Weights.of(comp); w < 0 || math.IsNaN(w) {
			return fmt.Errorf("weights.%s must be non-negative", comp)
		}
		if err := c.Curves.of(comp).validate(); err != nil {
			return fmt.Errorf("curves.%s: %w", comp, err)
		}
	}

	if c.Recommend.CriticalBelow > c.Recommend.WarningBelow {
		return fmt.Errorf("recommend.critical_below must not exceed recommend.warning_below")
	}

	b := c.StatusBands
	if !(b.Excellent >= b.Good && b.Good >= b.Moderate && b.Moderate >= b.Poor) {
		return fmt.Errorf("status_bands must be descending: excellent >= good >= moderate >= poor")
	}

	if c.Limits.MaxTemperatureC < 0 || c.Limits.MaxPowerW < 0 || c.Limits.TotalMemoryMiB < 0 {
		return fmt.Errorf("limits must be non-negative")
	}

	if c.Rules != nil {
		if err := validateRules(c.Rules); err != nil {
			return fmt.Errorf("rules: %w", err)
		}
	}
	return nil
}

func (c *Config) status(score float64) Status {
	switch {
	case score >= c.StatusBands.Excellent:
		return StatusExcellent
	case score >= c.StatusBands.Good:
		return StatusGood
	case score >= c.StatusBands.Moderate:
		return StatusModerate
	case score >= c.StatusBands.Poor:
		return StatusPoor
	default:
		return StatusCritical
	}
}
