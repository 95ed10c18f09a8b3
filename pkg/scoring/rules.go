package scoring

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"gopkg.in/yaml.v3"
)

// Rule is an advisory recommendation rule.
type Rule struct {
	// Name identifies the rule. Names must be unique.
	Name string `yaml:"name" json:"name"`

	// Condition is a CEL expression over a 'gpu' map. Only readings that
	// are available appear in the map, so conditions guard with has():
	//   - gpu.temperature, gpu.temperature_critical, gpu.temperature_ratio
	//   - gpu.power, gpu.power_cap, gpu.power_ratio
	//   - gpu.gpu_util, gpu.mem_util
	//   - gpu.memory_used, gpu.memory_total, gpu.memory_ratio
	//   - gpu.sclk, gpu.mclk, gpu.fan_percent
	//   - gpu.demo (bool)
	Condition string `yaml:"condition" json:"condition"`

	// Severity of the recommendation produced when the condition holds.
	Severity Severity `yaml:"severity" json:"severity"`

	// Component the recommendation is about; used for ordering.
	Component Component `yaml:"component,omitempty" json:"component,omitempty"`

	// Message is the recommendation text.
	Message string `yaml:"message" json:"message"`

	// Priority orders rules of equal severity and component. Higher first.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Tools limits the rule to the named tools. Empty applies everywhere.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

func (r Rule) appliesTo(tool string) bool {
	if len(r.Tools) == 0 {
		return true
	}
	for _, t := range r.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules loads advisory rules from a YAML file with a top-level
// 'rules' list.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses advisory rules from YAML data.
func ParseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules YAML: %w", err)
	}
	if err := validateRules(f.Rules); err != nil {
		return nil, fmt.Errorf("validate rules: %w", err)
	}
	return f.Rules, nil
}

func validateRules(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if seen[rule.Name] {
			return fmt.Errorf("rule %q: duplicate name", rule.Name)
		}
		seen[rule.Name] = true
		if rule.Condition == "" {
			return fmt.Errorf("rule %q: condition is required", rule.Name)
		}
		if rule.Message == "" {
			return fmt.Errorf("rule %q: message is required", rule.Name)
		}
		if severityRank(rule.Severity) < 0 {
			return fmt.Errorf("rule %q: invalid severity %q (must be info, warning, or critical)", rule.Name, rule.Severity)
		}
		if rule.Component != "" && componentRank(rule.Component) < 0 {
			return fmt.Errorf("rule %q: unknown component %q", rule.Name, rule.Component)
		}
	}
	return nil
}

// RuleSet is a compiled, priority-ordered set of rules. Evaluation is
// pure and safe for concurrent use.
type RuleSet struct {
	rules    []Rule
	programs []cel.Program
}

// CompileRules compiles rule conditions once.
func CompileRules(rules []Rule) (*RuleSet, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}

	env, err := cel.NewEnv(
		cel.Variable("gpu", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	programs := make([]cel.Program, len(sorted))
	for i, rule := range sorted {
		ast, issues := env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.Name, issues.Err())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("create program for rule %q: %w", rule.Name, err)
		}
		programs[i] = program
	}

	return &RuleSet{rules: sorted, programs: programs}, nil
}

// Rules returns the rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Evaluate returns a recommendation for every rule that applies to tool
// and whose condition holds for vars. A condition that fails to evaluate
// does not match.
func (rs *RuleSet) Evaluate(tool string, vars map[string]any) []Recommendation {
	if rs == nil {
		return nil
	}

	var out []Recommendation
	for i, rule := range rs.rules {
		if !rule.appliesTo(tool) {
			continue
		}
		val, _, err := rs.programs[i].Eval(map[string]any{"gpu": vars})
		if err != nil {
			continue
		}
		if val.Type() == types.BoolType && val.Value().(bool) {
			out = append(out, Recommendation{
				Severity:  rule.Severity,
				Component: rule.Component,
				Rule:      rule.Name,
				Message:   rule.Message,
			})
		}
	}
	return out
}
