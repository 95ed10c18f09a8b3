package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/retry"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/scoring"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "MCP_AMDSMI_CONFIG"

// Transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the root configuration for the server.
type Config struct {
	Server        ServerConfig   `yaml:"server,omitempty"`
	Session       SessionConfig  `yaml:"session,omitempty"`
	Source        SourceConfig   `yaml:"source,omitempty"`
	Scoring       scoring.Config `yaml:"scoring,omitempty"`
	Log           LogConfig      `yaml:"log,omitempty"`
	DefaultDevice string         `yaml:"default_device,omitempty"` // Default: "0"
}

// ServerConfig configures the transport.
type ServerConfig struct {
	Transport       string        `yaml:"transport,omitempty"` // stdio or http. Default: stdio
	Host            string        `yaml:"host,omitempty"`      // Default: 127.0.0.1
	Port            int           `yaml:"port,omitempty"`      // Default: 8000
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SessionConfig configures HTTP session lifetime.
type SessionConfig struct {
	Timeout       time.Duration `yaml:"timeout,omitempty"`        // Default: 1h
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"` // Default: 5m
}

// Registry returns the session registry configuration.
func (s SessionConfig) Registry() session.Config {
	return session.Config{Timeout: s.Timeout, SweepInterval: s.SweepInterval}
}

// SourceConfig configures where metrics come from.
type SourceConfig struct {
	Mode        gpu.Mode      `yaml:"mode,omitempty"`    // auto, live or demo. Default: auto
	Backend     string        `yaml:"backend,omitempty"` // auto, sysfs, nvml or fake. Default: auto
	SysfsRoot   string        `yaml:"sysfs_root,omitempty"`
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`
	InitRetry   retry.Config  `yaml:"init_retry,omitempty"`
}

// Live returns the live source configuration.
func (s SourceConfig) Live() gpu.LiveConfig {
	return gpu.LiveConfig{ReadTimeout: s.ReadTimeout, InitRetry: s.InitRetry}
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error. Default: info
	Format string `yaml:"format,omitempty"` // text or json. Default: json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Scoring: scoring.DefaultConfig()}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. Fields absent from the file
// keep their defaults. A relative scoring.rules_file is resolved against
// the config file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if f := cfg.Scoring.RulesFile; f != "" && cfg.Scoring.Rules == nil {
		if !filepath.IsAbs(f) {
			f = filepath.Join(filepath.Dir(path), f)
		}
		rules, err := scoring.LoadRules(f)
		if err != nil {
			return nil, fmt.Errorf("invalid config: scoring.rules_file: %w", err)
		}
		cfg.Scoring.Rules = rules
	}
	return cfg, nil
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{Scoring: scoring.DefaultConfig()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("server.transport: must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Server.Transport)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must be >= 0")
	}

	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be > 0")
	}

	switch c.Source.Mode {
	case gpu.ModeAuto, gpu.ModeLive, gpu.ModeDemo:
	default:
		return fmt.Errorf("source.mode: unknown mode %q", c.Source.Mode)
	}
	switch c.Source.Backend {
	case gpu.BackendAuto, gpu.BackendSysfs, gpu.BackendNVML, gpu.BackendFake:
	default:
		return fmt.Errorf("source.backend: unknown backend %q", c.Source.Backend)
	}
	if c.Source.ReadTimeout <= 0 {
		return fmt.Errorf("source.read_timeout must be > 0")
	}
	if c.Source.InitRetry.MaxAttempts < 1 {
		return fmt.Errorf("source.init_retry.max_attempts must be >= 1")
	}

	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format)
	}

	if strings.TrimSpace(c.DefaultDevice) == "" {
		return fmt.Errorf("default_device must not be blank")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Transport == "" {
		c.Server.Transport = TransportStdio
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	sessions := session.DefaultConfig()
	if c.Session.Timeout == 0 {
		c.Session.Timeout = sessions.Timeout
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = sessions.SweepInterval
	}

	live := gpu.DefaultLiveConfig()
	if c.Source.Mode == "" {
		c.Source.Mode = gpu.ModeAuto
	}
	if c.Source.Backend == "" {
		c.Source.Backend = gpu.BackendAuto
	}
	if c.Source.SysfsRoot == "" {
		c.Source.SysfsRoot = "/sys"
	}
	if c.Source.ReadTimeout == 0 {
		c.Source.ReadTimeout = live.ReadTimeout
	}
	if c.Source.InitRetry.MaxAttempts == 0 {
		c.Source.InitRetry.MaxAttempts = live.InitRetry.MaxAttempts
	}
	if c.Source.InitRetry.InitialDelay == 0 {
		c.Source.InitRetry.InitialDelay = live.InitRetry.InitialDelay
	}
	if c.Source.InitRetry.MaxDelay == 0 {
		c.Source.InitRetry.MaxDelay = live.InitRetry.MaxDelay
	}
	if c.Source.InitRetry.Multiplier == 0 {
		c.Source.InitRetry.Multiplier = live.InitRetry.Multiplier
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.DefaultDevice == "" {
		c.DefaultDevice = "0"
	}
}
