package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/config"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/scoring"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/tools"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/transport"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantJSON  bool
		wantDebug bool
	}{
		{"json info", config.LogConfig{Level: "info", Format: "json"}, true, false},
		{"text debug", config.LogConfig{Level: "debug", Format: "text"}, false, true},
		{"bad level falls back to info", config.LogConfig{Level: "loud", Format: "json"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(tt.cfg, &buf)
			logger.Debug("debug line")
			logger.Info("info line")

			out := buf.String()
			if strings.Contains(out, "debug line") != tt.wantDebug {
				t.Errorf("debug output present = %v, want %v", !tt.wantDebug, tt.wantDebug)
			}
			if strings.HasPrefix(out, "{") != tt.wantJSON {
				t.Errorf("output %q json = %v, want %v", out, !tt.wantJSON, tt.wantJSON)
			}
		})
	}
}

func TestRootOptions_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("default_device: \"1\"\nlog:\n  level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := &rootOptions{configPath: path, logFormat: "text"}
	cfg, err := opts.load()
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.DefaultDevice != "1" {
		t.Errorf("DefaultDevice = %q, want 1", cfg.DefaultDevice)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want warn/text", cfg.Log)
	}

	opts = &rootOptions{configPath: filepath.Join(t.TempDir(), "missing.yaml")}
	if _, err := opts.load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestToolCommand(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		out, err := run(t, "tool", "discover", "--mode", "demo")
		if err != nil {
			t.Fatalf("tool discover: %v", err)
		}
		if !strings.Contains(out, "Found 2 GPU(s)") {
			t.Errorf("output:\n%s", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		out, err := run(t, "tool", "health_check", "--mode", "demo", "-d", "1", "-o", "json")
		if err != nil {
			t.Fatalf("tool health_check: %v", err)
		}
		var res struct {
			Tool string `json:"tool"`
			Demo bool   `json:"demo"`
			Data struct {
				Score float64 `json:"score"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("unmarshal %q: %v", out, err)
		}
		if res.Tool != "check_gpu_health" || !res.Demo {
			t.Errorf("result = %+v", res)
		}
		if res.Data.Score <= 0 || res.Data.Score > 100 {
			t.Errorf("score = %v", res.Data.Score)
		}
	})

	t.Run("table", func(t *testing.T) {
		out, err := run(t, "tool", "status", "--mode", "live", "--backend", "fake", "-o", "table")
		if err != nil {
			t.Fatalf("tool status: %v", err)
		}
		if !strings.Contains(out, string(gpu.TemperatureCurrent)) || !strings.Contains(out, "health") {
			t.Errorf("table output:\n%s", out)
		}
		if strings.Contains(out, "demo data") {
			t.Error("live output flagged as demo")
		}
	})

	t.Run("device not found", func(t *testing.T) {
		_, err := run(t, "tool", "status", "--mode", "demo", "-d", "5")
		if err == nil || !strings.Contains(err.Error(), "device not found") {
			t.Errorf("error = %v, want device not found", err)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		if _, err := run(t, "tool", "overclock", "--mode", "demo"); err == nil {
			t.Error("expected error for unknown tool")
		}
	})

	t.Run("bad output", func(t *testing.T) {
		if _, err := run(t, "tool", "discover", "--mode", "demo", "-o", "yaml"); err == nil {
			t.Error("expected error for unsupported output")
		}
	})
}

func TestCallCommand(t *testing.T) {
	engine, err := scoring.NewEngine(scoring.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	sessions := session.NewRegistry(session.DefaultConfig(), nil)
	dispatcher := tools.NewDispatcher(gpu.NewDemo(nil), engine, tools.Config{}, nil)
	srv := transport.NewHTTPServer(dispatcher, sessions, transport.HTTPConfig{
		Server: transport.Implementation{Name: "mcp-amdsmi", Version: "test"},
	}, nil)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	out, err := run(t, "call", "get_gpu_memory_missing", "--url", ts.URL+"/mcp")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("unknown tool error = %v", err)
	}

	out, err = run(t, "call", "memory_analysis", "--url", ts.URL+"/mcp", "-d", "0")
	if err != nil {
		t.Fatalf("call memory_analysis: %v", err)
	}
	if !strings.Contains(out, "memory_analysis completed") {
		t.Errorf("output:\n%s", out)
	}

	if _, err := run(t, "call", "status", "--url", ts.URL+"/mcp", "-d", "9"); err == nil {
		t.Error("expected error for missing device")
	}

	if n := sessions.Count(); n != 0 {
		t.Errorf("call left %d sessions open", n)
	}
}

func TestInstallCommand(t *testing.T) {
	out, err := run(t, "install", "--name", "gpu")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	var snippet struct {
		Servers map[string]struct {
			Command string   `json:"command"`
			Args    []string `json:"args"`
		} `json:"mcpServers"`
	}
	if err := json.Unmarshal([]byte(out), &snippet); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	entry, ok := snippet.Servers["gpu"]
	if !ok || len(entry.Args) == 0 || entry.Args[0] != "serve" {
		t.Errorf("snippet = %+v", snippet)
	}

	out, err = run(t, "install", "--transport", "http", "--url", "http://gpu-host:8000/mcp")
	if err != nil {
		t.Fatalf("install http: %v", err)
	}
	if !strings.Contains(out, "http://gpu-host:8000/mcp") {
		t.Errorf("http snippet:\n%s", out)
	}
}

func TestInstallEntry_ShellQuoting(t *testing.T) {
	_, command := installEntry("/opt/mcp amdsmi/bin/mcp-amdsmi", "/etc/my config.yaml", "stdio", "")
	want := []string{"/opt/mcp amdsmi/bin/mcp-amdsmi", "serve", "--config", "/etc/my config.yaml"}
	if strings.Join(command, "|") != strings.Join(want, "|") {
		t.Errorf("command = %q, want %q", command, want)
	}

	out, err := run(t, "install", "--format", "shell", "--config", "/etc/my config.yaml")
	if err != nil {
		t.Fatalf("install shell: %v", err)
	}
	if !strings.Contains(out, "'/etc/my config.yaml'") {
		t.Errorf("shell output not quoted: %s", out)
	}

	if _, err := run(t, "install", "--format", "shell", "--transport", "http"); err == nil {
		t.Error("expected error for shell format with http transport")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "mcp-amdsmi version dev") || !strings.Contains(out, transport.ProtocolVersion) {
		t.Errorf("output:\n%s", out)
	}
}
