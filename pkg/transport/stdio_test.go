package transport

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/scoring"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/tools"
)

func connect(t *testing.T) *mcp.ClientSession {
	t.Helper()
	engine, err := scoring.NewEngine(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	s := NewStdioServer(tools.NewDispatcher(gpu.NewDemo(nil), engine, tools.Config{}, nil),
		Implementation{Name: "mcp-amdsmi", Version: "test"})

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.Server().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T, want *mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestStdio_ListTools(t *testing.T) {
	cs := connect(t)

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	names := make(map[string]bool)
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, tool := range tools.Catalog() {
		if !names[tool.Name] {
			t.Errorf("tool %s not registered", tool.Name)
		}
	}
}

func TestStdio_CallTool(t *testing.T) {
	cs := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "monitor_power_thermal",
		Arguments: map[string]any{"device_id": "1"},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", text(t, res))
	}
	if out := text(t, res); !strings.Contains(out, "demo data") {
		t.Errorf("demo output missing notice:\n%s", out)
	}
}

func TestStdio_IntegerDeviceID(t *testing.T) {
	cs := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_gpu_status",
		Arguments: map[string]any{"device_id": 1},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", text(t, res))
	}
	if out := text(t, res); !strings.Contains(out, "GPU Status") {
		t.Errorf("status output:\n%s", out)
	}
}

func TestStdio_Discovery(t *testing.T) {
	cs := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "get_gpu_discovery"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if out := text(t, res); !strings.Contains(out, "Found 2 GPU(s)") {
		t.Errorf("discovery output:\n%s", out)
	}
}

func TestStdio_DeviceNotFound(t *testing.T) {
	cs := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "check_gpu_health",
		Arguments: map[string]any{"device_id": "42"},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !res.IsError {
		t.Fatal("expected a tool error result")
	}
	if out := text(t, res); !strings.Contains(out, "device not found") {
		t.Errorf("error text = %q", out)
	}
}
