// Package transport serves the GPU tools over MCP on stdio or streamable HTTP.
package transport

import (
	"fmt"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/tools"
)

// ProtocolVersion is the MCP protocol revision the server speaks.
const ProtocolVersion = "2025-03-26"

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Implementation identifies the server to clients.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

func capabilities() map[string]any {
	return map[string]any{
		"tools":     map[string]any{"listChanged": false},
		"resources": map[string]any{},
		"prompts":   map[string]any{},
		"logging":   map[string]any{},
	}
}

type toolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callToolResult struct {
	Content           []textContent `json:"content"`
	StructuredContent any           `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError"`
}

// toolError is the structured content of a tool error result.
type toolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func inputSchema(t tools.Tool) map[string]any {
	props := map[string]any{}
	if t.TakesDevice {
		props["device_id"] = map[string]any{
			"type":        []string{"string", "integer"},
			"minimum":     0,
			"description": `GPU device ID (default: "0")`,
		}
	}
	return map[string]any{"type": "object", "properties": props}
}

func toolDefinitions() []toolDefinition {
	catalog := tools.Catalog()
	defs := make([]toolDefinition, 0, len(catalog))
	for _, t := range catalog {
		defs = append(defs, toolDefinition{Name: t.Name, Description: t.Description, InputSchema: inputSchema(t)})
	}
	return defs
}

func textResult(res *tools.Result) *callToolResult {
	return &callToolResult{
		Content:           []textContent{{Type: "text", Text: res.Text}},
		StructuredContent: res,
	}
}

func errorResult(kind string, err error) *callToolResult {
	msg := err.Error()
	return &callToolResult{
		Content:           []textContent{{Type: "text", Text: fmt.Sprintf("Error: %s", msg)}},
		StructuredContent: toolError{Kind: kind, Message: msg},
		IsError:           true,
	}
}
