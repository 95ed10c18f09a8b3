package transport

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/tools"
)

// StdioServer serves the tool catalog to a single client over stdin/stdout.
type StdioServer struct {
	server     *mcp.Server
	dispatcher *tools.Dispatcher
}

// NewStdioServer creates an MCP server with every tool registered.
func NewStdioServer(dispatcher *tools.Dispatcher, impl Implementation) *StdioServer {
	s := &StdioServer{
		server:     mcp.NewServer(&mcp.Implementation{Name: impl.Name, Version: impl.Version}, nil),
		dispatcher: dispatcher,
	}
	s.registerTools()
	return s
}

// Server returns the underlying MCP server.
func (s *StdioServer) Server() *mcp.Server {
	return s.server
}

// Serve runs the server on stdio until the client disconnects or ctx is
// cancelled.
func (s *StdioServer) Serve(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Tools take their arguments as a plain map and share the HTTP input
// schema, so a device_id may be a string or an integer on both transports.
func (s *StdioServer) registerTools() {
	for _, t := range tools.Catalog() {
		def := &mcp.Tool{Name: t.Name, Description: t.Description, InputSchema: inputSchema(t)}
		mcp.AddTool(s.server, def, func(ctx context.Context, _ *mcp.CallToolRequest, raw map[string]any) (*mcp.CallToolResult, any, error) {
			return s.invoke(ctx, t, raw)
		})
	}
}

func (s *StdioServer) invoke(ctx context.Context, t tools.Tool, raw map[string]any) (*mcp.CallToolResult, any, error) {
	res, err := s.dispatcher.Call(ctx, t.Name, raw)
	if kind := tools.ErrorKind(err); kind == tools.KindDeviceNotFound || kind == tools.KindInvalidArguments {
		r := errorResult(kind, err)
		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: r.Content[0].Text}},
			StructuredContent: r.StructuredContent,
			IsError:           true,
		}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: res.Text}},
		StructuredContent: res,
	}, nil, nil
}
