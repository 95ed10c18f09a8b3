package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/transport"
)

func callCmd() *cobra.Command {
	var url, device string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call NAME",
		Short: "Call a tool on a running HTTP server",
		Long: `Open a session on a running server, call one tool and close the
session again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			client := &mcpClient{url: url, http: &http.Client{Timeout: timeout}}

			ctx := cmd.Context()
			sessionID, err := client.initialize(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize session: %w", err)
			}
			fmt.Fprint(out, pterm.Info.Sprintfln("session %s", sessionID))

			defer func() {
				if err := client.terminate(context.WithoutCancel(ctx), sessionID); err != nil {
					fmt.Fprint(cmd.ErrOrStderr(), pterm.Warning.Sprintfln("failed to close session: %v", err))
				}
			}()

			arguments := map[string]any{}
			if device != "" {
				arguments["device_id"] = device
			}
			result, err := client.callTool(ctx, sessionID, args[0], arguments)
			if err != nil {
				return err
			}

			for _, c := range result.Content {
				fmt.Fprintln(out, c.Text)
			}
			if result.IsError {
				fmt.Fprint(out, pterm.Error.Sprintfln("%s returned an error", args[0]))
				return errors.New("tool call failed")
			}
			fmt.Fprint(out, pterm.Success.Sprintfln("%s completed", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8000/mcp", "MCP endpoint URL")
	cmd.Flags().StringVarP(&device, "device", "d", "", "Device ID")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	return cmd
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// mcpClient is a minimal streamable HTTP client for one-shot calls.
type mcpClient struct {
	url    string
	http   *http.Client
	nextID int
}

func (c *mcpClient) initialize(ctx context.Context) (string, error) {
	params := map[string]any{
		"protocolVersion": transport.ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcp-amdsmi-call", "version": version},
	}
	_, header, err := c.rpc(ctx, "", "initialize", params)
	if err != nil {
		return "", err
	}
	id := header.Get(transport.HeaderSessionID)
	if id == "" {
		return "", errors.New("server did not return a session id")
	}
	return id, nil
}

func (c *mcpClient) callTool(ctx context.Context, sessionID, name string, arguments map[string]any) (*toolResult, error) {
	raw, _, err := c.rpc(ctx, sessionID, "tools/call", map[string]any{"name": name, "arguments": arguments})
	if err != nil {
		return nil, err
	}
	var result toolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tool result: %w", err)
	}
	return &result, nil
}

func (c *mcpClient) terminate(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(transport.HeaderSessionID, sessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func (c *mcpClient) rpc(ctx context.Context, sessionID, method string, params any) (json.RawMessage, http.Header, error) {
	c.nextID++
	id, err := jsonrpc.MakeID(float64(c.nextID))
	if err != nil {
		return nil, nil, err
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, nil, err
	}
	body, err := jsonrpc.EncodeMessage(&jsonrpc.Request{ID: id, Method: method, Params: rawParams})
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(transport.HeaderSessionID, sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unexpected response (%s): %w", method, resp.Status, err)
	}
	r, ok := msg.(*jsonrpc.Response)
	if !ok {
		return nil, nil, fmt.Errorf("%s: expected a response, got %T", method, msg)
	}
	if r.Error != nil {
		return nil, nil, fmt.Errorf("%s: %w", method, r.Error)
	}
	return r.Result, resp.Header, nil
}
