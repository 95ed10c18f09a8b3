package main

import (
	"fmt"
	"os"

	"al.essio.dev/pkg/shellescape"
	"github.com/spf13/cobra"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/config"
)

func installCmd(opts *rootOptions) *cobra.Command {
	var name, format, transportName, url string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Print the configuration an MCP client needs to launch this server",
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, command := installEntry(executable(), opts.configPath, transportName, url)

			switch format {
			case "json":
				return outputJSON(cmd.OutOrStdout(), map[string]any{
					"mcpServers": map[string]any{name: entry},
				})
			case "shell":
				if command == nil {
					return fmt.Errorf("shell format needs the stdio transport")
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), shellescape.QuoteCommand(command))
				return err
			default:
				return fmt.Errorf("unsupported output format: %s", format)
			}
		},
	}

	cmd.Flags().StringVar(&name, "name", "amdsmi", "Server name in the client configuration")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, shell)")
	cmd.Flags().StringVarP(&transportName, "transport", "t", config.TransportStdio, "Transport the client should use (stdio, http)")
	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8000/mcp", "Endpoint URL for the http transport")

	return cmd
}

// installEntry builds the client entry and, for stdio, the launch command.
func installEntry(exe, configPath, transportName, url string) (map[string]any, []string) {
	if transportName == config.TransportHTTP {
		return map[string]any{"type": "http", "url": url}, nil
	}

	args := []string{"serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return map[string]any{"command": exe, "args": args}, append([]string{exe}, args...)
}

func executable() string {
	exe, err := os.Executable()
	if err != nil {
		return "mcp-amdsmi"
	}
	return exe
}
