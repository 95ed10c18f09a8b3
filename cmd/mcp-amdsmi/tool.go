package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/gpu"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/scoring"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/tools"
)

func toolCmd(opts *rootOptions) *cobra.Command {
	var device, output, mode, backend string

	cmd := &cobra.Command{
		Use:   "tool NAME",
		Short: "Run one tool locally and print the result",
		Long: `Run one tool against the local GPUs without starting a server.
NAME is a tool name (get_gpu_status) or its short alias (status).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				cfg.Source.Mode = gpu.Mode(mode)
			}
			if cmd.Flags().Changed("backend") {
				cfg.Source.Backend = backend
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := newLogger(cfg.Log, cmd.ErrOrStderr())
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			raw := map[string]any{}
			if device != "" {
				raw["device_id"] = device
			}
			res, err := a.dispatcher.Call(cmd.Context(), args[0], raw)
			if err != nil {
				return err
			}

			switch output {
			case "text":
				_, err := fmt.Fprintln(cmd.OutOrStdout(), res.Text)
				return err
			case "json":
				return outputJSON(cmd.OutOrStdout(), res)
			case "table":
				return outputTable(cmd.OutOrStdout(), res)
			default:
				return fmt.Errorf("unsupported output format: %s", output)
			}
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "Device ID (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json, table)")
	cmd.Flags().StringVar(&mode, "mode", string(gpu.ModeAuto), "Metric source (auto, live, demo)")
	cmd.Flags().StringVar(&backend, "backend", gpu.BackendAuto, "GPU backend (auto, sysfs, nvml, fake)")

	return cmd
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputTable prints discovery, status and health results as tables and
// falls back to the text report for the rest.
func outputTable(w io.Writer, res *tools.Result) error {
	table := tablewriter.NewWriter(w)

	switch data := res.Data.(type) {
	case *gpu.Inventory:
		table.Append([]string{"ID", "Name", "PCI Bus", "VRAM (GiB)", "Driver"})
		for _, d := range data.Devices {
			table.Append([]string{d.ID, d.Name, d.PCIBusID, fmt.Sprintf("%.0f", d.VRAMMiB()/1024), d.DriverVersion})
		}
	case *tools.StatusReport:
		table.Append([]string{"Metric", "Value"})
		snap := gpu.Snapshot{Values: data.Readings}
		for _, r := range snap.Readings() {
			table.Append([]string{string(r.Kind), formatValue(r.Value)})
		}
		table.Append([]string{"health", fmt.Sprintf("%.1f (%s)", data.Health.Score, data.Health.Status)})
	case *scoring.Assessment:
		table.Append([]string{"Component", "Score", "Weight", "Available"})
		for _, cs := range data.Components {
			table.Append([]string{string(cs.Component), fmt.Sprintf("%.1f", cs.Score), fmt.Sprintf("%.2f", cs.Weight), fmt.Sprintf("%v", cs.Available)})
		}
		table.Append([]string{"overall", fmt.Sprintf("%.1f", data.Score), "", strings.ToUpper(string(data.Status))})
	default:
		_, err := fmt.Fprintln(w, res.Text)
		return err
	}

	if err := table.Render(); err != nil {
		return err
	}
	if res.Demo {
		fmt.Fprintln(w, "(demo data)")
	}
	return nil
}

func formatValue(v gpu.Value) string {
	f, ok := v.Get()
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf("%.1f", f)
}
