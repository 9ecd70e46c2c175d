package main

import (
	"fmt"
	"io"
	"time"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/tools"
	"github.com/m4xw311/agentwire/tools/mcp"
	"github.com/spf13/cobra"
)

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [server...]",
		Short: "List the tools each configured MCP server offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defs := cfg.MCPServers
			if len(args) > 0 {
				wanted := make(map[string]bool)
				for _, a := range args {
					wanted[a] = true
				}
				defs = defs[:0:0]
				for _, d := range cfg.MCPServers {
					if wanted[d.Name] {
						defs = append(defs, d)
					}
				}
			}
			if len(defs) == 0 {
				return errors.New("no MCP servers configured")
			}

			results := mcp.ProbeAll(cmd.Context(), defs, mcp.WithClientInfo("agentwire", appVersion))
			printProbeResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
}

func printProbeResults(w io.Writer, results []mcp.Result) {
	inv := tools.NewInventory()
	for _, res := range results {
		if res.Err == nil {
			inv.Add(res.Server, res.Names())
		}
	}
	byServer := inv.ByServer()

	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(w, "%s: error: %v\n", res.Server, res.Err)
			continue
		}
		fmt.Fprintf(w, "%s: %d tool(s) in %s\n", res.Server, len(res.Tools), res.Elapsed.Round(time.Millisecond))
		for _, tool := range byServer[res.Server] {
			fmt.Fprintf(w, "  %s.%s\n", res.Server, tool)
		}
	}
	if inv.Len() == 0 {
		fmt.Fprintln(w, "no tools found")
	}
}
