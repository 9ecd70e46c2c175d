package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/models"
	"github.com/spf13/cobra"
)

func newModelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models the configured provider offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if provider, _ := cmd.Flags().GetString("provider"); provider != "" {
				cfg.Catalog.Provider = provider
			}

			p, err := models.NewProvider(cmd.Context(), cfg.Catalog)
			if err != nil {
				return err
			}
			if closer, ok := p.(io.Closer); ok {
				defer closer.Close()
			}

			if model, _ := cmd.Flags().GetString("window"); model != "" {
				window, err := contextWindow(cmd.Context(), p, model)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", model, window)
				return nil
			}

			list, err := p.List(cmd.Context())
			if err != nil {
				return err
			}
			for i := range list {
				if list[i].ContextWindow == 0 {
					list[i].ContextWindow = models.ContextWindow(list[i].ID)
				}
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			return printModels(cmd.OutOrStdout(), list, asJSON)
		},
	}
	cmd.Flags().String("provider", "", "Provider to query: openai, anthropic or gemini")
	cmd.Flags().Bool("json", false, "Output in JSON format")
	cmd.Flags().String("window", "", "Only print the context window of this model")
	return cmd
}

type windowLookup interface {
	ContextWindow(ctx context.Context, model string) (int64, error)
}

// contextWindow asks the provider when it can report windows and falls
// back to the built-in table.
func contextWindow(ctx context.Context, p models.Provider, model string) (int64, error) {
	if lookup, ok := p.(windowLookup); ok {
		return lookup.ContextWindow(ctx, model)
	}
	if w := models.ContextWindow(model); w > 0 {
		return w, nil
	}
	return 0, errors.New("context window of %s is unknown", model)
}

func printModels(w io.Writer, list []models.Model, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	for _, m := range list {
		window := "-"
		if m.ContextWindow > 0 {
			window = fmt.Sprintf("%d", m.ContextWindow)
		}
		fmt.Fprintf(w, "%-40s %10s  %s\n", m.ID, window, m.DisplayName)
	}
	return nil
}
