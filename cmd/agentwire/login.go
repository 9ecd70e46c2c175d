package main

import (
	"fmt"
	"os"

	"github.com/m4xw311/agentwire/auth"
	"github.com/m4xw311/agentwire/errors"
	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign the agent in, or show whether it is signed in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if status, _ := cmd.Flags().GetBool("status"); status {
				st, err := auth.Probe(cfg.CodexHome)
				if err != nil {
					return err
				}
				switch {
				case st.HasTokens:
					fmt.Fprintln(out, "signed in")
				case st.APIKey != "":
					fmt.Fprintln(out, "using an API key")
				default:
					fmt.Fprintln(out, "not signed in")
				}
				return nil
			}

			key, _ := cmd.Flags().GetString("api-key")
			if key == "-" {
				key = os.Getenv("OPENAI_API_KEY")
			}
			if key != "" {
				if verify, _ := cmd.Flags().GetBool("verify"); verify {
					if err := auth.VerifyAPIKey(cmd.Context(), key, cfg.Catalog.BaseURL); err != nil {
						return err
					}
				}
			}

			code, err := auth.Login(cmd.Context(), cfg.Agent.Command, key)
			if err != nil {
				return err
			}
			if code != 0 {
				return errors.New("%s login exited with code %d", cfg.Agent.Command, code)
			}
			fmt.Fprintln(out, "login succeeded")
			return nil
		},
	}
	cmd.Flags().String("api-key", "", "Sign in with an API key instead of the browser flow (\"-\" reads OPENAI_API_KEY)")
	cmd.Flags().Bool("verify", true, "Check the API key against the API before storing it")
	cmd.Flags().Bool("status", false, "Only report whether credentials are stored")
	return cmd
}
