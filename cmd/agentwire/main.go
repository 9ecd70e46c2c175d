package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/m4xw311/agentwire/config"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// appVersion is set at build time with -ldflags "-X main.appVersion=...".
var appVersion = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentwire",
		Short:         "Drive a coding agent over its JSON-RPC app server",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to a config file (default: ~/.agentwire/config.yaml and ./.agentwire/config.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Show raw agent output and enable debug logging")

	root.AddCommand(
		newRunCommand(),
		newServeCommand(),
		newProbeCommand(),
		newLoginCommand(),
		newModelsCommand(),
	)
	return root
}

// loadConfig loads the config selected by the command's flags, applies
// its logging section and returns the files it was read from.
func loadConfig(cmd *cobra.Command) (*config.Config, []string, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg    *config.Config
		loaded string
		err    error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
		loaded = path
	} else {
		cfg, loaded, err = config.LoadConfig()
	}
	if err != nil {
		return nil, nil, err
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Verbose = true
	}
	if err := logging.Configure(cfg.Log); err != nil {
		return nil, nil, errors.Wrapf(err, "could not configure logging")
	}
	if cfg.Verbose {
		logging.SetLevel(logrus.DebugLevel)
	}

	var files []string
	if loaded != "" {
		files = strings.Split(loaded, string(os.PathListSeparator))
	}
	return cfg, files, nil
}

// workdir resolves the --cwd flag, defaulting to the current directory.
func workdir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("cwd")
	if dir == "" {
		return os.Getwd()
	}
	return filepath.Abs(dir)
}
