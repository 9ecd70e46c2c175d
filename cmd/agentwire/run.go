package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/m4xw311/agentwire/agent"
	"github.com/m4xw311/agentwire/agent/terminal"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/vcs"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Start an interactive session",
		RunE:  runInteractive,
	}
	cmd.Flags().String("resume", "", "Resume a stored conversation by id, or \"last\"")
	cmd.Flags().String("cwd", "", "Working directory of the agent (default: current directory)")
	return cmd
}

func runInteractive(cmd *cobra.Command, args []string) error {
	cfg, files, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir, err := workdir(cmd)
	if err != nil {
		return err
	}
	resume, _ := cmd.Flags().GetString("resume")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var transcript atomic.Pointer[agent.Transcript]
	s, err := openSession(ctx, sessionSetup{
		cfg:         cfg,
		configFiles: files,
		workdir:     dir,
		resume:      resume,
		out:         os.Stdout,
		interactive: true,
		onRefresh: func(updates []vcs.Update) {
			tr := transcript.Load()
			if tr == nil {
				return
			}
			for _, line := range describeUpdates(updates) {
				tr.Printf("%s", line)
			}
		},
	})
	if err != nil {
		return err
	}
	transcript.Store(s.Transcript())
	defer s.Stop()

	fmt.Printf("agentwire is ready in %s. Type your prompt, /quit to exit.\n", dir)
	term := terminal.New(s, os.Stdin, os.Stdout)
	if err := term.Run(ctx, strings.Join(args, " ")); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
