package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/m4xw311/agentwire/agent"
	"github.com/m4xw311/agentwire/bridge"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
	"github.com/m4xw311/agentwire/vcs"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a session and relay it to WebSocket clients",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", ":8080", "Address to listen on")
	cmd.Flags().String("resume", "", "Resume a stored conversation by id, or \"last\"")
	cmd.Flags().String("cwd", "", "Working directory of the agent (default: current directory)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger("serve")
	cfg, files, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir, err := workdir(cmd)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")
	resume, _ := cmd.Flags().GetString("resume")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := bridge.NewHub(nil)
	s, err := openSession(ctx, sessionSetup{
		cfg:         cfg,
		configFiles: files,
		workdir:     dir,
		resume:      resume,
		out:         hub,
		onRefresh: func(updates []vcs.Update) {
			hub.Broadcast(bridge.Frame{Type: "refresh", Text: strings.Join(describeUpdates(updates), "\n")})
		},
		extra: []agent.Option{agent.WithStatusListener(hub.PublishStatus)},
	})
	if err != nil {
		return err
	}
	defer s.Stop()
	hub.SetConversation(s)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("WebSocket server running on ws://%s/ws", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "server failed")
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("shutdown")
		}
	}
	return nil
}
