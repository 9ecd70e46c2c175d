package main

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/m4xw311/agentwire/agent"
	"github.com/m4xw311/agentwire/auth"
	"github.com/m4xw311/agentwire/config"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
	"github.com/m4xw311/agentwire/session"
	"github.com/m4xw311/agentwire/vcs"
	"github.com/m4xw311/agentwire/version"
)

const (
	versionTimeout = 5 * time.Second
	reloadDebounce = 300 * time.Millisecond
)

// sessionSetup carries what run and serve need to build a session.
type sessionSetup struct {
	cfg         *config.Config
	configFiles []string
	workdir     string
	resume      string
	out         io.Writer
	interactive bool
	onRefresh   func([]vcs.Update)
	extra       []agent.Option
}

// openSession builds a session, starts or resumes it and keeps it in sync
// with config file changes until ctx is done.
func openSession(ctx context.Context, setup sessionSetup) (*agent.Session, error) {
	logger := logging.NewLogger("cli")
	cfg := setup.cfg

	checkAgentVersion(ctx, cfg)

	dir, err := session.DefaultDir()
	if err != nil {
		return nil, err
	}
	store := session.NewStore(dir)

	opts := []agent.Option{
		agent.WithTranscript(setup.out),
		agent.WithRecordStore(store),
		agent.WithClientVersion(appVersion),
		agent.WithRefresher(vcs.NewRefresher(setup.workdir, setup.onRefresh)),
		agent.WithLogin(loginFunc(cfg, setup.interactive)),
	}
	s := agent.NewSession(cfg, append(opts, setup.extra...)...)

	if setup.resume != "" {
		rec, err := store.Find(setup.resume)
		if err != nil {
			return nil, errors.Wrapf(err, "could not find session %q", setup.resume)
		}
		logger.WithField("conversation", rec.ConversationID).Info("resuming conversation")
		err = s.Resume(ctx, setup.workdir, *rec)
		if err != nil {
			return nil, err
		}
	} else if err := s.Start(ctx, setup.workdir); err != nil {
		return nil, err
	}

	if len(setup.configFiles) > 0 {
		go func() {
			err := config.Watch(ctx, setup.configFiles, reloadDebounce, func(file string) {
				next, err := reloadConfig(setup.configFiles)
				if err != nil {
					logger.WithError(err).WithField("file", file).Warn("ignoring invalid config")
					return
				}
				if err := s.Reconfigure(ctx, next); err != nil {
					logger.WithError(err).Warn("reconfigure failed")
				}
			})
			if err != nil {
				logger.WithError(err).Warn("config watcher stopped")
			}
		}()
	}
	return s, nil
}

func reloadConfig(files []string) (*config.Config, error) {
	if len(files) == 1 {
		return config.LoadFile(files[0])
	}
	cfg, _, err := config.LoadConfig()
	return cfg, err
}

// loginFunc signs in again with the stored API key, or interactively when
// there is none and a terminal is attached.
func loginFunc(cfg *config.Config, interactive bool) agent.LoginFunc {
	return func(ctx context.Context) (int, error) {
		st, err := auth.Probe(cfg.CodexHome)
		if err != nil {
			return -1, err
		}
		if st.APIKey == "" && !interactive {
			return -1, errors.New("no API key available for non-interactive login")
		}
		return auth.Login(ctx, cfg.Agent.Command, st.APIKey)
	}
}

// checkAgentVersion warns when the installed agent is older than
// agent.min_version.
func checkAgentVersion(ctx context.Context, cfg *config.Config) {
	if cfg.Agent.MinVersion == "" {
		return
	}
	logger := logging.NewLogger("cli")

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, cfg.Agent.Command, "--version").Output()
	if err != nil {
		logger.WithError(err).Debug("could not determine agent version")
		return
	}
	installed := version.Extract(string(out))
	if installed == "" {
		logger.WithField("output", strings.TrimSpace(string(out))).Debug("no version in agent output")
		return
	}
	if version.IsNewer(cfg.Agent.MinVersion, installed) {
		logger.Warnf("%s %s is older than the required %s; please upgrade", cfg.Agent.Command, installed, cfg.Agent.MinVersion)
	}
}

// describeUpdates renders refreshed files as one line each.
func describeUpdates(updates []vcs.Update) []string {
	lines := make([]string, 0, len(updates))
	for _, u := range updates {
		status := u.Status
		if status == "" {
			status = "clean"
		}
		lines = append(lines, fmt.Sprintf("%s %s (+%d -%d)", status, u.Path, len(u.Lines.Added), len(u.Lines.Deleted)))
	}
	return lines
}
