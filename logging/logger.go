// Package logging provides component loggers for agentwire.
//
// Diagnostic output goes through logrus. The conversation itself (assistant
// text, exec output) is written to the session transcript, not here.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config defines the `log` section of config.yaml.
type Config struct {
	// Level is the minimum level ("debug", "info", "warn", "error").
	// AGENTWIRE_LOG_LEVEL overrides it.
	Level string `yaml:"level"`
	// Format is "text" (default) or "json".
	Format string `yaml:"format"`
	// File, when set, receives log output instead of stderr.
	File string `yaml:"file"`
}

var (
	loggersMu sync.Mutex
	loggers   = make(map[string]*logrus.Entry)
	base      = newBase()
	logFile   *os.File
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(levelFrom(os.Getenv("AGENTWIRE_LOG_LEVEL"), logrus.InfoLevel))
	return l
}

func levelFrom(s string, fallback logrus.Level) logrus.Level {
	if s == "" {
		return fallback
	}
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return fallback
	}
	return level
}

// NewLogger returns the logger for a component. Loggers are cached so every
// caller naming the same component shares one entry.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, ok := loggers[component]; ok {
		return logger
	}
	logger := base.WithField("component", component)
	loggers[component] = logger
	return logger
}

// Configure applies the `log` config section to every component logger.
func Configure(cfg Config) error {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	level := levelFrom(cfg.Level, logrus.InfoLevel)
	if env := os.Getenv("AGENTWIRE_LOG_LEVEL"); env != "" {
		level = levelFrom(env, level)
	}
	base.SetLevel(level)

	switch cfg.Format {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		base.SetOutput(f)
	}
	return nil
}

// SetOutput redirects all component loggers.
func SetOutput(w io.Writer) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	base.SetOutput(w)
}

// SetLevel changes the level of all component loggers.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}
