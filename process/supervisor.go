// Package process supervises the agent subprocess: it starts and stops the
// process tree, serializes writes to its stdin and turns stdout and stderr
// into a stream of line events.
package process

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
	"github.com/sirupsen/logrus"
)

const (
	defaultScannerBufSize = 16 * 1024 * 1024
	defaultEventBuffer    = 256
	stopTimeout           = 5 * time.Second
	// drainGrace bounds how long output is read after the process exited.
	// A grandchild that inherited stdout or stderr can hold the pipe open.
	drainGrace = 500 * time.Millisecond
)

// Stream names the output stream a line was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

type EventKind int

const (
	// EventLine carries one line read from stdout or stderr.
	EventLine EventKind = iota
	// EventExited is emitted exactly once per start, after both streams drained
	// or, when something else still holds them open, shortly after the exit.
	EventExited
)

// Event is one item of the supervisor's output.
type Event struct {
	Kind     EventKind
	Stream   Stream
	Line     string
	ExitCode int
	Err      error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithEnv adds KEY=VALUE pairs to the inherited environment.
func WithEnv(env map[string]string) Option {
	return func(s *Supervisor) {
		for k, v := range env {
			s.env = append(s.env, k+"="+v)
		}
	}
}

func WithLogger(logger *logrus.Entry) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithBufferSize sets the longest line the supervisor accepts.
func WithBufferSize(n int) Option {
	return func(s *Supervisor) { s.bufSize = n }
}

// Supervisor owns one agent subprocess at a time.
type Supervisor struct {
	command string
	args    []string
	env     []string
	bufSize int
	logger  *logrus.Entry

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	running   bool
	events    chan Event
	done      chan struct{}
	exitHooks []func(error)

	writeMu sync.Mutex
}

// New creates a supervisor for command. Nothing is spawned until Start.
func New(command string, args []string, opts ...Option) *Supervisor {
	s := &Supervisor{
		command: command,
		args:    append([]string(nil), args...),
		bufSize: defaultScannerBufSize,
		logger:  logging.NewLogger("process"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnExit registers a hook that runs synchronously when the process exits,
// before the EventExited event is delivered.
func (s *Supervisor) OnExit(hook func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitHooks = append(s.exitHooks, hook)
}

// Start spawns the process in workdir. It fails if the process is already
// running or cannot be spawned.
func (s *Supervisor) Start(workdir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.ErrAlreadyRunning
	}

	cmd := exec.Command(s.command, s.args...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), s.env...)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrapf(err, "create stdin pipe")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return errors.Wrapf(err, "create stdout pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		closeAll(stdoutR, stdoutW)
		return errors.Wrapf(err, "create stderr pipe")
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)
	if err != nil {
		stdin.Close()
		closeAll(stdoutR, stderrR)
		return errors.Wrapf(err, "failed to start %s", s.command)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.running = true
	s.events = make(chan Event, defaultEventBuffer)
	s.done = make(chan struct{})
	s.logger.WithFields(logrus.Fields{"pid": cmd.Process.Pid, "cwd": workdir}).Infof("started %s", s.command)

	readers := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go s.scan(stdoutR, Stdout, s.events, &wg)
	go s.scan(stderrR, Stderr, s.events, &wg)
	go func() {
		wg.Wait()
		close(readers)
	}()
	go s.wait(cmd, s.events, s.done, readers, stdoutR, stderrR)
	return nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func (s *Supervisor) scan(pipe *os.File, stream Stream, events chan<- Event, readers *sync.WaitGroup) {
	defer readers.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), s.bufSize)
	for scanner.Scan() {
		events <- Event{Kind: EventLine, Stream: stream, Line: scanner.Text()}
	}
	err := scanner.Err()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return
	}
	s.logger.WithError(err).Warnf("%s scanner stopped", stream)
	// Keep draining so the child never blocks on a full pipe.
	io.Copy(io.Discard, pipe)
}

func (s *Supervisor) wait(cmd *exec.Cmd, events chan Event, done chan struct{}, readers <-chan struct{}, pipes ...*os.File) {
	err := cmd.Wait()

	select {
	case <-readers:
	case <-time.After(drainGrace):
		s.logger.Debug("output still open after exit, closing pipes")
	}
	closeAll(pipes...)
	<-readers

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.mu.Lock()
	s.running = false
	s.stdin.Close()
	hooks := slices.Clone(s.exitHooks)
	s.mu.Unlock()

	s.logger.WithField("exit_code", exitCode).Info("process exited")
	for _, hook := range hooks {
		hook(err)
	}

	events <- Event{Kind: EventExited, ExitCode: exitCode, Err: err}
	close(events)
	close(done)
}

// Events returns the event channel of the most recent start. It is closed
// after the EventExited event.
func (s *Supervisor) Events() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Send writes one line to the process's stdin. Writes are serialized so
// concurrent callers never interleave partial lines.
func (s *Supervisor) Send(line []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	stdin, running := s.stdin, s.running
	s.mu.Unlock()
	if !running {
		return errors.ErrNotRunning
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := stdin.Write(buf); err != nil {
		return errors.Wrapf(err, "write to %s", s.command)
	}
	return nil
}

// CloseStdin closes the process's input so it sees EOF.
func (s *Supervisor) CloseStdin() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	stdin, running := s.stdin, s.running
	s.mu.Unlock()
	if !running {
		return nil
	}
	return stdin.Close()
}

// Stop terminates the process tree. It is idempotent and waits briefly for
// the exit to be observed.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd, running, done := s.cmd, s.running, s.done
	s.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := killProcessGroup(cmd); err != nil {
		s.logger.WithError(err).Debug("kill process group")
	}

	select {
	case <-done:
	case <-time.After(stopTimeout):
		return errors.New("process %d did not exit within %s", cmd.Process.Pid, stopTimeout)
	}
	return nil
}

// Running reports whether the process is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PID returns the process id of the running process, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}
