package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

var (
	// ErrAlreadyRunning is returned when starting a process that is already running.
	ErrAlreadyRunning = stderrors.New("process already running")
	// ErrNotRunning is returned when writing to a process that is not running.
	ErrNotRunning = stderrors.New("process not running")
	// ErrProcessExited fails every request still pending when the agent process exits.
	ErrProcessExited = stderrors.New("process exited")
	// ErrCancelled resolves a request that the caller gave up on.
	ErrCancelled = stderrors.New("request cancelled")
	// ErrTimeout is returned when a bounded operation ran out of time.
	ErrTimeout = stderrors.New("timed out")
)

// RPCError is an error object carried by a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }
