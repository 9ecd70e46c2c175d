package agent

import (
	"fmt"
	"io"
	"sync"
)

// Transcript renders the user-facing conversation. Streaming assistant text
// is written inline after a single header; any other write first ends the
// open line.
type Transcript struct {
	mu          sync.Mutex
	w           io.Writer
	streaming   bool
	atLineStart bool
}

func NewTranscript(w io.Writer) *Transcript {
	if w == nil {
		w = io.Discard
	}
	return &Transcript{w: w, atLineStart: true}
}

// Printf writes one line.
func (t *Transcript) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.breakLine()
	t.write(fmt.Sprintf(format, args...) + "\n")
}

// Message writes a complete message under a role header.
func (t *Transcript) Message(role, text string) {
	t.Printf("%s: %s", role, text)
}

// StreamDelta appends text to the open stream, writing the header first if
// no stream is open.
func (t *Transcript) StreamDelta(role, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.streaming {
		t.breakLine()
		t.write(role + ": ")
		t.streaming = true
	}
	t.write(text)
}

// EndStream closes the open stream, if any.
func (t *Transcript) EndStream() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.breakLine()
}

// Write appends raw output such as command output.
func (t *Transcript) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.streaming {
		t.breakLine()
	}
	t.write(string(p))
	return len(p), nil
}

func (t *Transcript) breakLine() {
	if !t.atLineStart {
		t.write("\n")
	}
	t.streaming = false
}

func (t *Transcript) write(s string) {
	if s == "" {
		return
	}
	io.WriteString(t.w, s)
	t.atLineStart = s[len(s)-1] == '\n'
}
