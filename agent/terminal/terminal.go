package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/m4xw311/agentwire/agent"
	"github.com/m4xw311/agentwire/usage"
)

const idlePoll = 100 * time.Millisecond

// Conversation is the part of agent.Session the terminal drives.
type Conversation interface {
	SubmitTurn(ctx context.Context, text string) error
	Interrupt(ctx context.Context) error
	Restart(ctx context.Context) error
	Status() agent.Status
	Busy() bool
	Usage() usage.Report
	Tools() []string
}

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	conv Conversation
	in   io.Reader
	out  io.Writer
}

// New creates a terminal reading commands from in and writing its own
// output to out. The conversation itself is rendered by the session's
// transcript.
func New(conv Conversation, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{conv: conv, in: in, out: out}
}

// Run starts the interactive terminal session. It returns when the input
// ends, the user quits or ctx is cancelled.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	if initialPrompt != "" {
		t.submit(ctx, initialPrompt)
	}

	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	prompted := false
	for {
		// The prompt is only shown once the agent is quiet.
		if !prompted && !t.conv.Busy() {
			fmt.Fprint(t.out, "> ")
			prompted = true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			prompted = false
			if quit := t.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (t *Terminal) handle(ctx context.Context, input string) bool {
	if input == "" {
		return false
	}
	if !strings.HasPrefix(input, "/") {
		t.submit(ctx, input)
		return false
	}

	switch input {
	case "/quit", "/exit":
		return true
	case "/interrupt":
		if err := t.conv.Interrupt(ctx); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	case "/restart":
		if err := t.conv.Restart(ctx); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	case "/status":
		fmt.Fprintf(t.out, "status: %s\n", t.conv.Status())
	case "/usage":
		fmt.Fprintln(t.out, t.conv.Usage().String())
	case "/tools":
		names := t.conv.Tools()
		if len(names) == 0 {
			fmt.Fprintln(t.out, "no tools reported")
		}
		for _, name := range names {
			fmt.Fprintln(t.out, name)
		}
	default:
		fmt.Fprintf(t.out, "unknown command: %s\n", input)
	}
	return false
}

func (t *Terminal) submit(ctx context.Context, text string) {
	if t.conv.Busy() {
		fmt.Fprintln(t.out, "agent is busy, wait for it or use /interrupt")
		return
	}
	if err := t.conv.SubmitTurn(ctx, text); err != nil {
		fmt.Fprintf(t.out, "Error: %v\n", err)
	}
}
