package terminal

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/m4xw311/agentwire/agent"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversation struct {
	mu          sync.Mutex
	busy        bool
	turns       []string
	interrupts  int
	restarts    int
	submitError error
}

func (f *fakeConversation) SubmitTurn(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, text)
	return f.submitError
}

func (f *fakeConversation) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *fakeConversation) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeConversation) Status() agent.Status { return agent.StatusIdle }

func (f *fakeConversation) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeConversation) Usage() usage.Report {
	return usage.Compute(usage.Counts{Input: 60000, CachedInput: 10000, Output: 12000}, 200000)
}

func (f *fakeConversation) Tools() []string { return []string{"docs.fetch", "docs.search"} }

func run(t *testing.T, conv *fakeConversation, input, initial string) string {
	t.Helper()
	var out strings.Builder
	term := New(conv, strings.NewReader(input), &out)
	require.NoError(t, term.Run(context.Background(), initial))
	return out.String()
}

func TestTerminalSubmitsTurns(t *testing.T) {
	conv := &fakeConversation{}
	out := run(t, conv, "\nfix the tests\n  \n/quit\nignored\n", "hello")

	assert.Equal(t, []string{"hello", "fix the tests"}, conv.turns)
	assert.True(t, strings.HasPrefix(out, "> "))
}

func TestTerminalCommands(t *testing.T) {
	conv := &fakeConversation{}
	out := run(t, conv, "/status\n/usage\n/tools\n/interrupt\n/restart\n/nope\n", "")

	assert.Contains(t, out, "status: idle\n")
	assert.Contains(t, out, "62000 tokens used, 73% context left\n")
	assert.Contains(t, out, "docs.fetch\ndocs.search\n")
	assert.Contains(t, out, "unknown command: /nope\n")
	assert.Equal(t, 1, conv.interrupts)
	assert.Equal(t, 1, conv.restarts)
	assert.Empty(t, conv.turns)
}

func TestTerminalRejectsTurnWhileBusy(t *testing.T) {
	conv := &fakeConversation{busy: true}
	out := run(t, conv, "more work\n/interrupt\n/exit\n", "")

	assert.Empty(t, conv.turns)
	assert.Equal(t, 1, conv.interrupts)
	assert.Contains(t, out, "agent is busy")
	assert.NotContains(t, out, "> ")
}

func TestTerminalReportsSubmitErrors(t *testing.T) {
	conv := &fakeConversation{submitError: errors.ErrNotRunning}
	out := run(t, conv, "hi\n", "")
	assert.Contains(t, out, "Error: process not running")
}

func TestTerminalStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term := New(&fakeConversation{}, strings.NewReader(""), &strings.Builder{})
	err := term.Run(ctx, "")
	// Either the cancelled context or the empty input ends the loop first.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
