package agent

import (
	"strings"
	"sync"
)

// DefaultExecDenylist names commands whose output is mostly file dumps or
// search hits. Their output is not echoed to the transcript. Matching is a
// heuristic and may both over- and under-suppress.
var DefaultExecDenylist = []string{
	"cat ",
	"rg ",
	"grep ",
	"sed -n",
	"nl -ba",
	"head ",
	"tail ",
	"find ",
	"ls -R",
}

// ExecPolicy decides which command output is echoed.
type ExecPolicy struct {
	denylist []string
}

// NewExecPolicy uses DefaultExecDenylist when denylist is empty.
func NewExecPolicy(denylist []string) *ExecPolicy {
	if len(denylist) == 0 {
		denylist = DefaultExecDenylist
	}
	return &ExecPolicy{denylist: denylist}
}

// Suppressed reports whether a command's output should be dropped. An
// entry matches where it starts a token of the joined command line, so
// "cat " matches "bash -lc cat x" and "a && cat x" but not "concat x".
func (p *ExecPolicy) Suppressed(command []string) bool {
	line := " " + strings.Join(command, " ") + " "
	for _, entry := range p.denylist {
		for i := 0; ; {
			j := strings.Index(line[i:], entry)
			if j < 0 {
				break
			}
			pos := i + j
			if pos > 0 && isTokenBoundary(line[pos-1]) {
				return true
			}
			i = pos + 1
		}
	}
	return false
}

func isTokenBoundary(c byte) bool {
	switch c {
	case ' ', '\t', ';', '|', '&', '(', '\'', '"', '`':
		return true
	}
	return false
}

// RetryBudget bounds automatic retries within one session.
type RetryBudget struct {
	mu    sync.Mutex
	limit int
	used  int
}

func NewRetryBudget(limit int) *RetryBudget {
	return &RetryBudget{limit: limit}
}

// Take consumes one retry. It reports false when the budget is spent.
func (b *RetryBudget) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Remaining returns the number of retries left.
func (b *RetryBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit - b.used
}

// Reset restores the full budget.
func (b *RetryBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = 0
}
