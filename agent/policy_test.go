package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecPolicySuppressed(t *testing.T) {
	p := NewExecPolicy(nil)

	tests := []struct {
		command []string
		want    bool
	}{
		{[]string{"cat", "main.go"}, true},
		{[]string{"bash", "-lc", "rg foo src"}, true},
		{[]string{"bash", "-lc", "cd src && sed -n 1,80p x.go"}, true},
		{[]string{"bash", "-lc", "go test ./... | grep FAIL"}, true},
		{[]string{"concat", "a", "b"}, false},
		{[]string{"go", "build", "./..."}, false},
		{[]string{"ls"}, false},
		{[]string{"ls", "-R"}, true},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Suppressed(tt.command), "%q", tt.command)
	}
}

func TestExecPolicyCustomDenylist(t *testing.T) {
	p := NewExecPolicy([]string{"make "})
	assert.True(t, p.Suppressed([]string{"make", "all"}))
	assert.False(t, p.Suppressed([]string{"cat", "x"}))
}

func TestRetryBudget(t *testing.T) {
	b := NewRetryBudget(1)
	assert.Equal(t, 1, b.Remaining())
	assert.True(t, b.Take())
	assert.False(t, b.Take())
	assert.False(t, b.Take())
	assert.Equal(t, 0, b.Remaining())

	b.Reset()
	assert.True(t, b.Take())
}
