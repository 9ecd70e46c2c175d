package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNewer(t *testing.T) {
	tests := []struct {
		latest, installed string
		want              bool
	}{
		{"0.47.0", "0.46.0", true},
		{"0.46.0", "0.46.0", false},
		{"0.46.1", "0.46", true},
		{"0.46", "0.46.0", false},
		{"1.0.0", "0.99.99", true},
		{"0.9.0", "0.10.0", false},
		{"v1.2.3", "1.2.2", true},
		{"1.2.x", "1.2.0", false},
		{"1.3.0-beta.1", "1.2.9", true},
		{"", "0.1.0", false},
		{"0.1.0", "garbage", true},
	}
	for _, tt := range tests {
		t.Run(tt.latest+"_vs_"+tt.installed, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNewer(tt.latest, tt.installed))
		})
	}
}

func TestExtract(t *testing.T) {
	assert.Equal(t, "0.46.0", Extract("codex-cli 0.46.0\n"))
	assert.Equal(t, "1.2.3", Extract("tool v1.2.3 (build abc)"))
	assert.Equal(t, "", Extract("unknown"))
}
