package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		fq, server, tool string
		ok               bool
	}{
		{"gopls.definition", "gopls", "definition", true},
		{"fs.read.file", "fs", "read.file", true},
		{"github__create_issue", "github", "create_issue", true},
		{"a__b__c", "a", "b__c", true},
		{"plain", "", "plain", false},
		{".hidden", "", ".hidden", false},
		{"trailing.", "", "trailing.", false},
	}
	for _, tt := range tests {
		t.Run(tt.fq, func(t *testing.T) {
			server, tool, ok := SplitName(tt.fq)
			assert.Equal(t, tt.server, server)
			assert.Equal(t, tt.tool, tool)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestInventoryReplace(t *testing.T) {
	inv := NewInventory()
	inv.Add("stale", []string{"old"})
	inv.Replace([]string{"gopls.hover", "github__search", "docs.lookup"})

	assert.Equal(t, 3, inv.Len())
	server, ok := inv.Server("github__search")
	assert.True(t, ok)
	assert.Equal(t, "github", server)

	_, ok = inv.Server("stale.old")
	assert.False(t, ok)

	assert.Equal(t, []string{"docs.lookup", "github__search", "gopls.hover"}, inv.Names())
	assert.Equal(t, map[string][]string{
		"docs":   {"lookup"},
		"github": {"search"},
		"gopls":  {"hover"},
	}, inv.ByServer())
}
