package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "model: gpt-5\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-5", cfg.Model)
	assert.Equal(t, DefaultAgentCommand, cfg.Agent.Command)
	assert.Equal(t, []string{"app-server"}, cfg.Agent.Args)
	assert.Equal(t, DefaultExecOutputLimit, cfg.ExecOutputLimit)
	assert.Equal(t, "workspace-write", cfg.Sandbox)
}

func TestLoadFileMCPServers(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
mcp:
  enabled: true
mcp_servers:
  - name: "docs.search server"
    command: docs-mcp
    args: ["--stdio"]
    env:
      TOKEN: abc
    startup_timeout: 3s
  - name: remote
    url: https://example.com/mcp
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.MCPServers, 2)

	docs := cfg.MCPServers[0]
	assert.Equal(t, "docs_search_server", docs.Name)
	assert.Equal(t, []string{"--stdio"}, docs.Args)
	assert.Equal(t, "abc", docs.Env["TOKEN"])
	assert.Equal(t, 3*time.Second, docs.StartupTimeout)
	assert.False(t, docs.IsRemote())
	assert.True(t, cfg.MCPServers[1].IsRemote())
	assert.Len(t, cfg.EnabledMCPServers(), 2)
}

func TestEnabledMCPServersRespectsFlag(t *testing.T) {
	cfg := Default()
	cfg.MCPServers = []MCPServer{{Name: "a", Command: "a"}}
	assert.Empty(t, cfg.EnabledMCPServers())
}

func TestCustomCommandKeepsArgs(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "agent:\n  command: /opt/agent\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/agent", cfg.Agent.Command)
	assert.Empty(t, cfg.Agent.Args)
}

func TestSettingsSnapshot(t *testing.T) {
	cfg := Default()
	cfg.Model = "o3"
	cfg.Profile = "work"
	cfg.NetworkAccess = true
	cfg.Verbose = true
	cfg.MCP.Enabled = true

	assert.Equal(t, Settings{
		Model:         "o3",
		Profile:       "work",
		Sandbox:       "workspace-write",
		NetworkAccess: true,
		Verbose:       true,
		MCPEnabled:    true,
	}, cfg.Settings())
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"github":        "github",
		" my server ":   "my_server",
		"a.b.c":         "a_b_c",
		"weird!!name??": "weird_name",
		"__":            "server",
		"keep-dash_ok":  "keep-dash_ok",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), in)
	}
}

func TestLoadConfigProjectOverridesUser(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, os.MkdirAll(filepath.Join(home, ".agentwire"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".agentwire"), 0o755))
	writeConfig(t, filepath.Join(home, ".agentwire"), "model: user-model\nprofile: user\n")
	writeConfig(t, filepath.Join(project, ".agentwire"), "model: project-model\n")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(project))
	defer os.Chdir(wd)

	cfg, sources, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Model)
	assert.Equal(t, "user", cfg.Profile)
	assert.Contains(t, sources, filepath.Join(project, ".agentwire", "config.yaml"))
}

func TestWatchReportsChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "model: a\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 4)
	go Watch(ctx, []string{path}, 20*time.Millisecond, func(file string) {
		changed <- file
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("model: b\n"), 0o644))

	select {
	case file := <-changed:
		assert.Equal(t, filepath.Base(path), filepath.Base(file))
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}
}
