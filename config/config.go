package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAgentCommand    = "codex"
	DefaultExecOutputLimit = 64 * 1024
	DefaultStartupTimeout  = 10 * time.Second
)

// DefaultAgentArgs starts the agent in its JSON-RPC server mode.
var DefaultAgentArgs = []string{"app-server"}

// AgentConfig describes the agent subprocess.
type AgentConfig struct {
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	MinVersion string            `yaml:"min_version"`
}

// MCPServer is the definition of one auxiliary tool-providing helper.
type MCPServer struct {
	Name           string            `yaml:"name"`
	Command        string            `yaml:"command"`
	URL            string            `yaml:"url"`
	Args           []string          `yaml:"args"`
	Cwd            string            `yaml:"cwd"`
	Env            map[string]string `yaml:"env"`
	StartupTimeout time.Duration     `yaml:"startup_timeout"`
	ToolTimeout    time.Duration     `yaml:"tool_timeout"`
}

// IsRemote reports whether the server is reached over a URL instead of a local command.
func (s MCPServer) IsRemote() bool {
	return s.URL != "" && s.Command == ""
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CatalogConfig selects the model provider queried by `agentwire models`.
type CatalogConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
}

type Config struct {
	Agent           AgentConfig    `yaml:"agent"`
	Model           string         `yaml:"model"`
	Profile         string         `yaml:"profile"`
	Sandbox         string         `yaml:"sandbox"`
	NetworkAccess   bool           `yaml:"network_access"`
	Verbose         bool           `yaml:"verbose"`
	MCP             MCPConfig      `yaml:"mcp"`
	MCPServers      []MCPServer    `yaml:"mcp_servers"`
	ExecOutputLimit int            `yaml:"exec_output_limit"`
	ExecDenylist    []string       `yaml:"exec_denylist"`
	RefreshIgnore   []string       `yaml:"refresh_ignore"`
	CodexHome       string         `yaml:"codex_home"`
	Log             logging.Config `yaml:"log"`
	Catalog         CatalogConfig  `yaml:"catalog"`
}

// Settings is the read-only snapshot injected into a session at start and
// into every outbound turn request.
type Settings struct {
	Model         string
	Profile       string
	Sandbox       string
	NetworkAccess bool
	Verbose       bool
	MCPEnabled    bool
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, string, error) {
	cfg := &Config{}
	var loaded []string

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".agentwire", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, "", errors.Wrapf(err, "error loading user config")
			}
			loaded = append(loaded, userConfigPath)
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, "", errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".agentwire", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, "", errors.Wrapf(err, "error loading project config")
		}
		loaded = append(loaded, projectConfigPath)
	}

	cfg.applyDefaults()
	return cfg, strings.Join(loaded, string(os.PathListSeparator)), nil
}

// LoadFile loads a single config file.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the later file replace those of the earlier one.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyDefaults() {
	if c.Agent.Command == "" {
		c.Agent.Command = DefaultAgentCommand
		if len(c.Agent.Args) == 0 {
			c.Agent.Args = append([]string(nil), DefaultAgentArgs...)
		}
	}
	if c.ExecOutputLimit <= 0 {
		c.ExecOutputLimit = DefaultExecOutputLimit
	}
	if c.Sandbox == "" {
		c.Sandbox = "workspace-write"
	}
	if c.CodexHome == "" {
		if env := os.Getenv("CODEX_HOME"); env != "" {
			c.CodexHome = env
		} else if home, err := os.UserHomeDir(); err == nil {
			c.CodexHome = filepath.Join(home, ".codex")
		}
	}
	for i := range c.MCPServers {
		c.MCPServers[i].Name = SanitizeName(c.MCPServers[i].Name)
	}
}

// Settings returns the snapshot of the session-relevant settings.
func (c *Config) Settings() Settings {
	return Settings{
		Model:         c.Model,
		Profile:       c.Profile,
		Sandbox:       c.Sandbox,
		NetworkAccess: c.NetworkAccess,
		Verbose:       c.Verbose,
		MCPEnabled:    c.MCP.Enabled,
	}
}

// EnabledMCPServers returns the server definitions when MCP is enabled.
func (c *Config) EnabledMCPServers() []MCPServer {
	if !c.MCP.Enabled {
		return nil
	}
	return c.MCPServers
}

var (
	nonIdentifier  = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
	multiUnderline = regexp.MustCompile(`_+`)
)

// SanitizeName turns a server name into an identifier made of letters,
// digits, '-' and '_'. Dots are replaced because they separate the server
// from the tool in fully qualified tool names.
func SanitizeName(name string) string {
	s := nonIdentifier.ReplaceAllString(strings.TrimSpace(name), "_")
	s = multiUnderline.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "server"
	}
	return s
}
