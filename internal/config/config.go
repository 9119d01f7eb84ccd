// Package config handles loading and validating the clawgate
// configuration. Config is stored at ~/.clawgate/clawgate.yaml; a missing
// file yields defaults so the gateway runs out of the box on loopback.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/clawgate/clawgate/internal/gateway/protocol"
	"github.com/goccy/go-yaml"
)

// Config is the top-level clawgate configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Agent   AgentConfig   `yaml:"agent"`
	Log     LogConfig     `yaml:"log"`
}

// GatewayConfig configures the operator gateway server.
type GatewayConfig struct {
	Port int         `yaml:"port"`
	Bind string      `yaml:"bind"` // "loopback" or "all"
	Auth AuthConfig  `yaml:"auth"`
	// MaxScopes caps what any connection may be granted. Empty means all
	// known scopes.
	MaxScopes []string `yaml:"maxScopes"`
}

// BindHost maps the bind mode to a listen host.
func (g GatewayConfig) BindHost() string {
	if g.Bind == "all" {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

// GrantableScopes returns the cap as a scope set.
func (g GatewayConfig) GrantableScopes() protocol.ScopeSet {
	if len(g.MaxScopes) == 0 {
		return protocol.AllScopes()
	}
	set := make(protocol.ScopeSet, len(g.MaxScopes))
	for _, s := range g.MaxScopes {
		set[protocol.Scope(s)] = struct{}{}
	}
	return set
}

// AuthConfig configures gateway authentication.
type AuthConfig struct {
	Mode  string `yaml:"mode"` // "token" or "none"
	Token string `yaml:"token"`
}

// RequireAuth reports whether connections must present a bearer token.
func (a AuthConfig) RequireAuth() bool {
	return a.Mode == "token"
}

// AgentConfig configures the local agent service.
type AgentConfig struct {
	Default   string     `yaml:"default"` // agent id used when a run names none
	Workspace string     `yaml:"workspace"`
	Agents    []AgentDef `yaml:"agents"`
}

// AgentDef describes one runnable agent.
type AgentDef struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Model   string   `yaml:"model"`
	Command []string `yaml:"command"` // argv; the message is appended
}

// LogConfig configures file logging.
type LogConfig struct {
	Level      string `yaml:"level"` // "debug", "info", "warn", "error"
	Dir        string `yaml:"dir"`
	Stderr     *bool  `yaml:"stderr"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
}

// StderrEnabled defaults to true when unset.
func (l LogConfig) StderrEnabled() bool {
	return l.Stderr == nil || *l.Stderr
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port: 18789,
			Bind: "loopback",
			Auth: AuthConfig{Mode: "none"},
		},
		Agent: AgentConfig{
			Default:   "main",
			Workspace: filepath.Join(BaseDir(), "workspace"),
			Agents: []AgentDef{
				{ID: "main", Name: "Main Agent", Command: []string{"echo"}},
			},
		},
		Log: LogConfig{Level: "info", MaxAgeDays: 30, MaxSizeMB: 50},
	}
}

// BaseDir returns the clawgate home directory.
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawgate"
	}
	return filepath.Join(home, ".clawgate")
}

// Path returns the config file location.
func Path() string {
	return filepath.Join(BaseDir(), "clawgate.yaml")
}

// StateDir returns the directory for local state (session db and such).
func StateDir() string {
	return filepath.Join(BaseDir(), "state")
}

// Load reads the config file at the default path.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads and validates a config file. A missing file returns
// defaults without error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	switch c.Gateway.Bind {
	case "", "loopback", "all":
	default:
		return fmt.Errorf("gateway.bind must be %q or %q", "loopback", "all")
	}
	switch c.Gateway.Auth.Mode {
	case "", "none":
	case "token":
		if c.Gateway.Auth.Token == "" {
			return fmt.Errorf("gateway.auth.mode is %q but no token configured", "token")
		}
	default:
		return fmt.Errorf("gateway.auth.mode must be %q or %q", "token", "none")
	}
	for _, s := range c.Gateway.MaxScopes {
		if !protocol.ValidScope(protocol.Scope(s)) {
			return fmt.Errorf("gateway.maxScopes: unknown scope %q", s)
		}
	}
	seen := map[string]bool{}
	for _, a := range c.Agent.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// FindAgent resolves an agent id, falling back to the configured default
// and then the first agent.
func (c *Config) FindAgent(id string) (AgentDef, bool) {
	if id == "" {
		id = c.Agent.Default
	}
	for _, a := range c.Agent.Agents {
		if a.ID == id {
			return a, true
		}
	}
	if id == c.Agent.Default && len(c.Agent.Agents) > 0 {
		return c.Agent.Agents[0], true
	}
	return AgentDef{}, false
}
