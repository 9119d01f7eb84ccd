package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_Missing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Gateway.Port != 18789 || cfg.Gateway.Bind != "loopback" {
		t.Errorf("defaults not applied: %+v", cfg.Gateway)
	}
	if cfg.Gateway.Auth.RequireAuth() {
		t.Error("auth required by default")
	}
}

func TestLoadFile_Parse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clawgate.yaml")
	const doc = `
gateway:
  port: 9000
  bind: all
  auth:
    mode: token
    token: secret-T
  maxScopes: [operator.read, operator.write]
agent:
  default: coder
  agents:
    - id: coder
      name: Coder
      model: opus
      command: [run-agent, --provider, anthropic]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Gateway.Port != 9000 || cfg.Gateway.Bind != "all" {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if !cfg.Gateway.Auth.RequireAuth() || cfg.Gateway.Auth.Token != "secret-T" {
		t.Errorf("auth = %+v", cfg.Gateway.Auth)
	}
	a, ok := cfg.FindAgent("")
	if !ok || a.ID != "coder" || len(a.Command) != 3 {
		t.Errorf("FindAgent default = %+v, %v", a, ok)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad_port", func(c *Config) { c.Gateway.Port = 70000 }, false},
		{"bad_bind", func(c *Config) { c.Gateway.Bind = "everywhere" }, false},
		{"token_mode_without_token", func(c *Config) { c.Gateway.Auth.Mode = "token" }, false},
		{"unknown_max_scope", func(c *Config) { c.Gateway.MaxScopes = []string{"operator.root"} }, false},
		{"duplicate_agent", func(c *Config) {
			c.Agent.Agents = append(c.Agent.Agents, AgentDef{ID: "main"})
		}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}
