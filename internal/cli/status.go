package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/clawgate/clawgate/internal/agent"
	"github.com/clawgate/clawgate/internal/config"
	"github.com/clawgate/clawgate/internal/gateway/client"
	"github.com/clawgate/clawgate/internal/gateway/protocol"
	"github.com/clawgate/clawgate/internal/system/logger"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway configuration and reachability",
	RunE:  runStatus,
}

var statusURL string

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "ws://127.0.0.1:18789", "Gateway URL")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("clawgate %s\n", version)
	fmt.Printf("  config:  %s\n", config.Path())
	fmt.Printf("  state:   %s\n", config.StateDir())
	fmt.Printf("  port:    %d (%s)\n", cfg.Gateway.Port, cfg.Gateway.Bind)
	fmt.Printf("  auth:    %s\n", authMode(cfg))
	fmt.Printf("  agents:  %d (default %q)\n", len(cfg.Agent.Agents), cfg.Agent.Default)

	logDir := cfg.Log.Dir
	if logDir == "" {
		logDir = logger.DefaultConfig().Dir
	}
	if size, err := logger.TotalSize(logDir); err == nil {
		fmt.Printf("  logs:    %s (%.1f MB)\n", logDir, float64(size)/(1024*1024))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := client.Call(ctx, client.Options{
		URL:    statusURL,
		Token:  os.Getenv("CLAWGATE_TOKEN"),
		Method: protocol.MethodHealth,
		Scopes: []protocol.Scope{protocol.ScopeRead},
	})
	if err != nil {
		fmt.Printf("  gateway: unreachable (%v)\n", err)
		return nil
	}
	var health agent.Health
	if err := json.Unmarshal(res.Payload, &health); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	fmt.Printf("  gateway: %s (protocol %d, scopes %v)\n",
		health.Status, health.Protocol, res.Hello.Scopes)
	return nil
}

func authMode(cfg *config.Config) string {
	if cfg.Gateway.Auth.RequireAuth() {
		return "token"
	}
	return "none"
}
