package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clawgate/clawgate/internal/agent"
	"github.com/clawgate/clawgate/internal/config"
	"github.com/clawgate/clawgate/internal/gateway"
	"github.com/clawgate/clawgate/internal/infra"
	"github.com/clawgate/clawgate/internal/system/logger"
	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the ClawGate gateway server",
	Long: `Start the WebSocket operator gateway.

The gateway authenticates remote operator clients, enforces scopes and
rate limits, and dispatches RPC calls into the local agent service.

Default: ws://127.0.0.1:18789/gateway`,
	RunE: runGateway,
}

var (
	gatewayPort    int
	gatewayBind    string
	gatewayVerbose bool
)

func init() {
	gatewayCmd.Flags().IntVarP(&gatewayPort, "port", "p", 18789, "Gateway listen port")
	gatewayCmd.Flags().StringVar(&gatewayBind, "bind", "loopback", "Bind mode: loopback or all")
	gatewayCmd.Flags().BoolVarP(&gatewayVerbose, "verbose", "v", false, "Enable verbose logging")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Gateway.Port = gatewayPort
	}
	if cmd.Flags().Changed("bind") {
		cfg.Gateway.Bind = gatewayBind
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if gatewayVerbose || infra.IsTruthyEnv("CLAWGATE_DEBUG") {
		level = slog.LevelDebug
	}
	logManager, err := logger.New(logger.Config{
		Dir:           cfg.Log.Dir,
		Level:         level,
		MaxAgeDays:    cfg.Log.MaxAgeDays,
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		StderrEnabled: cfg.Log.StderrEnabled(),
	})
	if err != nil {
		return err
	}
	defer logManager.Close()
	log := logManager.NewLogger()
	slog.SetDefault(log)

	infra.PrintBanner(version)
	if _, err := logManager.Cleanup(); err != nil {
		log.Warn("log cleanup failed", "error", err)
	}

	store, err := agent.OpenStore(config.StateDir())
	if err != nil {
		return err
	}
	defer store.Close()
	service := agent.NewLocal(cfg, store, log)

	srv := gateway.NewServer(cfg, service, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		return err
	}

	log.Info("🦀 ClawGate gateway ready",
		"version", version,
		"addr", srv.Address(),
		"runtime", infra.GetRuntimeInfo().GoVersion,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
