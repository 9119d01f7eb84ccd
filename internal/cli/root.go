package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

// SetBuildInfo sets version info injected at build time.
func SetBuildInfo(v, date, commit string) {
	version = v
	buildDate = date
	gitCommit = commit
}

var rootCmd = &cobra.Command{
	Use:   "clawgate",
	Short: "ClawGate — Remote Operator Gateway",
	Long: `🦀 ClawGate — Remote Operator Gateway

Authenticated WebSocket RPC gateway for operating local AI agents from
remote clients. One binary runs the server, the operator CLI and the
diagnostics.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("clawgate %s\n", version)
		fmt.Printf("  build:  %s\n", buildDate)
		fmt.Printf("  commit: %s\n", gitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the root cobra command.
func Execute() error {
	return rootCmd.Execute()
}
