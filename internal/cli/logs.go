package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/clawgate/clawgate/internal/config"
	syslogger "github.com/clawgate/clawgate/internal/system/logger"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect gateway log files",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all log files",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := resolveLogDir()
		files, err := syslogger.ListLogFiles(dir)
		if err != nil {
			return fmt.Errorf("list log files: %w", err)
		}
		if len(files) == 0 {
			fmt.Printf("No log files found in %s\n", dir)
			return nil
		}

		total, _ := syslogger.TotalSize(dir)
		fmt.Printf("Log files (%d, total %.1f MB):\n\n", len(files), float64(total)/1024/1024)
		for _, f := range files {
			sizeMB := float64(f.Size) / 1024 / 1024
			fmt.Printf("  %-32s  %8.2f MB  %s\n", f.Name, sizeMB, f.ModTime.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("\nLog directory: %s\n", dir)
		return nil
	},
}

var logsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old log files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		maxAge := cfg.Log.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 30
		}

		mgr, err := syslogger.New(syslogger.Config{
			Dir:           cfg.Log.Dir,
			MaxAgeDays:    maxAge,
			MaxSizeMB:     cfg.Log.MaxSizeMB,
			StderrEnabled: false,
		})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer mgr.Close()

		removed, err := mgr.Cleanup()
		if err != nil {
			return fmt.Errorf("cleanup logs: %w", err)
		}
		if removed == 0 {
			fmt.Println("No expired log files to clean.")
		} else {
			fmt.Printf("Removed %d expired log files (older than %d days)\n", removed, maxAge)
		}
		return nil
	},
}

var (
	logsTailLines  int
	logsTailFollow bool
)

var logsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the end of the latest log file",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := resolveLogDir()
		files, err := syslogger.ListLogFiles(dir)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Printf("No log files found in %s\n", dir)
			return nil
		}

		latest := files[0].Path
		lines, err := syslogger.TailFile(latest, logsTailLines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		if !logsTailFollow {
			return nil
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(stop)

		done := make(chan struct{})
		go func() {
			<-stop
			close(done)
		}()
		return syslogger.FollowFile(latest, os.Stdout, done)
	},
}

func init() {
	logsTailCmd.Flags().IntVarP(&logsTailLines, "lines", "n", 200, "Number of lines to print")
	logsTailCmd.Flags().BoolVarP(&logsTailFollow, "follow", "f", false, "Keep streaming new records")

	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsCleanCmd)
	logsCmd.AddCommand(logsTailCmd)
	rootCmd.AddCommand(logsCmd)
}

func resolveLogDir() string {
	cfg, err := config.Load()
	if err == nil && strings.TrimSpace(cfg.Log.Dir) != "" {
		return cfg.Log.Dir
	}
	return syslogger.DefaultConfig().Dir
}
