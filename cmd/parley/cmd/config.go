package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corey/parley/internal/adapters/socket"
	"github.com/corey/parley/internal/app"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long:  "Shows the config file, data paths, socket path, Ollama settings and daemon status. No daemon required.",
	RunE:  runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	s, path, err := loadSettings()
	if err != nil {
		return err
	}
	paths := app.NewPaths(s.DataDir)
	sockPath := app.SocketPathFor(s)

	daemonStatus := warnColor.Sprint("✗ not running")
	if socket.NewClient(sockPath).Ping() {
		daemonStatus = okColor.Sprint("✓ running")
	}

	titleColor.Fprintln(stdout, "parley config")
	fmt.Fprintf(stdout, "  Config:      %s\n", path)
	fmt.Fprintf(stdout, "  Data:        %s\n", s.DataDir)
	fmt.Fprintf(stdout, "  DB:          %s\n", paths.DB)
	fmt.Fprintf(stdout, "  Log:         %s (%s)\n", paths.DaemonLog, s.LogLevel)
	fmt.Fprintf(stdout, "  Socket:      %s\n", sockPath)
	fmt.Fprintf(stdout, "  Ollama:      %s (timeout %s)\n", s.Ollama.BaseURL, s.Ollama.Timeout())
	if s.Chat.DefaultModel != "" {
		fmt.Fprintf(stdout, "  Model:       %s\n", s.Chat.DefaultModel)
	}
	fmt.Fprintf(stdout, "  Daemon:      %s\n", daemonStatus)
	return nil
}
