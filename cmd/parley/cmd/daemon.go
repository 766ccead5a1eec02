package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/corey/parley/internal/adapters/socket"
	"github.com/corey/parley/internal/app"
	"github.com/corey/parley/internal/logging"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the parley daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the daemon in the foreground",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	s, path, err := loadSettings()
	if err != nil {
		return err
	}
	sockPath := app.SocketPathFor(s)

	if socket.NewClient(sockPath).Ping() {
		warnColor.Fprintln(stdout, "daemon already running")
		return nil
	}

	paths := app.NewPaths(s.DataDir)
	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	logger, logFile, err := logging.OpenFile(paths.DaemonLog, s.LogLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()

	a, err := app.New(app.Config{
		Settings:   s,
		ConfigPath: path,
		SocketPath: sockPath,
		Logger:     logger,
	})
	if err != nil {
		if isDBLockError(err) {
			return errors.New(diagnoseDBLock(sockPath))
		}
		return errors.Wrap(err, "init")
	}

	if err := a.Start(); err != nil {
		a.Stop()
		return err
	}

	okColor.Fprintf(stdout, "parley daemon started at %s\n", sockPath)
	fmt.Fprintf(stdout, "  log: %s\n", paths.DaemonLog)

	// Wait for a signal or a remote shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-a.ShutdownCh():
	}

	fmt.Fprintln(stdout, "\nshutting down...")
	return a.Stop()
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	s, _, err := loadSettings()
	if err != nil {
		return err
	}
	client := socket.NewClient(app.SocketPathFor(s))

	if !client.Ping() {
		warnColor.Fprintln(stdout, "daemon is not running")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Shutdown(ctx); err != nil {
		return err
	}

	okColor.Fprintln(stdout, "daemon stopped")
	return nil
}
