package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corey/parley/internal/adapters/socket"
	"github.com/corey/parley/internal/app"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon status",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	s, _, err := loadSettings()
	if err != nil {
		return err
	}
	client := socket.NewClient(app.SocketPathFor(s))

	if !client.Ping() {
		warnColor.Fprintln(stdout, "parley daemon is not running")
		return nil
	}

	health, err := client.Health(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprint(stdout, formatHealth(health))
	return nil
}
