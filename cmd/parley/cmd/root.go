package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/corey/parley/internal/adapters/socket"
	"github.com/corey/parley/internal/app"
	"github.com/corey/parley/internal/config"
	"github.com/corey/parley/internal/domain/chat"
	"github.com/corey/parley/internal/domain/folder"
	"github.com/corey/parley/internal/domain/workspace"
	"github.com/corey/parley/internal/logging"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:           "parley",
	Short:         "parley: local chat for Ollama models",
	Long:          "Chat with local Ollama models. Conversations are kept by a background daemon and organised into workspaces and folders.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ~/.config/parley/config.toml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(modelsCmd)
}

// loadSettings reads the config file, creating it on first use.
func loadSettings() (*config.Config, string, error) {
	path := configFlag
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, "", err
		}
	}
	s, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return s, path, nil
}

// daemonClient returns a client for a running daemon.
func daemonClient() (*socket.Client, *config.Config, error) {
	s, _, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	client := socket.NewClient(app.SocketPathFor(s))
	if !client.Ping() {
		return nil, nil, errors.New("daemon is not running\n  → start it:  parley daemon start")
	}
	return client, s, nil
}

// session is the client-side view used by one-shot commands and the REPL.
type session struct {
	client     *socket.Client
	settings   *config.Config
	workspaces *workspace.Store
	folders    *folder.Store
	ctrl       *chat.Controller
}

// openSession connects to the daemon and loads workspaces, which cascades
// into the folder and chat history caches.
func openSession(ctx context.Context) (*session, error) {
	client, s, err := daemonClient()
	if err != nil {
		return nil, err
	}
	logger := logging.New(stderr, "warn")
	ws := workspace.New(client)
	fs := folder.New(client, ws, logger)
	ctrl := chat.New(client, ws, fs, logger)
	if err := ws.Refresh(ctx); err != nil {
		return nil, err
	}
	return &session{client: client, settings: s, workspaces: ws, folders: fs, ctrl: ctrl}, nil
}

// check turns an error recorded by the controller into a command error.
func (s *session) check() error {
	if msg := s.ctrl.Snapshot().Error; msg != "" {
		return errors.New(msg)
	}
	return nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// resolveID expands a unique id prefix (at least four characters) the way
// the listings print ids. Unknown refs pass through so the daemon reports
// them.
func resolveID(kind, ref string, ids []string) (string, error) {
	var match string
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
		if len(ref) >= 4 && strings.HasPrefix(id, ref) {
			if match != "" {
				return "", errors.Errorf("%s id %q is ambiguous", kind, ref)
			}
			match = id
		}
	}
	if match == "" {
		return ref, nil
	}
	return match, nil
}
