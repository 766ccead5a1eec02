// Package app wires together all adapters and domain logic.
// It provides lifecycle management for the parley daemon: create, start, stop.
package app

import (
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/corey/parley/internal/adapters/bbolt"
	fsw "github.com/corey/parley/internal/adapters/fsnotify"
	"github.com/corey/parley/internal/adapters/ollama"
	"github.com/corey/parley/internal/adapters/socket"
	"github.com/corey/parley/internal/config"
	"github.com/corey/parley/internal/ports"
)

// App is the top-level container wiring all components together.
type App struct {
	Paths   *Paths
	Store   *bbolt.Store
	Server  *socket.Server
	Backend *Backend
	Watcher ports.Watcher

	configPath string
	logger     *slog.Logger
}

// Config holds initialization parameters for the App.
type Config struct {
	Settings   *config.Config
	ConfigPath string          // watched for hot reload; empty disables it
	SocketPath string          // default: Settings.SocketPath, else derived from the data dir
	Generator  ports.Generator // default: Ollama client from Settings
	Logger     *slog.Logger
}

// SocketPathFor returns the socket a daemon with these settings listens on.
func SocketPathFor(s *config.Config) string {
	if s.SocketPath != "" {
		return s.SocketPath
	}
	return socket.SocketPath(s.DataDir)
}

// New creates an App with all dependencies wired. Does not start services.
func New(cfg Config) (*App, error) {
	if cfg.Settings == nil {
		return nil, errors.New("settings required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = SocketPathFor(cfg.Settings)
	}
	if cfg.Generator == nil {
		cfg.Generator = newGenerator(cfg.Settings, cfg.Logger)
	}

	paths := NewPaths(cfg.Settings.DataDir)
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	store, err := bbolt.NewStore(paths.DB)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}

	watcher, err := fsw.NewWatcher()
	if err != nil {
		store.Close()
		return nil, err
	}

	server := socket.NewServer(cfg.SocketPath, nil, cfg.Logger)
	backend := NewBackend(store, cfg.Generator, server, cfg.Logger, BackendOptions{
		TitleMaxRunes: cfg.Settings.Chat.TitleMaxRunes,
	})
	server.SetDispatcher(backend)

	return &App{
		Paths:      paths,
		Store:      store,
		Server:     server,
		Backend:    backend,
		Watcher:    watcher,
		configPath: cfg.ConfigPath,
		logger:     cfg.Logger,
	}, nil
}

func newGenerator(s *config.Config, logger *slog.Logger) ports.Generator {
	return ollama.NewClient(ollama.Config{
		BaseURL: s.Ollama.BaseURL,
		Timeout: s.Ollama.Timeout(),
	}, logger)
}

// Start begins the daemon (socket server + config watcher).
func (a *App) Start() error {
	if err := a.Server.Start(); err != nil {
		return errors.Wrap(err, "start server")
	}
	if err := a.Paths.WritePID(os.Getpid()); err != nil {
		a.logger.Warn("write pid file", "err", err)
	}
	// Config watcher is non-fatal if setup fails
	if a.configPath != "" {
		if err := a.Watcher.Watch(a.configPath, a.onConfigChanged); err != nil {
			a.logger.Warn("config watcher unavailable", "err", err)
		}
	}
	a.logger.Info("daemon started", "socket", a.Server.Addr(), "db", a.Paths.DB)
	return nil
}

// Stop gracefully shuts down all services. In-flight streams are cancelled
// and awaited before the store closes.
func (a *App) Stop() error {
	start := time.Now()
	a.Watcher.Stop()
	a.Server.Stop()
	a.Backend.Close()
	a.Paths.CleanEphemeral()
	err := a.Store.Close()
	a.logger.Info("daemon stopped", "took", time.Since(start).Round(time.Millisecond))
	return err
}

// ShutdownCh is closed when a client asks the daemon to stop.
func (a *App) ShutdownCh() <-chan struct{} {
	return a.Server.ShutdownCh()
}

// onConfigChanged re-reads the config file and applies the settings that
// can change without a restart: the Ollama client and title length.
func (a *App) onConfigChanged(path string) {
	settings, err := config.Read(path)
	if err != nil {
		a.logger.Warn("config reload failed; keeping current settings", "path", path, "err", err)
		return
	}
	a.Backend.SetGenerator(newGenerator(settings, a.logger))
	a.Backend.SetTitleMaxRunes(settings.Chat.TitleMaxRunes)
	a.logger.Info("config reloaded", "ollama", settings.Ollama.BaseURL)
}
