// Package config loads the parley TOML configuration file.
//
// Precedence, lowest first: built-in defaults, the config file, environment
// variables. A missing file is created with the defaults on first Load.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Environment variables that override file values.
const (
	EnvSocket    = "PARLEY_SOCKET"
	EnvOllamaURL = "PARLEY_OLLAMA_URL"
	EnvDataDir   = "PARLEY_DATA_DIR"
	EnvConfig    = "PARLEY_CONFIG"
)

// Config is the full parley configuration.
type Config struct {
	// DataDir holds the database and daemon log.
	DataDir string `toml:"data_dir"`

	// SocketPath overrides the socket derived from DataDir.
	SocketPath string `toml:"socket_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	Ollama OllamaConfig `toml:"ollama"`
	Chat   ChatConfig   `toml:"chat"`
}

// OllamaConfig addresses the model server.
type OllamaConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the request timeout as a duration.
func (o OllamaConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// ChatConfig holds chat defaults.
type ChatConfig struct {
	// DefaultModel is preselected when it is installed.
	DefaultModel string `toml:"default_model"`

	// TitleMaxRunes bounds titles derived from a chat's first message.
	TitleMaxRunes int `toml:"title_max_runes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:  "~/.local/share/parley",
		LogLevel: "info",
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			TimeoutSeconds: 30,
		},
		Chat: ChatConfig{
			TitleMaxRunes: 50,
		},
	}
}

// DefaultPath returns ~/.config/parley/config.toml, or $PARLEY_CONFIG.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return ExpandHome(p)
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "locate config dir")
	}
	return filepath.Join(dir, "parley", "config.toml"), nil
}

// Load reads path, creating it with defaults when it does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := Save(Default(), path); err != nil {
			return nil, err
		}
	}
	return Read(path)
}

// Read parses path without creating it. Unset keys take their defaults.
func Read(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, errors.Wrap(err, "apply defaults")
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as TOML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

// ApplyEnvOverrides replaces file values with PARLEY_* variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvSocket); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv(EnvOllamaURL); v != "" {
		c.Ollama.BaseURL = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Ollama.TimeoutSeconds < 0 {
		return errors.New("ollama.timeout_seconds must not be negative")
	}
	if c.Chat.TitleMaxRunes < 0 {
		return errors.New("chat.title_max_runes must not be negative")
	}
	if !strings.HasPrefix(c.Ollama.BaseURL, "http://") && !strings.HasPrefix(c.Ollama.BaseURL, "https://") {
		return errors.Errorf("invalid ollama.base_url %q", c.Ollama.BaseURL)
	}
	return nil
}

func (c *Config) resolve() error {
	var err error
	if c.DataDir, err = ExpandHome(c.DataDir); err != nil {
		return err
	}
	if c.SocketPath, err = ExpandHome(c.SocketPath); err != nil {
		return err
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "locate home dir")
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
