package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Paths holds all resolved filesystem paths under the parley data directory.
type Paths struct {
	Root string // <data_dir>/
	DB   string // <data_dir>/parley.db

	History string // <data_dir>/history (REPL input history)

	LogDir    string // <data_dir>/log/
	DaemonLog string // <data_dir>/log/daemon.log

	RunDir  string // <data_dir>/run/
	PIDFile string // <data_dir>/run/daemon.pid
}

// NewPaths constructs all resolved paths from a data directory.
func NewPaths(dataDir string) *Paths {
	return &Paths{
		Root: dataDir,
		DB:   filepath.Join(dataDir, "parley.db"),

		History: filepath.Join(dataDir, "history"),

		LogDir:    filepath.Join(dataDir, "log"),
		DaemonLog: filepath.Join(dataDir, "log", "daemon.log"),

		RunDir:  filepath.Join(dataDir, "run"),
		PIDFile: filepath.Join(dataDir, "run", "daemon.pid"),
	}
}

// EnsureDirs creates all subdirectories. Idempotent.
func (p *Paths) EnsureDirs() error {
	for _, d := range []string{p.Root, p.LogDir, p.RunDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return errors.Wrapf(err, "create %s", d)
		}
	}
	return nil
}

// WritePID records the daemon's process id.
func (p *Paths) WritePID(pid int) error {
	return os.WriteFile(p.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0644)
}

// ReadPID returns the recorded daemon pid, or 0 when none is recorded.
func (p *Paths) ReadPID() int {
	data, err := os.ReadFile(p.PIDFile)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// CleanEphemeral removes runtime files. Called on clean daemon shutdown.
func (p *Paths) CleanEphemeral() {
	os.Remove(p.PIDFile)
}
