package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/corey/parley/internal/adapters/socket"
)

// isDBLockError reports whether opening the database failed because another
// process holds its file lock.
func isDBLockError(err error) bool {
	return errors.Is(err, bolt.ErrTimeout)
}

// diagnoseDBLock returns actionable guidance when the database is locked.
// It distinguishes three cases: daemon running, stale socket, and unknown
// lock holder.
func diagnoseDBLock(sockPath string) string {
	if socket.NewClient(sockPath).Ping() {
		return "database is locked by the running daemon\n" +
			"  → stop it first:  parley daemon stop\n" +
			"  → then retry your command"
	}

	if _, err := os.Stat(sockPath); err == nil {
		return fmt.Sprintf("database is locked; daemon socket exists but is not responding\n"+
			"  → a previous daemon may have crashed\n"+
			"  → find the process:  ps aux | grep 'parley daemon'\n"+
			"  → kill it:           kill <PID>\n"+
			"  → clean up socket:   rm %s", sockPath)
	}

	return "database is locked by another process\n" +
		"  → find the process:  ps aux | grep 'parley'\n" +
		"  → kill it:           kill <PID>\n" +
		"  → then retry your command"
}
