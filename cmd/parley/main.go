// parley is a local chat client for Ollama models, organised into
// workspaces and folders. A background daemon owns storage and streaming;
// every other command talks to it over a Unix socket.
package main

import (
	"fmt"
	"os"

	"github.com/corey/parley/cmd/parley/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
