// Command meshd runs the agent-mesh control plane: the URN registry,
// discovery service, and HTTP API surface behind a single cobra root
// command with viper-driven configuration, grounded on a
// cmd/registry/main.go-style wiring: config load, store init, server
// construction, signal-driven shutdown.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "meshd",
		Short: "Agent-mesh control plane: URN registry, discovery, and HTTP API",
	}
	root.AddCommand(newServeCmd())
	return root
}
