package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "boardengine",
		Short: "boardengine — realtime collaborative whiteboard backend",
		Long:  "Hosts board CRDT rooms over WebSocket, projects element state to SQLite, and serves the REST element API.",
	}

	root.AddCommand(
		serveCmd(),
		keygenCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
