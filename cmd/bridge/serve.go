package main

import (
	"github.com/spf13/cobra"

	"github.com/morezero/capability-bridge/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local model's capabilities on the bridge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run()
	},
}
