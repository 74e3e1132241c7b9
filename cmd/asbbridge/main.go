// asbbridge - WebSocket bridge between a host process and asbplayer
// License: MIT
//
// Copyright (c) 2026 asbbridge contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/asbbridge/cmd/asbbridge/internal"
	"github.com/tinyland-inc/asbbridge/cmd/asbbridge/internal/configcmd"
	"github.com/tinyland-inc/asbbridge/cmd/asbbridge/internal/serve"
	"github.com/tinyland-inc/asbbridge/cmd/asbbridge/internal/version"
)

func NewAsbbridgeCommand() *cobra.Command {
	var opts serve.Options

	cmd := &cobra.Command{
		Use:   "asbbridge",
		Short: fmt.Sprintf("asbbridge - asbplayer WebSocket bridge v%s", internal.GetVersion()),
		Long: `asbbridge relays line-delimited JSON commands from stdin to the asbplayer
browser extension over WebSocket, and reports connection changes and
extension responses as JSON lines on stdout. Diagnostics go to stderr.

Without a subcommand it serves, as "asbbridge serve" does.`,
		Example: `  asbbridge --port 8766
  asbbridge serve --debug
  asbbridge config init`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve.Run(cmd, &opts)
		},
	}

	serve.BindFlags(cmd, &opts)

	cmd.AddCommand(
		serve.NewServeCommand(),
		configcmd.NewConfigCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewAsbbridgeCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
