package configcmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/asbbridge/cmd/asbbridge/internal"
	"github.com/tinyland-inc/asbbridge/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the bridge configuration file",
	}

	cmd.AddCommand(newInitCommand(), newShowCommand())

	return cmd
}

func newInitCommand() *cobra.Command {
	var path string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Args:  cobra.NoArgs,
		Example: `  asbbridge config init
  asbbridge config init --path ~/.asbbridge/config.toml
  asbbridge config init --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = internal.GetConfigPath()
			}
			path = config.ExpandHome(path)

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}

			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return fmt.Errorf("error writing config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Output path (default: ~/.asbbridge/config.json, .toml for TOML)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

// newShowCommand prints the effective configuration after file and
// environment overrides, as JSON.
func newShowCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig(path)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Config file path (default: ~/.asbbridge/config.json)")

	return cmd
}
