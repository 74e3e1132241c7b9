package serve

import (
	"github.com/spf13/cobra"
)

// Options are the serve flags. They are shared with the root command, which
// serves by default.
type Options struct {
	Host       string
	Port       int
	ConfigPath string
	EnvFile    string
	Debug      bool
}

func NewServeCommand() *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Run the asbplayer WebSocket bridge",
		Args:    cobra.NoArgs,
		Example: `  asbbridge serve
  asbbridge serve --port 8766
  asbbridge serve --config ~/.asbbridge/config.toml --debug`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Run(cmd, &opts)
		},
	}

	BindFlags(cmd, &opts)

	return cmd
}

// BindFlags registers the serve flags on cmd.
func BindFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVar(&opts.Host, "host", "", "Listen host (default 127.0.0.1)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "Listen port (default 8766)")
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Config file path (default: ~/.asbbridge/config.json)")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", "", "Load environment variables from a dotenv file")
	cmd.Flags().BoolVarP(&opts.Debug, "debug", "d", false, "Enable debug logging")
}
