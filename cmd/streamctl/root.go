package main

import (
	"github.com/danmuck/streamctl/internal/config"
	"github.com/danmuck/streamctl/internal/logging"
	"github.com/danmuck/streamctl/internal/observability"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "streamctl",
		Short: "streamctl - filtered stream consumer",
		Long: `streamctl keeps a filtered stream connection open and writes every
record it receives to stdout as one JSON line.

On start it exchanges the consumer key and secret for a bearer token,
replaces the remote filter rules with the configured set, then streams.
Dropped connections, idle timeouts and server issue signals all trigger a
reconnect after 2^attempt seconds.

Configuration:
  A TOML file passed with --config. Generate one with "streamctl config init".
  STREAMCTL_CONSUMER_KEY and STREAMCTL_CONSUMER_SECRET override the file.

Exit codes:
  0  clean shutdown
  1  usage or configuration error
  2  token exchange failed
  3  rule query or update failed`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if opts.logLevel != "" {
				if err := logging.SetLevel(opts.logLevel); err != nil {
					return err
				}
			}
			observability.InitLogger("streamctl")
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (TOML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override: trace|debug|info|warn|error")

	cmd.AddCommand(
		newRunCmd(opts),
		newRulesCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.configPath)
}
