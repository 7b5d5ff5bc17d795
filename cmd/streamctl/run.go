package main

import (
	"strings"

	"github.com/danmuck/streamctl/internal/consumer"
	"github.com/danmuck/streamctl/internal/observability"
	"github.com/danmuck/streamctl/internal/sink"
	"github.com/spf13/cobra"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		statusAddr string
		skipRules  bool
		envelope   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync rules and stream records until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("status-addr") {
				cfg.StatusAddr = strings.TrimSpace(statusAddr)
			}
			if skipRules {
				cfg.SkipRuleSync = true
			}
			if envelope {
				cfg.OutputEnvelope = true
			}
			if cfg.UserAgent == "" {
				cfg.UserAgent = userAgent()
			}

			observability.RegisterMetrics()
			out := sink.NewJSONLines(cmd.OutOrStdout(), cfg.OutputEnvelope)
			defer out.Close()

			svc, err := consumer.NewService(cfg.Service(out, Version))
			if err != nil {
				return err
			}
			return svc.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve /health, /ready, /status and /metrics on host:port")
	cmd.Flags().BoolVar(&skipRules, "skip-rules", false, "keep the remote rule set as is")
	cmd.Flags().BoolVar(&envelope, "envelope", false, "wrap each record with session id and receive time")
	return cmd
}
