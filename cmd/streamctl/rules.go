package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/danmuck/streamctl/internal/auth"
	"github.com/danmuck/streamctl/internal/config"
	"github.com/danmuck/streamctl/internal/consumer"
	"github.com/danmuck/streamctl/internal/sink"
	"github.com/spf13/cobra"
)

func newRulesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect or replace the remote filter rules",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print the current remote rules as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, token, err := rulesSession(cmd.Context(), root)
				if err != nil {
					return err
				}
				set, err := svc.Rules(token).List(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"rules": set.Rules, "meta": set.Meta})
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Replace the remote rules with the configured set",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := root.load()
				if err != nil {
					return err
				}
				svc, token, err := rulesSessionFor(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				res, err := svc.Rules(token).Converge(cmd.Context(), cfg.Rules)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every remote rule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, token, err := rulesSession(cmd.Context(), root)
				if err != nil {
					return err
				}
				m := svc.Rules(token)
				set, err := m.List(cmd.Context())
				if err != nil {
					return err
				}
				ack, err := m.DeleteAll(cmd.Context(), set)
				if err != nil {
					return err
				}
				deleted := 0
				if ack != nil {
					deleted = ack.Meta.Summary.Deleted
				}
				return writeJSON(cmd.OutOrStdout(), map[string]int{"deleted": deleted})
			},
		},
	)
	return cmd
}

func rulesSession(ctx context.Context, root *rootOptions) (*consumer.Service, auth.AccessToken, error) {
	cfg, err := root.load()
	if err != nil {
		return nil, auth.AccessToken{}, err
	}
	return rulesSessionFor(ctx, cfg)
}

func rulesSessionFor(ctx context.Context, cfg config.Config) (*consumer.Service, auth.AccessToken, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = userAgent()
	}
	svc, err := consumer.NewService(cfg.Service(sink.NewJSONLines(io.Discard, false), Version))
	if err != nil {
		return nil, auth.AccessToken{}, err
	}
	token, err := svc.Authenticate(ctx)
	if err != nil {
		return nil, auth.AccessToken{}, err
	}
	return svc, token, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
