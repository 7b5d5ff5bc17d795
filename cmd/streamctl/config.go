package main

import (
	"fmt"

	"github.com/danmuck/streamctl/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate, check or print configuration",
	}

	var (
		output string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				tmpl, err := config.Template()
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), tmpl)
				return err
			}
			if err := config.WriteTemplate(output, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "", "write to this path instead of stdout")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(
		initCmd,
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the config, including env overrides",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := root.load(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "config ok")
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective config with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := root.load()
				if err != nil {
					return err
				}
				body, err := config.Render(cfg, true)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(body)
				return err
			},
		},
	)
	return cmd
}
