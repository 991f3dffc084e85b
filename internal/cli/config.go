package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"slicesync/pkg/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Long: `Write the default configuration as YAML to path, or to the --config path when
no argument is given. An existing file is kept unless --force is set.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.Write(config.DefaultConfig(), path, force); err != nil {
				if errors.Is(err, config.ErrExists) {
					return WrapExitError(ExitFailure, "config init", err)
				}
				return WrapExitError(ExitCommandError, "config init", err)
			}
			rootOpts.Logger.Debug("config written", "path", path)
			out := struct {
				Path string `json:"path"`
			}{path}
			return write(cmd.OutOrStdout(), rootOpts.Format, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "wrote %s\n", path)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the effective configuration",
		Long:          "Print the configuration after defaults, the config file and SLICESYNC_* overrides are applied.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd.OutOrStdout(), rootOpts.Format, rootOpts.Config, func(w io.Writer) error {
				data, err := config.Marshal(rootOpts.Config)
				if err != nil {
					return err
				}
				_, err = w.Write(data)
				return err
			})
		},
	}
}
