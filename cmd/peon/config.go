package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evan-idocoding/peon/internal/config"
)

func newConfigCmd(load loadFunc) *cobra.Command {
	var pathOnly bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, cfg, err := load()
			if err != nil {
				return err
			}
			if pathOnly {
				file := loader.File()
				if file == "" {
					file = "(defaults)"
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), file)
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&pathOnly, "path", false, "print only the config file in use")
	return cmd
}
