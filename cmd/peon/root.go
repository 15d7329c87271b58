package main

import (
	"github.com/spf13/cobra"

	"github.com/evan-idocoding/peon/internal/config"
)

// loadFunc reads the configuration selected by the persistent --config flag.
type loadFunc func() (*config.Loader, *config.Config, error)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "peon",
		Short: "Background task orchestrator with admission control",
		Long: `peon runs background tasks declared in its configuration. Each task type declares
a blocking policy (none, application, category or class) that decides whether it may start
while other tasks are active.

Examples:
  peon serve --config peon.yaml
  peon serve --admin-addr 127.0.0.1:8089 --run backup
  peon demo
  peon history --limit 20`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default ./peon.yaml, then ~/.config/peon/peon.yaml)")

	load := func() (*config.Loader, *config.Config, error) {
		loader := config.NewLoader(configPath)
		cfg, err := loader.Load()
		if err != nil {
			return nil, nil, err
		}
		return loader, cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newDemoCmd(load),
		newHistoryCmd(load),
		newConfigCmd(load),
		newVersionCmd(),
	)
	return root
}
