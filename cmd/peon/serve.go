package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/evan-idocoding/peon"
	"github.com/evan-idocoding/peon/internal/config"
	"github.com/evan-idocoding/peon/rt/task"
)

func newServeCmd(load loadFunc) *cobra.Command {
	var (
		adminAddr string
		run       []string
		starters  []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator until interrupted",
		Long: `Run the orchestrator, its journal and (when enabled) the admin server until SIGINT or
SIGTERM. Changes to the config file's log level and admin tokens apply without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, cfg, err := load()
			if err != nil {
				return err
			}
			if adminAddr != "" {
				cfg.Admin.Enabled = true
				cfg.Admin.Addr = adminAddr
			}
			gin.SetMode(gin.ReleaseMode)

			var svc *peon.Service
			svc, err = peon.NewService(peon.Spec{
				Config: cfg,
				Hooks: peon.Hooks{
					OnStart: []func(context.Context) error{
						func(ctx context.Context) error { return submitInitial(ctx, svc, run, starters) },
					},
				},
			})
			if err != nil {
				return err
			}

			watching := loader.Watch(func(next *config.Config, err error) {
				if err != nil {
					svc.Logger.WithError(err).Warn("peon: config reload rejected")
					return
				}
				if err := svc.ApplyConfig(next); err != nil {
					svc.Logger.WithError(err).Warn("peon: config reload failed")
					return
				}
				svc.Logger.Info("peon: config reloaded")
			})
			if watching {
				svc.Logger.WithField("file", loader.File()).Info("peon: watching config")
			}
			return svc.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "serve admin on this address (implies admin.enabled)")
	cmd.Flags().StringSliceVar(&run, "run", nil, "task types to submit at startup")
	cmd.Flags().StringSliceVar(&starters, "starter", nil, "starters whose task types are submitted at startup")
	return cmd
}

// submitInitial submits the requested types. Unknown names fail startup; admission
// conflicts between them are only logged.
func submitInitial(ctx context.Context, svc *peon.Service, types, starters []string) error {
	for _, s := range starters {
		st, ok := svc.Registry.Starter(s)
		if !ok {
			return fmt.Errorf("%w: %q", task.ErrUnknownStarter, s)
		}
		types = append(types, st...)
	}
	for _, typ := range types {
		t, err := svc.Orchestrator.DispatchType(ctx, typ)
		var ce *task.ConcurrencyError
		switch {
		case err == nil:
			svc.Logger.WithFields(logrus.Fields{"task_id": t.ID(), "task_type": typ}).Info("peon: submitted")
		case errors.As(err, &ce):
			svc.Logger.WithFields(logrus.Fields{"task_type": typ, "blocked_by": ce.Blocking.ID()}).
				Warn("peon: startup task blocked")
		default:
			return err
		}
	}
	return nil
}
