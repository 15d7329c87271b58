package main

import (
	"context"
	"errors"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/evan-idocoding/peon"
	"github.com/evan-idocoding/peon/internal/logger"
	"github.com/evan-idocoding/peon/internal/tui"
	"github.com/evan-idocoding/peon/rt/task/teaexec"
)

func newDemoCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Interactive console: submit, watch and cancel tasks",
		Long: `Open a terminal console on the orchestrator. The console's event loop is the consumer
context: task events, submissions and cancellations are handled there.

Logs go to the configured file, or are discarded when logging to the terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := load()
			if err != nil {
				return err
			}
			log, closer, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()
			if !strings.EqualFold(cfg.Log.Output, "file") {
				log.SetOutput(io.Discard)
			}
			gin.SetMode(gin.ReleaseMode)

			exec := teaexec.New(log)
			defer exec.Close()

			svc, err := peon.NewService(peon.Spec{
				Config:   cfg,
				Logger:   log,
				Executor: exec,
				Signals:  peon.SignalSpec{Disable: true},
			})
			if err != nil {
				return err
			}
			if err := svc.Start(cmd.Context()); err != nil {
				return err
			}

			m := tui.New(svc.Orchestrator, tui.WithShutdownTimeout(cfg.ShutdownTimeout))
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			exec.Attach(p)
			_, runErr := p.Run()
			if errors.Is(runErr, tea.ErrProgramKilled) {
				runErr = nil
			}
			// a killed program never ran the console's shutdown
			exec.Detach()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return errors.Join(runErr, m.Err(), svc.Shutdown(ctx))
		},
	}
}
