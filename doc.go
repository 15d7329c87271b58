// Package peon hosts a task orchestrator as a runnable, shutdownable service.
//
// A Service wires together the pieces found in the subpackages:
//   - rt/task: task state machine, admission control and the orchestrator
//   - internal/journal: SQLite history of finished tasks (a task.Listener)
//   - admin + ops: the operator HTTP surface (gin engine with guarded ops handlers)
//   - internal/config and internal/logger: viper configuration and logrus logging
//
// # Quick start
//
//	loader := config.NewLoader("peon.yaml")
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//	svc, err := peon.NewService(peon.Spec{Config: cfg})
//	if err != nil {
//		return err
//	}
//	loader.Watch(func(c *config.Config, err error) {
//		if err == nil {
//			_ = svc.ApplyConfig(c)
//		}
//	})
//	return svc.Run(context.Background())
//
// # Admin security model
//
// The admin server is off unless admin.enabled is set. /healthz and /readyz are open; every
// other read endpoint requires a read or write token in the configured header, and writes
// (task submit and cancel, log level set) require a write token. With no tokens configured,
// everything but health is denied.
//
// # Lifecycle
//
//   - Start: runs OnStart hooks and starts the admin server (not idempotent)
//   - Wait: blocks until the service has stopped
//   - Shutdown: stops admin, cancels active tasks and waits for them (bounded by
//     shutdown_timeout), runs OnShutdown hooks, then closes the journal (idempotent)
//   - Run: Start, wait for ctx, a signal or an admin server failure, then Shutdown
//
// Run handles SIGINT and SIGTERM on unix and os.Interrupt elsewhere unless
// SignalSpec.Disable is set.
package peon
