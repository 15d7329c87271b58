package task

import (
	"context"

	"github.com/sirupsen/logrus"
)

type orchestratorConfig struct {
	exec      Executor
	registry  *Registry
	log       logrus.FieldLogger
	baseCtx   context.Context
	listeners []Listener
}

// Option configures an Orchestrator.
type Option func(*orchestratorConfig)

// WithExecutor sets the execution substrate. If not set, the Orchestrator starts its own Loop
// and closes it on Shutdown.
func WithExecutor(exec Executor) Option {
	return func(c *orchestratorConfig) { c.exec = exec }
}

// WithRegistry sets the registry used for policies, starters and SubmitType.
// If not set, an empty registry is used (every type is non-blocking).
func WithRegistry(r *Registry) Option {
	return func(c *orchestratorConfig) { c.registry = r }
}

// WithLogger sets the logger. Nil means logrus.StandardLogger().
//
// Events are logged at debug level with task_id, task_type and event fields.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *orchestratorConfig) { c.log = l }
}

// WithBaseContext sets the parent of every task's run context. Cancelling it cancels every
// running task.
func WithBaseContext(ctx context.Context) Option {
	return func(c *orchestratorConfig) { c.baseCtx = ctx }
}

// WithListener registers a listener for the Orchestrator's lifetime.
func WithListener(l Listener) Option {
	return func(c *orchestratorConfig) {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
}
