// Package workload provides built-in task work functions selectable from configuration.
package workload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/evan-idocoding/peon/internal/config"
	"github.com/evan-idocoding/peon/rt/task"
)

// ErrUnknownWorkload is returned for a workload name that is not built in.
var ErrUnknownWorkload = errors.New("workload: unknown workload")

// Params shapes a workload.
type Params struct {
	// Steps is the number of progress steps. Values < 1 mean 1.
	Steps int
	// Interval is the time spent per step.
	Interval time.Duration
	// At is the step at which fail, error, panic and self-cancel trigger. Values outside
	// [1, Steps] mean half way.
	At int
}

func (p Params) normalized() Params {
	if p.Steps < 1 {
		p.Steps = 1
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	if p.At < 1 || p.At > p.Steps {
		p.At = (p.Steps + 1) / 2
	}
	return p
}

// Factory builds the work function of a workload.
type Factory func(Params) task.Work

var builtins = map[string]Factory{
	"sleep":       Sleep,
	"fail":        Fail,
	"error":       Error,
	"panic":       Panic,
	"self-cancel": SelfCancel,
}

// Lookup returns the factory of a built-in workload.
func Lookup(name string) (Factory, bool) {
	f, ok := builtins[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Names lists the built-in workloads.
func Names() []string {
	out := make([]string, 0, len(builtins))
	for name := range builtins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Sleep progresses through p.Steps, waiting p.Interval per step, and finishes.
func Sleep(p Params) task.Work {
	p = p.normalized()
	return func(ctx context.Context, t *task.Task) error {
		return run(ctx, t, p, nil)
	}
}

// Fail declares a failure at step p.At.
func Fail(p Params) task.Work {
	p = p.normalized()
	return func(ctx context.Context, t *task.Task) error {
		return run(ctx, t, p, func(step int) error {
			t.Fail("workload failed", fmt.Sprintf("step %d of %d", step, p.Steps))
			return errStop
		})
	}
}

// Error returns an error at step p.At, which ends the task in EXCEPTION.
func Error(p Params) task.Work {
	p = p.normalized()
	return func(ctx context.Context, t *task.Task) error {
		return run(ctx, t, p, func(step int) error {
			return fmt.Errorf("workload: error at step %d of %d", step, p.Steps)
		})
	}
}

// Panic panics at step p.At.
func Panic(p Params) task.Work {
	p = p.normalized()
	return func(ctx context.Context, t *task.Task) error {
		return run(ctx, t, p, func(step int) error {
			panic(fmt.Sprintf("workload: panic at step %d of %d", step, p.Steps))
		})
	}
}

// SelfCancel cancels its own task at step p.At.
func SelfCancel(p Params) task.Work {
	p = p.normalized()
	return func(ctx context.Context, t *task.Task) error {
		return run(ctx, t, p, func(int) error {
			t.Cancel()
			return ctx.Err()
		})
	}
}

var errStop = errors.New("stop")

func run(ctx context.Context, t *task.Task, p Params, at func(step int) error) error {
	t.SetTotal(p.Steps)
	var timer *time.Timer
	for step := 1; step <= p.Steps; step++ {
		if p.Interval > 0 {
			if timer == nil {
				timer = time.NewTimer(p.Interval)
				defer timer.Stop()
			} else {
				timer.Reset(p.Interval)
			}
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		t.Progress(fmt.Sprintf("step %d of %d", step, p.Steps))
		if at != nil && step == p.At {
			if err := at(step); err != nil {
				if errors.Is(err, errStop) {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// Registry builds a task registry from configured task types and starters.
func Registry(tasks map[string]config.TaskConfig, starters map[string][]string) (*task.Registry, error) {
	reg := task.NewRegistry()
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tc := tasks[name]
		policy, err := tc.Policy()
		if err != nil {
			return nil, fmt.Errorf("workload: task %q: %w", name, err)
		}
		factory, ok := Lookup(tc.Workload)
		if !ok {
			return nil, fmt.Errorf("%w: task %q: %q", ErrUnknownWorkload, name, tc.Workload)
		}
		err = reg.Register(task.TypeSpec{
			Name:        name,
			Description: tc.Description,
			Policy:      policy,
			Work:        factory(Params{Steps: tc.Steps, Interval: tc.Interval, At: tc.FailAt}),
		})
		if err != nil {
			return nil, fmt.Errorf("workload: %w", err)
		}
	}
	for starter, types := range starters {
		if err := reg.RegisterStarter(starter, types...); err != nil {
			return nil, fmt.Errorf("workload: %w", err)
		}
	}
	return reg, nil
}
