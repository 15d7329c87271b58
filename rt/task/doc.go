// Package task runs background tasks off a single consumer context, with lifecycle events and
// admission control.
//
// # Design highlights
//
//   - Task: a unit of work with a lifecycle state machine, progress, status and an ETA.
//   - Orchestrator: admits tasks, runs each on its own goroutine, relays events to listeners.
//   - Admission control: a task type declares a Policy; a new task is refused while an active
//     task conflicts with it.
//   - Executor: the substrate. Loop is the default; any event loop (a UI program, a server's
//     request loop) can serve as the consumer context.
//   - Panic/error capture: the work function runs under safego; a panic or returned error ends
//     the task in EXCEPTION instead of crashing the process.
//
// # Lifecycle
//
// A task moves PENDING -> ACTIVE -> one of CANCELLED, FAILED, EXCEPTION, FINISHED:
//
//	t := task.New("reindex", func(ctx context.Context, t *task.Task) error {
//		for i := 0; i < 10; i++ {
//			if ctx.Err() != nil {
//				return ctx.Err()
//			}
//			rebuild(i)
//			t.Progress(fmt.Sprintf("shard %d", i))
//		}
//		return nil
//	}, task.WithTotal(10))
//
// Progress, SetStatus, Cancel and Fail are silent no-ops outside ACTIVE (they return false).
// Terminal states are sticky: once a task is CANCELLED, a later Fail does nothing, and a work
// function that returns normally after Fail leaves the task FAILED.
//
// Three failure kinds are never conflated:
//   - Cancel: cooperative; the work's context is cancelled, the task ends CANCELLED.
//   - Fail(message, details): a declared failure, recorded as Task.Err.
//   - a panic or returned error: an unhandled fault, recorded as Task.Fault.
//
// # Events
//
// For every submitted task listeners see STARTING, STARTED, any number of PROGRESSED and
// STATUS, exactly one terminal kind, then DONE. Events of one task arrive in the order they were
// produced; there is no ordering across tasks.
//
//	o := task.NewOrchestrator(task.WithRegistry(reg))
//	o.AddListener(task.ListenerFunc(func(e task.Event) {
//		fmt.Println(e.Task.Type(), e.Kind)
//	}))
//
// Listeners run on the consumer context. So do Submit and the other consumer-context methods;
// use Dispatch, Snapshot or Call from other goroutines.
//
// # Admission
//
// Policies are registered per type:
//
//	reg := task.NewRegistry()
//	reg.MustRegister(task.TypeSpec{Name: "backup", Policy: task.ApplicationBlocking(), Work: backup})
//	reg.MustRegister(task.TypeSpec{Name: "import", Policy: task.CategoryBlocking("db"), Work: imp})
//	reg.MustRegister(task.TypeSpec{Name: "thumbs", Policy: task.ClassBlocking(), Work: thumbs})
//
// A candidate is blocked by an active task when either side is application-blocking; otherwise
// when either side is category-blocking and the categories are equal; otherwise when either side
// is class-blocking and the types are equal. Submit returns a *ConcurrencyError naming both
// tasks; errors.Is(err, ErrConcurrency) matches it.
//
// # Shutdown
//
// Shutdown refuses new submissions, cancels every active task and waits until each has
// delivered DONE. Work functions that ignore their context delay Shutdown until its context
// ends.
package task
