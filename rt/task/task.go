package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evan-idocoding/peon/rt/safego"
)

// Task is a single unit of background work and its lifecycle state.
//
// Every mutation happens under one per-task lock, and the corresponding event is published
// while the lock is held, so the event order seen by listeners equals the mutation order.
//
// Guarded operations (Progress, SetStatus, Cancel, Fail) are silent no-ops outside ACTIVE; they
// report whether they applied.
type Task struct {
	id   string
	typ  string
	work Work

	mu sync.Mutex

	name        string
	description string

	total    int
	progress int
	status   string

	result    any
	hasResult bool

	err   *Error
	fault *Fault

	state     State
	startTime time.Time
	endTime   time.Time

	cancelRun context.CancelFunc
	publish   func(EventKind)
}

// TaskOption configures a Task created by New.
type TaskOption func(*Task)

// WithName sets the display name. Default is the task type.
func WithName(name string) TaskOption {
	return func(t *Task) { t.name = name }
}

// WithDescription sets the description.
func WithDescription(desc string) TaskOption {
	return func(t *Task) { t.description = desc }
}

// WithTotal sets the amount of work. Negative means unknown.
func WithTotal(n int) TaskOption {
	return func(t *Task) {
		if n < 0 {
			n = TotalUnknown
		}
		t.total = n
	}
}

// New creates a PENDING task of type typ.
//
// If work is nil, New panics (configuration error).
func New(typ string, work Work, opts ...TaskOption) *Task {
	if work == nil {
		panic("task: nil work")
	}
	typ = normalizeName(typ)
	t := &Task{
		id:    uuid.NewString(),
		typ:   typ,
		work:  work,
		name:  typ,
		total: TotalUnknown,
		state: StatePending,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func (t *Task) ID() string   { return t.id }
func (t *Task) Type() string { return t.typ }

func (t *Task) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

func (t *Task) Description() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.description
}

// SetName changes the display name. Refused once terminal.
func (t *Task) SetName(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.name = name
	return true
}

// SetDescription changes the description. Refused once terminal.
func (t *Task) SetDescription(desc string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.description = desc
	return true
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Steps returns the progress count.
func (t *Task) Steps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Total returns the amount of work, or TotalUnknown.
func (t *Task) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// SetTotal changes the amount of work while PENDING or ACTIVE.
//
// n must be TotalUnknown (any negative value) or not less than the current progress.
func (t *Task) SetTotal(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	if n < 0 {
		n = TotalUnknown
	} else if n < t.progress {
		return false
	}
	t.total = n
	return true
}

func (t *Task) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the value stored by SetResult.
func (t *Task) Result() (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.hasResult
}

// SetResult stores the outcome of the work. It applies at most once and is refused once
// the task is terminal.
func (t *Task) SetResult(v any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasResult || t.state.Terminal() {
		return false
	}
	t.result, t.hasResult = v, true
	return true
}

// Err returns the declared failure. It is non-nil only in StateFailed.
func (t *Task) Err() *Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Fault returns the captured unhandled failure. It is non-nil only in StateException.
func (t *Task) Fault() *Fault {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fault
}

func (t *Task) StartTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime
}

// EndTime is zero until Execute returns.
func (t *Task) EndTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endTime
}

// Elapsed returns the run time so far, or the total run time once Execute returned.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked(time.Now())
}

// EstimatedTimeRemaining extrapolates the average time per progress step over the remaining
// steps. It reports false while the total is unknown or nothing has progressed yet.
func (t *Task) EstimatedTimeRemaining() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return estimateRemaining(t.elapsedLocked(time.Now()), t.progress, t.total)
}

// Info returns a consistent snapshot of the task.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.elapsedLocked(time.Now())
	remaining, known := estimateRemaining(elapsed, t.progress, t.total)
	info := Info{
		ID:             t.id,
		Type:           t.typ,
		Name:           t.name,
		Description:    t.description,
		State:          t.state,
		Progress:       t.progress,
		Total:          t.total,
		Status:         t.status,
		StartTime:      t.startTime,
		EndTime:        t.endTime,
		Elapsed:        elapsed,
		Remaining:      remaining,
		RemainingKnown: known,
	}
	if t.err != nil {
		e := *t.err
		info.Error = &e
	}
	if t.fault != nil {
		info.Fault = t.fault.Error()
	}
	return info
}

// Progress advances the task by one step while ACTIVE and optionally replaces its status.
//
// PROGRESSED is published when the step is taken; a step that would exceed a known total is
// skipped. STATUS follows when the status text changed. It reports whether the step was taken
// or the status changed.
func (t *Task) Progress(status ...string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return false
	}
	changed := false
	if t.total == TotalUnknown || t.progress < t.total {
		t.progress++
		t.emitLocked(EventProgressed)
		changed = true
	}
	if len(status) > 0 && t.setStatusLocked(status[0]) {
		changed = true
	}
	return changed
}

// SetStatus replaces the status text while ACTIVE. STATUS is published only on change.
func (t *Task) SetStatus(status string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return false
	}
	t.setStatusLocked(status)
	return true
}

// Cancel moves an ACTIVE task to CANCELLED and cancels the context passed to its work.
func (t *Task) Cancel() bool {
	return t.terminate(StateCancelled, nil)
}

// Fail moves an ACTIVE task to FAILED with a declared error and cancels the context passed
// to its work.
func (t *Task) Fail(message, details string) bool {
	return t.terminate(StateFailed, func() {
		t.err = &Error{Message: message, Details: details}
	})
}

func (t *Task) raise(f *Fault) bool {
	return t.terminate(StateException, func() { t.fault = f })
}

func (t *Task) finish() bool {
	return t.terminate(StateFinished, nil)
}

func (t *Task) terminate(to State, set func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return false
	}
	if set != nil {
		set()
	}
	t.state = to
	if t.cancelRun != nil {
		t.cancelRun()
	}
	t.emitLocked(terminalEvent(to))
	return true
}

// Execute runs the task to a terminal state on the calling goroutine.
//
// It records the start time, moves PENDING to ACTIVE (publishing STARTED), runs the work
// function, and moves to FINISHED unless the task already reached another terminal state.
// A panic or a non-nil error from the work is captured as a Fault (EXCEPTION); an error that
// is the run context's own cancellation counts as CANCELLED. The end time is recorded last.
//
// Cancelling ctx cancels the task. Execute is a no-op unless the task is PENDING.
func (t *Task) Execute(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.state != StatePending {
		t.mu.Unlock()
		return
	}
	t.startTime = time.Now()
	t.cancelRun = cancel
	t.state = StateActive
	t.emitLocked(EventStarted)
	t.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { t.Cancel() })

	safego.RunErr(runCtx, func(ctx context.Context) error {
		return t.work(ctx, t)
	},
		safego.WithName(t.typ),
		safego.WithTag("task_id", t.id),
		safego.WithReportContextCancel(true),
		safego.WithErrorHandler(func(_ context.Context, info safego.ErrorInfo) {
			if cerr := runCtx.Err(); cerr != nil && errors.Is(info.Err, cerr) {
				t.Cancel()
				return
			}
			t.raise(&Fault{Err: info.Err})
		}),
		safego.WithPanicHandler(func(_ context.Context, info safego.PanicInfo) {
			t.raise(&Fault{Err: info.Err(), Value: info.Value, Stack: info.Stack})
		}),
	)

	stop()
	t.finish()

	t.mu.Lock()
	t.endTime = time.Now()
	t.mu.Unlock()
}

// claim installs the event publisher of the orchestrator that owns t. It fails if t is no
// longer PENDING or already owned.
func (t *Task) claim(publish func(EventKind)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePending || t.publish != nil {
		return false
	}
	t.publish = publish
	return true
}

func (t *Task) claimable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StatePending && t.publish == nil
}

func (t *Task) setStatusLocked(status string) bool {
	if status == t.status {
		return false
	}
	t.status = status
	t.emitLocked(EventStatus)
	return true
}

func (t *Task) emitLocked(kind EventKind) {
	if t.publish != nil {
		t.publish(kind)
	}
}

func (t *Task) elapsedLocked(now time.Time) time.Duration {
	switch {
	case t.startTime.IsZero():
		return 0
	case t.endTime.IsZero():
		return now.Sub(t.startTime)
	default:
		return t.endTime.Sub(t.startTime)
	}
}

func estimateRemaining(elapsed time.Duration, progress, total int) (time.Duration, bool) {
	if total == TotalUnknown || progress <= 0 {
		return 0, false
	}
	left := total - progress
	if left < 0 {
		left = 0
	}
	return elapsed / time.Duration(progress) * time.Duration(left), true
}
