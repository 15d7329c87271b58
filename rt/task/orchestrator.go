package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Orchestrator admits tasks, runs them on an Executor, and relays their lifecycle events to
// listeners on the consumer context.
//
// Consumer-context methods (Submit, SubmitType, BlockingTaskFor, BlockingTaskForStarter,
// Active, Lookup) must only be called from the consumer context: a function posted to the
// Executor, a listener callback, or Call. Dispatch, DispatchType, Snapshot, CancelID, Call,
// Shutdown and Wait may be called from any other goroutine.
type Orchestrator struct {
	exec Executor
	loop *Loop // owned; nil when the executor was supplied
	reg  *Registry
	log  logrus.FieldLogger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	closed   atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup // tasks between STARTING and DONE

	// consumer context only
	active []*Task

	lmu       sync.Mutex
	listeners []*listenerEntry // copy-on-write
}

type listenerEntry struct {
	l Listener
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts ...Option) *Orchestrator {
	var cfg orchestratorConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.log == nil {
		cfg.log = logrus.StandardLogger()
	}
	if cfg.registry == nil {
		cfg.registry = NewRegistry()
	}
	if cfg.baseCtx == nil {
		cfg.baseCtx = context.Background()
	}

	o := &Orchestrator{
		exec:    cfg.exec,
		reg:     cfg.registry,
		log:     cfg.log,
		stopped: make(chan struct{}),
	}
	if o.exec == nil {
		o.loop = NewLoop(cfg.log)
		o.exec = o.loop
	}
	o.baseCtx, o.cancelBase = context.WithCancel(cfg.baseCtx)
	for _, l := range cfg.listeners {
		o.listeners = append(o.listeners, &listenerEntry{l: l})
	}
	return o
}

// Registry returns the registry in use.
func (o *Orchestrator) Registry() *Registry { return o.reg }

// AddListener registers l and returns a function that removes it. Listeners are called on the
// consumer context in registration order; a panicking listener is logged and skipped.
func (o *Orchestrator) AddListener(l Listener) (remove func()) {
	if l == nil {
		return func() {}
	}
	e := &listenerEntry{l: l}
	o.lmu.Lock()
	next := make([]*listenerEntry, 0, len(o.listeners)+1)
	next = append(next, o.listeners...)
	o.listeners = append(next, e)
	o.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.lmu.Lock()
			defer o.lmu.Unlock()
			next := make([]*listenerEntry, 0, len(o.listeners))
			for _, x := range o.listeners {
				if x != e {
					next = append(next, x)
				}
			}
			o.listeners = next
		})
	}
}

// BlockingTaskFor returns the active task that would block a new task of type typ, or nil.
//
// Consumer context only.
func (o *Orchestrator) BlockingTaskFor(typ string) *Task {
	typ = normalizeName(typ)
	return BlockingTask(Kind{Type: typ, Policy: o.reg.Policy(typ)}, o.active, o.reg.Policy)
}

// BlockingTaskForStarter returns the first active task that would block any of the task types
// the starter may launch, or nil. It returns ErrUnknownStarter if the starter was never
// registered.
//
// Consumer context only.
func (o *Orchestrator) BlockingTaskForStarter(starter string) (*Task, error) {
	types, ok := o.reg.Starter(starter)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStarter, starter)
	}
	for _, typ := range types {
		if b := o.BlockingTaskFor(typ); b != nil {
			return b, nil
		}
	}
	return nil, nil
}

// Submit admits t and starts it on the Executor.
//
// It returns a *ConcurrencyError (matching ErrConcurrency) when an active task blocks t,
// ErrNotPending when t was already submitted or executed, and ErrClosed during or after
// Shutdown. On success t is in the active set and STARTING has been delivered.
//
// Consumer context only.
func (o *Orchestrator) Submit(t *Task) error {
	if t == nil {
		panic("task: Submit called with nil Task")
	}
	if o.closed.Load() {
		return ErrClosed
	}
	if !t.claimable() {
		return ErrNotPending
	}
	if b := o.BlockingTaskFor(t.Type()); b != nil {
		o.log.WithFields(logrus.Fields{
			"task_id":     t.ID(),
			"task_type":   t.Type(),
			"blocked_by":  b.ID(),
			"blocking_as": b.Type(),
		}).Debug("task: admission refused")
		return &ConcurrencyError{Blocking: b, Blocked: t}
	}
	if !t.claim(o.publisher(t)) {
		return ErrNotPending
	}

	o.active = append(o.active, t)
	o.relay(Event{Task: t, Kind: EventStarting, At: time.Now()})

	o.wg.Add(1)
	ctx := o.baseCtx
	o.exec.Go(func() {
		defer o.exec.Post(func() { o.retire(t) })
		t.Execute(ctx)
	})
	return nil
}

// SubmitType creates a task of a registered type and submits it.
//
// Consumer context only.
func (o *Orchestrator) SubmitType(typ string, opts ...TaskOption) (*Task, error) {
	t, err := o.reg.NewTask(typ, opts...)
	if err != nil {
		return nil, err
	}
	if err := o.Submit(t); err != nil {
		return t, err
	}
	return t, nil
}

// Active returns the active tasks in submission order.
//
// Consumer context only.
func (o *Orchestrator) Active() []*Task {
	return append([]*Task(nil), o.active...)
}

// Lookup returns the active task with the given id.
//
// Consumer context only.
func (o *Orchestrator) Lookup(id string) *Task {
	for _, t := range o.active {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

// Call runs fn on the consumer context and waits for it to return.
//
// It returns ctx.Err() if ctx ends first (fn may still run later), and ErrClosed once the
// Orchestrator has stopped. It must not be called from the consumer context.
func (o *Orchestrator) Call(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-o.stopped:
		return ErrClosed
	default:
	}
	done := make(chan struct{})
	o.exec.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return ErrClosed
	}
}

// Dispatch submits t from outside the consumer context.
func (o *Orchestrator) Dispatch(ctx context.Context, t *Task) error {
	var err error
	if cerr := o.Call(ctx, func() { err = o.Submit(t) }); cerr != nil {
		return cerr
	}
	return err
}

// DispatchType is SubmitType from outside the consumer context.
func (o *Orchestrator) DispatchType(ctx context.Context, typ string, opts ...TaskOption) (*Task, error) {
	var (
		t   *Task
		err error
	)
	if cerr := o.Call(ctx, func() { t, err = o.SubmitType(typ, opts...) }); cerr != nil {
		return nil, cerr
	}
	return t, err
}

// Snapshot returns Info for every active task in submission order.
func (o *Orchestrator) Snapshot(ctx context.Context) ([]Info, error) {
	var out []Info
	err := o.Call(ctx, func() {
		out = make([]Info, 0, len(o.active))
		for _, t := range o.active {
			out = append(out, t.Info())
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelID cancels the active task with the given id. It reports false if no such task is
// active or the task was not ACTIVE.
func (o *Orchestrator) CancelID(ctx context.Context, id string) (bool, error) {
	var applied bool
	err := o.Call(ctx, func() {
		if t := o.Lookup(id); t != nil {
			applied = t.Cancel()
		}
	})
	return applied, err
}

// Closed reports whether Shutdown has been called.
func (o *Orchestrator) Closed() bool { return o.closed.Load() }

// Wait blocks until every submitted task has delivered DONE.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Shutdown refuses new submissions, cancels every active task and waits until each has
// delivered DONE, then closes the owned Loop (if any).
//
// Cancellation is cooperative: Shutdown returns ctx.Err() if tasks do not stop in time; it can
// be called again to keep waiting. It must not be called from the consumer context.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-o.stopped:
		return nil
	default:
	}

	if o.closed.CompareAndSwap(false, true) {
		o.log.Debug("task: orchestrator shutting down")
		o.cancelBase()
	}

	// Any Submit that passed the closed check has returned once this barrier runs.
	if err := o.Call(ctx, func() {}); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.stopOnce.Do(func() {
		if o.loop != nil {
			o.loop.Close()
		}
		close(o.stopped)
	})
	return nil
}

func (o *Orchestrator) publisher(t *Task) func(EventKind) {
	return func(kind EventKind) {
		e := Event{Task: t, Kind: kind, At: time.Now()}
		o.exec.Post(func() { o.relay(e) })
	}
}

func (o *Orchestrator) retire(t *Task) {
	defer o.wg.Done()
	for i, x := range o.active {
		if x == t {
			o.active = append(o.active[:i], o.active[i+1:]...)
			break
		}
	}
	o.relay(Event{Task: t, Kind: EventDone, At: time.Now()})
}

func (o *Orchestrator) relay(e Event) {
	o.log.WithFields(logrus.Fields{
		"task_id":   e.Task.ID(),
		"task_type": e.Task.Type(),
		"event":     e.Kind.String(),
	}).Debug("task: event")

	o.lmu.Lock()
	ls := o.listeners
	o.lmu.Unlock()
	for _, le := range ls {
		o.callListenerNoPanic(le.l, e)
	}
}

func (o *Orchestrator) callListenerNoPanic(l Listener, e Event) {
	defer func() {
		if p := recover(); p != nil {
			o.log.WithFields(logrus.Fields{
				"task_id":   e.Task.ID(),
				"task_type": e.Task.Type(),
				"event":     e.Kind.String(),
				"panic":     p,
				"stack":     string(debug.Stack()),
			}).Error("task: listener panicked")
		}
	}()
	l.TaskEvent(e)
}
