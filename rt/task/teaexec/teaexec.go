// Package teaexec makes a bubbletea program the consumer context of a task.Orchestrator.
//
// Posted functions are delivered to the program as Msg values; the model runs them from Update:
//
//	func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
//		if teaexec.Handle(msg) {
//			return m, nil
//		}
//		...
//	}
//
// Listeners and every consumer-context method of the Orchestrator then run on the program's
// event loop, so the model can read task state without extra locking.
//
// Once the program's Run has returned, call Detach so that Orchestrator.Shutdown and late task
// events still have a consumer.
package teaexec

import (
	"context"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/evan-idocoding/peon/rt/safego"
)

// Msg carries a posted function to the program.
type Msg struct {
	fn  func()
	ran *atomic.Bool
}

// Run executes the posted function. A Msg runs at most once.
func (m Msg) Run() {
	if m.ran != nil && !m.ran.CompareAndSwap(false, true) {
		return
	}
	if m.fn != nil {
		m.fn()
	}
}

func (m Msg) done() bool { return m.ran != nil && m.ran.Load() }

// Handle runs msg if it is a Msg and reports whether it was.
func Handle(msg tea.Msg) bool {
	m, ok := msg.(Msg)
	if ok {
		m.Run()
	}
	return ok
}

// Executor implements task.Executor on top of a bubbletea program.
//
// Posts made before Attach are queued and delivered once a program is attached. A pump
// goroutine forwards posts with Program.Send, so Post never blocks on the program. After
// Detach the pump itself is the consumer context.
type Executor struct {
	log logrus.FieldLogger

	mu       sync.Mutex
	prog     *tea.Program
	queue    []func()
	closed   bool
	detached bool

	// sent holds forwarded messages the program has not run yet; pump goroutine only.
	sent []Msg

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New starts an Executor. A nil logger means logrus.StandardLogger().
func New(log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Executor{
		log:    log,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go e.pump()
	return e
}

// Attach sets the program that receives posted functions.
func (e *Executor) Attach(p *tea.Program) {
	e.mu.Lock()
	e.prog = p
	e.mu.Unlock()
	e.wake()
}

// Detach stops forwarding to the program. Messages the program never ran, queued posts and
// later posts run in order on the pump goroutine. Call it only after the program's Run has
// returned.
func (e *Executor) Detach() {
	e.mu.Lock()
	e.detached = true
	e.mu.Unlock()
	e.wake()
}

// Go runs fn on a new goroutine. Panics are recovered and logged.
func (e *Executor) Go(fn func()) {
	safego.Go(context.Background(), func(context.Context) { fn() },
		safego.WithName("teaexec.runner"),
		safego.WithLogger(e.log),
	)
}

// Post queues fn for delivery to the program. After Close it is a no-op.
func (e *Executor) Post(fn func()) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()
	e.wake()
}

// Close stops the pump. Queued functions that were not delivered are dropped.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		dropped := len(e.queue)
		e.queue = nil
		e.mu.Unlock()
		if dropped > 0 {
			e.log.WithField("dropped", dropped).Warn("teaexec: closed with undelivered posts")
		}
		e.wake()
	})
	<-e.done
}

func (e *Executor) wake() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Executor) pump() {
	defer close(e.done)
	for {
		e.mu.Lock()
		p, closed, detached := e.prog, e.closed, e.detached
		var batch []func()
		if p != nil || detached {
			batch, e.queue = e.queue, nil
		}
		e.mu.Unlock()

		if closed {
			return
		}
		if detached {
			e.runInline(batch)
		} else {
			e.forward(p, batch)
		}
		if len(batch) > 0 {
			continue
		}
		<-e.signal
	}
}

// forward sends batch to p. Send returns without delivering once the program has exited, so
// sent keeps every message until the program has run it.
func (e *Executor) forward(p *tea.Program, batch []func()) {
	n := 0
	for n < len(e.sent) && e.sent[n].done() {
		n++
	}
	e.sent = append(e.sent[:0], e.sent[n:]...)
	for _, fn := range batch {
		m := Msg{fn: fn, ran: new(atomic.Bool)}
		e.sent = append(e.sent, m)
		p.Send(m)
	}
}

func (e *Executor) runInline(batch []func()) {
	pending := e.sent
	e.sent = nil
	for _, fn := range batch {
		pending = append(pending, Msg{fn: fn})
	}
	for _, m := range pending {
		safego.Run(context.Background(), func(context.Context) { m.Run() },
			safego.WithName("teaexec.detached"),
			safego.WithLogger(e.log),
		)
	}
}
