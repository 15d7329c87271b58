package task

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/evan-idocoding/peon/rt/safego"
)

// Executor is the execution substrate an Orchestrator runs on.
//
// Go runs fn on a background goroutine (the execution context of one task). Post enqueues fn
// on the consumer context: posted functions run one at a time, in posting order. Post must not
// block.
type Executor interface {
	Go(fn func())
	Post(fn func())
}

// Loop is an Executor whose consumer context is a single goroutine draining an unbounded FIFO.
//
// Panics in posted functions are recovered and logged; the loop keeps running.
type Loop struct {
	log logrus.FieldLogger

	mu     sync.Mutex
	queue  []func()
	closed bool

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLoop starts a Loop. A nil logger means logrus.StandardLogger().
func NewLoop(log logrus.FieldLogger) *Loop {
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Loop{
		log:    log,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Go runs fn on a new goroutine. Panics are recovered and logged.
func (l *Loop) Go(fn func()) {
	safego.Go(context.Background(), func(context.Context) { fn() },
		safego.WithName("task.runner"),
		safego.WithLogger(l.log),
	)
}

// Post enqueues fn on the loop goroutine. After Close it is a no-op.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Close stops accepting posts, runs what is already queued, and waits for the loop goroutine
// to exit. It must not be called from a posted function.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		select {
		case l.signal <- struct{}{}:
		default:
		}
	})
	<-l.done
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			safego.Run(context.Background(), func(context.Context) { fn() },
				safego.WithName("task.loop"),
				safego.WithLogger(l.log),
			)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.signal
	}
}
