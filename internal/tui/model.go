// Package tui is an interactive task console built on bubbletea.
//
// The program is the consumer context of its Orchestrator (see rt/task/teaexec): listeners,
// Submit, Active and Cancel all run inside Update, so the model reads task state without locks.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/evan-idocoding/peon/rt/task"
	"github.com/evan-idocoding/peon/rt/task/teaexec"
)

type pane int

const (
	paneTypes pane = iota
	paneTasks
)

// Rejection describes the last submission refused by admission control.
type Rejection struct {
	Type     string
	Blocking task.Info
	At       time.Time
}

type tickMsg time.Time

type shutdownDoneMsg struct{ err error }

// Model is the bubbletea model of the console. Use it only through a tea.Program whose
// teaexec.Executor backs the Orchestrator.
type Model struct {
	o     *task.Orchestrator
	types []task.TypeSpec

	focus      pane
	typeCursor int
	taskCursor int

	events     []string
	eventLimit int
	rejected   *Rejection
	notice     string

	width           int
	refresh         time.Duration
	shutdownTimeout time.Duration
	stopping        bool
	err             error

	removeListener func()
}

// Option configures a Model.
type Option func(*Model)

// WithEventLimit sets how many recent lifecycle events are shown. Default 8.
func WithEventLimit(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.eventLimit = n
		}
	}
}

// WithRefresh sets the redraw interval for elapsed and remaining times. Default 500ms.
func WithRefresh(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.refresh = d
		}
	}
}

// WithShutdownTimeout bounds how long quitting waits for active tasks. Default 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.shutdownTimeout = d
		}
	}
}

// New creates a Model for o and subscribes it to o's lifecycle events.
func New(o *task.Orchestrator, opts ...Option) *Model {
	if o == nil {
		panic("tui: nil task.Orchestrator")
	}
	m := &Model{
		o:               o,
		types:           o.Registry().Types(),
		eventLimit:      8,
		refresh:         500 * time.Millisecond,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.removeListener = o.AddListener(task.ListenerFunc(m.taskEvent))
	return m
}

// Err returns the error of the shutdown triggered by quitting, if any.
func (m *Model) Err() error { return m.err }

// Rejected returns the last refused submission, or nil.
func (m *Model) Rejected() *Rejection { return m.rejected }

// Events returns the recent lifecycle event lines, oldest first.
func (m *Model) Events() []string { return append([]string(nil), m.events...) }

func (m *Model) Init() tea.Cmd { return m.tick() }

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case teaexec.Msg:
		msg.Run()
		m.clampCursors()
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		if m.stopping {
			return m, nil
		}
		return m, m.tick()
	case shutdownDoneMsg:
		m.err = msg.err
		m.removeListener()
		return m, tea.Quit
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch s := k.String(); s {
	case "ctrl+c", "q", "esc":
		if m.stopping {
			// second request: leave without waiting
			m.removeListener()
			return m, tea.Quit
		}
		m.stopping = true
		m.notice = fmt.Sprintf("stopping: waiting for %d task(s)", len(m.o.Active()))
		return m, m.shutdown()
	case "tab":
		if m.focus == paneTypes {
			m.focus = paneTasks
		} else {
			m.focus = paneTypes
		}
	case "up", "k":
		m.move(-1)
	case "down", "j":
		m.move(1)
	case "enter", " ":
		if m.focus == paneTypes && m.typeCursor < len(m.types) {
			m.submit(m.types[m.typeCursor].Name)
		}
	case "c", "x", "delete":
		m.cancelSelected()
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		if i := int(s[0] - '1'); i < len(m.types) {
			m.typeCursor = i
			m.submit(m.types[i].Name)
		}
	}
	return m, nil
}

func (m *Model) move(delta int) {
	if m.focus == paneTypes {
		m.typeCursor += delta
	} else {
		m.taskCursor += delta
	}
	m.clampCursors()
}

func (m *Model) clampCursors() {
	m.typeCursor = clamp(m.typeCursor, len(m.types))
	m.taskCursor = clamp(m.taskCursor, len(m.o.Active()))
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (m *Model) submit(typ string) {
	t, err := m.o.SubmitType(typ)
	var ce *task.ConcurrencyError
	switch {
	case err == nil:
		m.rejected = nil
		m.notice = fmt.Sprintf("submitted %s %s", typ, shortID(t.ID()))
	case errors.As(err, &ce):
		m.rejected = &Rejection{Type: typ, Blocking: ce.Blocking.Info(), At: time.Now()}
		m.notice = ""
	default:
		m.notice = err.Error()
	}
}

func (m *Model) cancelSelected() {
	active := m.o.Active()
	if len(active) == 0 {
		m.notice = "no active task"
		return
	}
	t := active[clamp(m.taskCursor, len(active))]
	if t.Cancel() {
		m.notice = fmt.Sprintf("cancelling %s %s", t.Type(), shortID(t.ID()))
	} else {
		m.notice = fmt.Sprintf("%s %s is not active", t.Type(), shortID(t.ID()))
	}
}

// shutdown runs Orchestrator.Shutdown off the program goroutine; its posts still reach the
// program because the program only quits on shutdownDoneMsg.
func (m *Model) shutdown() tea.Cmd {
	o, timeout := m.o, m.shutdownTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return shutdownDoneMsg{err: o.Shutdown(ctx)}
	}
}

func (m *Model) taskEvent(e task.Event) {
	switch e.Kind {
	case task.EventStarted, task.EventCancelled, task.EventFailed, task.EventException, task.EventFinished:
	default:
		return
	}
	line := fmt.Sprintf("%s  %-9s %s %s", e.At.Format("15:04:05"), e.Kind, e.Task.Type(), shortID(e.Task.ID()))
	if e.Kind == task.EventFailed {
		if te := e.Task.Err(); te != nil {
			line += ": " + te.Message
		}
	}
	if e.Kind == task.EventException {
		if f := e.Task.Fault(); f != nil {
			line += ": " + f.Error()
		}
	}
	m.events = append(m.events, line)
	if over := len(m.events) - m.eventLimit; over > 0 {
		m.events = append(m.events[:0], m.events[over:]...)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
