package teaexec

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/evan-idocoding/peon/rt/task"
)

type model struct {
	// seen is only touched from Update, i.e. on the program goroutine.
	seen []task.EventKind
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	Handle(msg)
	return m, nil
}

func (m *model) View() string { return "" }

func newProgram(m tea.Model) *tea.Program {
	return tea.NewProgram(m,
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
		tea.WithoutRenderer(),
		tea.WithoutSignalHandler(),
	)
}

func TestExecutor_OrchestratorEventsOnProgram(t *testing.T) {
	t.Parallel()

	log, _ := logtest.NewNullLogger()
	exec := New(log)
	defer exec.Close()

	m := &model{}
	p := newProgram(m)
	exec.Attach(p)

	runDone := make(chan error, 1)
	go func() {
		_, err := p.Run()
		runDone <- err
	}()

	o := task.NewOrchestrator(task.WithExecutor(exec), task.WithLogger(log))
	done := make(chan []task.EventKind, 1)
	o.AddListener(task.ListenerFunc(func(e task.Event) {
		m.seen = append(m.seen, e.Kind)
		if e.Kind == task.EventDone {
			done <- append([]task.EventKind(nil), m.seen...)
		}
	}))

	tk := task.New("x", func(ctx context.Context, t *task.Task) error {
		t.Progress()
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Dispatch(ctx, tk); err != nil {
		t.Fatalf("Dispatch err=%v", err)
	}

	select {
	case got := <-done:
		want := []task.EventKind{task.EventStarting, task.EventStarted, task.EventProgressed, task.EventFinished, task.EventDone}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("events=%v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for DONE")
	}

	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown err=%v", err)
	}
	p.Quit()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("program did not quit")
	}
}

func TestExecutor_PostBeforeAttach_Delivered(t *testing.T) {
	t.Parallel()

	log, _ := logtest.NewNullLogger()
	exec := New(log)
	defer exec.Close()

	ran := make(chan int, 2)
	exec.Post(func() { ran <- 1 })
	exec.Post(func() { ran <- 2 })

	p := newProgram(&model{})
	go func() { _, _ = p.Run() }()
	defer p.Quit()
	exec.Attach(p)

	for _, want := range []int{1, 2} {
		select {
		case got := <-ran:
			if got != want {
				t.Fatalf("ran %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("post %d not delivered", want)
		}
	}
}

func TestExecutor_Detach_ShutdownAfterProgramKilled(t *testing.T) {
	t.Parallel()

	log, _ := logtest.NewNullLogger()
	exec := New(log)
	defer exec.Close()

	p := newProgram(&model{})
	exec.Attach(p)
	runDone := make(chan error, 1)
	go func() {
		_, err := p.Run()
		runDone <- err
	}()

	o := task.NewOrchestrator(task.WithExecutor(exec), task.WithLogger(log))
	var events []task.EventKind
	o.AddListener(task.ListenerFunc(func(e task.Event) { events = append(events, e.Kind) }))

	started := make(chan struct{})
	tk := task.New("x", func(ctx context.Context, t *task.Task) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Dispatch(ctx, tk); err != nil {
		t.Fatalf("Dispatch err=%v", err)
	}
	<-started

	p.Kill()
	select {
	case err := <-runDone:
		if !errors.Is(err, tea.ErrProgramKilled) {
			t.Fatalf("Run err=%v, want ErrProgramKilled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("program did not exit")
	}
	exec.Detach()

	begin := time.Now()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown err=%v", err)
	}
	if d := time.Since(begin); d > time.Second {
		t.Fatalf("Shutdown took %v", d)
	}
	if tk.State() != task.StateCancelled {
		t.Fatalf("state=%v, want cancelled", tk.State())
	}
	if len(events) == 0 || events[len(events)-1] != task.EventDone {
		t.Fatalf("events=%v, want DONE last", events)
	}
}

func TestExecutor_Detach_RunsPostsInOrder(t *testing.T) {
	t.Parallel()

	log, _ := logtest.NewNullLogger()
	exec := New(log)
	defer exec.Close()

	ran := make(chan int, 3)
	exec.Post(func() { ran <- 1 })
	exec.Post(func() { panic("boom") })
	exec.Post(func() { ran <- 2 })
	exec.Detach()
	exec.Post(func() { ran <- 3 })

	for _, want := range []int{1, 2, 3} {
		select {
		case got := <-ran:
			if got != want {
				t.Fatalf("ran %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("post %d not run", want)
		}
	}
}

func TestMsg_RunsOnce(t *testing.T) {
	t.Parallel()

	n := 0
	m := Msg{fn: func() { n++ }, ran: new(atomic.Bool)}
	m.Run()
	m.Run()
	if n != 1 || !m.done() {
		t.Fatalf("runs=%d done=%v, want 1/true", n, m.done())
	}
}

func TestExecutor_PostAfterClose_Dropped(t *testing.T) {
	t.Parallel()

	log, hook := logtest.NewNullLogger()
	exec := New(log)
	exec.Post(func() {})
	exec.Close()
	exec.Post(func() { t.Errorf("post after close ran") })
	exec.Close()

	if e := hook.LastEntry(); e == nil || e.Message != "teaexec: closed with undelivered posts" {
		t.Fatalf("last log entry=%v", e)
	}
}

func TestHandle_IgnoresOtherMessages(t *testing.T) {
	t.Parallel()

	if Handle(tea.KeyMsg{}) {
		t.Fatalf("Handle accepted a KeyMsg")
	}
	var ran bool
	if !Handle(Msg{fn: func() { ran = true }}) || !ran {
		t.Fatalf("Handle did not run Msg")
	}
}
