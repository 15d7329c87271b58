package task

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	kinds []EventKind
}

func (r *recorder) publish(k EventKind) {
	r.mu.Lock()
	r.kinds = append(r.kinds, k)
	r.mu.Unlock()
}

func (r *recorder) get() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventKind(nil), r.kinds...)
}

func newRecorded(work Work, opts ...TaskOption) (*Task, *recorder) {
	r := &recorder{}
	t := New("test", work, opts...)
	if !t.claim(r.publish) {
		panic("claim failed")
	}
	return t, r
}

func assertKinds(t *testing.T, got []EventKind, want ...EventKind) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events=%v, want %v", got, want)
	}
}

func TestNew_NilWork_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = New("x", nil)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	tk := New("  copy  ", func(context.Context, *Task) error { return nil })
	if tk.Type() != "copy" || tk.Name() != "copy" {
		t.Fatalf("Type=%q Name=%q, want copy/copy", tk.Type(), tk.Name())
	}
	if tk.ID() == "" {
		t.Fatalf("empty ID")
	}
	if tk.State() != StatePending || tk.Total() != TotalUnknown || tk.Steps() != 0 {
		t.Fatalf("state=%v total=%d steps=%d", tk.State(), tk.Total(), tk.Steps())
	}
	if !tk.StartTime().IsZero() || !tk.EndTime().IsZero() {
		t.Fatalf("times set before Execute")
	}
	if New("x", func(context.Context, *Task) error { return nil }).ID() == tk.ID() {
		t.Fatalf("IDs not unique")
	}
}

func TestExecute_NormalReturn_Finished(t *testing.T) {
	t.Parallel()

	tk, r := newRecorded(func(ctx context.Context, t *Task) error {
		t.Progress()
		return nil
	})
	tk.Execute(context.Background())

	if got := tk.State(); got != StateFinished {
		t.Fatalf("state=%v, want finished", got)
	}
	assertKinds(t, r.get(), EventStarted, EventProgressed, EventFinished)
	if tk.StartTime().IsZero() || tk.EndTime().IsZero() || tk.EndTime().Before(tk.StartTime()) {
		t.Fatalf("start=%v end=%v", tk.StartTime(), tk.EndTime())
	}
	if tk.Err() != nil || tk.Fault() != nil {
		t.Fatalf("err=%v fault=%v, want nil", tk.Err(), tk.Fault())
	}
}

func TestExecute_SecondCall_Noop(t *testing.T) {
	t.Parallel()

	var runs int
	tk, r := newRecorded(func(context.Context, *Task) error {
		runs++
		return nil
	})
	tk.Execute(context.Background())
	end := tk.EndTime()
	tk.Execute(context.Background())

	if runs != 1 {
		t.Fatalf("runs=%d, want 1", runs)
	}
	if !tk.EndTime().Equal(end) {
		t.Fatalf("end time changed")
	}
	assertKinds(t, r.get(), EventStarted, EventFinished)
}

func TestGuardedOps_NoopWhilePending(t *testing.T) {
	t.Parallel()

	tk, r := newRecorded(func(context.Context, *Task) error { return nil })
	if tk.Progress("x") || tk.SetStatus("y") || tk.Cancel() || tk.Fail("m", "d") {
		t.Fatalf("guarded op applied while pending")
	}
	if tk.State() != StatePending || tk.Steps() != 0 || tk.Status() != "" || tk.Err() != nil {
		t.Fatalf("pending task mutated: %+v", tk.Info())
	}
	if got := r.get(); len(got) != 0 {
		t.Fatalf("events=%v, want none", got)
	}
}

func TestGuardedOps_NoopOnceTerminal(t *testing.T) {
	t.Parallel()

	tk, r := newRecorded(func(context.Context, *Task) error { return nil })
	tk.Execute(context.Background())

	if tk.Progress("x") || tk.SetStatus("y") || tk.Cancel() || tk.Fail("m", "d") || tk.finish() {
		t.Fatalf("guarded op applied once terminal")
	}
	if tk.State() != StateFinished || tk.Steps() != 0 || tk.Status() != "" {
		t.Fatalf("terminal task mutated: %+v", tk.Info())
	}
	assertKinds(t, r.get(), EventStarted, EventFinished)
}

func TestProgress_StatusPublishedOnlyOnChange(t *testing.T) {
	t.Parallel()

	tk, r := newRecorded(func(ctx context.Context, t *Task) error {
		t.Progress("a")
		t.Progress("a")
		t.SetStatus("b")
		t.SetStatus("b")
		t.Progress()
		return nil
	})
	tk.Execute(context.Background())

	assertKinds(t, r.get(),
		EventStarted,
		EventProgressed, EventStatus,
		EventProgressed,
		EventStatus,
		EventProgressed,
		EventFinished,
	)
	if tk.Steps() != 3 || tk.Status() != "b" {
		t.Fatalf("steps=%d status=%q, want 3/b", tk.Steps(), tk.Status())
	}
}

func TestProgress_ClampedAtTotal(t *testing.T) {
	t.Parallel()

	var applied []bool
	tk, r := newRecorded(func(ctx context.Context, t *Task) error {
		for i := 0; i < 3; i++ {
			applied = append(applied, t.Progress())
		}
		return nil
	}, WithTotal(2))
	tk.Execute(context.Background())

	if tk.State() != StateFinished {
		t.Fatalf("state=%v fault=%v", tk.State(), tk.Fault())
	}
	if tk.Steps() != 2 {
		t.Fatalf("steps=%d, want 2", tk.Steps())
	}
	if len(applied) != 3 || !applied[0] || !applied[1] || applied[2] {
		t.Fatalf("Progress results=%v, want [true true false]", applied)
	}
	assertKinds(t, r.get(), EventStarted, EventProgressed, EventProgressed, EventFinished)
}

func TestProgress_AtTotalReportsStatusChangeOnly(t *testing.T) {
	t.Parallel()

	var got []bool
	tk, r := newRecorded(func(ctx context.Context, t *Task) error {
		got = append(got,
			t.Progress(),
			t.Progress(),
			t.Progress("new status"),
			t.Progress("new status"),
		)
		return nil
	}, WithTotal(1))
	tk.Execute(context.Background())

	want := []bool{true, false, true, false}
	if len(got) != len(want) {
		t.Fatalf("Progress results=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Progress results=%v, want %v", got, want)
		}
	}
	if tk.Steps() != 1 || tk.Status() != "new status" {
		t.Fatalf("steps=%d status=%q", tk.Steps(), tk.Status())
	}
	assertKinds(t, r.get(), EventStarted, EventProgressed, EventStatus, EventFinished)
}

func TestFail_StickyAndCancelsContext(t *testing.T) {
	t.Parallel()

	var ctxErr error
	tk, r := newRecorded(func(ctx context.Context, t *Task) error {
		t.Fail("disk full", "wrote 3 of 5 files")
		ctxErr = ctx.Err()
		if t.Cancel() {
			return errors.New("cancel applied after fail")
		}
		return nil
	})
	tk.Execute(context.Background())

	if tk.State() != StateFailed {
		t.Fatalf("state=%v, want failed", tk.State())
	}
	if !errors.Is(ctxErr, context.Canceled) {
		t.Fatalf("ctx err=%v, want context.Canceled", ctxErr)
	}
	e := tk.Err()
	if e == nil || e.Message != "disk full" || e.Details != "wrote 3 of 5 files" {
		t.Fatalf("Err=%v", e)
	}
	if tk.Fault() != nil {
		t.Fatalf("fault=%v, want nil", tk.Fault())
	}
	assertKinds(t, r.get(), EventStarted, EventFailed)
}

func TestCancel_ReturningContextErr_StaysCancelled(t *testing.T) {
	t.Parallel()

	tk, r := newRecorded(func(ctx context.Context, t *Task) error {
		t.Progress()
		t.Cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	tk.Execute(context.Background())

	if tk.State() != StateCancelled {
		t.Fatalf("state=%v, want cancelled", tk.State())
	}
	if tk.Fault() != nil || tk.Err() != nil {
		t.Fatalf("fault=%v err=%v, want nil", tk.Fault(), tk.Err())
	}
	assertKinds(t, r.get(), EventStarted, EventProgressed, EventCancelled)
}

func TestExecute_ParentCancel_CancelsTask(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	running := make(chan struct{})
	tk, r := newRecorded(func(ctx context.Context, t *Task) error {
		close(running)
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		tk.Execute(ctx)
	}()
	<-running
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Execute did not return after parent cancel")
	}
	if tk.State() != StateCancelled {
		t.Fatalf("state=%v, want cancelled", tk.State())
	}
	assertKinds(t, r.get(), EventStarted, EventCancelled)
}

func TestExecute_Panic_Exception(t *testing.T) {
	t.Parallel()

	tk, r := newRecorded(func(context.Context, *Task) error {
		panic("boom")
	})
	tk.Execute(context.Background())

	if tk.State() != StateException {
		t.Fatalf("state=%v, want exception", tk.State())
	}
	f := tk.Fault()
	if f == nil || !f.Panicked() || f.Value != "boom" {
		t.Fatalf("fault=%+v", f)
	}
	if tk.Err() != nil {
		t.Fatalf("Err=%v, want nil", tk.Err())
	}
	if tk.EndTime().IsZero() {
		t.Fatalf("end time not recorded after panic")
	}
	assertKinds(t, r.get(), EventStarted, EventException)
}

func TestExecute_ReturnedError_Exception(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("read failed")
	tk, r := newRecorded(func(context.Context, *Task) error { return sentinel })
	tk.Execute(context.Background())

	if tk.State() != StateException {
		t.Fatalf("state=%v, want exception", tk.State())
	}
	f := tk.Fault()
	if f == nil || f.Panicked() || !errors.Is(f, sentinel) {
		t.Fatalf("fault=%+v", f)
	}
	if got := tk.Info().Fault; got != "read failed" {
		t.Fatalf("Info.Fault=%q", got)
	}
	assertKinds(t, r.get(), EventStarted, EventException)
}

func TestEstimateRemaining(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		elapsed   time.Duration
		progress  int
		total     int
		want      time.Duration
		wantKnown bool
	}{
		{"unknown total", 10 * time.Second, 5, TotalUnknown, 0, false},
		{"no progress", 10 * time.Second, 0, 10, 0, false},
		{"half way", 10 * time.Second, 5, 10, 10 * time.Second, true},
		{"quarter", 9 * time.Second, 3, 12, 27 * time.Second, true},
		{"complete", 4 * time.Second, 4, 4, 0, true},
	}
	for _, tc := range cases {
		got, known := estimateRemaining(tc.elapsed, tc.progress, tc.total)
		if got != tc.want || known != tc.wantKnown {
			t.Fatalf("%s: got (%v,%v), want (%v,%v)", tc.name, got, known, tc.want, tc.wantKnown)
		}
	}
}

func TestEstimatedTimeRemaining_PendingUnknown(t *testing.T) {
	t.Parallel()

	tk := New("x", func(context.Context, *Task) error { return nil }, WithTotal(10))
	if _, ok := tk.EstimatedTimeRemaining(); ok {
		t.Fatalf("ETA known for pending task")
	}
	if tk.Elapsed() != 0 {
		t.Fatalf("Elapsed=%v, want 0", tk.Elapsed())
	}
}

func TestSetTotal(t *testing.T) {
	t.Parallel()

	tk, _ := newRecorded(func(ctx context.Context, t *Task) error {
		t.Progress()
		t.Progress()
		if t.SetTotal(1) {
			return errors.New("total below progress accepted")
		}
		if !t.SetTotal(5) {
			return errors.New("total refused")
		}
		return nil
	})
	if !tk.SetTotal(-7) || tk.Total() != TotalUnknown {
		t.Fatalf("negative total not normalized: %d", tk.Total())
	}
	tk.Execute(context.Background())

	if tk.State() != StateFinished {
		t.Fatalf("state=%v fault=%v", tk.State(), tk.Fault())
	}
	if tk.Total() != 5 {
		t.Fatalf("total=%d, want 5", tk.Total())
	}
	if tk.SetTotal(9) {
		t.Fatalf("SetTotal applied once terminal")
	}
}

func TestSetResult_AtMostOnce(t *testing.T) {
	t.Parallel()

	tk, _ := newRecorded(func(ctx context.Context, t *Task) error {
		if !t.SetResult(42) {
			return errors.New("first SetResult refused")
		}
		if t.SetResult(43) {
			return errors.New("second SetResult applied")
		}
		return nil
	})
	tk.Execute(context.Background())

	v, ok := tk.Result()
	if !ok || v != 42 {
		t.Fatalf("Result=(%v,%v), want (42,true)", v, ok)
	}
	if tk.State() != StateFinished {
		t.Fatalf("state=%v fault=%v", tk.State(), tk.Fault())
	}
}

func TestInfo_Snapshot(t *testing.T) {
	t.Parallel()

	tk, _ := newRecorded(func(ctx context.Context, t *Task) error {
		t.Progress("one")
		t.Fail("bad input", "line 3")
		return nil
	}, WithTotal(4), WithName("import users"), WithDescription("imports users.csv"))
	tk.Execute(context.Background())

	info := tk.Info()
	if info.Type != "test" || info.Name != "import users" || info.Description != "imports users.csv" {
		t.Fatalf("info identity=%+v", info)
	}
	if info.State != StateFailed || info.Progress != 1 || info.Total != 4 || info.Status != "one" {
		t.Fatalf("info state=%+v", info)
	}
	if !info.RemainingKnown {
		t.Fatalf("remaining unknown with progress=1 total=4")
	}
	if info.Error == nil || info.Error.Message != "bad input" {
		t.Fatalf("info error=%v", info.Error)
	}
	info.Error.Message = "changed"
	if tk.Err().Message != "bad input" {
		t.Fatalf("Info.Error aliases task error")
	}
	if tk.SetName("other") || tk.SetDescription("other") {
		t.Fatalf("name/description changed once terminal")
	}
}

func TestClaim_OnlyOnce(t *testing.T) {
	t.Parallel()

	tk := New("x", func(context.Context, *Task) error { return nil })
	if !tk.claimable() || !tk.claim(func(EventKind) {}) {
		t.Fatalf("first claim failed")
	}
	if tk.claimable() || tk.claim(func(EventKind) {}) {
		t.Fatalf("second claim succeeded")
	}
}

func TestStateAndKindStrings(t *testing.T) {
	t.Parallel()

	if StateException.String() != "exception" || State(42).String() != "State(42)" {
		t.Fatalf("State.String mismatch")
	}
	if EventDone.String() != "done" || EventKind(42).String() != "EventKind(42)" {
		t.Fatalf("EventKind.String mismatch")
	}
	for s, want := range map[State]bool{
		StatePending: false, StateActive: false,
		StateCancelled: true, StateFailed: true, StateException: true, StateFinished: true,
	} {
		if s.Terminal() != want {
			t.Fatalf("%v.Terminal()=%v, want %v", s, s.Terminal(), want)
		}
	}
}
