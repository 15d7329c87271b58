package task

import (
	"context"
	"fmt"
	"time"
)

// Work is the task author's function.
//
// It runs in the task's execution context. It may call t.Progress, t.SetStatus, t.Fail or
// t.Cancel, and should return when ctx is done. A non-nil return (other than ctx's own error
// after cancellation) or a panic is captured as the task's Fault.
type Work func(ctx context.Context, t *Task) error

// TotalUnknown is the Total of a task whose amount of work is not known.
const TotalUnknown = -1

// State is the lifecycle state of a task.
type State int

const (
	StatePending State = iota
	StateActive
	StateCancelled
	StateFailed
	StateException
	StateFinished
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	case StateException:
		return "exception"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is one of the final states.
func (s State) Terminal() bool {
	return s >= StateCancelled && s <= StateFinished
}

// EventKind identifies a lifecycle event. Kinds are ordered as they occur in a task's life.
type EventKind int

const (
	EventStarting EventKind = iota
	EventStarted
	EventProgressed
	EventStatus
	EventCancelled
	EventFailed
	EventException
	EventFinished
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventStarting:
		return "starting"
	case EventStarted:
		return "started"
	case EventProgressed:
		return "progressed"
	case EventStatus:
		return "status"
	case EventCancelled:
		return "cancelled"
	case EventFailed:
		return "failed"
	case EventException:
		return "exception"
	case EventFinished:
		return "finished"
	case EventDone:
		return "done"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

func terminalEvent(s State) EventKind {
	switch s {
	case StateCancelled:
		return EventCancelled
	case StateFailed:
		return EventFailed
	case StateException:
		return EventException
	default:
		return EventFinished
	}
}

// Event is a lifecycle notification. At is the time the event was produced.
type Event struct {
	Task *Task
	Kind EventKind
	At   time.Time
}

// Listener receives lifecycle events on the consumer context, one at a time.
type Listener interface {
	TaskEvent(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(e Event)

func (f ListenerFunc) TaskEvent(e Event) { f(e) }

// Error is a declared failure reported by the task author via Task.Fail.
type Error struct {
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return e.Message + ": " + e.Details
}

// Fault is an unhandled failure captured while the work function ran.
//
// Err is always set. Value and Stack are set when the work function panicked.
type Fault struct {
	Err   error
	Value any
	Stack []byte
}

func (f *Fault) Error() string { return f.Err.Error() }

func (f *Fault) Unwrap() error { return f.Err }

// Panicked reports whether the fault came from a panic.
func (f *Fault) Panicked() bool { return f.Stack != nil }

// Info is a point-in-time view of a task.
type Info struct {
	ID          string
	Type        string
	Name        string
	Description string

	State    State
	Progress int
	Total    int
	Status   string

	StartTime time.Time
	EndTime   time.Time
	Elapsed   time.Duration
	// Remaining is only meaningful when RemainingKnown is true.
	Remaining      time.Duration
	RemainingKnown bool

	Error *Error
	Fault string
}
