package task

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when the orchestrator is shutting down or already stopped.
	ErrClosed = errors.New("task: orchestrator closed")

	// ErrConcurrency matches every *ConcurrencyError via errors.Is.
	ErrConcurrency = errors.New("task: blocked by concurrent task")

	// ErrNotPending is returned by Submit when the task was already submitted or executed.
	ErrNotPending = errors.New("task: task already submitted or executed")

	// ErrUnknownType is returned when a task type is not registered.
	ErrUnknownType = errors.New("task: unknown task type")

	// ErrUnknownStarter is returned by BlockingTaskForStarter when the starter has no
	// registered set of task types.
	ErrUnknownStarter = errors.New("task: unknown starter")

	// ErrInvalidName is returned by Registry methods when a type or starter name is invalid.
	//
	// Name rules:
	//   - normalized by strings.TrimSpace before validation
	//   - must be non-empty and match [A-Za-z0-9._-]
	ErrInvalidName = errors.New("task: invalid name")

	// ErrDuplicateName is returned by Registry.Register when the type is already registered.
	ErrDuplicateName = errors.New("task: duplicate name")
)

// ConcurrencyError reports that Blocked was refused admission because Blocking is active.
type ConcurrencyError struct {
	Blocking *Task
	Blocked  *Task
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("task: %s (%s) was blocked from starting by %s (%s)",
		e.Blocked.Type(), e.Blocked.ID(), e.Blocking.Type(), e.Blocking.ID())
}

// Is reports whether target is ErrConcurrency.
func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }
