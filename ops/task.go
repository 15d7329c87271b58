package ops

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/evan-idocoding/peon/rt/task"
)

// TaskView is the JSON form of a task.Info.
type TaskView struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	State       string `json:"state"`
	Progress    int    `json:"progress"`
	Total       int    `json:"total"` // -1 when unknown
	Status      string `json:"status,omitempty"`

	StartTime   time.Time `json:"start_time,omitzero"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	RemainingMS *int64    `json:"remaining_ms,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
	Fault        string `json:"fault,omitempty"`
}

// NewTaskView converts info.
func NewTaskView(info task.Info) TaskView {
	v := TaskView{
		ID:          info.ID,
		Type:        info.Type,
		Name:        info.Name,
		Description: info.Description,
		State:       info.State.String(),
		Progress:    info.Progress,
		Total:       info.Total,
		Status:      info.Status,
		StartTime:   info.StartTime,
		ElapsedMS:   info.Elapsed.Milliseconds(),
		Fault:       info.Fault,
	}
	if info.RemainingKnown {
		ms := info.Remaining.Milliseconds()
		v.RemainingMS = &ms
	}
	if info.Error != nil {
		v.ErrorMessage = info.Error.Message
		v.ErrorDetails = info.Error.Details
	}
	return v
}

// TypeView is the JSON form of a registered task type.
type TypeView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Blocking    string `json:"blocking"`
	Category    string `json:"category,omitempty"`
}

type taskResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Task     *TaskView  `json:"task,omitempty"`
	Blocking *TaskView  `json:"blocking,omitempty"`
	Tasks    []TaskView `json:"tasks,omitempty"`
	Types    []TypeView `json:"types,omitempty"`
	Applied  *bool      `json:"applied,omitempty"`
}

// TaskTypesHandler lists the registered task types with their blocking policy. GET/HEAD only.
//
// Text output, one block per type:
//
//	type	<name>	blocking	<blocking>
//	type	<name>	category	<category>
//	type	<name>	description	<description>
func TaskTypesHandler(reg *task.Registry, opts ...Option) http.Handler {
	if reg == nil {
		panic("ops: nil task.Registry")
	}
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeMethodNotAllowed(w, r, format, "GET, HEAD", taskResponse{Error: "method not allowed"})
			return
		}
		specs := reg.Types()
		views := make([]TypeView, 0, len(specs))
		for _, s := range specs {
			views = append(views, TypeView{
				Name:        s.Name,
				Description: s.Description,
				Blocking:    s.Policy.Blocking.String(),
				Category:    s.Policy.Category,
			})
		}
		writeResponse(w, r, format, http.StatusOK, taskResponse{OK: true, Types: views}, "", func(b *strings.Builder) {
			for _, v := range views {
				writeLine(b, "type", v.Name, "blocking", v.Blocking)
				if v.Category != "" {
					writeLine(b, "type", v.Name, "category", v.Category)
				}
				if v.Description != "" {
					writeLine(b, "type", v.Name, "description", v.Description)
				}
			}
		})
	})
}

// TasksSnapshotHandler lists the active tasks in submission order. GET/HEAD only.
//
// Text output, one block per task keyed by id:
//
//	task	<id>	type	<type>
//	task	<id>	state	<state>
//	task	<id>	progress	<n>/<total|?>
//	...
func TasksSnapshotHandler(o *task.Orchestrator, opts ...Option) http.Handler {
	if o == nil {
		panic("ops: nil task.Orchestrator")
	}
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeMethodNotAllowed(w, r, format, "GET, HEAD", taskResponse{Error: "method not allowed"})
			return
		}
		infos, err := o.Snapshot(r.Context())
		if err != nil {
			writeTaskError(w, r, format, err)
			return
		}
		views := make([]TaskView, 0, len(infos))
		for _, info := range infos {
			views = append(views, NewTaskView(info))
		}
		writeResponse(w, r, format, http.StatusOK, taskResponse{OK: true, Tasks: views}, "", func(b *strings.Builder) {
			for _, v := range views {
				renderTaskText(b, v)
			}
		})
	})
}

// TaskSubmitHandler starts a task of a registered type. POST only.
//
// Input: ?type=<type> (required), ?name=<display name> (optional).
//
// Responses:
//   - 200 with the new task
//   - 400 when type is missing
//   - 403 when the type guard rejects the type
//   - 404 when the type is not registered
//   - 409 when an active task blocks it; the blocking task is included
//   - 503 when the orchestrator is shutting down
func TaskSubmitHandler(o *task.Orchestrator, opts ...Option) http.Handler {
	if o == nil {
		panic("ops: nil task.Orchestrator")
	}
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, r, format, "POST", taskResponse{Error: "method not allowed"})
			return
		}
		typ, ok := getQueryRequired(r, "type")
		if !ok {
			const msg = "missing type"
			writeResponse(w, r, format, http.StatusBadRequest, taskResponse{Error: msg}, msg, nil)
			return
		}
		if cfg.typeGuard != nil && !cfg.typeGuard(typ) {
			const msg = "task type not allowed"
			writeResponse(w, r, format, http.StatusForbidden, taskResponse{Error: msg}, msg, nil)
			return
		}
		var topts []task.TaskOption
		if name, ok := getQueryRequired(r, "name"); ok {
			topts = append(topts, task.WithName(name))
		}

		t, err := o.DispatchType(r.Context(), typ, topts...)
		if err != nil {
			writeTaskError(w, r, format, err)
			return
		}
		v := NewTaskView(t.Info())
		writeResponse(w, r, format, http.StatusOK, taskResponse{OK: true, Task: &v}, "", func(b *strings.Builder) {
			writeLine(b, "task", v.ID, "type", v.Type)
			writeLine(b, "task", v.ID, "name", v.Name)
			writeLine(b, "task", v.ID, "submitted", "true")
		})
	})
}

// TaskCancelHandler cancels an active task. POST only.
//
// Input: ?id=<task id>. Responds 404 when no ACTIVE task has that id.
func TaskCancelHandler(o *task.Orchestrator, opts ...Option) http.Handler {
	if o == nil {
		panic("ops: nil task.Orchestrator")
	}
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, r, format, "POST", taskResponse{Error: "method not allowed"})
			return
		}
		id, ok := getQueryRequired(r, "id")
		if !ok {
			const msg = "missing id"
			writeResponse(w, r, format, http.StatusBadRequest, taskResponse{Error: msg}, msg, nil)
			return
		}
		applied, err := o.CancelID(r.Context(), id)
		if err != nil {
			writeTaskError(w, r, format, err)
			return
		}
		if !applied {
			const msg = "no active task with that id"
			writeResponse(w, r, format, http.StatusNotFound, taskResponse{Error: msg, Applied: &applied}, msg, nil)
			return
		}
		writeResponse(w, r, format, http.StatusOK, taskResponse{OK: true, Applied: &applied}, "", func(b *strings.Builder) {
			writeLine(b, "task", id, "cancelled", "true")
		})
	})
}

// TaskBlockingHandler reports which active task, if any, would block a new task. GET/HEAD only.
//
// Input: exactly one of ?type=<type> or ?starter=<starter>.
//
// Text output is "blocking\tnone" or the blocking task's lines.
func TaskBlockingHandler(o *task.Orchestrator, opts ...Option) http.Handler {
	if o == nil {
		panic("ops: nil task.Orchestrator")
	}
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeMethodNotAllowed(w, r, format, "GET, HEAD", taskResponse{Error: "method not allowed"})
			return
		}
		typ, hasType := getQueryRequired(r, "type")
		starter, hasStarter := getQueryRequired(r, "starter")
		if hasType == hasStarter {
			const msg = "want exactly one of type or starter"
			writeResponse(w, r, format, http.StatusBadRequest, taskResponse{Error: msg}, msg, nil)
			return
		}

		var (
			blocking *TaskView
			lookErr  error
		)
		err := o.Call(r.Context(), func() {
			var b *task.Task
			if hasType {
				if _, ok := o.Registry().Lookup(typ); !ok {
					lookErr = task.ErrUnknownType
					return
				}
				b = o.BlockingTaskFor(typ)
			} else {
				b, lookErr = o.BlockingTaskForStarter(starter)
			}
			if b != nil {
				v := NewTaskView(b.Info())
				blocking = &v
			}
		})
		if err == nil {
			err = lookErr
		}
		if err != nil {
			writeTaskError(w, r, format, err)
			return
		}
		writeResponse(w, r, format, http.StatusOK, taskResponse{OK: true, Blocking: blocking}, "", func(b *strings.Builder) {
			if blocking == nil {
				writeLine(b, "blocking", "none")
				return
			}
			renderTaskText(b, *blocking)
		})
	})
}

func writeTaskError(w http.ResponseWriter, r *http.Request, f Format, err error) {
	code := http.StatusInternalServerError
	resp := taskResponse{Error: err.Error()}
	var ce *task.ConcurrencyError
	switch {
	case errors.As(err, &ce):
		code = http.StatusConflict
		v := NewTaskView(ce.Blocking.Info())
		resp.Blocking = &v
	case errors.Is(err, task.ErrUnknownType), errors.Is(err, task.ErrUnknownStarter):
		code = http.StatusNotFound
	case errors.Is(err, task.ErrClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	writeResponse(w, r, f, code, resp, resp.Error, nil)
}

func renderTaskText(b *strings.Builder, v TaskView) {
	total := "?"
	if v.Total >= 0 {
		total = strconv.Itoa(v.Total)
	}
	writeLine(b, "task", v.ID, "type", v.Type)
	writeLine(b, "task", v.ID, "name", v.Name)
	writeLine(b, "task", v.ID, "state", v.State)
	writeLine(b, "task", v.ID, "progress", strconv.Itoa(v.Progress)+"/"+total)
	if v.Status != "" {
		writeLine(b, "task", v.ID, "status", v.Status)
	}
	writeLine(b, "task", v.ID, "elapsed", (time.Duration(v.ElapsedMS) * time.Millisecond).String())
	if v.RemainingMS != nil {
		writeLine(b, "task", v.ID, "remaining", (time.Duration(*v.RemainingMS) * time.Millisecond).String())
	}
	if v.ErrorMessage != "" {
		writeLine(b, "task", v.ID, "error", v.ErrorMessage)
	}
	if v.Fault != "" {
		writeLine(b, "task", v.ID, "fault", v.Fault)
	}
}
