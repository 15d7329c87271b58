package admin

import (
	"github.com/sirupsen/logrus"

	"github.com/evan-idocoding/peon/ops"
	"github.com/evan-idocoding/peon/rt/task"
)

// HealthzSpec enables liveness at Path (default "/healthz").
type HealthzSpec struct {
	Guard Guard
	Path  string
}

func EnableHealthz(spec HealthzSpec) Option {
	return func(b *Builder) {
		b.mount("healthz", spec.Path, "/healthz", spec.Guard, ops.HealthzHandler())
	}
}

// ReadyzSpec enables readiness at Path (default "/readyz").
type ReadyzSpec struct {
	Guard  Guard
	Path   string
	Checks []ops.ReadyCheck
}

func EnableReadyz(spec ReadyzSpec) Option {
	return func(b *Builder) {
		b.mount("readyz", spec.Path, "/readyz", spec.Guard, ops.ReadyzHandler(spec.Checks))
	}
}

// BuildInfoSpec enables build metadata at Path (default "/buildinfo").
type BuildInfoSpec struct {
	Guard Guard
	Path  string
}

func EnableBuildInfo(spec BuildInfoSpec) Option {
	return func(b *Builder) {
		h := ops.BuildInfoHandler()
		b.mount("buildinfo", spec.Path, "/buildinfo", spec.Guard, h)
		b.addSource("buildinfo", "/buildinfo", "", h)
	}
}

// RuntimeSpec enables Go runtime stats at Path (default "/runtime").
type RuntimeSpec struct {
	Guard Guard
	Path  string
}

func EnableRuntime(spec RuntimeSpec) Option {
	return func(b *Builder) {
		h := ops.RuntimeHandler()
		b.mount("runtime", spec.Path, "/runtime", spec.Guard, h)
		b.addSource("runtime", "/runtime", "", h)
	}
}

// LogLevelSpec enables reading (default "/log/level") or setting (default "/log/level/set")
// the level of Logger.
type LogLevelSpec struct {
	Guard  Guard
	Path   string
	Logger *logrus.Logger
}

func EnableLogLevelGet(spec LogLevelSpec) Option {
	return func(b *Builder) {
		requireDep(spec.Logger != nil, "log level get: nil Logger")
		h := ops.LogLevelGetHandler(spec.Logger)
		b.mount("log level get", spec.Path, "/log/level", spec.Guard, h)
		b.addSource("log.level", "/log/level", "", h)
	}
}

func EnableLogLevelSet(spec LogLevelSpec) Option {
	return func(b *Builder) {
		requireDep(spec.Logger != nil, "log level set: nil Logger")
		b.mount("log level set", spec.Path, "/log/level/set", spec.Guard, ops.LogLevelSetHandler(spec.Logger))
	}
}

// TaskTypesSpec enables the task type listing at Path (default "/tasks/types").
type TaskTypesSpec struct {
	Guard    Guard
	Path     string
	Registry *task.Registry
}

func EnableTaskTypes(spec TaskTypesSpec) Option {
	return func(b *Builder) {
		requireDep(spec.Registry != nil, "task types: nil Registry")
		h := ops.TaskTypesHandler(spec.Registry)
		b.mount("task types", spec.Path, "/tasks/types", spec.Guard, h)
		b.addSource("tasks.types", "/tasks/types", "", h)
	}
}

// TasksSpec is shared by the task endpoints that only need the orchestrator.
//
// Default paths: snapshot "/tasks/snapshot", blocking "/tasks/blocking", cancel "/tasks/cancel".
type TasksSpec struct {
	Guard        Guard
	Path         string
	Orchestrator *task.Orchestrator
}

func EnableTasksSnapshot(spec TasksSpec) Option {
	return func(b *Builder) {
		requireDep(spec.Orchestrator != nil, "tasks snapshot: nil Orchestrator")
		h := ops.TasksSnapshotHandler(spec.Orchestrator)
		b.mount("tasks snapshot", spec.Path, "/tasks/snapshot", spec.Guard, h)
		b.addSource("tasks.active", "/tasks/snapshot", "", h)
	}
}

func EnableTaskBlocking(spec TasksSpec) Option {
	return func(b *Builder) {
		requireDep(spec.Orchestrator != nil, "task blocking: nil Orchestrator")
		b.mount("task blocking", spec.Path, "/tasks/blocking", spec.Guard, ops.TaskBlockingHandler(spec.Orchestrator))
	}
}

func EnableTaskCancel(spec TasksSpec) Option {
	return func(b *Builder) {
		requireDep(spec.Orchestrator != nil, "task cancel: nil Orchestrator")
		b.mount("task cancel", spec.Path, "/tasks/cancel", spec.Guard, ops.TaskCancelHandler(spec.Orchestrator))
	}
}

// TaskSubmitSpec enables task submission at Path (default "/tasks/submit").
//
// Submission is fail-closed: only AllowTypes may be started unless AllowAllTypes is set.
type TaskSubmitSpec struct {
	Guard         Guard
	Path          string
	Orchestrator  *task.Orchestrator
	AllowTypes    []string
	AllowAllTypes bool
}

func EnableTaskSubmit(spec TaskSubmitSpec) Option {
	return func(b *Builder) {
		requireDep(spec.Orchestrator != nil, "task submit: nil Orchestrator")
		var opts []ops.Option
		if !spec.AllowAllTypes {
			opts = append(opts, ops.WithTaskTypeGuard(ops.AllowTypes(spec.AllowTypes...)))
		}
		b.mount("task submit", spec.Path, "/tasks/submit", spec.Guard, ops.TaskSubmitHandler(spec.Orchestrator, opts...))
	}
}

// HistorySpec enables the finished-task history at Path (default "/history").
type HistorySpec struct {
	Guard  Guard
	Path   string
	Source ops.HistorySource
	// ReportLimit is how many records /report shows. Default 10.
	ReportLimit int
}

func EnableHistory(spec HistorySpec) Option {
	return func(b *Builder) {
		requireDep(spec.Source != nil, "history: nil Source")
		h := ops.HistoryHandler(spec.Source)
		b.mount("history", spec.Path, "/history", spec.Guard, h)
		limit := spec.ReportLimit
		if limit <= 0 {
			limit = 10
		}
		b.addSource("history", "/history", "limit="+itoa(limit), h)
	}
}

func requireDep(ok bool, msg string) {
	if !ok {
		panic("admin: " + msg)
	}
}
