// Package ops provides net/http handlers for operating a peon orchestrator.
//
// The handlers do not choose routing paths and do not authenticate callers. The admin package
// mounts them behind access guards; they can also be mounted into any other router.
//
// # Formats
//
// Every handler renders text by default. WithDefaultFormat changes the default, and a request
// can override it with ?format=text or ?format=json.
//
// Text output is line-based and tab-separated so it stays greppable. Field values are escaped
// so they cannot inject lines or columns.
//
// # Handlers
//
//   - health: HealthzHandler, ReadyzHandler
//   - tasks: TaskTypesHandler, TasksSnapshotHandler, TaskSubmitHandler, TaskCancelHandler,
//     TaskBlockingHandler
//   - history: HistoryHandler (finished tasks from the journal)
//   - logging: LogLevelGetHandler, LogLevelSetHandler (logrus)
//   - process: BuildInfoHandler, RuntimeHandler
//
// Read handlers accept GET/HEAD, write handlers accept POST only. Other methods get 405 with
// an Allow header. Responses carry Cache-Control: no-store.
package ops
