// Package admin assembles the peon admin HTTP surface on gin.
//
// It wires handlers from package ops into a *gin.Engine behind explicit guards:
//
//	read := admin.Tokens("", admin.NewTokenSet("r3ad"))
//	write := admin.Tokens("", admin.NewTokenSet("wr1te"))
//	e := admin.New(
//		admin.EnableHealthz(admin.HealthzSpec{Guard: admin.AllowAll()}),
//		admin.EnableTasksSnapshot(admin.TasksSpec{Guard: read, Orchestrator: o}),
//		admin.EnableTaskSubmit(admin.TaskSubmitSpec{Guard: write, Orchestrator: o, AllowAllTypes: true}),
//	)
//
// # Rules
//
// Nothing is mounted unless enabled, and every enabled capability carries its own Guard. Guards
// reject with 403. Assembly errors (nil Guard, nil dependency, invalid or duplicated path)
// panic.
//
// Each capability owns one path and accepts every method on it; the ops handler answers 405
// for methods it does not serve.
//
// # Default paths
//
// Read (GET/HEAD):
//   - EnableReport: "/report"
//   - EnableHealthz: "/healthz"
//   - EnableReadyz: "/readyz"
//   - EnableBuildInfo: "/buildinfo"
//   - EnableRuntime: "/runtime"
//   - EnableLogLevelGet: "/log/level"
//   - EnableTaskTypes: "/tasks/types"
//   - EnableTasksSnapshot: "/tasks/snapshot"
//   - EnableTaskBlocking: "/tasks/blocking" (?type= or ?starter=)
//   - EnableHistory: "/history" (?limit=)
//
// Write (POST):
//   - EnableLogLevelSet: "/log/level/set" (?level=)
//   - EnableTaskSubmit: "/tasks/submit" (?type=&name=)
//   - EnableTaskCancel: "/tasks/cancel" (?id=)
//
// # Guards
//
// DenyAll, AllowAll, Tokens (header token against a hot-updatable TokenSet), IPAllowList
// (gin's ClientIP; see WithTrustedProxies), Any, and GuardFunc for custom predicates.
//
// Every request gets an X-Request-ID (kept from the request when well-formed) and an access log
// entry on the configured logrus logger.
package admin
