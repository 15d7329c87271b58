package ops

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type healthResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HealthzHandler returns a liveness handler. It always responds 200 OK for GET/HEAD.
func HealthzHandler(opts ...Option) http.Handler {
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeMethodNotAllowed(w, r, format, "GET, HEAD", healthResponse{Error: "method not allowed"})
			return
		}
		writeResponse(w, r, format, http.StatusOK, healthResponse{OK: true}, "", func(b *strings.Builder) {
			b.WriteString("ok\n")
		})
	})
}

// ReadyCheckFunc returns nil when the dependency is ready. It must respect ctx.
type ReadyCheckFunc func(context.Context) error

// ReadyCheck is a named readiness check.
type ReadyCheck struct {
	Name    string
	Func    ReadyCheckFunc
	Timeout time.Duration // <= 0 means no extra timeout
}

// ReadyCheckResult is the outcome of one check.
type ReadyCheckResult struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration"` // nanoseconds
	Error    string        `json:"error,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// ReadyzReport is a point-in-time readiness report.
type ReadyzReport struct {
	OK       bool               `json:"ok"`
	Duration time.Duration      `json:"duration"` // nanoseconds
	Checks   []ReadyCheckResult `json:"checks,omitempty"`
}

// ReadyzHandler returns a readiness handler that runs checks sequentially.
//
// It responds 200 when every check passes and 503 otherwise. GET/HEAD only.
// It panics if a check has an empty Name or nil Func.
func ReadyzHandler(checks []ReadyCheck, opts ...Option) http.Handler {
	for i, c := range checks {
		if c.Name == "" {
			panic(fmt.Sprintf("ops: ready check[%d] has empty Name", i))
		}
		if c.Func == nil {
			panic(fmt.Sprintf("ops: ready check[%d] %q has nil Func", i, c.Name))
		}
	}
	cfg := applyOptions(opts)
	checks = append([]ReadyCheck(nil), checks...)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeMethodNotAllowed(w, r, format, "GET, HEAD", ReadyzReport{
				Checks: []ReadyCheckResult{{Name: "method", Error: "method not allowed"}},
			})
			return
		}

		rep := RunReadyzChecks(r.Context(), checks)
		code := http.StatusOK
		if !rep.OK {
			code = http.StatusServiceUnavailable
		}
		writeResponse(w, r, format, code, rep, "", func(b *strings.Builder) { renderReadyText(b, rep) })
	})
}

// RunReadyzChecks executes checks sequentially and returns a report.
func RunReadyzChecks(ctx context.Context, checks []ReadyCheck) ReadyzReport {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	rep := ReadyzReport{OK: true, Checks: make([]ReadyCheckResult, 0, len(checks))}
	for _, c := range checks {
		cr := runOneCheck(ctx, c)
		rep.Checks = append(rep.Checks, cr)
		rep.OK = rep.OK && cr.OK
	}
	rep.Duration = time.Since(start)
	return rep
}

func runOneCheck(parent context.Context, c ReadyCheck) (cr ReadyCheckResult) {
	cr.Name = c.Name
	start := time.Now()
	ctx, cancel := parent, context.CancelFunc(func() {})
	if c.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, c.Timeout)
	}
	defer cancel()

	defer func() {
		cr.Duration = time.Since(start)
		if p := recover(); p != nil {
			cr.OK = false
			cr.Error = fmt.Sprintf("panic: %v", p)
		}
		if ctx.Err() == context.DeadlineExceeded {
			cr.OK = false
			cr.TimedOut = true
			if cr.Error == "" {
				cr.Error = "timeout"
			}
		}
	}()

	if c.Func == nil {
		cr.Error = "nil check func"
		return cr
	}
	if err := c.Func(ctx); err != nil {
		cr.Error = err.Error()
		return cr
	}
	cr.OK = true
	return cr
}

// Format: ok\n, or one "fail <name>[: <error>]" line per failed check.
func renderReadyText(b *strings.Builder, rep ReadyzReport) {
	if rep.OK {
		b.WriteString("ok\n")
		return
	}
	for _, c := range rep.Checks {
		if c.OK {
			continue
		}
		b.WriteString("fail " + escapeTextField(c.Name))
		if c.Error != "" {
			b.WriteString(": " + escapeTextField(c.Error))
		}
		b.WriteByte('\n')
	}
}
