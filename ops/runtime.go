package ops

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"
)

var processStart = time.Now()

// RuntimeSnapshot is a point-in-time view of the Go runtime.
type RuntimeSnapshot struct {
	Uptime       time.Duration `json:"uptime"` // nanoseconds
	Goroutines   int           `json:"goroutines"`
	GOMAXPROCS   int           `json:"gomaxprocs"`
	HeapAlloc    uint64        `json:"heap_alloc"`
	HeapObjects  uint64        `json:"heap_objects"`
	Sys          uint64        `json:"sys"`
	NumGC        uint32        `json:"num_gc"`
	PauseTotalNs uint64        `json:"pause_total_ns"`
}

// Runtime returns a RuntimeSnapshot. It calls runtime.ReadMemStats, which briefly stops the
// world.
func Runtime() RuntimeSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeSnapshot{
		Uptime:       time.Since(processStart),
		Goroutines:   runtime.NumGoroutine(),
		GOMAXPROCS:   runtime.GOMAXPROCS(0),
		HeapAlloc:    ms.HeapAlloc,
		HeapObjects:  ms.HeapObjects,
		Sys:          ms.Sys,
		NumGC:        ms.NumGC,
		PauseTotalNs: ms.PauseTotalNs,
	}
}

type runtimeResponse struct {
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
	Runtime *RuntimeSnapshot `json:"runtime,omitempty"`
}

// RuntimeHandler reports Runtime. GET/HEAD only.
func RuntimeHandler(opts ...Option) http.Handler {
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeMethodNotAllowed(w, r, format, "GET, HEAD", runtimeResponse{Error: "method not allowed"})
			return
		}
		s := Runtime()
		writeResponse(w, r, format, http.StatusOK, runtimeResponse{OK: true, Runtime: &s}, "", func(b *strings.Builder) {
			u := func(v uint64) string { return strconv.FormatUint(v, 10) }
			writeLine(b, "runtime", "uptime", s.Uptime.Truncate(time.Millisecond).String())
			writeLine(b, "runtime", "goroutines", itoa(s.Goroutines))
			writeLine(b, "runtime", "gomaxprocs", itoa(s.GOMAXPROCS))
			writeLine(b, "mem", "heap_alloc", u(s.HeapAlloc))
			writeLine(b, "mem", "heap_objects", u(s.HeapObjects))
			writeLine(b, "mem", "sys", u(s.Sys))
			writeLine(b, "gc", "num_gc", u(uint64(s.NumGC)))
			writeLine(b, "gc", "pause_total_ns", u(s.PauseTotalNs))
		})
	})
}
