package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"
)

// ReportSpec enables a single text page (default "/report") combining every enabled read
// capability. It is guarded by its own Guard only.
type ReportSpec struct {
	Guard Guard
	Path  string
}

func EnableReport(spec ReportSpec) Option {
	return func(b *Builder) {
		if spec.Guard == nil {
			panic("admin: report: nil Guard")
		}
		if b.report != nil {
			panic("admin: EnableReport called more than once")
		}
		b.report = &spec
	}
}

// Section order on the report page.
var reportOrder = []string{"buildinfo", "runtime", "log.level", "tasks.types", "tasks.active", "history"}

type reportSource struct {
	path  string
	query string
	h     http.Handler
}

type reportSection struct {
	name string
	src  reportSource
}

func (b *Builder) assembleReport() {
	if b.report == nil {
		return
	}
	var sections []reportSection
	for _, name := range reportOrder {
		if src, ok := b.sources[name]; ok {
			sections = append(sections, reportSection{name: name, src: src})
		}
	}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(renderReport(r.Context(), sections)))
	})
	b.mount("report", b.report.Path, "/report", b.report.Guard, h)
}

func renderReport(ctx context.Context, sections []reportSection) string {
	const indent = "| "

	ok := true
	names := make([]string, 0, len(sections))
	var body strings.Builder
	for _, sec := range sections {
		names = append(names, sec.name)
		body.WriteString("\n=== " + sec.name + " ===\n")

		code, text := captureText(ctx, sec.src)
		if code < 200 || code >= 300 {
			ok = false
			body.WriteString(indent + "error: status " + strconv.Itoa(code) + "\n")
		}
		if text == "" {
			body.WriteString(indent + "(empty)\n")
			continue
		}
		for _, line := range strings.SplitAfter(strings.TrimSuffix(text, "\n"), "\n") {
			body.WriteString(indent + strings.TrimSuffix(line, "\n") + "\n")
		}
	}

	var out strings.Builder
	if ok {
		out.WriteString("ok\n")
	} else {
		out.WriteString("error: one or more sections failed\n")
	}
	out.WriteString("generated_at: " + time.Now().Format(time.RFC3339Nano) + "\n")
	if len(names) == 0 {
		out.WriteString("enabled sections: (none)\n")
	} else {
		out.WriteString("enabled sections: " + strings.Join(names, ", ") + "\n")
	}
	out.WriteString(body.String())
	return out.String()
}

func captureText(ctx context.Context, src reportSource) (int, string) {
	target := "http://admin.report.invalid" + src.path + "?format=text"
	if src.query != "" {
		target += "&" + src.query
	}
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	src.h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func itoa(i int) string { return strconv.Itoa(i) }

