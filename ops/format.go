package ops

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Format controls the response rendering format.
//
// It is shared by every handler in this package. A request can override the handler default
// with ?format=json or ?format=text.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

func (f Format) valid() bool { return f == FormatText || f == FormatJSON }

func formatFromRequest(r *http.Request, def Format) Format {
	if r == nil || r.URL == nil {
		return def
	}
	switch r.URL.Query().Get("format") {
	case "json":
		return FormatJSON
	case "text":
		return FormatText
	default:
		return def
	}
}

// writeResponse writes resp as JSON, or as text produced by text when errMsg is empty.
// Text errors are rendered as a single escaped line.
func writeResponse(w http.ResponseWriter, r *http.Request, f Format, code int, resp any, errMsg string, text func(b *strings.Builder)) {
	w.Header().Set("Cache-Control", "no-store")
	if f == FormatJSON {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(code)
		if r.Method == http.MethodHead {
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	if r.Method == http.MethodHead {
		return
	}
	if errMsg != "" || text == nil {
		writeTextError(w, escapeTextField(errMsg))
		return
	}
	var b strings.Builder
	b.Grow(256)
	text(&b)
	_, _ = w.Write([]byte(b.String()))
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, f Format, allow string, resp any) {
	w.Header().Set("Allow", allow)
	writeResponse(w, r, f, http.StatusMethodNotAllowed, resp, "method not allowed", nil)
}

func writeTextError(w http.ResponseWriter, msg string) {
	if msg != "" {
		_, _ = w.Write([]byte(msg + "\n"))
		return
	}
	_, _ = w.Write([]byte("error\n"))
}

// writeLine appends one greppable record: fields joined by tabs, each escaped.
func writeLine(b *strings.Builder, fields ...string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('\t')
		}
		b.WriteString(escapeTextField(f))
	}
	b.WriteByte('\n')
}

// escapeTextField escapes control characters so a value cannot break the line-based,
// tab-separated text output.
//
// Rules:
//   - '\'  => '\\'
//   - '\t' => '\t'
//   - '\r' => '\r'
//   - '\n' => '\n'
//   - other ASCII control chars (0x00-0x1f) => \u00XX
func escapeTextField(s string) string {
	need := false
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '\\' || c < 0x20 {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	const hex = "0123456789abcdef"
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			b.WriteString(`\\`)
		case c == '\t':
			b.WriteString(`\t`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\n':
			b.WriteString(`\n`)
		case c < 0x20:
			b.WriteString(`\u00`)
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xf])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// getQueryRequired returns the first value of the query parameter name. A present but empty
// value is reported as missing.
func getQueryRequired(r *http.Request, name string) (string, bool) {
	v, ok := getQueryRaw(r, name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func getQueryRaw(r *http.Request, name string) (string, bool) {
	if r == nil || r.URL == nil {
		return "", false
	}
	vs, ok := r.URL.Query()[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// getQueryInt parses an optional integer parameter; def is returned when it is absent.
func getQueryInt(r *http.Request, name string, def int) (int, error) {
	v, ok := getQueryRequired(r, name)
	if !ok {
		return def, nil
	}
	return strconv.Atoi(v)
}

func itoa(n int) string { return strconv.Itoa(n) }
