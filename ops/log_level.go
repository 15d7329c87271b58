package ops

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevelSnapshot is a point-in-time view of a logger's level.
type LogLevelSnapshot struct {
	// Level is one of trace/debug/info/warn/error/fatal/panic.
	Level string `json:"level"`
	// LevelValue is the numeric logrus level (panic=0 ... trace=6).
	LevelValue int `json:"level_value"`
}

// LogLevel returns a snapshot of l's level.
func LogLevel(l *logrus.Logger) LogLevelSnapshot {
	if l == nil {
		return LogLevelSnapshot{}
	}
	lv := l.GetLevel()
	return LogLevelSnapshot{Level: levelName(lv), LevelValue: int(lv)}
}

type logLevelResponse struct {
	OK    bool              `json:"ok"`
	Error string            `json:"error,omitempty"`
	Log   *LogLevelSnapshot `json:"log,omitempty"`
	Old   *LogLevelSnapshot `json:"old,omitempty"`
	New   *LogLevelSnapshot `json:"new,omitempty"`
}

// LogLevelGetHandler returns a handler that reports l's level. GET/HEAD only.
//
// Text output:
//
//	log	level	<level>
//	log	level_value	<n>
func LogLevelGetHandler(l *logrus.Logger, opts ...Option) http.Handler {
	if l == nil {
		panic("ops: nil logrus.Logger")
	}
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeMethodNotAllowed(w, r, format, "GET, HEAD", logLevelResponse{Error: "method not allowed"})
			return
		}
		snap := LogLevel(l)
		writeResponse(w, r, format, http.StatusOK, logLevelResponse{OK: true, Log: &snap}, "", func(b *strings.Builder) {
			writeLine(b, "log", "level", snap.Level)
			writeLine(b, "log", "level_value", itoa(snap.LevelValue))
		})
	})
}

// LogLevelSetHandler returns a handler that sets l's level from ?level=. POST only.
//
// Accepted levels are those of logrus.ParseLevel, case-insensitive, plus "err" for error.
func LogLevelSetHandler(l *logrus.Logger, opts ...Option) http.Handler {
	if l == nil {
		panic("ops: nil logrus.Logger")
	}
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, r, format, "POST", logLevelResponse{Error: "method not allowed"})
			return
		}

		raw, _ := getQueryRequired(r, "level")
		lv, ok := parseLevel(raw)
		if !ok {
			const msg = "invalid level (want one of: trace, debug, info, warn, error)"
			writeResponse(w, r, format, http.StatusBadRequest, logLevelResponse{Error: msg}, msg, nil)
			return
		}

		old := LogLevel(l)
		l.SetLevel(lv)
		cur := LogLevel(l)
		l.WithFields(logrus.Fields{"old": old.Level, "new": cur.Level}).Info("ops: log level changed")

		writeResponse(w, r, format, http.StatusOK, logLevelResponse{OK: true, Old: &old, New: &cur}, "", func(b *strings.Builder) {
			writeLine(b, "log", "old_level", old.Level)
			writeLine(b, "log", "old_level_value", itoa(old.LevelValue))
			writeLine(b, "log", "new_level", cur.Level)
			writeLine(b, "log", "new_level_value", itoa(cur.LevelValue))
		})
	})
}

func parseLevel(s string) (logrus.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "err" {
		s = "error"
	}
	if s == "" {
		return 0, false
	}
	lv, err := logrus.ParseLevel(s)
	if err != nil {
		return 0, false
	}
	return lv, true
}

func levelName(lv logrus.Level) string {
	if lv == logrus.WarnLevel {
		return "warn"
	}
	return lv.String()
}
