package ops

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version is the release version. It is set at link time:
//
//	go build -ldflags "-X github.com/evan-idocoding/peon/ops.Version=v1.2.3"
var Version = "dev"

// BuildInfoSnapshot describes the running binary.
type BuildInfoSnapshot struct {
	Version   string `json:"version"`
	Module    string `json:"module,omitempty"`
	Revision  string `json:"revision,omitempty"`
	Time      string `json:"time,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	GOOS      string `json:"goos"`
	GOARCH    string `json:"goarch"`
}

// BuildInfo returns build metadata. VCS fields are empty when the binary was built without
// them (for example under go test).
func BuildInfo() BuildInfoSnapshot {
	s := BuildInfoSnapshot{
		Version:   Version,
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return s
	}
	s.Module = bi.Main.Path
	for _, kv := range bi.Settings {
		switch kv.Key {
		case "vcs.revision":
			s.Revision = kv.Value
		case "vcs.time":
			s.Time = kv.Value
		case "vcs.modified":
			s.Modified = kv.Value == "true"
		}
	}
	return s
}

type buildInfoResponse struct {
	OK    bool               `json:"ok"`
	Error string             `json:"error,omitempty"`
	Build *BuildInfoSnapshot `json:"build,omitempty"`
}

// BuildInfoHandler reports BuildInfo. GET/HEAD only.
func BuildInfoHandler(opts ...Option) http.Handler {
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeMethodNotAllowed(w, r, format, "GET, HEAD", buildInfoResponse{Error: "method not allowed"})
			return
		}
		s := BuildInfo()
		writeResponse(w, r, format, http.StatusOK, buildInfoResponse{OK: true, Build: &s}, "", func(b *strings.Builder) {
			renderBuildInfoText(b, s)
		})
	})
}

func renderBuildInfoText(b *strings.Builder, s BuildInfoSnapshot) {
	writeLine(b, "build", "version", s.Version)
	if s.Module != "" {
		writeLine(b, "build", "module", s.Module)
	}
	if s.Revision != "" {
		writeLine(b, "build", "revision", s.Revision)
	}
	if s.Time != "" {
		writeLine(b, "build", "time", s.Time)
	}
	if s.Modified {
		writeLine(b, "build", "modified", "true")
	}
	writeLine(b, "build", "go_version", s.GoVersion)
	writeLine(b, "build", "platform", s.GOOS+"/"+s.GOARCH)
}
