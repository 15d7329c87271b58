package admin

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// New assembles the admin engine.
//
// Nothing is mounted unless enabled by an EnableXxx option, and every enabled capability must
// carry a Guard. Assembly errors (nil Guard, nil dependency, invalid or duplicated path) panic.
func New(opts ...Option) *gin.Engine {
	b := &Builder{
		log:   logrus.StandardLogger(),
		paths: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b.build()
}

// Option configures admin assembly.
type Option func(*Builder)

// WithLogger sets the logger for access logs and recovered panics. Default is
// logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithTrustedProxies sets the proxies whose forwarding headers gin trusts when resolving the
// client IP for IPAllowList. By default no proxy is trusted and RemoteAddr is used.
func WithTrustedProxies(cidrsOrIPs ...string) Option {
	return func(b *Builder) { b.trustedProxies = append([]string(nil), cidrsOrIPs...) }
}

// Builder collects capabilities. Users configure it through Options.
type Builder struct {
	log            logrus.FieldLogger
	trustedProxies []string

	routes []route
	paths  map[string]struct{}

	report  *ReportSpec
	sources map[string]reportSource
}

type route struct {
	path  string
	guard Guard
	h     http.Handler
}

func (b *Builder) mount(name, path, def string, g Guard, h http.Handler) {
	if g == nil {
		panic("admin: " + name + ": nil Guard")
	}
	if h == nil {
		panic("admin: " + name + ": nil handler")
	}
	path = normalizePathOrPanic(path, def)
	if _, dup := b.paths[path]; dup {
		panic("admin: duplicated path: " + path)
	}
	b.paths[path] = struct{}{}
	b.routes = append(b.routes, route{path: path, guard: g, h: h})
}

// addSource makes a read capability available to /report under name.
func (b *Builder) addSource(name, path, query string, h http.Handler) {
	if b.sources == nil {
		b.sources = make(map[string]reportSource)
	}
	b.sources[name] = reportSource{path: path, query: query, h: h}
}

func (b *Builder) build() *gin.Engine {
	e := gin.New()
	if err := e.SetTrustedProxies(b.trustedProxies); err != nil {
		panic("admin: invalid trusted proxies: " + err.Error())
	}
	e.Use(requestID(), accessLog(b.log), recovery(b.log))

	b.assembleReport()
	for _, rt := range b.routes {
		e.Any(rt.path, guardMiddleware(rt.guard), gin.WrapH(rt.h))
	}
	return e
}

func normalizePathOrPanic(path, def string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = def
	}
	if !strings.HasPrefix(path, "/") {
		panic("admin: invalid path (must start with '/'): " + path)
	}
	if strings.ContainsAny(path, " \t\r\n?#:*") {
		panic("admin: invalid path (contains whitespace, ?#, or route wildcards): " + path)
	}
	if strings.Contains(path, "//") {
		panic("admin: invalid path (contains //): " + path)
	}
	return path
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func validRequestID(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= 0x20 || s[i] >= 0x7f {
			return false
		}
	}
	return true
}

func accessLog(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(RequestIDHeader),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("admin: request")
		case c.Writer.Status() == http.StatusForbidden:
			entry.Info("admin: request denied")
		default:
			entry.Debug("admin: request")
		}
	}
}

func recovery(log logrus.FieldLogger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, err any) {
		log.WithFields(logrus.Fields{
			"path":       c.Request.URL.Path,
			"request_id": c.GetString(RequestIDHeader),
			"panic":      err,
		}).Error("admin: handler panicked")
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
