package ops

import "strings"

type config struct {
	format Format

	// task handlers
	typeGuard func(typ string) bool

	// history handler
	defaultLimit int
	maxLimit     int
}

// Option configures the handlers in this package. Options that do not apply to a handler are
// ignored by it.
type Option func(*config)

// WithDefaultFormat sets the default response format. A request can still override it with
// ?format=json|text. Default is FormatText.
func WithDefaultFormat(f Format) Option {
	return func(c *config) { c.format = f }
}

// WithTaskTypeGuard restricts which task types TaskSubmitHandler may start.
//
// Types rejected by the guard are answered with 403. A nil guard allows every registered type.
func WithTaskTypeGuard(guard func(typ string) bool) Option {
	return func(c *config) { c.typeGuard = guard }
}

// AllowTypes returns a guard accepting exactly the named task types.
func AllowTypes(types ...string) func(typ string) bool {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return func(typ string) bool {
		_, ok := set[typ]
		return ok
	}
}

// WithHistoryLimits sets the default and maximum number of records HistoryHandler returns.
// Defaults are 50 and 500. Values <= 0 keep the default.
func WithHistoryLimits(def, max int) Option {
	return func(c *config) {
		if def > 0 {
			c.defaultLimit = def
		}
		if max > 0 {
			c.maxLimit = max
		}
	}
}

func applyOptions(opts []Option) config {
	cfg := config{
		format:       FormatText,
		defaultLimit: 50,
		maxLimit:     500,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if !cfg.format.valid() {
		cfg.format = FormatText
	}
	if cfg.defaultLimit > cfg.maxLimit {
		cfg.defaultLimit = cfg.maxLimit
	}
	return cfg
}
