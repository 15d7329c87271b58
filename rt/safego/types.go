package safego

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Tag is a key/value pair carried by panic/error reports.
// Tags are kept as a slice to preserve insertion order.
type Tag struct {
	Key   string
	Value string
}

// ErrorHandler is called when a function returns a non-nil error (subject to filtering).
type ErrorHandler func(ctx context.Context, info ErrorInfo)

// ErrorInfo describes an error returned from a function.
type ErrorInfo struct {
	Name string
	Tags []Tag
	Err  error
}

// PanicHandler is called when a function panics (subject to policy).
type PanicHandler func(ctx context.Context, info PanicInfo)

// PanicInfo describes a recovered panic.
type PanicInfo struct {
	Name  string
	Tags  []Tag
	Value any
	Stack []byte
}

// Err returns the panic value as an error. If the value already is an error it is returned
// unchanged so errors.Is/As keep working.
func (p PanicInfo) Err() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", p.Value)
}

// PanicPolicy controls how panics are handled.
type PanicPolicy int

const (
	// RecoverAndReport recovers the panic and reports it via PanicHandler (or the logger).
	RecoverAndReport PanicPolicy = iota
	// RecoverOnly recovers the panic without reporting it.
	RecoverOnly
	// RepanicAfterReport recovers the panic, reports it, then panics again with the same value.
	RepanicAfterReport
)

func tagFields(name string, tags []Tag) logrus.Fields {
	f := make(logrus.Fields, len(tags)+1)
	if name != "" {
		f["name"] = name
	}
	for _, t := range tags {
		f[t.Key] = t.Value
	}
	return f
}
