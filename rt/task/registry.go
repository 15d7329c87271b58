package task

import (
	"fmt"
	"sort"
	"sync"
)

// TypeSpec registers a task type.
type TypeSpec struct {
	// Name is the type name; it is the identity used for class-blocking.
	Name string
	// Description is copied to tasks created through Registry.NewTask.
	Description string
	Policy      Policy
	// Work is used by Registry.NewTask. It may be nil for types whose tasks are always
	// constructed with New.
	Work Work
}

// Registry maps task types to policies and starters to the task types they may launch.
//
// It is safe for concurrent use. The zero value is ready to use.
type Registry struct {
	mu       sync.RWMutex
	types    map[string]TypeSpec
	starters map[string][]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		types:    make(map[string]TypeSpec),
		starters: make(map[string][]string),
	}
}

// Register adds a task type.
func (r *Registry) Register(spec TypeSpec) error {
	spec.Name = normalizeName(spec.Name)
	if err := validateName(spec.Name); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidName, spec.Name, err)
	}
	if spec.Policy.Blocking < BlockNone || spec.Policy.Blocking > BlockClass {
		return fmt.Errorf("task: type %q: invalid blocking %v", spec.Name, spec.Policy.Blocking)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.types == nil {
		r.types = make(map[string]TypeSpec)
	}
	if _, exists := r.types[spec.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, spec.Name)
	}
	r.types[spec.Name] = spec
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(spec TypeSpec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// RegisterStarter declares the task types a starter may launch. Calling it again for the
// same starter replaces the set. The types do not need to be registered yet.
func (r *Registry) RegisterStarter(starter string, types ...string) error {
	starter = normalizeName(starter)
	if err := validateName(starter); err != nil {
		return fmt.Errorf("%w: starter %q: %v", ErrInvalidName, starter, err)
	}
	set := make([]string, 0, len(types))
	for _, typ := range types {
		typ = normalizeName(typ)
		if err := validateName(typ); err != nil {
			return fmt.Errorf("%w: starter %q: type %q: %v", ErrInvalidName, starter, typ, err)
		}
		set = append(set, typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.starters == nil {
		r.starters = make(map[string][]string)
	}
	r.starters[starter] = set
	return nil
}

// Lookup returns the spec of a registered type.
func (r *Registry) Lookup(typ string) (TypeSpec, bool) {
	if r == nil {
		return TypeSpec{}, false
	}
	r.mu.RLock()
	spec, ok := r.types[normalizeName(typ)]
	r.mu.RUnlock()
	return spec, ok
}

// Policy returns the policy of typ. Unregistered types have the zero Policy.
func (r *Registry) Policy(typ string) Policy {
	spec, _ := r.Lookup(typ)
	return spec.Policy
}

// Starter returns the task types a starter may launch.
func (r *Registry) Starter(starter string) ([]string, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	set, ok := r.starters[normalizeName(starter)]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return append([]string(nil), set...), true
}

// Types returns all registered types sorted by name.
func (r *Registry) Types() []TypeSpec {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]TypeSpec, 0, len(r.types))
	for _, spec := range r.types {
		out = append(out, spec)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NewTask creates a task of a registered type using the type's Work.
func (r *Registry) NewTask(typ string, opts ...TaskOption) (*Task, error) {
	spec, ok := r.Lookup(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if spec.Work == nil {
		return nil, fmt.Errorf("%w: %q has no work function", ErrUnknownType, typ)
	}
	if spec.Description != "" {
		opts = append([]TaskOption{WithDescription(spec.Description)}, opts...)
	}
	return New(spec.Name, spec.Work, opts...), nil
}
