// Package factory maps storage schemes to backend constructors and builds
// Operators from them.
//
// Backends register from their package init, before any lookup can happen:
//
//	func init() {
//		factory.MustRegister(driverName, &fsFactory{}, schema)
//	}
//
// The first Resolve or Create freezes the registry. From then on the set of
// schemes is an immutable snapshot and further registration fails.
package factory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/distribution/storage-operator/internal/dcontext"
	"github.com/distribution/storage-operator/operator"
)

// ErrRegistryFrozen is returned when registering after the registry has
// served its first lookup.
var ErrRegistryFrozen = errors.New("scheme registry is frozen: register backends before first use")

var schemeRegexp = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)

// Constructor builds a backend accessor from a validated configuration.
// Constructors return operator.Accessor; only the registry turns it into an
// Operator, so no backend can introduce an operator type of its own.
type Constructor interface {
	Create(ctx context.Context, config operator.Config) (operator.Accessor, error)
}

// ConstructorFunc adapts a function to a Constructor.
type ConstructorFunc func(ctx context.Context, config operator.Config) (operator.Accessor, error)

// Create calls f.
func (f ConstructorFunc) Create(ctx context.Context, config operator.Config) (operator.Accessor, error) {
	return f(ctx, config)
}

// Entry is the registration of one scheme.
type Entry struct {
	Scheme      string
	Constructor Constructor
	Schema      operator.Schema
}

// Registry maps normalized schemes to backend constructors. Lookups read an
// immutable snapshot and never lock.
type Registry struct {
	mu      sync.Mutex
	entries atomic.Pointer[map[string]Entry]
	frozen  atomic.Bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]Entry{}
	r.entries.Store(&empty)
	return r
}

// NormalizeScheme trims and lower-cases scheme and checks it is a valid
// scheme token.
func NormalizeScheme(scheme string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(scheme))
	if !schemeRegexp.MatchString(s) {
		return "", fmt.Errorf("invalid scheme %q", scheme)
	}
	return s, nil
}

// Register binds scheme to constructor. Registering a scheme twice fails
// with operator.DuplicateSchemeError, and registering after the first lookup
// fails with ErrRegistryFrozen.
func (r *Registry) Register(scheme string, constructor Constructor, schema operator.Schema) error {
	if constructor == nil {
		return fmt.Errorf("nil constructor for scheme %q", scheme)
	}
	s, err := NormalizeScheme(scheme)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	current := *r.entries.Load()
	if _, exists := current[s]; exists {
		return operator.DuplicateSchemeError{Scheme: s}
	}

	next := make(map[string]Entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[s] = Entry{Scheme: s, Constructor: constructor, Schema: schema}
	r.entries.Store(&next)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(scheme string, constructor Constructor, schema operator.Schema) {
	if err := r.Register(scheme, constructor, schema); err != nil {
		panic(err)
	}
}

// Freeze stops further registration. Resolve and Create freeze implicitly.
// Once Freeze returns, every Register that succeeded is visible to lookups.
func (r *Registry) Freeze() {
	if r.frozen.Load() {
		return
	}
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Resolve returns the registration of scheme, or operator.UnknownSchemeError.
func (r *Registry) Resolve(scheme string) (Entry, error) {
	r.Freeze()
	s, err := NormalizeScheme(scheme)
	if err != nil {
		return Entry{}, operator.UnknownSchemeError{Scheme: scheme}
	}
	e, ok := (*r.entries.Load())[s]
	if !ok {
		return Entry{}, operator.UnknownSchemeError{Scheme: s}
	}
	return e, nil
}

// Schemes returns the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	entries := *r.entries.Load()
	out := make([]string, 0, len(entries))
	for s := range entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Create constructs the backend registered for scheme and returns it as an
// Operator whose capability is the backend's declared capability.
func (r *Registry) Create(ctx context.Context, scheme string, config operator.Config) (*operator.Operator, error) {
	e, err := r.Resolve(scheme)
	if err != nil {
		return nil, err
	}
	cfg, err := e.Schema.Validate(e.Scheme, config)
	if err != nil {
		return nil, err
	}

	acc, err := e.Constructor.Create(ctx, cfg)
	if err != nil {
		var invalid operator.InvalidConfigError
		if errors.As(err, &invalid) {
			if invalid.Scheme == "" {
				invalid.Scheme = e.Scheme
			}
			return nil, invalid
		}
		return nil, operator.BackendConstructionError{Scheme: e.Scheme, Err: err}
	}
	if acc == nil {
		return nil, operator.BackendConstructionError{Scheme: e.Scheme, Err: errors.New("constructor returned no backend")}
	}

	op := operator.New(acc)
	dcontext.GetLoggerWithFields(ctx, map[string]any{
		"storage.scheme":     e.Scheme,
		"storage.backend":    op.BackendID(),
		"storage.config":     e.Schema.Redacted(cfg),
		"storage.capability": op.Capabilities().String(),
	}).Info("constructed storage backend")
	return op, nil
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by the package level
// functions.
func Default() *Registry { return defaultRegistry }

// Register binds scheme in the process-wide registry.
func Register(scheme string, constructor Constructor, schema operator.Schema) error {
	return defaultRegistry.Register(scheme, constructor, schema)
}

// MustRegister binds scheme in the process-wide registry and panics on error.
func MustRegister(scheme string, constructor Constructor, schema operator.Schema) {
	defaultRegistry.MustRegister(scheme, constructor, schema)
}

// Resolve looks scheme up in the process-wide registry.
func Resolve(scheme string) (Entry, error) {
	return defaultRegistry.Resolve(scheme)
}

// Schemes lists the schemes of the process-wide registry.
func Schemes() []string {
	return defaultRegistry.Schemes()
}

// Create constructs an Operator for scheme from the process-wide registry.
func Create(ctx context.Context, scheme string, config operator.Config) (*operator.Operator, error) {
	return defaultRegistry.Create(ctx, scheme, config)
}
