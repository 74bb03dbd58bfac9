// Package dcontext carries the logger and log fields of an operation through
// a context.Context.
package dcontext

import (
	"context"

	"github.com/distribution/storage-operator/version"
)

// Background returns a root context holding the module version, so that
// loggers derived from it can report it.
func Background() context.Context {
	return WithValues(context.Background(), map[string]any{versionKey: version.Version()})
}

const versionKey = "version"

// valuesContext answers lookups of string keys from a fixed map before
// delegating to its parent.
type valuesContext struct {
	context.Context
	values map[string]any
}

// WithValues returns a context whose string keys resolve to the values in m.
// The map is copied.
func WithValues(ctx context.Context, m map[string]any) context.Context {
	values := make(map[string]any, len(m))
	for k, v := range m {
		values[k] = v
	}
	return valuesContext{Context: ctx, values: values}
}

func (c valuesContext) Value(key any) any {
	if ks, ok := key.(string); ok {
		if v, ok := c.values[ks]; ok {
			return v
		}
	}
	return c.Context.Value(key)
}
