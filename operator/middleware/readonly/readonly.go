// Package readonly provides a layer that removes every mutating operation
// from an Operator.
package readonly

import (
	"context"

	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/middleware"
)

const name = "readonly"

// allowed is what a read-only Operator may still do.
const allowed = operator.OpRead | operator.OpList | operator.OpStat | operator.OpPresign

func init() {
	middleware.MustRegister(name, func(options map[string]interface{}) (operator.Layer, error) {
		if err := middleware.DecodeOptions(options, &struct{}{}); err != nil {
			return nil, err
		}
		return New(), nil
	})
}

// Layer narrows the capability of an Operator to reads, listings, stats and
// presigned reads.
type Layer struct{}

// New returns a readonly layer.
func New() Layer { return Layer{} }

// Name implements operator.Layer.
func (Layer) Name() string { return name }

// Restrict implements operator.Restrictor.
func (Layer) Restrict(current operator.Capability) operator.Capability {
	return operator.NewCapability(current.Operations()&allowed, current.Limits())
}

// Apply implements operator.Layer.
func (l Layer) Apply(inner operator.Accessor) operator.Accessor {
	return &accessor{Accessor: inner}
}

// accessor refuses mutations even when reached by a layer applied on top of
// it that does not consult the Operator's capability.
type accessor struct {
	operator.Accessor
}

func (a *accessor) unsupported(op operator.Operation) error {
	return operator.UnsupportedOperationError{Op: op, Capability: New().Restrict(a.Accessor.Info().Capability)}
}

func (a *accessor) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	return a.unsupported(operator.OpWrite)
}

func (a *accessor) Delete(ctx context.Context, path string) error {
	return a.unsupported(operator.OpDelete)
}

func (a *accessor) Presign(ctx context.Context, path string, req operator.PresignRequest) (string, error) {
	if req.Op&^allowed != 0 {
		return "", a.unsupported(req.Op)
	}
	return a.Accessor.Presign(ctx, path, req)
}
