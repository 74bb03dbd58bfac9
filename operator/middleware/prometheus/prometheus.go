// Package prometheus provides a layer recording the latency and outcome of
// every operation in the storage_operator_layer namespace.
package prometheus

import (
	"context"
	"time"

	"github.com/docker/go-metrics"

	storagemetrics "github.com/distribution/storage-operator/metrics"
	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/middleware"
)

const name = "prometheus"

const (
	outcomeSuccess  = "success"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

var (
	operations = storagemetrics.LayerNamespace.NewLabeledCounter("operations", "The number of operations by scheme, operation and outcome", "scheme", "operation", "outcome")

	latency = storagemetrics.LayerNamespace.NewLabeledTimer("operation", "The latency of operations by scheme and operation", "scheme", "operation")

	transferred = storagemetrics.LayerNamespace.NewLabeledCounter("bytes", "The number of content bytes read or written", "scheme", "direction")
)

func init() {
	metrics.Register(storagemetrics.LayerNamespace)
	middleware.MustRegister(name, func(options map[string]interface{}) (operator.Layer, error) {
		if err := middleware.DecodeOptions(options, &struct{}{}); err != nil {
			return nil, err
		}
		return New(), nil
	})
}

// Layer records metrics for the Operators it is applied to. It holds no
// state; every instance reports to the same collectors.
type Layer struct{}

// New returns a prometheus layer.
func New() Layer { return Layer{} }

// Name implements operator.Layer.
func (Layer) Name() string { return name }

// Apply implements operator.Layer.
func (Layer) Apply(inner operator.Accessor) operator.Accessor {
	return &accessor{Accessor: inner, scheme: inner.Info().Scheme}
}

type accessor struct {
	operator.Accessor
	scheme string
}

func (a *accessor) observe(op string, start time.Time, err error) {
	latency.WithValues(a.scheme, op).UpdateSince(start)
	outcome := outcomeSuccess
	switch {
	case operator.IsNotFound(err):
		outcome = outcomeNotFound
	case err != nil:
		outcome = outcomeError
	}
	operations.WithValues(a.scheme, op, outcome).Inc(1)
}

func (a *accessor) Read(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	data, err := a.Accessor.Read(ctx, path)
	a.observe("read", start, err)
	if err == nil {
		transferred.WithValues(a.scheme, "read").Inc(float64(len(data)))
	}
	return data, err
}

func (a *accessor) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	start := time.Now()
	err := a.Accessor.Write(ctx, path, data, meta)
	a.observe("write", start, err)
	if err == nil {
		transferred.WithValues(a.scheme, "write").Inc(float64(len(data)))
	}
	return err
}

func (a *accessor) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := a.Accessor.Delete(ctx, path)
	a.observe("delete", start, err)
	return err
}

func (a *accessor) List(ctx context.Context, path string, opts operator.ListOptions) (operator.ListPage, error) {
	start := time.Now()
	page, err := a.Accessor.List(ctx, path, opts)
	a.observe("list", start, err)
	return page, err
}

func (a *accessor) Stat(ctx context.Context, path string) (operator.Entry, error) {
	start := time.Now()
	e, err := a.Accessor.Stat(ctx, path)
	a.observe("stat", start, err)
	return e, err
}

func (a *accessor) Presign(ctx context.Context, path string, req operator.PresignRequest) (string, error) {
	start := time.Now()
	u, err := a.Accessor.Presign(ctx, path, req)
	a.observe("presign", start, err)
	return u, err
}
