// Package throttle provides a layer capping the rate at which operations
// reach the backend. The rate belongs to the layer value and is shared by
// every Operator it is applied to.
package throttle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/middleware"
)

const name = "throttle"

func init() {
	middleware.MustRegister(name, newFromOptions)
}

// Layer delays operations so that no more than Limit start per second, with
// bursts of up to Burst.
type Layer struct {
	limiter *rate.Limiter
}

// New returns a layer admitting limit operations per second with the given
// burst.
func New(limit float64, burst int) (*Layer, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("rate must be positive, got %v", limit)
	}
	if burst < 1 {
		return nil, fmt.Errorf("burst must be at least 1, got %d", burst)
	}
	return &Layer{limiter: rate.NewLimiter(rate.Limit(limit), burst)}, nil
}

type options struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

func newFromOptions(raw map[string]interface{}) (operator.Layer, error) {
	opts := options{Burst: 1}
	if err := middleware.DecodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	return New(opts.Rate, opts.Burst)
}

// Name implements operator.Layer.
func (l *Layer) Name() string { return name }

// Apply implements operator.Layer.
func (l *Layer) Apply(inner operator.Accessor) operator.Accessor {
	return &accessor{Accessor: inner, layer: l}
}

// Limit returns the sustained rate in operations per second.
func (l *Layer) Limit() float64 { return float64(l.limiter.Limit()) }

// Burst returns the largest number of operations admitted at once.
func (l *Layer) Burst() int { return l.limiter.Burst() }

func (l *Layer) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// The wait would outlast the context's deadline.
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}

type accessor struct {
	operator.Accessor
	layer *Layer
}

func (a *accessor) Read(ctx context.Context, path string) ([]byte, error) {
	if err := a.layer.wait(ctx); err != nil {
		return nil, err
	}
	return a.Accessor.Read(ctx, path)
}

func (a *accessor) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	if err := a.layer.wait(ctx); err != nil {
		return err
	}
	return a.Accessor.Write(ctx, path, data, meta)
}

func (a *accessor) Delete(ctx context.Context, path string) error {
	if err := a.layer.wait(ctx); err != nil {
		return err
	}
	return a.Accessor.Delete(ctx, path)
}

func (a *accessor) List(ctx context.Context, path string, opts operator.ListOptions) (operator.ListPage, error) {
	if err := a.layer.wait(ctx); err != nil {
		return operator.ListPage{}, err
	}
	return a.Accessor.List(ctx, path, opts)
}

func (a *accessor) Stat(ctx context.Context, path string) (operator.Entry, error) {
	if err := a.layer.wait(ctx); err != nil {
		return operator.Entry{}, err
	}
	return a.Accessor.Stat(ctx, path)
}

func (a *accessor) Presign(ctx context.Context, path string, req operator.PresignRequest) (string, error) {
	if err := a.layer.wait(ctx); err != nil {
		return "", err
	}
	return a.Accessor.Presign(ctx, path, req)
}
