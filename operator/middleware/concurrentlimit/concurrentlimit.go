// Package concurrentlimit provides a layer bounding the number of operations
// in flight at once. The bound belongs to the layer value: applying one Layer
// to several Operators makes them share it.
package concurrentlimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/middleware"
)

const name = "concurrentlimit"

func init() {
	middleware.MustRegister(name, newFromOptions)
}

// Option configures a Layer.
type Option func(*Layer)

// WithTimeout bounds the wait for a slot. Zero waits as long as the caller's
// context allows.
func WithTimeout(d time.Duration) Option {
	return func(l *Layer) { l.timeout = d }
}

// Layer holds a weighted semaphore of Max slots. Every operation holds one
// slot from just before it reaches the inner accessor until it returns.
type Layer struct {
	max      int64
	timeout  time.Duration
	sem      *semaphore.Weighted
	inFlight *atomic.Int64
}

// New returns a layer admitting at most max concurrent operations.
func New(max int64, opts ...Option) (*Layer, error) {
	if max < 1 {
		return nil, fmt.Errorf("concurrency limit must be at least 1, got %d", max)
	}
	l := &Layer{
		max:      max,
		sem:      semaphore.NewWeighted(max),
		inFlight: atomic.NewInt64(0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

type options struct {
	Max     int64         `mapstructure:"max"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func newFromOptions(raw map[string]interface{}) (operator.Layer, error) {
	var opts options
	if err := middleware.DecodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %v", opts.Timeout)
	}
	return New(opts.Max, WithTimeout(opts.Timeout))
}

// Name implements operator.Layer.
func (l *Layer) Name() string { return name }

// Apply implements operator.Layer.
func (l *Layer) Apply(inner operator.Accessor) operator.Accessor {
	return &accessor{Accessor: inner, layer: l}
}

// Max returns the number of slots.
func (l *Layer) Max() int64 { return l.max }

// InFlight returns the number of slots currently held.
func (l *Layer) InFlight() int64 { return l.inFlight.Load() }

func (l *Layer) acquire(ctx context.Context) (release func(), err error) {
	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, operator.ConcurrencyLimitTimeoutError{Limit: l.max, Wait: l.timeout}
	}
	l.inFlight.Inc()
	return func() {
		l.inFlight.Dec()
		l.sem.Release(1)
	}, nil
}

type accessor struct {
	operator.Accessor
	layer *Layer
}

func (a *accessor) Read(ctx context.Context, path string) ([]byte, error) {
	release, err := a.layer.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return a.Accessor.Read(ctx, path)
}

func (a *accessor) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	release, err := a.layer.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return a.Accessor.Write(ctx, path, data, meta)
}

func (a *accessor) Delete(ctx context.Context, path string) error {
	release, err := a.layer.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return a.Accessor.Delete(ctx, path)
}

func (a *accessor) List(ctx context.Context, path string, opts operator.ListOptions) (operator.ListPage, error) {
	release, err := a.layer.acquire(ctx)
	if err != nil {
		return operator.ListPage{}, err
	}
	defer release()
	return a.Accessor.List(ctx, path, opts)
}

func (a *accessor) Stat(ctx context.Context, path string) (operator.Entry, error) {
	release, err := a.layer.acquire(ctx)
	if err != nil {
		return operator.Entry{}, err
	}
	defer release()
	return a.Accessor.Stat(ctx, path)
}

func (a *accessor) Presign(ctx context.Context, path string, req operator.PresignRequest) (string, error) {
	release, err := a.layer.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return a.Accessor.Presign(ctx, path, req)
}
