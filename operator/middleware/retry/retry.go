// Package retry provides a layer that repeats operations failing with
// retryable errors, waiting with exponential backoff between attempts.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/distribution/storage-operator/internal/dcontext"
	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/middleware"
)

const (
	name = "retry"

	// DefaultMaxAttempts is the initial call plus three retries.
	DefaultMaxAttempts = 4

	defaultMinDelay = time.Second
	defaultMaxDelay = 60 * time.Second
	defaultFactor   = 2.0
	defaultJitter   = 0.5
)

func init() {
	middleware.MustRegister(name, newFromOptions)
}

// NotifyFunc is called before every wait with the failure that caused it.
type NotifyFunc func(err error, attempt int, wait time.Duration)

// Option configures a Layer.
type Option func(*Layer)

// WithMaxAttempts bounds the number of calls made for one operation,
// counting the first. Values below one are treated as one.
func WithMaxAttempts(n int) Option {
	return func(l *Layer) {
		if n < 1 {
			n = 1
		}
		l.maxAttempts = n
	}
}

// WithBackOff replaces the wait policy. newBackOff is called once per
// operation.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(l *Layer) { l.newBackOff = newBackOff }
}

// WithNotify registers fn to observe retries.
func WithNotify(fn NotifyFunc) Option {
	return func(l *Layer) { l.notify = fn }
}

// Exponential returns the policy waiting min, then growing by factor up to
// max, with each wait randomized by jitter (0 to 1).
func Exponential(min, max time.Duration, factor, jitter float64) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = min
		b.MaxInterval = max
		b.Multiplier = factor
		b.RandomizationFactor = jitter
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// Layer retries operations whose error satisfies operator.IsRetryable.
// Other errors are returned unchanged from the first attempt. Once the
// attempts are used up the last error is returned in an
// operator.RetryExhaustedError.
type Layer struct {
	maxAttempts int
	newBackOff  func() backoff.BackOff
	notify      NotifyFunc
}

// New returns a retry layer.
func New(opts ...Option) *Layer {
	l := &Layer{
		maxAttempts: DefaultMaxAttempts,
		newBackOff:  Exponential(defaultMinDelay, defaultMaxDelay, defaultFactor, defaultJitter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type options struct {
	MaxAttempts int           `mapstructure:"maxattempts"`
	MinDelay    time.Duration `mapstructure:"mindelay"`
	MaxDelay    time.Duration `mapstructure:"maxdelay"`
	Factor      float64       `mapstructure:"factor"`
	Jitter      bool          `mapstructure:"jitter"`
}

func newFromOptions(raw map[string]interface{}) (operator.Layer, error) {
	opts := options{
		MaxAttempts: DefaultMaxAttempts,
		MinDelay:    defaultMinDelay,
		MaxDelay:    defaultMaxDelay,
		Factor:      defaultFactor,
		Jitter:      true,
	}
	if err := middleware.DecodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	if opts.MaxAttempts < 1 {
		return nil, fmt.Errorf("maxattempts must be at least 1, got %d", opts.MaxAttempts)
	}
	if opts.Factor < 1 {
		return nil, fmt.Errorf("factor must be at least 1, got %v", opts.Factor)
	}
	if opts.MinDelay > opts.MaxDelay {
		return nil, fmt.Errorf("mindelay %v exceeds maxdelay %v", opts.MinDelay, opts.MaxDelay)
	}
	jitter := 0.0
	if opts.Jitter {
		jitter = defaultJitter
	}
	return New(
		WithMaxAttempts(opts.MaxAttempts),
		WithBackOff(Exponential(opts.MinDelay, opts.MaxDelay, opts.Factor, jitter)),
	), nil
}

// Name implements operator.Layer.
func (l *Layer) Name() string { return name }

// Apply implements operator.Layer.
func (l *Layer) Apply(inner operator.Accessor) operator.Accessor {
	return &accessor{Accessor: inner, layer: l}
}

// do calls fn until it succeeds, fails with an error that is not retryable,
// or runs out of attempts. Attempts never overlap.
func (l *Layer) do(ctx context.Context, op, path string, fn func() error) error {
	b := l.newBackOff()
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !operator.IsRetryable(err) {
			return err
		}
		if attempt >= l.maxAttempts {
			return operator.RetryExhaustedError{Attempts: attempt, Err: err}
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return operator.RetryExhaustedError{Attempts: attempt, Err: err}
		}

		dcontext.GetLoggerWithFields(ctx, map[string]any{
			"storage.operation": op,
			"storage.path":      path,
			"retry.attempt":     attempt,
			"retry.wait":        wait,
		}).Warnf("retrying after error: %v", err)
		if l.notify != nil {
			l.notify(err, attempt, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: giving up after %d attempts: %w", ctx.Err(), attempt, err)
		case <-timer.C:
		}
	}
}

type accessor struct {
	operator.Accessor
	layer *Layer
}

func (a *accessor) Read(ctx context.Context, path string) (data []byte, err error) {
	err = a.layer.do(ctx, "read", path, func() error {
		data, err = a.Accessor.Read(ctx, path)
		return err
	})
	return data, err
}

func (a *accessor) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	return a.layer.do(ctx, "write", path, func() error {
		return a.Accessor.Write(ctx, path, data, meta)
	})
}

func (a *accessor) Delete(ctx context.Context, path string) error {
	return a.layer.do(ctx, "delete", path, func() error {
		return a.Accessor.Delete(ctx, path)
	})
}

func (a *accessor) List(ctx context.Context, path string, opts operator.ListOptions) (page operator.ListPage, err error) {
	err = a.layer.do(ctx, "list", path, func() error {
		page, err = a.Accessor.List(ctx, path, opts)
		return err
	})
	return page, err
}

func (a *accessor) Stat(ctx context.Context, path string) (e operator.Entry, err error) {
	err = a.layer.do(ctx, "stat", path, func() error {
		e, err = a.Accessor.Stat(ctx, path)
		return err
	})
	return e, err
}

func (a *accessor) Presign(ctx context.Context, path string, req operator.PresignRequest) (u string, err error) {
	err = a.layer.do(ctx, "presign", path, func() error {
		u, err = a.Accessor.Presign(ctx, path, req)
		return err
	})
	return u, err
}
