package operator

import (
	"context"
	"io"
	"time"

	"github.com/distribution/storage-operator/internal/uuid"
)

// Operator is the canonical, backend-agnostic storage handle. It is an
// immutable value: Layer returns a new Operator and leaves the receiver
// untouched, so one Operator may be layered in several ways and used
// concurrently from any number of goroutines.
type Operator struct {
	accessor  Accessor
	cap       Capability
	info      Info
	backendID string
	layers    []string
	closer    io.Closer
}

// New wraps a backend accessor as an Operator whose capability is the one the
// backend declares.
func New(acc Accessor) *Operator {
	info := acc.Info()
	o := &Operator{
		accessor:  acc,
		cap:       info.Capability,
		info:      info,
		backendID: uuid.NewString(),
	}
	if c, ok := acc.(io.Closer); ok {
		o.closer = c
	}
	return o
}

// Layer returns a new Operator that runs every operation through l before
// reaching o. The capability of the result is the capability of o narrowed by
// l when l is a Restrictor.
func (o *Operator) Layer(l Layer) *Operator {
	c := o.cap
	if r, ok := l.(Restrictor); ok {
		c = c.Intersect(r.Restrict(c))
	}
	layers := make([]string, len(o.layers), len(o.layers)+1)
	copy(layers, o.layers)
	return &Operator{
		accessor:  l.Apply(o.accessor),
		cap:       c,
		info:      o.info,
		backendID: o.backendID,
		layers:    append(layers, l.Name()),
		closer:    o.closer,
	}
}

// Capabilities returns the current, possibly narrowed, capability.
func (o *Operator) Capabilities() Capability { return o.cap }

// Info returns the description of the backend at the bottom of the chain.
func (o *Operator) Info() Info { return o.info }

// Scheme returns the scheme of the underlying backend.
func (o *Operator) Scheme() string { return o.info.Scheme }

// BackendID identifies the backend instance. Operators layered from the same
// base share it.
func (o *Operator) BackendID() string { return o.backendID }

// Layers returns the names of the applied layers, innermost first.
func (o *Operator) Layers() []string {
	out := make([]string, len(o.layers))
	copy(out, o.layers)
	return out
}

// Read retrieves the full content stored at path.
func (o *Operator) Read(ctx context.Context, path string) ([]byte, error) {
	if err := o.check(OpRead); err != nil {
		return nil, err
	}
	return o.accessor.Read(ctx, path)
}

// WriteOption customizes the metadata of a write.
type WriteOption func(*Metadata)

// WithContentType sets an explicit content type.
func WithContentType(contentType string) WriteOption {
	return func(m *Metadata) { m.ContentType = contentType }
}

// WithCacheControl sets the cache control directive.
func WithCacheControl(cacheControl string) WriteOption {
	return func(m *Metadata) { m.CacheControl = cacheControl }
}

// WithUserMetadata attaches one user metadata pair.
func WithUserMetadata(key, value string) WriteOption {
	return func(m *Metadata) {
		if m.User == nil {
			m.User = make(map[string]string)
		}
		m.User[key] = value
	}
}

// WithMetadata replaces the metadata with a copy of meta.
func WithMetadata(meta Metadata) WriteOption {
	return func(m *Metadata) { *m = meta.Clone() }
}

// Write stores data at path.
func (o *Operator) Write(ctx context.Context, path string, data []byte, opts ...WriteOption) error {
	if err := o.check(OpWrite); err != nil {
		return err
	}
	if limit := o.cap.Limits().MaxWriteSize; limit > 0 && int64(len(data)) > limit {
		return WriteLimitError{Path: path, Size: int64(len(data)), Limit: limit}
	}
	var meta Metadata
	for _, opt := range opts {
		opt(&meta)
	}
	return o.accessor.Write(ctx, path, data, meta)
}

// Delete removes the object at path, or the directory at path with its
// contents. Deleting a missing path succeeds.
func (o *Operator) Delete(ctx context.Context, path string) error {
	if err := o.check(OpDelete); err != nil {
		return err
	}
	return o.accessor.Delete(ctx, path)
}

// Stat returns the entry at path.
func (o *Operator) Stat(ctx context.Context, path string) (Entry, error) {
	if err := o.check(OpStat); err != nil {
		return Entry{}, err
	}
	return o.accessor.Stat(ctx, path)
}

// ListOption customizes a listing.
type ListOption func(*listConfig)

type listConfig struct {
	pageSize int
}

// WithPageSize sets the number of entries fetched per backend call.
func WithPageSize(n int) ListOption {
	return func(c *listConfig) { c.pageSize = n }
}

// List returns a lazy cursor over the direct children of the directory at
// path. No I/O happens until the first entry is requested.
func (o *Operator) List(ctx context.Context, path string, opts ...ListOption) (*Lister, error) {
	if err := o.check(OpList); err != nil {
		return nil, err
	}
	var cfg listConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if max := o.cap.Limits().MaxListPageSize; max > 0 && (cfg.pageSize <= 0 || cfg.pageSize > max) {
		cfg.pageSize = max
	}
	return newLister(o.accessor, path, cfg.pageSize), nil
}

// Presign returns a URL granting op on path until expires elapses. The
// Operator must support both OpPresign and op.
func (o *Operator) Presign(ctx context.Context, path string, op Operation, expires time.Duration) (string, error) {
	if err := o.check(OpPresign | op); err != nil {
		return "", err
	}
	return o.accessor.Presign(ctx, path, PresignRequest{Op: op, Expires: expires})
}

// Close releases the backend when it holds resources. Every Operator layered
// from the same base shares the backend, so Close affects all of them.
func (o *Operator) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

func (o *Operator) check(op Operation) error {
	if !o.cap.Has(op) {
		return UnsupportedOperationError{Op: op, Capability: o.cap}
	}
	return nil
}
