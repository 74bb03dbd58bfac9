// Package inmemory implements a storage backend held entirely in process
// memory. Intended for testing and examples: content does not survive the
// Operator.
package inmemory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/base"
	"github.com/distribution/storage-operator/operator/factory"
	"github.com/opencontainers/go-digest"
)

const driverName = "inmemory"

var schema = operator.Schema{
	{Key: "maxsize", Kind: operator.KindInt, Description: "largest object accepted by a single write, in bytes"},
}

func init() {
	factory.MustRegister(driverName, &inMemoryDriverFactory{}, schema)
}

// inMemoryDriverFactory implements the factory.Constructor interface.
type inMemoryDriverFactory struct{}

func (factory *inMemoryDriverFactory) Create(ctx context.Context, config operator.Config) (operator.Accessor, error) {
	return FromParameters(config)
}

type object struct {
	data    []byte
	meta    operator.Metadata
	modTime time.Time
	digest  digest.Digest
}

type driver struct {
	mutex   sync.RWMutex
	objects map[string]*object
	maxSize int64
}

type baseEmbed struct {
	base.Base
}

// Driver is an operator.Accessor backed by a local map.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver from validated parameters.
func FromParameters(config operator.Config) (*Driver, error) {
	maxSize := config.Int("maxsize")
	if maxSize < 0 {
		return nil, operator.InvalidConfigError{Scheme: driverName, Key: "maxsize", Reason: "must not be negative"}
	}
	return newDriver(maxSize), nil
}

// New constructs a new Driver without a size limit.
func New() *Driver {
	return newDriver(0)
}

func newDriver(maxSize int64) *Driver {
	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{
				Accessor: &driver{objects: make(map[string]*object), maxSize: maxSize},
			},
		},
	}
}

func (d *driver) Info() operator.Info {
	return operator.Info{
		Scheme: driverName,
		Root:   "/",
		Capability: operator.NewCapability(
			operator.OpRead|operator.OpWrite|operator.OpDelete|operator.OpList|operator.OpStat,
			operator.Limits{MaxWriteSize: d.maxSize},
		),
	}
}

// Read returns a copy of the content stored at path.
func (d *driver) Read(ctx context.Context, path string) ([]byte, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	obj, ok := d.objects[path]
	if !ok {
		return nil, operator.PathNotFoundError{Path: path}
	}
	return append([]byte(nil), obj.data...), nil
}

// Write replaces the object at path under the write lock, so readers either
// see the previous content or the complete new content.
func (d *driver) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	obj := &object{
		data:    append([]byte(nil), data...),
		meta:    meta.Clone(),
		modTime: time.Now(),
		digest:  digest.FromBytes(data),
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.isDir(path) {
		return fmt.Errorf("%q is a directory", path)
	}
	for parent := parentOf(path); parent != "/"; parent = parentOf(parent) {
		if _, ok := d.objects[parent]; ok {
			return fmt.Errorf("%q is not a directory", parent)
		}
	}
	d.objects[path] = obj
	return nil
}

// Delete removes path and everything beneath it.
func (d *driver) Delete(ctx context.Context, path string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	prefix := base.DirPrefix(path)
	for key := range d.objects {
		if key == path || strings.HasPrefix(key, prefix) {
			delete(d.objects, key)
		}
	}
	return nil
}

// List returns the direct children of path.
func (d *driver) List(ctx context.Context, path string, opts operator.ListOptions) (operator.ListPage, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	seen := make(map[string]bool)
	var entries []operator.Entry
	for key, obj := range d.objects {
		child, isDir, ok := base.ChildOf(path, key)
		if !ok || seen[child] {
			continue
		}
		seen[child] = true
		if isDir {
			entries = append(entries, operator.Entry{Path: child, Mode: operator.ModeDir})
		} else {
			entries = append(entries, obj.entry(child))
		}
	}
	return base.Paginate(entries, opts), nil
}

// Stat returns the entry at path.
func (d *driver) Stat(ctx context.Context, path string) (operator.Entry, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	if obj, ok := d.objects[path]; ok {
		return obj.entry(path), nil
	}
	if path == "/" || d.isDir(path) {
		return operator.Entry{Path: path, Mode: operator.ModeDir}, nil
	}
	return operator.Entry{}, operator.PathNotFoundError{Path: path}
}

// Presign is not supported by the inmemory backend.
func (d *driver) Presign(ctx context.Context, path string, req operator.PresignRequest) (string, error) {
	return "", operator.UnsupportedOperationError{Op: operator.OpPresign, Capability: d.Info().Capability}
}

// isDir reports whether any object lies beneath path. The caller holds the
// mutex.
func (d *driver) isDir(path string) bool {
	for key := range d.objects {
		if _, _, ok := base.ChildOf(path, key); ok {
			return true
		}
	}
	return false
}

func (obj *object) entry(path string) operator.Entry {
	e := operator.Entry{
		Path:        path,
		Mode:        operator.ModeFile,
		Size:        int64(len(obj.data)),
		ModTime:     obj.modTime,
		ContentType: obj.meta.ContentType,
		ETag:        obj.digest.Encoded()[:16],
		Digest:      obj.digest,
	}
	if len(obj.meta.User) > 0 {
		e.Metadata = make(map[string]string, len(obj.meta.User))
		for k, v := range obj.meta.User {
			e.Metadata[k] = v
		}
	}
	return e
}

func parentOf(path string) string {
	for i := len(path) - 1; i > 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "/"
}
