// Package base provides a base implementation of the operation contract that
// backends embed to share path checks, error classification and debug
// timing.
//
// The canonical approach is to embed Base in the exported backend type, with
// the internal driver as its target:
//
//	type driver struct { ... internal ... }
//
//	type baseEmbed struct {
//		base.Base
//	}
//
//	type Driver struct {
//		baseEmbed
//	}
//
// Driver then implements operator.Accessor, proxying every call through Base
// before it reaches driver. By the time driver sees a path it is in the form
// "/a/b" and matches PathRegexp; the root "/" reaches only List and Stat.
package base

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/distribution/storage-operator/internal/dcontext"
	"github.com/distribution/storage-operator/operator"
)

// PathRegexp is the regular expression which each normalized path must match.
// A path consists of one or more components, each a leading slash followed by
// one or more alphanumeric characters, underscores, periods or hyphens.
// Components "." and ".." are rejected separately.
var PathRegexp = regexp.MustCompile(`^(/[A-Za-z0-9._-]+)+$`)

// Base wraps a backend accessor with the checks shared by every backend.
type Base struct {
	operator.Accessor
}

// NormalizePath returns path in the form "/a/b". Callers may omit the leading
// slash and add a trailing one. The root normalizes to "/".
func NormalizePath(path string) string {
	p := strings.TrimRight(path, "/")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func checkPath(path string, allowRoot bool) (string, error) {
	p := NormalizePath(path)
	if p == "/" && path != "" {
		if allowRoot {
			return p, nil
		}
		return "", operator.InvalidPathError{Path: path}
	}
	if !PathRegexp.MatchString(p) {
		return "", operator.InvalidPathError{Path: path}
	}
	for _, c := range strings.Split(p[1:], "/") {
		if c == "." || c == ".." {
			return "", operator.InvalidPathError{Path: path}
		}
	}
	return p, nil
}

// durationDebugLog returns a deferrable function which when invoked produces
// debug logging output with the method name and duration.
func durationDebugLog(ctx context.Context, scheme, methodName string) (deferrable func()) {
	startedAt := time.Now()

	return func() {
		ctx := dcontext.WithValues(ctx, map[string]any{
			"storage.scheme": scheme,
			"duration":       time.Since(startedAt),
		})
		dcontext.GetLogger(ctx, "storage.scheme", "duration").Debug("operator.Accessor." + methodName)
	}
}

// classify returns err unchanged when it is nil, a context error or already
// part of the operator error taxonomy, and wraps it as a non-retryable
// IOError otherwise.
func (base *Base) classify(op, path string, err error) error {
	if err == nil || operator.IsClassified(err) {
		return err
	}
	return operator.IOError{
		Scheme: base.Accessor.Info().Scheme,
		Op:     op,
		Path:   path,
		Err:    err,
	}
}

func (base *Base) scheme() string {
	return base.Accessor.Info().Scheme
}

// Read wraps Read of the underlying backend.
func (base *Base) Read(ctx context.Context, path string) ([]byte, error) {
	p, err := checkPath(path, false)
	if err != nil {
		return nil, err
	}

	defer durationDebugLog(ctx, base.scheme(), "Read")()

	data, err := base.Accessor.Read(ctx, p)
	return data, base.classify("read", p, err)
}

// Write wraps Write of the underlying backend.
func (base *Base) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	p, err := checkPath(path, false)
	if err != nil {
		return err
	}

	defer durationDebugLog(ctx, base.scheme(), "Write")()

	return base.classify("write", p, base.Accessor.Write(ctx, p, data, meta))
}

// Delete wraps Delete of the underlying backend.
func (base *Base) Delete(ctx context.Context, path string) error {
	p, err := checkPath(path, false)
	if err != nil {
		return err
	}

	defer durationDebugLog(ctx, base.scheme(), "Delete")()

	return base.classify("delete", p, base.Accessor.Delete(ctx, p))
}

// List wraps List of the underlying backend.
func (base *Base) List(ctx context.Context, path string, opts operator.ListOptions) (operator.ListPage, error) {
	p, err := checkPath(path, true)
	if err != nil {
		return operator.ListPage{}, err
	}
	if opts.Limit < 0 {
		opts.Limit = 0
	}

	defer durationDebugLog(ctx, base.scheme(), "List")()

	page, err := base.Accessor.List(ctx, p, opts)
	return page, base.classify("list", p, err)
}

// Stat wraps Stat of the underlying backend.
func (base *Base) Stat(ctx context.Context, path string) (operator.Entry, error) {
	p, err := checkPath(path, true)
	if err != nil {
		return operator.Entry{}, err
	}

	defer durationDebugLog(ctx, base.scheme(), "Stat")()

	entry, err := base.Accessor.Stat(ctx, p)
	return entry, base.classify("stat", p, err)
}

// Presign wraps Presign of the underlying backend.
func (base *Base) Presign(ctx context.Context, path string, req operator.PresignRequest) (string, error) {
	p, err := checkPath(path, false)
	if err != nil {
		return "", err
	}

	defer durationDebugLog(ctx, base.scheme(), "Presign")()

	url, err := base.Accessor.Presign(ctx, p, req)
	return url, base.classify("presign", p, err)
}
