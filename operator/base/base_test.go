package base

import (
	"context"
	"errors"
	"testing"

	"github.com/distribution/storage-operator/operator"
	"github.com/stretchr/testify/require"
)

// recorder remembers the last path it was called with and fails with err.
type recorder struct {
	operator.Accessor
	path string
	err  error
}

func (r *recorder) Info() operator.Info { return operator.Info{Scheme: "rec"} }

func (r *recorder) Read(ctx context.Context, path string) ([]byte, error) {
	r.path = path
	return nil, r.err
}

func (r *recorder) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	r.path = path
	return r.err
}

func (r *recorder) List(ctx context.Context, path string, opts operator.ListOptions) (operator.ListPage, error) {
	r.path = path
	return operator.ListPage{}, r.err
}

func (r *recorder) Stat(ctx context.Context, path string) (operator.Entry, error) {
	r.path = path
	return operator.Entry{Path: path}, r.err
}

func TestNormalizePath(t *testing.T) {
	for in, want := range map[string]string{
		"a.json":       "/a.json",
		"/a.json":      "/a.json",
		"dir/a.json":   "/dir/a.json",
		"/dir/":        "/dir",
		"":             "/",
		"/":            "/",
		"///":          "/",
		"dir/sub/file": "/dir/sub/file",
	} {
		require.Equal(t, want, NormalizePath(in), in)
	}
}

func TestPathChecks(t *testing.T) {
	rec := &recorder{}
	b := &Base{Accessor: rec}
	ctx := context.Background()

	_, err := b.Read(ctx, "dir/a.json")
	require.NoError(t, err)
	require.Equal(t, "/dir/a.json", rec.path)

	for _, bad := range []string{"", "/", "a b", "/a//b", "/a/../b?"} {
		rec.path = ""
		_, err := b.Read(ctx, bad)
		var invalid operator.InvalidPathError
		require.ErrorAs(t, err, &invalid, bad)
		require.Empty(t, rec.path, "backend reached for %q", bad)
	}

	var invalid operator.InvalidPathError
	require.ErrorAs(t, b.Write(ctx, "/", nil, operator.Metadata{}), &invalid)

	_, err = b.List(ctx, "/", operator.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, "/", rec.path)

	_, err = b.Stat(ctx, "/")
	require.NoError(t, err)
}

func TestErrorClassification(t *testing.T) {
	rec := &recorder{}
	b := &Base{Accessor: rec}
	ctx := context.Background()

	rec.err = errors.New("disk on fire")
	_, err := b.Read(ctx, "/a")
	var ioErr operator.IOError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, "rec", ioErr.Scheme)
	require.Equal(t, "read", ioErr.Op)
	require.Equal(t, "/a", ioErr.Path)
	require.False(t, operator.IsRetryable(err))

	rec.err = operator.PathNotFoundError{Path: "/a"}
	_, err = b.Stat(ctx, "/a")
	require.Equal(t, rec.err, err)

	rec.err = operator.IOError{Scheme: "rec", Err: errors.New("timeout"), Retryable: true}
	err = b.Write(ctx, "/a", nil, operator.Metadata{})
	require.True(t, operator.IsRetryable(err))

	rec.err = context.Canceled
	_, err = b.List(ctx, "/", operator.ListOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.As(err, &ioErr))
}

func TestPaginate(t *testing.T) {
	entries := func() []operator.Entry {
		return []operator.Entry{{Path: "/c"}, {Path: "/a"}, {Path: "/b"}, {Path: "/d"}, {Path: "/e"}}
	}

	page := Paginate(entries(), operator.ListOptions{Limit: 2})
	require.Equal(t, []operator.Entry{{Path: "/a"}, {Path: "/b"}}, page.Entries)
	require.Equal(t, "/b", page.Next)

	page = Paginate(entries(), operator.ListOptions{Token: page.Next, Limit: 2})
	require.Equal(t, []operator.Entry{{Path: "/c"}, {Path: "/d"}}, page.Entries)

	page = Paginate(entries(), operator.ListOptions{Token: page.Next, Limit: 2})
	require.Equal(t, []operator.Entry{{Path: "/e"}}, page.Entries)
	require.Empty(t, page.Next)

	page = Paginate(entries(), operator.ListOptions{})
	require.Len(t, page.Entries, 5)
	require.Empty(t, page.Next)

	page = Paginate(nil, operator.ListOptions{Limit: 3})
	require.Empty(t, page.Entries)
	require.Empty(t, page.Next)
}

func TestChildOf(t *testing.T) {
	for _, tc := range []struct {
		dir, key, child string
		isDir, ok       bool
	}{
		{"/", "/a", "/a", false, true},
		{"/", "/a/b", "/a", true, true},
		{"/a", "/a/b/c", "/a/b", true, true},
		{"/a", "/a/b", "/a/b", false, true},
		{"/a", "/a", "", false, false},
		{"/a", "/ab/c", "", false, false},
	} {
		child, isDir, ok := ChildOf(tc.dir, tc.key)
		require.Equal(t, tc.ok, ok, "%s in %s", tc.key, tc.dir)
		require.Equal(t, tc.child, child)
		require.Equal(t, tc.isDir, isDir)
	}
}

func TestDotComponentsRejected(t *testing.T) {
	rec := &recorder{}
	b := &Base{Accessor: rec}
	ctx := context.Background()

	for _, bad := range []string{"/..", "/../x", "/a/..", "/a/../../b", "./a", "/a/./b", "/."} {
		rec.path = ""
		var invalid operator.InvalidPathError
		require.ErrorAs(t, b.Write(ctx, bad, nil, operator.Metadata{}), &invalid, bad)
		_, err := b.List(ctx, bad, operator.ListOptions{})
		require.ErrorAs(t, err, &invalid, bad)
		require.Empty(t, rec.path, "backend reached for %q", bad)
	}

	_, err := b.Read(ctx, "/a/.../..b")
	require.NoError(t, err)
	require.Equal(t, "/a/.../..b", rec.path)
}
