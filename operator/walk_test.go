package operator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/inmemory"
)

func TestWalk(t *testing.T) {
	op := operator.New(inmemory.New())
	ctx := context.Background()
	for _, p := range []string{"/a/1", "/a/b/2", "/a/b/3", "/c/4", "/5"} {
		require.NoError(t, op.Write(ctx, p, []byte(p)))
	}

	var visited []string
	err := operator.Walk(ctx, op, "/", func(e operator.Entry) error {
		visited = append(visited, e.Path)
		if e.Path == "/c" {
			return operator.ErrSkipDir
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/5", "/a", "/a/1", "/a/b", "/a/b/2", "/a/b/3", "/c"}, visited)
}

func TestWalkStopsOnError(t *testing.T) {
	op := operator.New(inmemory.New())
	ctx := context.Background()
	for _, p := range []string{"/a", "/b", "/c"} {
		require.NoError(t, op.Write(ctx, p, []byte(p)))
	}

	stop := errors.New("stop")
	var visited []string
	err := operator.Walk(ctx, op, "/", func(e operator.Entry) error {
		visited = append(visited, e.Path)
		if e.Path == "/b" {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, []string{"/a", "/b"}, visited)
}
