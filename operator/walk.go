package operator

import (
	"context"
	"errors"
	"io"
)

// ErrSkipDir is returned by a WalkFn to skip descending into a directory.
var ErrSkipDir = errors.New("skip this directory")

// WalkFn is called for every entry visited by Walk.
type WalkFn func(entry Entry) error

// Walk traverses the tree rooted at from depth first, calling f for every
// entry below from. Entries of one directory are visited in listing order and
// a directory is visited before its children.
func Walk(ctx context.Context, op *Operator, from string, f WalkFn) error {
	return walk(ctx, op, from, f)
}

func walk(ctx context.Context, op *Operator, from string, f WalkFn) error {
	lister, err := op.List(ctx, from)
	if err != nil {
		return err
	}
	for {
		entry, err := lister.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		err = f(entry)
		if err == ErrSkipDir {
			continue
		}
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if err := walk(ctx, op, entry.Path, f); err != nil {
				return err
			}
		}
	}
}
