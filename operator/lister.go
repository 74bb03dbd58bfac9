package operator

import (
	"context"
	"io"
	"iter"
)

// Lister is a lazy cursor over the direct children of one directory. Pages are
// fetched from the accessor on demand. A Lister is not safe for concurrent use;
// All hands out independent sequences that are.
type Lister struct {
	accessor Accessor
	path     string
	pageSize int
	cur      cursor
}

func newLister(acc Accessor, path string, pageSize int) *Lister {
	l := &Lister{accessor: acc, path: path, pageSize: pageSize}
	l.cur = l.newCursor()
	return l
}

// Path returns the listed directory.
func (l *Lister) Path() string { return l.path }

// Next returns the next entry, or io.EOF once the listing is exhausted.
func (l *Lister) Next(ctx context.Context) (Entry, error) {
	return l.cur.next(ctx)
}

// Reset rewinds the cursor so the next call to Next starts from the first
// entry again.
func (l *Lister) Reset() {
	l.cur = l.newCursor()
}

// All returns a sequence over every entry, starting from the beginning each
// time it is ranged over. Iteration stops after the first error.
func (l *Lister) All(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		c := l.newCursor()
		for {
			e, err := c.next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains a fresh sequence into a slice.
func (l *Lister) Collect(ctx context.Context) ([]Entry, error) {
	var out []Entry
	for e, err := range l.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *Lister) newCursor() cursor {
	return cursor{accessor: l.accessor, path: l.path, pageSize: l.pageSize}
}

type cursor struct {
	accessor Accessor
	path     string
	pageSize int

	buf     []Entry
	token   string
	started bool
	done    bool
}

func (c *cursor) next(ctx context.Context) (Entry, error) {
	for len(c.buf) == 0 {
		if c.done {
			return Entry{}, io.EOF
		}
		if c.started && c.token == "" {
			c.done = true
			return Entry{}, io.EOF
		}
		page, err := c.accessor.List(ctx, c.path, ListOptions{Token: c.token, Limit: c.pageSize})
		if err != nil {
			return Entry{}, err
		}
		c.started = true
		c.buf = page.Entries
		c.token = page.Next
		if page.Next == "" && len(page.Entries) == 0 {
			c.done = true
		}
	}
	e := c.buf[0]
	c.buf = c.buf[1:]
	return e, nil
}
