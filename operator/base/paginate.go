package base

import (
	"sort"
	"strings"

	"github.com/distribution/storage-operator/operator"
)

// Paginate cuts one page out of the listing entries. Entries are sorted by
// path and the page starts after opts.Token, so a token stays valid when
// entries are added or removed between calls. Backends without native
// continuation tokens list a directory in full and page through it here.
func Paginate(entries []operator.Entry, opts operator.ListOptions) operator.ListPage {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	start := 0
	if opts.Token != "" {
		start = sort.Search(len(entries), func(i int) bool { return entries[i].Path > opts.Token })
	}
	rest := entries[start:]
	if opts.Limit <= 0 || len(rest) <= opts.Limit {
		return operator.ListPage{Entries: rest}
	}
	page := rest[:opts.Limit]
	return operator.ListPage{Entries: page, Next: page[len(page)-1].Path}
}

// DirPrefix returns the key prefix shared by every path below dir.
func DirPrefix(dir string) string {
	if dir == "/" {
		return "/"
	}
	return dir + "/"
}

// ChildOf returns the path of the direct child of dir that key lies beneath,
// and whether that child is a directory. It returns false for ok when key is
// not below dir.
func ChildOf(dir, key string) (child string, isDir bool, ok bool) {
	prefix := DirPrefix(dir)
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return "", false, false
	}
	rest := key[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return prefix + rest[:i], true, true
	}
	return prefix + rest, false, true
}
