package operator

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// EntryMode distinguishes objects from directories.
type EntryMode uint8

const (
	// ModeFile marks an object holding content.
	ModeFile EntryMode = iota
	// ModeDir marks a directory, real or implied by the paths beneath it.
	ModeDir
)

func (m EntryMode) String() string {
	if m == ModeDir {
		return "dir"
	}
	return "file"
}

// Entry describes an object or a directory.
type Entry struct {
	Path        string
	Mode        EntryMode
	Size        int64
	ModTime     time.Time
	ContentType string
	// ETag is the backend's opaque version tag, when it has one.
	ETag string
	// Digest is the content digest, when the backend records one.
	Digest   digest.Digest
	Metadata map[string]string
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Mode == ModeDir }

// Metadata accompanies a write.
type Metadata struct {
	ContentType  string
	CacheControl string
	User         map[string]string
}

// Clone returns a deep copy of m. Layers that alter metadata work on a clone
// so the caller's value is never modified.
func (m Metadata) Clone() Metadata {
	out := m
	if m.User != nil {
		out.User = make(map[string]string, len(m.User))
		for k, v := range m.User {
			out.User[k] = v
		}
	}
	return out
}

// ListOptions selects one page of a listing.
type ListOptions struct {
	// Token resumes a listing; empty starts from the beginning.
	Token string
	// Limit caps the page size; zero lets the backend choose.
	Limit int
}

// ListPage is one page of direct children of a directory, sorted by path.
type ListPage struct {
	Entries []Entry
	// Next resumes the listing after this page; empty when the listing is
	// complete.
	Next string
}

// PresignRequest asks for a URL granting Op on a path until Expires elapses.
type PresignRequest struct {
	Op      Operation
	Expires time.Duration
}
