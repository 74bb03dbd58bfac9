package operator

import "context"

// Info describes the backend behind an accessor chain.
type Info struct {
	// Scheme is the registered scheme of the backend.
	Scheme string
	// Root is the backend's root, such as a directory or a bucket prefix.
	Root string
	// Capability is the backend's declared capability.
	Capability Capability
}

// Accessor is the closed operation contract every backend implements and
// every layer preserves. It is never handed to callers directly: the only
// caller-facing type is Operator.
//
// Paths reaching a backend through the base package are normalized to the
// form "/a/b". Implementations must be safe for concurrent use.
type Accessor interface {
	// Info returns the backend description. Layers pass it through unchanged.
	Info() Info

	// Read retrieves the full content stored at path.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores data at path, replacing any previous content. A write is
	// either fully applied or not applied at all.
	Write(ctx context.Context, path string, data []byte, meta Metadata) error

	// Delete removes the object at path, or the directory at path and
	// everything beneath it. Deleting a missing path succeeds.
	Delete(ctx context.Context, path string) error

	// List returns one page of the direct children of the directory at path.
	List(ctx context.Context, path string, opts ListOptions) (ListPage, error)

	// Stat returns the entry at path or a PathNotFoundError.
	Stat(ctx context.Context, path string) (Entry, error)

	// Presign returns a URL granting req.Op on path until req.Expires.
	Presign(ctx context.Context, path string, req PresignRequest) (string, error)
}
