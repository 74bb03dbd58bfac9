// Package filesystem implements a storage backend rooted at a local
// directory. Objects are regular files and directories are real directories.
package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/base"
	"github.com/distribution/storage-operator/operator/factory"
)

const (
	driverName           = "filesystem"
	driverAlias          = "fs"
	defaultRootDirectory = "/var/lib/storage-operator"

	// tempPrefix marks files of writes in progress. They are never listed.
	tempPrefix = ".tmp-"
)

var schema = operator.Schema{
	{Key: "rootdirectory", Default: defaultRootDirectory, Description: "directory all paths are resolved under"},
}

func init() {
	factory.MustRegister(driverName, &filesystemDriverFactory{}, schema)
	factory.MustRegister(driverAlias, &filesystemDriverFactory{}, schema)
}

// filesystemDriverFactory implements the factory.Constructor interface.
type filesystemDriverFactory struct{}

func (factory *filesystemDriverFactory) Create(ctx context.Context, config operator.Config) (operator.Accessor, error) {
	return FromParameters(config)
}

type driver struct {
	rootDirectory string
}

type baseEmbed struct {
	base.Base
}

// Driver is an operator.Accessor backed by a local filesystem. All provided
// paths are subpaths of the root directory.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver from validated parameters.
// Optional parameters:
// - rootdirectory
func FromParameters(config operator.Config) (*Driver, error) {
	rootDirectory := config.String("rootdirectory")
	if rootDirectory == "" {
		rootDirectory = defaultRootDirectory
	}
	if !filepath.IsAbs(rootDirectory) {
		return nil, operator.InvalidConfigError{Scheme: driverName, Key: "rootdirectory", Reason: "must be an absolute path"}
	}
	if fi, err := os.Stat(rootDirectory); err == nil && !fi.IsDir() {
		return nil, operator.InvalidConfigError{Scheme: driverName, Key: "rootdirectory", Reason: "not a directory"}
	}
	return New(rootDirectory), nil
}

// New constructs a new Driver with a given rootDirectory. The directory is
// created on the first write.
func New(rootDirectory string) *Driver {
	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{
				Accessor: &driver{rootDirectory: filepath.Clean(rootDirectory)},
			},
		},
	}
}

func (d *driver) Info() operator.Info {
	return operator.Info{
		Scheme:     driverName,
		Root:       d.rootDirectory,
		Capability: operator.NewCapability(operator.OpRead|operator.OpWrite|operator.OpDelete|operator.OpList|operator.OpStat, operator.Limits{}),
	}
}

// fullPath returns the absolute path of a key within the root directory.
// Paths resolving outside the root are rejected.
func (d *driver) fullPath(subPath string) (string, error) {
	full := filepath.Join(d.rootDirectory, filepath.FromSlash(subPath))
	rel, err := filepath.Rel(d.rootDirectory, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", operator.InvalidPathError{Path: subPath}
	}
	return full, nil
}

// Read retrieves the content stored at path.
func (d *driver) Read(ctx context.Context, path string) ([]byte, error) {
	full, err := d.fullPath(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		return nil, classify("read", path, err)
	}
	if fi.IsDir() {
		return nil, operator.PathNotFoundError{Path: path}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, classify("read", path, err)
	}
	return data, nil
}

// Write stores data in a temporary file next to path and renames it into
// place, so a reader never observes a partial write. A cancelled ctx
// abandons the write before the rename.
func (d *driver) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	full, err := d.fullPath(path)
	if err != nil {
		return err
	}
	parentDir := filepath.Dir(full)
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return classify("write", path, err)
	}

	tmp, err := os.CreateTemp(parentDir, tempPrefix+"*")
	if err != nil {
		return classify("write", path, err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return classify("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return classify("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return classify("write", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return classify("write", path, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if fi, err := os.Stat(full); err == nil && fi.IsDir() {
		return operator.IOError{Scheme: driverName, Op: "write", Path: path, Err: errors.New("is a directory")}
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return classify("write", path, err)
	}
	committed = true
	return nil
}

// Delete recursively deletes all objects stored at path and its subpaths.
func (d *driver) Delete(ctx context.Context, path string) error {
	full, err := d.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return classify("delete", path, err)
	}
	return nil
}

// List returns one page of the direct children of path.
func (d *driver) List(ctx context.Context, path string, opts operator.ListOptions) (operator.ListPage, error) {
	full, err := d.fullPath(path)
	if err != nil {
		return operator.ListPage{}, err
	}
	dirents, err := os.ReadDir(full)
	if err != nil {
		if isMissing(err) {
			return operator.ListPage{}, nil
		}
		return operator.ListPage{}, classify("list", path, err)
	}

	entries := make([]operator.Entry, 0, len(dirents))
	for _, de := range dirents {
		if strings.HasPrefix(de.Name(), tempPrefix) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			if isMissing(err) {
				// removed since ReadDir
				continue
			}
			return operator.ListPage{}, classify("list", path, err)
		}
		entries = append(entries, entryFromFileInfo(joinPath(path, de.Name()), fi))
	}
	return base.Paginate(entries, opts), nil
}

// Stat retrieves the FileInfo for the given path, including the current size
// in bytes and the creation time.
func (d *driver) Stat(ctx context.Context, path string) (operator.Entry, error) {
	full, err := d.fullPath(path)
	if err != nil {
		return operator.Entry{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if path == "/" && isMissing(err) {
			return operator.Entry{Path: path, Mode: operator.ModeDir}, nil
		}
		return operator.Entry{}, classify("stat", path, err)
	}
	return entryFromFileInfo(path, fi), nil
}

// Presign is not supported by the filesystem backend.
func (d *driver) Presign(ctx context.Context, path string, req operator.PresignRequest) (string, error) {
	return "", operator.UnsupportedOperationError{Op: operator.OpPresign, Capability: d.Info().Capability}
}

func entryFromFileInfo(path string, fi fs.FileInfo) operator.Entry {
	e := operator.Entry{Path: path, ModTime: fi.ModTime()}
	if fi.IsDir() {
		e.Mode = operator.ModeDir
	} else {
		e.Mode = operator.ModeFile
		e.Size = fi.Size()
	}
	return e
}

func joinPath(dir, name string) string {
	return base.DirPrefix(dir) + name
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// classify maps filesystem errors onto the operator error taxonomy. A
// missing component fails a write rather than reporting a missing path.
// Interrupted and busy calls may succeed when repeated.
func classify(op, path string, err error) error {
	switch {
	case op != "write" && isMissing(err):
		return operator.PathNotFoundError{Path: path}
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR), errors.Is(err, syscall.EBUSY):
		return operator.IOError{Scheme: driverName, Op: op, Path: path, Err: err, Retryable: true}
	}
	return err
}
