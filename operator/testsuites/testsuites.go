// Package testsuites holds the conformance suite every storage backend is
// expected to pass. Backend tests register it from init:
//
//	func init() {
//		testsuites.RegisterSuite(func() (*operator.Operator, error) {
//			return operator.New(New()), nil
//		}, testsuites.NeverSkip)
//	}
package testsuites

import (
	"context"
	"fmt"
	"math/rand"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/distribution/storage-operator/operator"
	"gopkg.in/check.v1"
)

// SkipCheck is a function used to determine if a test suite should be skipped.
// If a SkipCheck returns a non-empty skip reason, the suite is skipped with
// the given reason.
type SkipCheck func() (reason string)

// NeverSkip is a default SkipCheck which never skips the suite.
var NeverSkip SkipCheck = func() string { return "" }

// OperatorConstructor returns a new Operator over the backend under test.
type OperatorConstructor func() (*operator.Operator, error)

// OperatorTeardown cleans up after a suite's Operator.
type OperatorTeardown func() error

// SuiteOption adjusts the expectations of a suite.
type SuiteOption func(*DriverSuite)

// PreservesMetadata declares that the backend stores the content type and
// user metadata of a write and reports them from Stat.
func PreservesMetadata() SuiteOption {
	return func(s *DriverSuite) { s.preservesMetadata = true }
}

// WithTeardown runs teardown after the suite.
func WithTeardown(teardown OperatorTeardown) SuiteOption {
	return func(s *DriverSuite) { s.Teardown = teardown }
}

// RegisterSuite registers a backend test suite with the go test runner.
func RegisterSuite(constructor OperatorConstructor, skipCheck SkipCheck, opts ...SuiteOption) {
	suite := &DriverSuite{
		Constructor: constructor,
		SkipCheck:   skipCheck,
	}
	for _, opt := range opts {
		opt(suite)
	}
	check.Suite(suite)
}

// DriverSuite is a gocheck test suite designed to test an Operator against
// the shared backend semantics. The intended way to create a DriverSuite is
// with RegisterSuite.
type DriverSuite struct {
	Constructor OperatorConstructor
	Teardown    OperatorTeardown
	SkipCheck
	*operator.Operator

	ctx               context.Context
	preservesMetadata bool
}

// SetUpSuite sets up the gocheck test suite.
func (suite *DriverSuite) SetUpSuite(c *check.C) {
	if reason := suite.SkipCheck(); reason != "" {
		c.Skip(reason)
	}
	op, err := suite.Constructor()
	c.Assert(err, check.IsNil)
	suite.Operator = op
	suite.ctx = context.Background()
}

// TearDownSuite tears down the gocheck test suite.
func (suite *DriverSuite) TearDownSuite(c *check.C) {
	if suite.Teardown != nil {
		err := suite.Teardown()
		c.Assert(err, check.IsNil)
	}
	if suite.Operator != nil {
		c.Assert(suite.Operator.Close(), check.IsNil)
	}
}

// TestWriteRead1 tests a simple write-read workflow.
func (suite *DriverSuite) TestWriteRead1(c *check.C) {
	filename := randomPath(32)
	contents := []byte("a")
	suite.writeReadCompare(c, filename, contents)
}

// TestWriteRead2 tests a simple write-read workflow with unicode data.
func (suite *DriverSuite) TestWriteRead2(c *check.C) {
	filename := randomPath(32)
	contents := []byte("\xc3\x9f")
	suite.writeReadCompare(c, filename, contents)
}

// TestWriteRead3 tests a simple write-read workflow with a small string.
func (suite *DriverSuite) TestWriteRead3(c *check.C) {
	filename := randomPath(32)
	contents := []byte(randomString(32))
	suite.writeReadCompare(c, filename, contents)
}

// TestWriteRead4 tests a simple write-read workflow with 1MB of data.
func (suite *DriverSuite) TestWriteRead4(c *check.C) {
	filename := randomPath(32)
	contents := []byte(randomString(1024 * 1024))
	suite.writeReadCompare(c, filename, contents)
}

// TestWriteReadEmpty tests that an empty object is distinct from a missing
// one.
func (suite *DriverSuite) TestWriteReadEmpty(c *check.C) {
	filename := randomPath(32)
	suite.writeReadCompare(c, filename, []byte{})
}

// TestWriteWithoutLeadingSlash checks that relative and absolute spellings of
// a path address the same object.
func (suite *DriverSuite) TestWriteWithoutLeadingSlash(c *check.C) {
	name := randomString(32)
	defer suite.Delete(suite.ctx, name)

	err := suite.Write(suite.ctx, name, []byte("relative"))
	c.Assert(err, check.IsNil)

	received, err := suite.Read(suite.ctx, "/"+name)
	c.Assert(err, check.IsNil)
	c.Assert(received, check.DeepEquals, []byte("relative"))
}

// TestOverwrite checks that a second write replaces the content entirely.
func (suite *DriverSuite) TestOverwrite(c *check.C) {
	filename := randomPath(32)
	defer suite.Delete(suite.ctx, filename)

	err := suite.Write(suite.ctx, filename, []byte(randomString(4096)))
	c.Assert(err, check.IsNil)

	contents := []byte(randomString(16))
	err = suite.Write(suite.ctx, filename, contents)
	c.Assert(err, check.IsNil)

	received, err := suite.Read(suite.ctx, filename)
	c.Assert(err, check.IsNil)
	c.Assert(received, check.DeepEquals, contents)
}

// TestReadNonexistent tests reading content from an empty path.
func (suite *DriverSuite) TestReadNonexistent(c *check.C) {
	filename := randomPath(32)
	_, err := suite.Read(suite.ctx, filename)
	c.Assert(err, check.NotNil)
	c.Assert(err, check.FitsTypeOf, operator.PathNotFoundError{})
}

// TestReadDirectory checks that a directory holds no content of its own.
func (suite *DriverSuite) TestReadDirectory(c *check.C) {
	dirname := randomPath(32)
	defer suite.Delete(suite.ctx, dirname)

	err := suite.Write(suite.ctx, path.Join(dirname, randomString(8)), []byte("x"))
	c.Assert(err, check.IsNil)

	_, err = suite.Read(suite.ctx, dirname)
	c.Assert(operator.IsNotFound(err), check.Equals, true, check.Commentf("error: %v", err))
}

// TestInvalidPaths checks that malformed paths are rejected before reaching
// the backend.
func (suite *DriverSuite) TestInvalidPaths(c *check.C) {
	for _, p := range []string{"", "/", "a b", "/a//b", "/a/b?c"} {
		_, err := suite.Read(suite.ctx, p)
		c.Assert(err, check.FitsTypeOf, operator.InvalidPathError{}, check.Commentf("path %q", p))
	}
	err := suite.Write(suite.ctx, "/", []byte("root"))
	c.Assert(err, check.FitsTypeOf, operator.InvalidPathError{})
}

// TestWriteMetadata checks that metadata given to a write is reported by
// Stat, when the backend stores it.
func (suite *DriverSuite) TestWriteMetadata(c *check.C) {
	if !suite.preservesMetadata {
		c.Skip("backend does not store metadata")
	}
	filename := randomPath(32) + ".json"
	defer suite.Delete(suite.ctx, filename)

	err := suite.Write(suite.ctx, filename, []byte(`{}`),
		operator.WithContentType("application/json"),
		operator.WithUserMetadata("owner", "suite"))
	c.Assert(err, check.IsNil)

	fi, err := suite.Stat(suite.ctx, filename)
	c.Assert(err, check.IsNil)
	c.Assert(fi.ContentType, check.Equals, "application/json")
	c.Assert(fi.Metadata["owner"], check.Equals, "suite")
}

// TestList checks the returned entries after populating a directory tree.
func (suite *DriverSuite) TestList(c *check.C) {
	rootDirectory := "/" + randomString(int64(8+rand.Intn(8)))
	defer suite.Delete(suite.ctx, rootDirectory)

	parentDirectory := rootDirectory + "/" + randomString(int64(8+rand.Intn(8)))
	childFiles := make([]string, 50)
	for i := 0; i < len(childFiles); i++ {
		childFile := parentDirectory + "/" + randomString(int64(8+rand.Intn(8)))
		childFiles[i] = childFile
		err := suite.Write(suite.ctx, childFile, []byte(randomString(32)))
		c.Assert(err, check.IsNil)
	}
	sort.Strings(childFiles)

	entries := suite.list(c, "/")
	found := false
	for _, e := range entries {
		if e.Path == rootDirectory {
			found = true
			c.Assert(e.IsDir(), check.Equals, true)
		}
	}
	c.Assert(found, check.Equals, true, check.Commentf("%s not listed in /", rootDirectory))

	entries = suite.list(c, rootDirectory)
	c.Assert(paths(entries), check.DeepEquals, []string{parentDirectory})
	c.Assert(entries[0].IsDir(), check.Equals, true)

	entries = suite.list(c, parentDirectory)
	c.Assert(paths(entries), check.DeepEquals, childFiles)
	for _, e := range entries {
		c.Assert(e.IsDir(), check.Equals, false)
		c.Assert(e.Size, check.Equals, int64(32))
	}
}

// TestListPaging checks that small pages yield the same entries as a single
// large page, and that a listing can be iterated again from the start.
func (suite *DriverSuite) TestListPaging(c *check.C) {
	dirname := randomPath(16)
	defer suite.Delete(suite.ctx, dirname)

	var expected []string
	for i := 0; i < 23; i++ {
		p := path.Join(dirname, fmt.Sprintf("%02d-%s", i, randomString(4)))
		expected = append(expected, p)
		c.Assert(suite.Write(suite.ctx, p, []byte("x")), check.IsNil)
	}

	lister, err := suite.List(suite.ctx, dirname, operator.WithPageSize(5))
	c.Assert(err, check.IsNil)

	var first []string
	for e, err := range lister.All(suite.ctx) {
		c.Assert(err, check.IsNil)
		first = append(first, e.Path)
	}
	c.Assert(first, check.DeepEquals, expected)

	var second []string
	for e, err := range lister.All(suite.ctx) {
		c.Assert(err, check.IsNil)
		second = append(second, e.Path)
	}
	c.Assert(second, check.DeepEquals, expected)
}

// TestListNonexistent checks that a missing directory lists empty.
func (suite *DriverSuite) TestListNonexistent(c *check.C) {
	entries := suite.list(c, randomPath(32))
	c.Assert(entries, check.HasLen, 0)
}

// TestDelete checks that the delete operation removes data from the backend.
func (suite *DriverSuite) TestDelete(c *check.C) {
	filename := randomPath(32)
	contents := []byte(randomString(32))

	defer suite.Delete(suite.ctx, filename)

	err := suite.Write(suite.ctx, filename, contents)
	c.Assert(err, check.IsNil)

	err = suite.Delete(suite.ctx, filename)
	c.Assert(err, check.IsNil)

	_, err = suite.Read(suite.ctx, filename)
	c.Assert(err, check.NotNil)
	c.Assert(err, check.FitsTypeOf, operator.PathNotFoundError{})
}

// TestDeleteNonexistent checks that removing a nonexistent path succeeds.
func (suite *DriverSuite) TestDeleteNonexistent(c *check.C) {
	filename := randomPath(32)
	err := suite.Delete(suite.ctx, filename)
	c.Assert(err, check.IsNil)
}

// TestDeleteFolder checks that deleting a folder removes all child elements.
func (suite *DriverSuite) TestDeleteFolder(c *check.C) {
	dirname := randomPath(32)
	filename1 := randomString(32)
	filename2 := randomString(32)
	nested := path.Join(dirname, randomString(8), randomString(8))
	contents := []byte(randomString(32))

	defer suite.Delete(suite.ctx, dirname)

	for _, p := range []string{path.Join(dirname, filename1), path.Join(dirname, filename2), nested} {
		err := suite.Write(suite.ctx, p, contents)
		c.Assert(err, check.IsNil)
	}

	err := suite.Delete(suite.ctx, dirname)
	c.Assert(err, check.IsNil)

	for _, p := range []string{path.Join(dirname, filename1), path.Join(dirname, filename2), nested} {
		_, err = suite.Read(suite.ctx, p)
		c.Assert(err, check.NotNil)
		c.Assert(err, check.FitsTypeOf, operator.PathNotFoundError{})
	}

	_, err = suite.Stat(suite.ctx, dirname)
	c.Assert(err, check.FitsTypeOf, operator.PathNotFoundError{})
}

// TestStatCall checks Stat on missing paths, files and directories.
func (suite *DriverSuite) TestStatCall(c *check.C) {
	content := randomString(4096)
	dirPath := randomPath(32)
	fileName := randomString(32)
	filePath := path.Join(dirPath, fileName)

	defer suite.Delete(suite.ctx, dirPath)

	// Call on non-existent file/dir, check error.
	_, err := suite.Stat(suite.ctx, filePath)
	c.Assert(err, check.NotNil)
	c.Assert(err, check.FitsTypeOf, operator.PathNotFoundError{})

	start := time.Now().Truncate(time.Second) // truncated for filesystem
	err = suite.Write(suite.ctx, filePath, []byte(content))
	c.Assert(err, check.IsNil)

	// Call on regular file, check results
	fi, err := suite.Stat(suite.ctx, filePath)
	c.Assert(err, check.IsNil)
	expectedModTime := time.Now().Add(time.Second)
	c.Assert(fi.Path, check.Equals, filePath)
	c.Assert(fi.Size, check.Equals, int64(len(content)))
	c.Assert(fi.IsDir(), check.Equals, false)

	if start.After(fi.ModTime) {
		c.Fatalf("modtime %s before file created (%v)", fi.ModTime, start)
	}

	if fi.ModTime.After(expectedModTime) {
		c.Fatalf("modtime %s after file created (%v)", fi.ModTime, expectedModTime)
	}

	// Call on directory
	fi, err = suite.Stat(suite.ctx, dirPath)
	c.Assert(err, check.IsNil)
	c.Assert(fi.Path, check.Equals, dirPath)
	c.Assert(fi.Size, check.Equals, int64(0))
	c.Assert(fi.IsDir(), check.Equals, true)

	fi, err = suite.Stat(suite.ctx, "/")
	c.Assert(err, check.IsNil)
	c.Assert(fi.IsDir(), check.Equals, true)
}

// TestWalk checks that Walk visits every entry below a directory.
func (suite *DriverSuite) TestWalk(c *check.C) {
	rootDirectory := randomPath(16)
	defer suite.Delete(suite.ctx, rootDirectory)

	files := []string{
		path.Join(rootDirectory, "a", "1"),
		path.Join(rootDirectory, "a", "b", "2"),
		path.Join(rootDirectory, "c", "3"),
		path.Join(rootDirectory, "4"),
	}
	for _, f := range files {
		c.Assert(suite.Write(suite.ctx, f, []byte(f)), check.IsNil)
	}

	var visited []string
	err := operator.Walk(suite.ctx, suite.Operator, rootDirectory, func(e operator.Entry) error {
		if !e.IsDir() {
			visited = append(visited, e.Path)
		}
		return nil
	})
	c.Assert(err, check.IsNil)
	sort.Strings(visited)
	sort.Strings(files)
	c.Assert(visited, check.DeepEquals, files)

	visited = nil
	err = operator.Walk(suite.ctx, suite.Operator, rootDirectory, func(e operator.Entry) error {
		visited = append(visited, e.Path)
		if e.IsDir() && path.Base(e.Path) == "a" {
			return operator.ErrSkipDir
		}
		return nil
	})
	c.Assert(err, check.IsNil)
	for _, v := range visited {
		c.Assert(v == path.Join(rootDirectory, "a", "b"), check.Equals, false)
	}
}

// TestConcurrentWrites checks that parallel writes to distinct paths all
// land.
func (suite *DriverSuite) TestConcurrentWrites(c *check.C) {
	dirname := randomPath(16)
	defer suite.Delete(suite.ctx, dirname)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := path.Join(dirname, fmt.Sprintf("f%d", i))
			errs[i] = suite.Write(suite.ctx, p, []byte(p))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		c.Assert(err, check.IsNil)
		p := path.Join(dirname, fmt.Sprintf("f%d", i))
		received, err := suite.Read(suite.ctx, p)
		c.Assert(err, check.IsNil)
		c.Assert(string(received), check.Equals, p)
	}
}

// TestUnsupportedPresign checks that presigning fails before any I/O when
// the backend does not declare it.
func (suite *DriverSuite) TestUnsupportedPresign(c *check.C) {
	if suite.Capabilities().Has(operator.OpPresign) {
		c.Skip("backend supports presign")
	}
	_, err := suite.Presign(suite.ctx, randomPath(8), operator.OpRead, time.Minute)
	c.Assert(err, check.FitsTypeOf, operator.UnsupportedOperationError{})
}

// TestLayeredOperator checks that a pass-through layer leaves results
// unchanged.
func (suite *DriverSuite) TestLayeredOperator(c *check.C) {
	layered := suite.Layer(operator.LayerFunc("passthrough", func(inner operator.Accessor) operator.Accessor {
		return inner
	}))
	c.Assert(layered.Capabilities(), check.DeepEquals, suite.Capabilities())
	c.Assert(layered.BackendID(), check.Equals, suite.BackendID())

	filename := randomPath(32)
	defer suite.Delete(suite.ctx, filename)

	c.Assert(layered.Write(suite.ctx, filename, []byte("layered")), check.IsNil)
	received, err := suite.Read(suite.ctx, filename)
	c.Assert(err, check.IsNil)
	c.Assert(received, check.DeepEquals, []byte("layered"))
}

func (suite *DriverSuite) writeReadCompare(c *check.C, filename string, contents []byte) {
	defer suite.Delete(suite.ctx, filename)

	err := suite.Write(suite.ctx, filename, contents)
	c.Assert(err, check.IsNil)

	readContents, err := suite.Read(suite.ctx, filename)
	c.Assert(err, check.IsNil)

	c.Assert(readContents, check.HasLen, len(contents))
	if len(contents) > 0 {
		c.Assert(readContents, check.DeepEquals, contents)
	}

	fi, err := suite.Stat(suite.ctx, filename)
	c.Assert(err, check.IsNil)
	c.Assert(fi.Size, check.Equals, int64(len(contents)))
}

func (suite *DriverSuite) list(c *check.C, dir string) []operator.Entry {
	lister, err := suite.List(suite.ctx, dir)
	c.Assert(err, check.IsNil)
	entries, err := lister.Collect(suite.ctx)
	c.Assert(err, check.IsNil)
	return entries
}

func paths(entries []operator.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

var pathChars = []byte("abcdefghijklmnopqrstuvwxyz")

func randomString(length int64) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = pathChars[rand.Intn(len(pathChars))]
	}
	return string(b)
}

func randomPath(length int64) string {
	return "/" + randomString(length)
}
