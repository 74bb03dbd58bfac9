// Package version reports the build identity of the storage operator tools.
package version

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
)

// Set at link time with
// -ldflags "-X github.com/distribution/storage-operator/version.version=..."
var (
	mainpkg  = "github.com/distribution/storage-operator"
	version  = ""
	revision = ""
)

// Package returns the import path of the module the binary was built from.
func Package() string { return mainpkg }

// Version returns the release of the running binary. Without a link time
// value it falls back to the module version recorded by the go tool.
func Version() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// Revision returns the VCS revision, when known.
func Revision() string {
	if revision != "" {
		return revision
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return ""
}

// FprintVersion writes "<cmd> <package> <version>" followed by a newline.
func FprintVersion(w io.Writer) {
	fmt.Fprintln(w, os.Args[0], Package(), Version())
}

// PrintVersion writes the version line to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}
