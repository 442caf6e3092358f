// Package version reports the build version of taskgraph.
package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the released version from the embedded VERSION file.
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Info returns the version followed by the VCS revision, when the binary
// was built from a checkout, and the Go toolchain.
func Info() string {
	v := Get()
	if rev := revision(); rev != "" {
		v += " (" + rev + ")"
	}
	return fmt.Sprintf("%s %s/%s %s", v, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func revision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}
