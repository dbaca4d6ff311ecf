// Package version reports the build of the embedjob binary.
//
// The values are injected at build time:
//
//	-ldflags "-X embeddingjob/internal/version.version=v1.0.0 -X embeddingjob/internal/version.commit=abc123 -X embeddingjob/internal/version.buildTime=2025-01-01T00:00:00Z"
//
// When commit or build time are not injected they are read from the VCS
// stamp the Go toolchain embeds in the binary.
package version

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"
)

//nolint:gochecknoglobals // Required for build-time injection via ldflags.
var (
	version   string
	commit    string
	buildTime string

	readBuildInfo = debug.ReadBuildInfo
)

// ApplicationName is the name printed in the full version output.
const ApplicationName = "embedjob"

// Default values used when version information is not available.
const (
	DefaultVersion   = "dev"
	DefaultCommit    = "unknown"
	DefaultBuildTime = "unknown"
)

const (
	LabelVersion = "Version"
	LabelCommit  = "Commit"
	LabelBuilt   = "Built"
)

// Info is the version of the running binary.
type Info struct {
	Version   string
	Commit    string
	BuildTime string
}

// Get returns the injected values, falling back to the embedded VCS stamp and
// then to the defaults.
func Get() Info {
	info := Info{Version: version, Commit: commit, BuildTime: buildTime}
	if info.Commit == "" || info.BuildTime == "" {
		if bi, ok := readBuildInfo(); ok {
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					if info.Commit == "" {
						info.Commit = s.Value
					}
				case "vcs.time":
					if info.BuildTime == "" {
						info.BuildTime = s.Value
					}
				}
			}
		}
	}
	if info.Version == "" {
		info.Version = DefaultVersion
	}
	if info.Commit == "" {
		info.Commit = DefaultCommit
	}
	if info.BuildTime == "" {
		info.BuildTime = DefaultBuildTime
	}
	return info
}

// FormatFull returns the multi-line version block.
func (i Info) FormatFull() string {
	var b strings.Builder
	fmt.Fprintln(&b, ApplicationName)
	fmt.Fprintf(&b, "%s: %s\n", LabelVersion, i.Version)
	fmt.Fprintf(&b, "%s: %s\n", LabelCommit, i.Commit)
	fmt.Fprintf(&b, "%s: %s\n", LabelBuilt, i.BuildTime)
	return b.String()
}

// Write prints only the version when short is set, else the full block.
func (i Info) Write(w io.Writer, short bool) error {
	var err error
	if short {
		_, err = fmt.Fprintln(w, i.Version)
	} else {
		_, err = fmt.Fprint(w, i.FormatFull())
	}
	return err
}

// IsDevelopment reports whether no version was injected.
func (i Info) IsDevelopment() bool {
	return i.Version == DefaultVersion
}

// SetBuildVars overrides the injected values. Used by tests.
func SetBuildVars(ver, com, bt string) {
	version = ver
	commit = com
	buildTime = bt
}

// ResetBuildVars clears the injected values.
func ResetBuildVars() {
	SetBuildVars("", "", "")
}
