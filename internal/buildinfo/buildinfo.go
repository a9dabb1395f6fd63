// Package buildinfo reports which screenreel build is running. Release builds stamp the
// version with -ldflags "-X github.com/offlinefirst/screenreel/internal/buildinfo.version=v1.2.3";
// commit and build time come from the Go toolchain's VCS stamping.
package buildinfo

import (
	"runtime/debug"
	"time"
)

var (
	version = "dev"

	readBuildInfo = debug.ReadBuildInfo
)

// Info describes the running binary.
type Info struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit,omitempty"`
	CommitAt  time.Time `json:"commit_at,omitempty"`
	Modified  bool      `json:"modified,omitempty"`
	GoVersion string    `json:"go_version,omitempty"`
}

// Read gathers the stamped version and VCS settings. Without build info only the version
// is set.
func Read() Info {
	info := Info{Version: version}
	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
				info.CommitAt = t.UTC()
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// ShortCommit is the first twelve characters of the revision, with a +dirty suffix for
// builds from a modified tree.
func (i Info) ShortCommit() string {
	c := i.Commit
	if len(c) > 12 {
		c = c[:12]
	}
	if c != "" && i.Modified {
		c += "+dirty"
	}
	return c
}

// String renders "version" or "version (commit)".
func (i Info) String() string {
	if c := i.ShortCommit(); c != "" {
		return i.Version + " (" + c + ")"
	}
	return i.Version
}

// Version returns the stamped version, falling back to the module version and then "dev".
func Version() string {
	return Read().Version
}
