// Package buildinfo carries the version stamped into flashctl at link time.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags "-X stm32hal/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func init() {
	if Commit != "unknown" {
		return
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			Commit = s.Value
		case "vcs.time":
			Date = s.Value
		}
	}
}

// Short returns the version if stamped, else the abbreviated commit.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		if len(Commit) > 12 {
			return Commit[:12]
		}
		return Commit
	}
	return "dev"
}

// String is the one-line version banner.
func String(name string) string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", name, Short(), Commit, Date)
}
