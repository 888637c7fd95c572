// Package buildinfo holds version metadata stamped at compile time via
// ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time via -ldflags, e.g.
//
//	-X github.com/sable-ai/sable/internal/buildinfo.Version=v0.3.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns build and runtime metadata for the version endpoint.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the duration since process start, truncated to whole
// seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary for the startup banner.
func String() string {
	if GitCommit == "unknown" {
		return "Sable " + Version
	}
	return fmt.Sprintf("Sable %s (%s) built %s", Version, GitCommit, BuildTime)
}
