// Package version holds build metadata for squeezr, set at link time:
//
//	go build -ldflags "-X github.com/jmylchreest/squeezr/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/squeezr/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/squeezr/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set via ldflags.
var (
	// Version is "1.2.3" for releases and "1.2.4-SNAPSHOT.abc1234" otherwise.
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is the binary name.
const ApplicationName = "squeezr"

// Info is the machine-readable build description. FFmpeg is filled in by
// callers that detected a binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	FFmpeg    string `json:"ffmpeg,omitempty"`
}

// GetInfo returns the build information.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func shortCommit() (string, bool) {
	if Commit == "unknown" || len(Commit) < 8 {
		return "", false
	}
	return Commit[:8], true
}

// String returns the long form printed by "squeezr version".
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s version %s", ApplicationName, i.Version)
	if c, ok := shortCommit(); ok {
		fmt.Fprintf(&b, " (commit: %s, built: %s)", c, i.Date)
	}
	fmt.Fprintf(&b, " %s %s", i.GoVersion, i.Platform)
	if i.FFmpeg != "" {
		fmt.Fprintf(&b, ", ffmpeg %s", i.FFmpeg)
	}
	return b.String()
}

// Short is used for the --version flag.
func Short() string {
	if c, ok := shortCommit(); ok {
		return fmt.Sprintf("%s (%s)", Version, c)
	}
	return Version
}

// IsSnapshot reports a dev or prerelease build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}
