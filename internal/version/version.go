// Package version holds build-time version information for the pagerag binary.
// The variables in this package are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/pagerag/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/pagerag/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/pagerag/internal/version.BuildDate=2025-01-01"
//
// Without ldflags the values fall back to "dev" and "unknown". The build is
// reported by `pagerag version`, the /api/health body, and the
// pagerag_build_info metric.
package version

import "fmt"

// Version is the semantic version of the binary (e.g. "v1.2.3").
var Version = "dev"

// Commit is the short git SHA of the commit the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC date the binary was built (RFC3339 format).
var BuildDate = "unknown"

// Info is a snapshot of the build variables.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
}

// Get returns the current build info.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildDate: BuildDate}
}

// String renders the build info on one line.
func String() string {
	i := Get()
	return fmt.Sprintf("pagerag %s (commit %s, built %s)", i.Version, i.Commit, i.BuildDate)
}
