// Package version holds the build identity reported by `coach version` and /healthz.
package version

// Set at build time:
//
//	go build -ldflags "-X writingcoach/pkg/version.Version=v0.3.0 -X writingcoach/pkg/version.Commit=$(git rev-parse --short HEAD)" ./cmd/coach
//
//nolint:gochecknoglobals // ldflags targets
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
