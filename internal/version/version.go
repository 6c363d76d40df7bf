// Package version carries build metadata injected with -ldflags.
package version

import (
	"runtime"
	"time"
)

// Name is reported in version responses and telemetry resources.
const Name = "trackflow-api"

var (
	// Version is the semantic version (set via ldflags during build)
	Version = "dev"

	// GitCommit is the git commit hash (set via ldflags during build)
	GitCommit = "unknown"

	// BuildTime is the build timestamp (set via ldflags during build)
	BuildTime = "unknown"
)

// Info holds version and build information
type Info struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	GitCommit   string    `json:"gitCommit"`
	BuildTime   string    `json:"buildTime"`
	GoVersion   string    `json:"goVersion"`
	Platform    string    `json:"platform"`
	ServerTime  time.Time `json:"serverTime"`
	DBVersion   int       `json:"dbVersion,omitempty"`
	DBDriver    string    `json:"dbDriver,omitempty"`
	Environment string    `json:"environment"`
}

// Get returns the current version information
func Get(env, dbDriver string, dbVersion int) Info {
	return Info{
		Name:        Name,
		Version:     Version,
		GitCommit:   GitCommit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		ServerTime:  time.Now().UTC(),
		DBVersion:   dbVersion,
		DBDriver:    dbDriver,
		Environment: env,
	}
}
