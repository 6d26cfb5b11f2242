// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// UserAgent is sent on outbound requests to agents and plugins.
func UserAgent() string {
	return "flightdeck/" + Version
}

func (i Info) String() string {
	return fmt.Sprintf("Flightdeck %s (%s, %s) built at %s on %s",
		i.Version,
		i.GitCommit,
		i.GoVersion,
		i.BuildTime,
		i.Platform,
	)
}
