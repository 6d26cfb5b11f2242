package main

import (
	"fmt"
	"os"

	"evalgo.org/flightdeck/internal/commands"
	"evalgo.org/flightdeck/internal/version"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// @title Flightdeck API
// @version 1.0
// @description JVM discovery, automated rules and flight recording control.
// @BasePath /api
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	version.Version = Version
	version.BuildTime = BuildTime
	version.GitCommit = GitCommit

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
