package core

import (
	"runtime"
	"strings"
)

// versionPackage is the import path used in -X ldflags.
const versionPackage = "go_denoiser/core"

// Build metadata, injected with:
//
//	go build -ldflags "-X go_denoiser/core.Version=$(git describe --tags --always) \
//	  -X go_denoiser/core.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ) \
//	  -X go_denoiser/core.GitCommit=$(git rev-parse --short HEAD)" .
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetVersion returns the application version string.
func GetVersion() string {
	return Version
}

// GetVersionInfo returns a one-line description of the build.
//
//	"v1.0.0 (built 2024-01-15T10:30:00Z, commit abc1234, go1.24.0)"
func GetVersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ", " + runtime.Version() + ")"
}

// BuildLdflags returns the ldflags string for injecting version information.
// Empty arguments are skipped.
func BuildLdflags(version, buildTime, gitCommit string) string {
	var flags []string
	for _, kv := range [][2]string{
		{"Version", version},
		{"BuildTime", buildTime},
		{"GitCommit", gitCommit},
	} {
		if kv[1] != "" {
			flags = append(flags, "-X "+versionPackage+"."+kv[0]+"="+kv[1])
		}
	}
	return strings.Join(flags, " ")
}
